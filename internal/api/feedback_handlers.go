package api

import (
	"net/http"

	"github.com/dili-feedback-server/internal/auth"
	"github.com/dili-feedback-server/internal/batching"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/gin-gonic/gin"
)

func nonNilRecords(records []*domain.FeedbackRecord) []*domain.FeedbackRecord {
	if records == nil {
		return []*domain.FeedbackRecord{}
	}
	return records
}

func (s *Server) handleRecordFeedback(c *gin.Context) {
	var rec domain.FeedbackRecord
	if err := c.ShouldBindJSON(&rec); err != nil {
		s.bindError(c, err)
		return
	}

	actor, _ := auth.ActorFrom(c)
	stored, err := s.deps.Feedback.Record(c.Request.Context(), &rec, actor)
	if err != nil {
		s.fail(c, err, "Server Error")
		return
	}
	respond(c, http.StatusCreated, "Feedback saved successfully", stored)
}

func (s *Server) handleListFeedback(c *gin.Context) {
	records, err := s.deps.Feedback.ListAll(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Server Error")
		return
	}
	respondList(c, nonNilRecords(records), len(records))
}

func (s *Server) handleListDisagreements(c *gin.Context) {
	records, err := s.deps.Feedback.ListDisagreements(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Server Error")
		return
	}
	respondList(c, nonNilRecords(records), len(records))
}

func (s *Server) handleBatches(c *gin.Context) {
	records, err := s.deps.Feedback.ListDisagreements(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Server Error")
		return
	}
	batches := batching.Chunk(records, s.deps.BatchSize)
	respondList(c, batches, len(batches))
}

// feedbackStats is the verdict tally behind GET /api/feedback/stats
type feedbackStats struct {
	Total    int64 `json:"total"`
	Agree    int64 `json:"agree"`
	Disagree int64 `json:"disagree"`
}

func (s *Server) handleFeedbackStats(c *gin.Context) {
	ctx := c.Request.Context()
	var stats feedbackStats
	for _, tally := range []struct {
		verdict *domain.Verdict
		into    *int64
	}{
		{nil, &stats.Total},
		{domain.VerdictPtr(domain.VerdictAgree), &stats.Agree},
		{domain.VerdictPtr(domain.VerdictDisagree), &stats.Disagree},
	} {
		n, err := s.deps.Feedback.Count(ctx, tally.verdict)
		if err != nil {
			s.fail(c, err, "Server Error")
			return
		}
		*tally.into = n
	}
	respond(c, http.StatusOK, "", stats)
}
