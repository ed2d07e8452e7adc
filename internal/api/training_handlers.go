package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/dili-feedback-server/internal/auth"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/progress"
	"github.com/dili-feedback-server/internal/training"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleStartTraining(c *gin.Context) {
	var opts training.StartOptions
	if err := c.ShouldBindJSON(&opts); err != nil && !errors.Is(err, io.EOF) {
		s.bindError(c, err)
		return
	}

	actor, _ := auth.ActorFrom(c)
	// The run outlives the request; only the disagreement count uses its context.
	run, err := s.deps.Training.Start(c.Request.Context(), actor, opts)
	switch {
	case errors.Is(err, domain.ErrRunInProgress):
		c.JSON(http.StatusConflict, envelope{
			Success: false,
			Message: "A training run is already in progress.",
			Data:    run,
		})
		return
	case errors.Is(err, training.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, envelope{Success: false, Message: "Server is shutting down."})
		return
	case err != nil:
		s.fail(c, err, "Server error starting training.")
		return
	}
	respond(c, http.StatusAccepted, "Training started", run)
}

func (s *Server) handleGetRun(c *gin.Context) {
	run, err := s.deps.Training.Get(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: "Training run not found."})
		return
	}
	respond(c, http.StatusOK, "", run)
}

func (s *Server) handleReadiness(c *gin.Context) {
	readiness, err := s.deps.Training.Readiness(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Server Error")
		return
	}
	respond(c, http.StatusOK, "", readiness)
}

func (s *Server) handleTrainingEvents(c *gin.Context) {
	s.streamSSE(c, progress.TrainingChannel)
}

func (s *Server) handleRunEvents(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Training.Get(id); err != nil {
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: "Training run not found."})
		return
	}
	s.streamSSE(c, progress.RunChannel(id))
}

func (s *Server) streamSSE(c *gin.Context, channel string) {
	sub := s.deps.Hub.Subscribe(channel)
	defer s.deps.Hub.Unsubscribe(sub)
	s.deps.Hub.ServeSSE(c.Writer, c.Request, sub)
}

func (s *Server) handleRunSocket(c *gin.Context) {
	id := c.Param("id")
	if _, err := s.deps.Training.Get(id); err != nil {
		c.JSON(http.StatusNotFound, envelope{Success: false, Message: "Training run not found."})
		return
	}

	sub := s.deps.Hub.Subscribe(progress.RunChannel(id))
	defer s.deps.Hub.Unsubscribe(sub)
	if err := s.deps.Hub.ServeWS(c.Writer, c.Request, sub); err != nil {
		s.log.WithError(err).WithField("run_id", id).Debug("Progress websocket closed")
	}
}
