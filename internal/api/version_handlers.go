package api

import (
	"errors"
	"net/http"

	"github.com/dili-feedback-server/internal/auth"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/gin-gonic/gin"
)

func (s *Server) handleCreateVersion(c *gin.Context) {
	actor, _ := auth.ActorFrom(c)
	rec, err := s.deps.Versions.CreateNext(c.Request.Context(), actor)
	if err != nil {
		s.fail(c, err, "Server error creating version.")
		return
	}
	respond(c, http.StatusOK, "New version created successfully.", rec)
}

func (s *Server) handleListVersions(c *gin.Context) {
	records, err := s.deps.Versions.List(c.Request.Context())
	if err != nil {
		s.fail(c, err, "Server error fetching versions.")
		return
	}
	if records == nil {
		records = []*domain.VersionRecord{}
	}
	respond(c, http.StatusOK, "", records)
}

func (s *Server) handleActiveVersion(c *gin.Context) {
	rec, err := s.deps.Versions.Active(c.Request.Context())
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, envelope{Success: false, Message: "No active version."})
			return
		}
		s.fail(c, err, "Server error fetching versions.")
		return
	}
	respond(c, http.StatusOK, "", rec)
}
