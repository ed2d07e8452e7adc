package api

import (
	"net/http"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/gin-gonic/gin"
)

// maxUploadSize bounds lab report uploads
const maxUploadSize = 10 << 20

func (s *Server) handlePredict(c *gin.Context) {
	var in domain.ClinicalInputs
	if err := c.ShouldBindJSON(&in); err != nil {
		s.bindError(c, err)
		return
	}

	prediction, err := s.deps.ML.Predict(c.Request.Context(), in)
	if err != nil {
		s.fail(c, err, "Server Error")
		return
	}
	respond(c, http.StatusOK, "", prediction)
}

func (s *Server) handleExtract(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)
	header, err := c.FormFile("file")
	if err != nil {
		s.fail(c, domain.NewValidationError("file", "a lab report file is required", nil), "")
		return
	}

	file, err := header.Open()
	if err != nil {
		s.fail(c, domain.NewValidationError("file", "could not read upload", header.Filename), "")
		return
	}
	defer file.Close()

	values, err := s.deps.ML.Extract(c.Request.Context(), header.Filename, file)
	if err != nil {
		s.fail(c, err, "Server Error")
		return
	}
	respond(c, http.StatusOK, "", values)
}
