package api

import (
	"errors"
	"net/http"

	"github.com/dili-feedback-server/internal/domain"
	"github.com/dili-feedback-server/internal/logging"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// envelope is the response body of the feedback, version, training and ML routes
type envelope struct {
	Success bool                    `json:"success"`
	Message string                  `json:"message,omitempty"`
	Count   *int                    `json:"count,omitempty"`
	Data    interface{}             `json:"data,omitempty"`
	Error   string                  `json:"error,omitempty"`
	Errors  domain.ValidationErrors `json:"errors,omitempty"`
}

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, envelope{Success: true, Message: message, Data: data})
}

func respondList(c *gin.Context, data interface{}, count int) {
	c.JSON(http.StatusOK, envelope{Success: true, Count: &count, Data: data})
}

// fail maps err onto its status code. serverMessage is shown for 5xx
// responses; validation failures always read "Validation Error".
func (s *Server) fail(c *gin.Context, err error, serverMessage string) {
	status := domain.HTTPStatus(err)
	body := envelope{Success: false, Message: serverMessage, Error: err.Error()}

	var verrs domain.ValidationErrors
	var verr *domain.ValidationError
	var appErr *domain.AppError
	switch {
	case errors.As(err, &verrs):
		body.Message = "Validation Error"
		body.Errors = verrs
	case errors.As(err, &verr):
		body.Message = "Validation Error"
		body.Errors = domain.ValidationErrors{verr}
	case errors.As(err, &appErr):
		if status < 500 || appErr.Code == domain.ErrExternalAPI {
			body.Message = appErr.Message
		}
		if appErr.Details != "" {
			body.Error = appErr.Details
		}
	case status < 500:
		body.Message = err.Error()
		body.Error = ""
	}

	entry := logging.FromContext(c.Request.Context(), s.log).WithError(err).WithFields(logrus.Fields{
		"status": status,
		"path":   c.FullPath(),
	})
	if status >= 500 {
		entry.Error("Request failed")
	} else {
		entry.Debug("Request rejected")
	}

	c.AbortWithStatusJSON(status, body)
}

// bindError reports a body that could not be decoded
func (s *Server) bindError(c *gin.Context, err error) {
	s.fail(c, domain.NewValidationError("body", "invalid JSON: "+err.Error(), nil), "")
}
