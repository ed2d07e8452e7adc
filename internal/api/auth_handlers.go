package api

import (
	"errors"
	"net/http"

	"github.com/dili-feedback-server/internal/auth"
	"github.com/dili-feedback-server/internal/domain"
	"github.com/gin-gonic/gin"
)

type signupRequest struct {
	Fullname string `json:"fullname"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userWithToken is a user as returned after signup or login
type userWithToken struct {
	*domain.User
	Token string `json:"token"`
}

func missingRequired(err error) bool {
	var verrs domain.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, e := range verrs {
		if e.Message == "is required" {
			return true
		}
	}
	return false
}

func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "All fields are required."})
		return
	}

	user, token, err := s.deps.Auth.Signup(c.Request.Context(), req.Fullname, req.Email, req.Password)
	if err != nil {
		var verrs domain.ValidationErrors
		switch {
		case missingRequired(err):
			c.JSON(http.StatusBadRequest, gin.H{"message": "All fields are required."})
		case errors.As(err, &verrs):
			c.JSON(http.StatusBadRequest, gin.H{"message": verrs.Error()})
		case errors.Is(err, domain.ErrEmailExists):
			c.JSON(http.StatusConflict, gin.H{"message": "Email already in use."})
		default:
			s.log.WithError(err).Error("Signup failed")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error during signup."})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message": "Signup successful!",
		"user":    userWithToken{User: user, Token: token},
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Email and password required."})
		return
	}

	user, token, err := s.deps.Auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		var verr *domain.ValidationError
		switch {
		case errors.As(err, &verr):
			c.JSON(http.StatusBadRequest, gin.H{"message": "Email and password required."})
		case errors.Is(err, domain.ErrInvalidLogin):
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid email or password."})
		default:
			s.log.WithError(err).Error("Login failed")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Server error during login."})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Login successful!",
		"user":    userWithToken{User: user, Token: token},
	})
}

func (s *Server) handleMe(c *gin.Context) {
	user, ok := auth.UserFrom(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"success": false, "message": "missing or invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": user})
}
