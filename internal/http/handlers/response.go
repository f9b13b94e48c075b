// Package handlers provides HTTP handler implementations for the public API.
//
// This file defines the response envelopes and the mapping from service
// errors to HTTP responses.
//
// Example error response:
//
//	HTTP/1.1 500 Internal Server Error
//	{
//	  "request_id": "123e4567-e89b-12d3-a456-426614174000",
//	  "code": "internal_error",
//	  "message": "internal server error"
//	}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-identity-backend/internal/domain"
	"github.com/tbourn/go-identity-backend/internal/http/middleware"
	"github.com/tbourn/go-identity-backend/internal/services"
)

// ErrorResponse is the envelope for transport-level failures.
type ErrorResponse struct {
	// Correlates server logs and client errors
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	// Stable, machine-readable code (see errors.go constants)
	Code string `json:"code" example:"forbidden"`
	// Human-readable message (safe to show to users)
	Message string `json:"message" example:"invalid token"`
}

// StatusResponse is the envelope for identity outcomes.
type StatusResponse struct {
	Status string `json:"status" example:"ok"`
	// Token is set on successful register and login.
	Token string `json:"token,omitempty" example:"Jq3...Xw"`
	// Message explains an invalid_argument status.
	Message string `json:"message,omitempty" example:"username too long"`
}

// UserResponse wraps the profile of the authenticated identity.
type UserResponse struct {
	Status string         `json:"status" example:"ok"`
	User   domain.Profile `json:"user"`
}

// fail aborts the request with an ErrorResponse. 5xx responses are logged
// with the request-scoped logger.
func fail(c *gin.Context, status int, code, msg string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: middleware.RequestIDFrom(c),
		Code:      code,
		Message:   msg,
	})
}

// Fail is the exported variant of fail for router-level fallbacks.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func ok(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

func reject(c *gin.Context, status, msg string) {
	c.AbortWithStatusJSON(http.StatusForbidden, StatusResponse{Status: status, Message: msg})
}

// failService translates a service error into a response. Identity outcomes
// become 403 statuses; everything else is an infrastructure failure whose
// detail stays in the log.
func failService(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrInvalidArgument):
		reject(c, StatusInvalidArgument, err.Error())
	case errors.Is(err, services.ErrUsernameTaken):
		reject(c, StatusUserAlreadyExists, "")
	case errors.Is(err, services.ErrEmailTaken):
		reject(c, StatusEmailRegistered, "")
	case errors.Is(err, services.ErrLoginFailed):
		reject(c, StatusWrongLoginInfo, "")
	case errors.Is(err, services.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "identity not found")
	default:
		_ = c.Error(err)
		middleware.LoggerFrom(c).Error().Err(err).Msg("service failure")
		fail(c, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
	}
}
