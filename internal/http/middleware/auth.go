package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-identity-backend/internal/services"
)

const (
	identityIDKey   = "identityID"
	sessionTokenKey = "sessionToken"

	// TokenCookie is the cookie carrying the session token for browser
	// clients.
	TokenCookie = "token"
)

// TokenResolver maps a session token to an identity id.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// TokenFromRequest extracts the session token from the Authorization header
// (raw or "Bearer <token>") or, failing that, from the token cookie.
func TokenFromRequest(c *gin.Context) string {
	if h := strings.TrimSpace(c.GetHeader("Authorization")); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
			return strings.TrimSpace(h[7:])
		}
		return h
	}
	if v, err := c.Cookie(TokenCookie); err == nil {
		return strings.TrimSpace(v)
	}
	return ""
}

// Authenticate resolves the session token of the request and stores the
// identity id in the Gin context. Requests without a live token are rejected
// with 403.
func Authenticate(sessions TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := TokenFromRequest(c)
		if tok == "" {
			abortForbidden(c)
			return
		}
		id, err := sessions.Resolve(c.Request.Context(), tok)
		switch {
		case errors.Is(err, services.ErrNotFound):
			abortForbidden(c)
			return
		case err != nil:
			LoggerFrom(c).Error().Err(err).Msg("session lookup failed")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": RequestIDFrom(c),
				"code":       "internal_error",
				"message":    "internal server error",
			})
			return
		}
		c.Set(identityIDKey, id)
		c.Set(sessionTokenKey, tok)
		c.Next()
	}
}

func abortForbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"request_id": RequestIDFrom(c),
		"code":       "forbidden",
		"message":    "invalid token",
	})
}

// IdentityID returns the identity authenticated for this request, if any.
func IdentityID(c *gin.Context) string {
	v, _ := c.Get(identityIDKey)
	return asString(v)
}

// SessionToken returns the session token authenticated for this request.
func SessionToken(c *gin.Context) string {
	v, _ := c.Get(sessionTokenKey)
	return asString(v)
}
