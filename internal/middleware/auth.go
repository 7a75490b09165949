package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/internal/verification"
	appErrors "github.com/clearlane/onboard/pkg/errors"
	"github.com/clearlane/onboard/pkg/response"
)

const (
	CtxTrackerIDKey = "trackerID"
	CtxSessionIDKey = "sessionID"
)

// SessionAuthority resolves an opaque bearer token to a live session.
// Satisfied by the verification resume service.
type SessionAuthority interface {
	Authorize(ctx context.Context, token, trackerID string) (string, *models.Session, error)
}

// SessionAuth enforces bearer-token session authentication. On success the
// tracker and session ids are propagated into the request context.
func SessionAuth(authority SessionAuthority) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		trackerID, session, err := authority.Authorize(c.Request.Context(), token, "")
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, sessionError(err))
			c.Abort()
			return
		}

		c.Set(CtxTrackerIDKey, trackerID)
		c.Set(CtxSessionIDKey, session.ID)

		c.Next()
	}
}

// sessionError maps service sentinels onto client-facing errors. Anything
// unrecognised stays a generic 401 so internals never leak through auth.
func sessionError(err error) error {
	switch {
	case errors.Is(err, verification.ErrSessionRevoked):
		return appErrors.ErrSessionRevoked
	case errors.Is(err, verification.ErrSessionExpired):
		return appErrors.ErrSessionExpired
	case errors.Is(err, verification.ErrSessionNotFound), errors.Is(err, verification.ErrSessionInvalidToken):
		return appErrors.ErrSessionNotFound
	default:
		return appErrors.ErrUnauthorized
	}
}
