package handlers

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clearlane/onboard/internal/middleware"
)

// requestContext safely returns the request context with a background fallback for tests.
func requestContext(c *gin.Context) context.Context {
	if c == nil {
		return context.Background()
	}
	if req := c.Request; req != nil {
		return req.Context()
	}
	return context.Background()
}

// currentTrackerID returns the authenticated tracker id placed in the gin
// context by the session middleware.
func currentTrackerID(c *gin.Context) string {
	return c.GetString(middleware.CtxTrackerIDKey)
}

// bearerToken extracts the opaque session token from the Authorization
// header, or "" when the header is absent or not a bearer scheme.
func bearerToken(c *gin.Context) string {
	authz := c.GetHeader("Authorization")
	if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}
