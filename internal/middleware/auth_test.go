package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/internal/verification"
	"github.com/clearlane/onboard/pkg/response"
)

type stubAuthority struct {
	trackerID string
	session   *models.Session
	err       error
}

func (s *stubAuthority) Authorize(_ context.Context, token, _ string) (string, *models.Session, error) {
	if s.err != nil {
		return "", nil, s.err
	}
	return s.trackerID, s.session, nil
}

func newAuthRouter(authority SessionAuthority) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/protected", SessionAuth(authority), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"tracker_id": c.GetString(CtxTrackerIDKey),
			"session_id": c.GetString(CtxSessionIDKey),
		})
	})
	return r
}

func TestSessionAuthPropagatesIdentity(t *testing.T) {
	authority := &stubAuthority{
		trackerID: "tracker-1",
		session:   &models.Session{ID: "session-1", TrackerID: "tracker-1"},
	}
	r := newAuthRouter(authority)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
	require.Equal(t, "tracker-1", payload["tracker_id"])
	require.Equal(t, "session-1", payload["session_id"])
}

func TestSessionAuthRejectsMissingHeader(t *testing.T) {
	r := newAuthRouter(&stubAuthority{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestSessionAuthMapsServiceErrors(t *testing.T) {
	cases := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"revoked", verification.ErrSessionRevoked, "SESSION_REVOKED"},
		{"expired", verification.ErrSessionExpired, "SESSION_EXPIRED"},
		{"not found", verification.ErrSessionNotFound, "SESSION_NOT_FOUND"},
		{"malformed", verification.ErrSessionInvalidToken, "SESSION_NOT_FOUND"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newAuthRouter(&stubAuthority{err: tc.err})

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			req.Header.Set("Authorization", "Bearer stale-token")
			r.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			require.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))

			var payload response.Response
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &payload))
			require.False(t, payload.Success)
			require.Equal(t, tc.wantCode, payload.Error.Code)
		})
	}
}
