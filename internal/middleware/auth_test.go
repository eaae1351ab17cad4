package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/lalith-99/relaychat/internal/auth"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

// echoRouter mounts mw in front of a handler that reports what it saw,
// both through gin's context and through the request context.
func echoRouter(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/", mw, func(c *gin.Context) {
		fromReq := auth.FromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{
			"user_id":     GetUserID(c),
			"email":       GetEmail(c),
			"has_request": fromReq != nil,
		})
	})
	return r
}

func get(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	valid, err := auth.GenerateToken(userID, "a@example.com", "alice", secret, time.Hour)
	require.NoError(t, err)
	otherSecret, err := auth.GenerateToken(userID, "a@example.com", "alice", "other", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantBody: "missing authorization header"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantBody: "expected: Bearer"},
		{name: "empty token", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantBody: "expected: Bearer"},
		{name: "bad signature", header: "Bearer " + otherSecret, wantStatus: http.StatusUnauthorized, wantBody: "invalid or expired token"},
		{name: "valid", header: "Bearer " + valid, wantStatus: http.StatusOK, wantBody: userID.String()},
		{name: "scheme is case-insensitive", header: "bearer " + valid, wantStatus: http.StatusOK, wantBody: userID.String()},
	}

	r := echoRouter(AuthMiddleware(secret))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.header)
			require.Equal(t, tt.wantStatus, w.Code)
			require.Contains(t, w.Body.String(), tt.wantBody)
		})
	}
}

func TestAuthMiddleware_SetsBothContexts(t *testing.T) {
	req := require.New(t)
	userID := uuid.New()
	token, err := auth.GenerateToken(userID, "a@example.com", "alice", secret, time.Hour)
	req.NoError(err)

	w := get(echoRouter(AuthMiddleware(secret)), "Bearer "+token)

	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), `"email":"a@example.com"`)
	req.Contains(w.Body.String(), `"has_request":true`)
}

func TestOptionalAuth(t *testing.T) {
	req := require.New(t)
	r := echoRouter(OptionalAuth(secret))

	// Given no token, or a bad one, the request still goes through anonymously
	for _, header := range []string{"", "Bearer nonsense"} {
		w := get(r, header)
		req.Equal(http.StatusOK, w.Code)
		req.Contains(w.Body.String(), uuid.Nil.String())
		req.Contains(w.Body.String(), `"has_request":false`)
	}

	// Given a valid token, the identity is set
	userID := uuid.New()
	token, err := auth.GenerateToken(userID, "a@example.com", "alice", secret, time.Hour)
	req.NoError(err)
	w := get(r, "Bearer "+token)
	req.Equal(http.StatusOK, w.Code)
	req.Contains(w.Body.String(), userID.String())
}
