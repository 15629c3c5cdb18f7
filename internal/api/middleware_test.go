package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/npezzotti/go-delaychat/internal/database"
	"github.com/stretchr/testify/assert"
)

func TestAuthMiddleware(t *testing.T) {
	app := newTestApp(t, &database.MockDelayChatRepository{}, nil)

	validToken, err := app.createJwtForSession(7, time.Hour)
	assert.NoError(t, err, "failed to create token")

	tcases := []struct {
		name         string
		cookie       *http.Cookie
		expectedCode int
		expectedUser int
	}{
		{
			name:         "no cookie",
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "invalid token",
			cookie:       &http.Cookie{Name: tokenCookieKey, Value: "garbage"},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "valid token",
			cookie:       &http.Cookie{Name: tokenCookieKey, Value: validToken},
			expectedCode: http.StatusOK,
			expectedUser: 7,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var gotUserId int
			var gotExpiry time.Time
			handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
				gotUserId, _ = UserId(r.Context())
				gotExpiry, _ = SessionExpiry(r.Context())
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
			if tc.cookie != nil {
				req.AddCookie(tc.cookie)
			}

			rr := httptest.NewRecorder()
			handler(rr, req)

			assert.Equal(t, tc.expectedCode, rr.Code, "expected status code to match")
			if tc.expectedCode == http.StatusOK {
				assert.Equal(t, tc.expectedUser, gotUserId, "expected user id in context")
				assert.WithinDuration(t, time.Now().Add(time.Hour), gotExpiry, 5*time.Second, "expected session expiry in context")
				assert.Contains(t, rr.Header().Get("Cache-Control"), "no-store", "expected cache control header")
			}
		})
	}
}

func TestErrorHandler(t *testing.T) {
	app := newTestApp(t, &database.MockDelayChatRepository{}, nil)

	handler := app.errorHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusInternalServerError, rr.Code, "expected status code to be 500")
	assert.Equal(t, "close", rr.Header().Get("Connection"), "expected connection close header")
}
