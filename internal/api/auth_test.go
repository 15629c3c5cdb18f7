package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-delaychat/internal/database"
	"github.com/npezzotti/go-delaychat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func TestUserId(t *testing.T) {
	tcases := []struct {
		name     string
		ctx      context.Context
		userId   int
		expected bool
	}{
		{
			name:     "no user ID",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "user ID set",
			ctx:      WithUserId(context.Background(), 42),
			userId:   42,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			userId, ok := UserId(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected UserId to return %v", tc.expected)
			assert.Equal(t, tc.userId, userId, "expected UserId to return %d", tc.userId)
		})
	}
}

func TestSessionExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).UTC()

	tcases := []struct {
		name     string
		ctx      context.Context
		expiry   time.Time
		expected bool
	}{
		{
			name:     "no expiry",
			ctx:      context.Background(),
			expected: false,
		},
		{
			name:     "expiry set",
			ctx:      WithSessionExpiry(context.Background(), exp),
			expiry:   exp,
			expected: true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			expiry, ok := SessionExpiry(tc.ctx)
			assert.Equal(t, tc.expected, ok, "expected SessionExpiry to return %v", tc.expected)
			assert.Equal(t, tc.expiry, expiry, "expected SessionExpiry to return %v", tc.expiry)
		})
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := hashPassword("secret")
	assert.NoError(t, err, "expected no error hashing password")
	assert.True(t, verifyPassword(hash, "secret"), "expected password to verify")
	assert.False(t, verifyPassword(hash, "wrong"), "expected wrong password to fail")
}

func TestCreateAndExtractSession(t *testing.T) {
	app := newTestApp(t, &database.MockDelayChatRepository{}, nil)

	token, err := app.createJwtForSession(42, time.Hour)
	assert.NoError(t, err, "expected no error creating token")

	userId, expiry, err := app.extractSession(token)
	assert.NoError(t, err, "expected no error extracting session")
	assert.Equal(t, 42, userId, "expected user id to round-trip")
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiry, 5*time.Second, "expected expiry near one hour out")

	_, _, err = app.extractSession("not-a-token")
	assert.Error(t, err, "expected error for malformed token")
}

func TestCreateAccountHandler(t *testing.T) {
	expectedUser := database.User{
		Id:           1,
		Username:     "newuser",
		EmailAddress: "newuser@example.com",
		PasswordHash: "hashedpassword",
		IsHabitat:    true,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	tcases := []struct {
		name        string
		body        any
		success     bool
		mockUser    database.User
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name: "successfully creates a new account",
			body: RegisterRequest{
				Username:  expectedUser.Username,
				Email:     expectedUser.EmailAddress,
				Password:  "password",
				IsHabitat: true,
			},
			success:  true,
			mockUser: expectedUser,
		},
		{
			name:        "failed with invalid json body",
			body:        "invalid json",
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with missing username",
			body: RegisterRequest{
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with missing password",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
			},
			expectedErr: NewBadRequestError(),
		},
		{
			name: "fails with db error",
			body: RegisterRequest{
				Username: expectedUser.Username,
				Email:    expectedUser.EmailAddress,
				Password: "password",
			},
			mockErr:     errors.New("db error"),
			expectedErr: NewInternalServerError(nil),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDelayChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockUser != (database.User{}) || tc.mockErr != nil {
				regReq, ok := tc.body.(RegisterRequest)
				if !ok {
					t.Fatalf("unsupported request body type: %T", tc.body)
				}
				mockRepo.On("CreateAccount", mock.MatchedBy(func(req database.CreateAccountParams) bool {
					return req.Username == regReq.Username &&
						req.EmailAddress == regReq.Email &&
						req.IsHabitat == regReq.IsHabitat &&
						verifyPassword(req.PasswordHash, regReq.Password)
				})).Return(tc.mockUser, tc.mockErr).Once()
			}
			if tc.success {
				mockRepo.On("AddParticipant", expectedUser.Id, globalConversationId).Return(nil).Once()
			}

			app := newTestApp(t, mockRepo, nil)

			var req *http.Request
			switch v := tc.body.(type) {
			case string:
				req = httptest.NewRequest(http.MethodPost, "/api/auth/register", strings.NewReader(v))
			case RegisterRequest:
				body, err := json.Marshal(v)
				assert.NoError(t, err, "failed to marshal request body")
				req = httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBuffer(body))
			default:
				t.Fatalf("unsupported request body type: %T", v)
			}

			rr := httptest.NewRecorder()
			app.createAccount(rr, req)

			if tc.success {
				assert.Equal(t, http.StatusCreated, rr.Code)

				var user types.User
				err := json.NewDecoder(rr.Body).Decode(&user)
				assert.NoError(t, err, "failed to decode response")
				assert.Equal(t, expectedUser.Id, user.Id)
				assert.Equal(t, expectedUser.Username, user.Username)
				assert.Equal(t, expectedUser.EmailAddress, user.EmailAddress)
				assert.Equal(t, expectedUser.IsHabitat, user.IsHabitat)
			} else {
				var apiErr ApiError
				err := json.NewDecoder(rr.Body).Decode(&apiErr)
				assert.NoError(t, err, "failed to decode error response")
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
				assert.Equal(t, *tc.expectedErr, apiErr, "expected ApiError response")
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	passwordHash, err := hashPassword("password")
	assert.NoError(t, err, "failed to hash password")

	dbUser := database.User{
		Id:           1,
		Username:     "test",
		EmailAddress: "test@example.com",
		PasswordHash: passwordHash,
		IsHabitat:    false,
	}

	tcases := []struct {
		name        string
		body        any
		mockUser    database.User
		mockErr     error
		success     bool
		expectedErr *ApiError
	}{
		{
			name:     "successful login sets session cookie",
			body:     LoginRequest{Email: dbUser.EmailAddress, Password: "password"},
			mockUser: dbUser,
			success:  true,
		},
		{
			name:        "fails with invalid json body",
			body:        "invalid json",
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "fails with missing password",
			body:        LoginRequest{Email: dbUser.EmailAddress},
			expectedErr: NewBadRequestError(),
		},
		{
			name:        "fails with unknown email",
			body:        LoginRequest{Email: "nobody@example.com", Password: "password"},
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
		{
			name:        "fails with wrong password",
			body:        LoginRequest{Email: dbUser.EmailAddress, Password: "wrong"},
			mockUser:    dbUser,
			expectedErr: NewUnauthorizedError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDelayChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockUser != (database.User{}) || tc.mockErr != nil {
				lr := tc.body.(LoginRequest)
				mockRepo.On("GetAccountByEmail", lr.Email).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, nil)

			var req *http.Request
			switch v := tc.body.(type) {
			case string:
				req = httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(v))
			case LoginRequest:
				body, err := json.Marshal(v)
				assert.NoError(t, err, "failed to marshal request body")
				req = httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewBuffer(body))
			}

			rr := httptest.NewRecorder()
			app.login(rr, req)

			if tc.success {
				assert.Equal(t, http.StatusOK, rr.Code)

				cookie := findCookie(rr, tokenCookieKey)
				assert.NotNil(t, cookie, "expected session cookie to be set")
				assert.NotEmpty(t, cookie.Value, "expected cookie to carry a token")

				userId, _, err := app.extractSession(cookie.Value)
				assert.NoError(t, err, "expected cookie token to verify")
				assert.Equal(t, dbUser.Id, userId, "expected token to carry the user id")

				var user types.User
				err = json.NewDecoder(rr.Body).Decode(&user)
				assert.NoError(t, err, "failed to decode response")
				assert.Equal(t, dbUser.Id, user.Id)
				assert.Equal(t, dbUser.Username, user.Username)
			} else {
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
			}
		})
	}
}

func TestSessionHandler(t *testing.T) {
	dbUser := database.User{
		Id:           1,
		Username:     "test",
		EmailAddress: "test@example.com",
		IsHabitat:    true,
	}

	tcases := []struct {
		name        string
		userId      int
		mockUser    database.User
		mockErr     error
		expectedErr *ApiError
	}{
		{
			name:     "successfully returns the session user",
			userId:   1,
			mockUser: dbUser,
		},
		{
			name:        "fails without user in context",
			expectedErr: NewUnauthorizedError(),
		},
		{
			name:        "fails when account is missing",
			userId:      1,
			mockErr:     sql.ErrNoRows,
			expectedErr: NewNotFoundError(),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			mockRepo := &database.MockDelayChatRepository{}
			defer mockRepo.AssertExpectations(t)

			if tc.mockUser != (database.User{}) || tc.mockErr != nil {
				mockRepo.On("GetAccountById", tc.userId).Return(tc.mockUser, tc.mockErr).Once()
			}

			app := newTestApp(t, mockRepo, nil)

			req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
			if tc.userId != 0 {
				req = req.WithContext(WithUserId(req.Context(), tc.userId))
			}

			rr := httptest.NewRecorder()
			app.session(rr, req)

			if tc.expectedErr != nil {
				assert.Equal(t, tc.expectedErr.StatusCode, rr.Code, "expected status code to match")
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)

				var user types.User
				err := json.NewDecoder(rr.Body).Decode(&user)
				assert.NoError(t, err, "failed to decode response")
				assert.Equal(t, dbUser.Id, user.Id)
				assert.Equal(t, dbUser.IsHabitat, user.IsHabitat)
			}
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	app := newTestApp(t, &database.MockDelayChatRepository{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	rr := httptest.NewRecorder()
	app.logout(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)

	cookie := findCookie(rr, tokenCookieKey)
	assert.NotNil(t, cookie, "expected cookie to be overwritten")
	assert.Empty(t, cookie.Value, "expected cookie value to be cleared")
	assert.True(t, cookie.Expires.Before(time.Now()), "expected cookie to be expired")
}
