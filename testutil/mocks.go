// Package testutil provides shared test helpers: a mock Twitter API server
// and a real-Postgres harness gated behind TEST_PG_DSN.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// MockTwitterServer mocks the Twitter OAuth and API v2 endpoints. Register
// handlers per path; unregistered paths 404.
type MockTwitterServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc
}

func NewMockTwitterServer(t *testing.T) *MockTwitterServer {
	t.Helper()
	m := &MockTwitterServer{Handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// MockTokenResponse serves a successful token grant at /oauth2/token.
func (m *MockTwitterServer) MockTokenResponse(accessToken, refreshToken string) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"token_type":    "bearer",
			"expires_in":    7200,
			"scope":         "tweet.read tweet.write users.read offline.access",
		})
	}
}

// MockUserResponse serves a profile at /users/me.
func (m *MockTwitterServer) MockUserResponse(userID, username string) {
	m.Handlers["/users/me"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": userID, "username": username, "name": username},
		})
	}
}

// MockTweetResponse serves a created tweet at /tweets.
func (m *MockTwitterServer) MockTweetResponse(tweetID string) {
	m.Handlers["/tweets"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]string{"id": tweetID},
		})
	}
}

// MockErrorResponse serves a platform error with the given status at path.
func (m *MockTwitterServer) MockErrorResponse(path string, status int, detail string) {
	m.Handlers[path] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"title": http.StatusText(status), "detail": detail})
	}
}
