package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// MockTwitchServer is a test server that mocks the Twitch OAuth token
// endpoint.
type MockTwitchServer struct {
	*httptest.Server
	Handlers map[string]http.HandlerFunc

	mu    sync.Mutex
	forms []url.Values
}

// NewMockTwitchServer creates a new mock Twitch server.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		Handlers: make(map[string]http.HandlerFunc),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			m.mu.Lock()
			m.forms = append(m.forms, r.PostForm)
			m.mu.Unlock()
		}
		if handler, ok := m.Handlers[r.URL.Path]; ok {
			handler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(m.Close)
	return m
}

// TokenURL is the token endpoint of the mock.
func (m *MockTwitchServer) TokenURL() string { return m.URL + "/oauth2/token" }

// Forms returns the form bodies of every request received.
func (m *MockTwitchServer) Forms() []url.Values {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]url.Values(nil), m.forms...)
}

// MockOAuthTokenResponse answers token requests with the given tokens.
func (m *MockTwitchServer) MockOAuthTokenResponse(accessToken, refreshToken string, expiresIn int) {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_in":    expiresIn,
			"token_type":    "bearer",
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response) //nolint:errcheck // test mock response
	}
}

// MockOAuthTokenError answers token requests with a 400 invalid_grant.
func (m *MockTwitchServer) MockOAuthTokenError() {
	m.Handlers["/oauth2/token"] = func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{ //nolint:errcheck // test mock response
			"status":  400,
			"message": "Invalid refresh token",
			"error":   "invalid_grant",
		})
	}
}
