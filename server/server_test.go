package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/onnwee/obs-commander/supervisor"
)

type fakeLinks struct {
	mu         sync.Mutex
	states     map[string]supervisor.State
	connectErr error
	connected  []string
}

func (f *fakeLinks) Ready() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.states) == 0 {
		return false
	}
	for _, st := range f.states {
		if st != supervisor.Connected {
			return false
		}
	}
	return true
}

func (f *fakeLinks) States() map[string]supervisor.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]supervisor.State, len(f.states))
	for k, v := range f.states {
		out[k] = v
	}
	return out
}

func (f *fakeLinks) Connect(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.states[name]; !ok {
		return supervisor.ErrUnknownLink
	}
	f.connected = append(f.connected, name)
	if f.connectErr != nil {
		return f.connectErr
	}
	f.states[name] = supervisor.Connected
	return nil
}

func newFakeLinks(obs, chat supervisor.State) *fakeLinks {
	return &fakeLinks{states: map[string]supervisor.State{"obs": obs, "chat": chat}}
}

func TestHealthz(t *testing.T) {
	mux := NewMux(newFakeLinks(supervisor.Disconnected, supervisor.Disconnected), Options{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("unexpected body %q", rr.Body.String())
	}
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Error("expected generated X-Correlation-ID header")
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	mux := NewMux(newFakeLinks(supervisor.Connected, supervisor.Connected), Options{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)

	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name       string
		obs, chat  supervisor.State
		wantStatus int
		wantBody   string
		wantFailed string
	}{
		{name: "all connected", obs: supervisor.Connected, chat: supervisor.Connected, wantStatus: http.StatusOK, wantBody: "ready"},
		{name: "controller down", obs: supervisor.Disconnected, chat: supervisor.Connected, wantStatus: http.StatusServiceUnavailable, wantBody: "not_ready", wantFailed: "obs"},
		{name: "chat connecting", obs: supervisor.Connected, chat: supervisor.Connecting, wantStatus: http.StatusServiceUnavailable, wantBody: "not_ready", wantFailed: "chat"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := NewMux(newFakeLinks(tt.obs, tt.chat), Options{})
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
			var body struct {
				Status      string            `json:"status"`
				FailedCheck string            `json:"failed_check"`
				Links       map[string]string `json:"links"`
			}
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Status != tt.wantBody {
				t.Errorf("status = %q, want %q", body.Status, tt.wantBody)
			}
			if body.FailedCheck != tt.wantFailed {
				t.Errorf("failed_check = %q, want %q", body.FailedCheck, tt.wantFailed)
			}
			if body.Links["obs"] != tt.obs.String() || body.Links["chat"] != tt.chat.String() {
				t.Errorf("unexpected links %v", body.Links)
			}
		})
	}
}

func TestAdminLinks(t *testing.T) {
	mux := NewMux(newFakeLinks(supervisor.Connected, supervisor.Disconnected), Options{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/links", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	var body struct {
		Links []linkStatus `json:"links"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	want := []linkStatus{{Name: "chat", State: "disconnected"}, {Name: "obs", State: "connected"}}
	if len(body.Links) != len(want) {
		t.Fatalf("got %v, want %v", body.Links, want)
	}
	for i := range want {
		if body.Links[i] != want[i] {
			t.Errorf("links[%d] = %v, want %v", i, body.Links[i], want[i])
		}
	}
}

func TestAdminReconnect(t *testing.T) {
	tests := []struct {
		name       string
		link       string
		connectErr error
		wantStatus int
	}{
		{name: "reconnects", link: "obs", wantStatus: http.StatusOK},
		{name: "unknown link", link: "nope", wantStatus: http.StatusNotFound},
		{name: "attempt running", link: "chat", connectErr: supervisor.ErrConnectInProgress, wantStatus: http.StatusConflict},
		{name: "connect fails", link: "obs", connectErr: errors.New("dial refused"), wantStatus: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			links := newFakeLinks(supervisor.Disconnected, supervisor.Disconnected)
			links.connectErr = tt.connectErr
			mux := NewMux(links, Options{})

			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/links/"+tt.link+"/reconnect", nil))
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantStatus == http.StatusOK && links.States()[tt.link] != supervisor.Connected {
				t.Errorf("link %s not connected after reconnect", tt.link)
			}
		})
	}
}

func TestAdminReconnectRequiresPOST(t *testing.T) {
	mux := NewMux(newFakeLinks(supervisor.Disconnected, supervisor.Disconnected), Options{})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/links/obs/reconnect", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	links := newFakeLinks(supervisor.Disconnected, supervisor.Connected)
	mux := NewMux(links, Options{AdminToken: "secret"})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/admin/links", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/links/obs/reconnect", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rr.Code)
	}
	if len(links.connected) != 0 {
		t.Errorf("unauthenticated request reached the supervisor: %v", links.connected)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/links/obs/reconnect", nil)
	req.Header.Set("X-Admin-Token", "secret")
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rr.Code)
	}

	// health probes stay open
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rr.Code == http.StatusUnauthorized {
		t.Error("readyz must not require auth")
	}
}

func TestAdminReconnectRateLimited(t *testing.T) {
	links := newFakeLinks(supervisor.Disconnected, supervisor.Disconnected)
	mux := NewMux(links, Options{ReconnectBurst: 1})

	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/links/obs/reconnect", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/admin/links/chat/reconnect", nil))
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if len(links.connected) != 1 {
		t.Errorf("expected one connect attempt, got %v", links.connected)
	}
}
