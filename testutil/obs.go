package testutil

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// OBSRequest is a request received by FakeOBS.
type OBSRequest struct {
	Type string
	Data map[string]any
}

// OBSResponse is what a FakeOBS handler answers. Code 0 means success (100).
type OBSResponse struct {
	Code    int
	Comment string
	Data    any
}

// FakeOBS is an in-process obs-websocket v5 server.
type FakeOBS struct {
	*httptest.Server
	Password string

	mu       sync.Mutex
	handlers map[string]func(map[string]any) OBSResponse
	requests []OBSRequest
	conns    map[*websocket.Conn]struct{}
	accepted int
}

const (
	fakeSalt      = "lM1GncleQOaCu9lT1yeUZhFYnqhsLLP1G5lAGo3ixaI="
	fakeChallenge = "+IxH4CnCiqpX1rM9scsNynZzbOe4KhDeYcTNS3PDaeY="
)

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// NewFakeOBS starts a fake controller. A non-empty password enables the
// challenge handshake.
func NewFakeOBS(t *testing.T, password string) *FakeOBS {
	t.Helper()
	f := &FakeOBS{
		Password: password,
		handlers: make(map[string]func(map[string]any) OBSResponse),
		conns:    make(map[*websocket.Conn]struct{}),
	}
	f.Handle("GetVersion", func(map[string]any) OBSResponse {
		return OBSResponse{Data: map[string]any{
			"obsVersion":            "30.1.0",
			"obsWebSocketVersion":   "5.4.2",
			"rpcVersion":            1,
			"supportedImageFormats": []string{"bmp", "jpeg", "jpg", "png"},
		}}
	})
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(func() {
		f.DropConnections()
		f.Close()
	})
	return f
}

// URL is the ws:// address of the server.
func (f *FakeOBS) URL() string {
	return "ws" + strings.TrimPrefix(f.Server.URL, "http")
}

// Handle installs the handler for a request type.
func (f *FakeOBS) Handle(requestType string, fn func(map[string]any) OBSResponse) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[requestType] = fn
}

// Requests returns every request received so far.
func (f *FakeOBS) Requests() []OBSRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]OBSRequest(nil), f.requests...)
}

// RequestsOf returns the received requests of one type.
func (f *FakeOBS) RequestsOf(requestType string) []OBSRequest {
	var out []OBSRequest
	for _, r := range f.Requests() {
		if r.Type == requestType {
			out = append(out, r)
		}
	}
	return out
}

// Accepted counts identified sessions.
func (f *FakeOBS) Accepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted
}

// DropConnections closes every open session from the server side.
func (f *FakeOBS) DropConnections() {
	f.mu.Lock()
	conns := f.conns
	f.conns = make(map[*websocket.Conn]struct{})
	f.mu.Unlock()
	for c := range conns {
		_ = c.Close()
	}
}

type fakeEnvelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func (f *FakeOBS) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	hello := map[string]any{"obsWebSocketVersion": "5.4.2", "rpcVersion": 1}
	if f.Password != "" {
		hello["authentication"] = map[string]string{"challenge": fakeChallenge, "salt": fakeSalt}
	}
	if err := send(conn, 0, hello); err != nil {
		return
	}

	var env fakeEnvelope
	if err := conn.ReadJSON(&env); err != nil || env.Op != 1 {
		return
	}
	var id struct {
		Authentication string `json:"authentication"`
	}
	_ = json.Unmarshal(env.D, &id)
	if f.Password != "" && id.Authentication != expectedAuth(f.Password) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4009, "Authentication failed."), time.Now().Add(time.Second))
		return
	}
	if err := send(conn, 2, map[string]any{"negotiatedRpcVersion": 1}); err != nil {
		return
	}

	f.mu.Lock()
	f.conns[conn] = struct{}{}
	f.accepted++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		delete(f.conns, conn)
		f.mu.Unlock()
	}()

	for {
		var env fakeEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		if env.Op != 6 {
			continue
		}
		var req struct {
			RequestType string         `json:"requestType"`
			RequestID   string         `json:"requestId"`
			RequestData map[string]any `json:"requestData"`
		}
		if err := json.Unmarshal(env.D, &req); err != nil {
			return
		}

		f.mu.Lock()
		f.requests = append(f.requests, OBSRequest{Type: req.RequestType, Data: req.RequestData})
		h, ok := f.handlers[req.RequestType]
		f.mu.Unlock()

		resp := OBSResponse{Code: 100}
		switch {
		case ok:
			resp = h(req.RequestData)
			if resp.Code == 0 {
				resp.Code = 100
			}
		case isMutation(req.RequestType):
		default:
			resp = OBSResponse{Code: 204, Comment: "Your request type is not valid."}
		}

		out := map[string]any{
			"requestType": req.RequestType,
			"requestId":   req.RequestID,
			"requestStatus": map[string]any{
				"result":  resp.Code == 100,
				"code":    resp.Code,
				"comment": resp.Comment,
			},
		}
		if resp.Data != nil {
			out["responseData"] = resp.Data
		}
		if err := send(conn, 7, out); err != nil {
			return
		}
	}
}

// isMutation lists requests that succeed with no response data by default.
func isMutation(requestType string) bool {
	return strings.HasPrefix(requestType, "Set")
}

func send(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(fakeEnvelope{Op: op, D: raw})
}

func expectedAuth(password string) string {
	s := sha256.Sum256([]byte(password + fakeSalt))
	r := sha256.Sum256([]byte(base64.StdEncoding.EncodeToString(s[:]) + fakeChallenge))
	return base64.StdEncoding.EncodeToString(r[:])
}

// ScreenshotDataURI encodes data the way GetSourceScreenshot returns it.
func ScreenshotDataURI(format string, data []byte) string {
	return "data:image/" + format + ";base64," + base64.StdEncoding.EncodeToString(data)
}
