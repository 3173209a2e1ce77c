// Package obs is a minimal obs-websocket v5 client covering the requests the
// commander issues: version and capabilities, source screenshots, scene-item
// visibility and source filter toggling.
//
// A Client owns at most one connection at a time. Requests are matched to
// responses by request id; a single reader goroutine delivers responses and
// detects the connection going away.
package obs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/onnwee/obs-commander/telemetry"
)

// LinkName identifies the controller link to the supervisor.
const LinkName = "obs"

// Config configures a Client.
type Config struct {
	Address        string        // host:port or ws:// URL
	Password       string        // empty when authentication is disabled
	RequestTimeout time.Duration // per-request bound; defaults to 10s
}

type pendingCall struct {
	ch chan requestResponse
}

// Client is an obs-websocket v5 client.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer

	onCloseMu sync.Mutex
	onClose   func(error)

	mu      sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}
	closing bool
	pending map[string]pendingCall
	version Version

	writeMu sync.Mutex
}

// New returns an unconnected client.
func New(cfg Config) *Client {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	return &Client{
		cfg:     cfg,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		pending: make(map[string]pendingCall),
	}
}

// Name implements supervisor.Link.
func (c *Client) Name() string { return LinkName }

// OnClose registers fn to run when the connection closes without Disconnect
// having been called.
func (c *Client) OnClose(fn func(error)) {
	c.onCloseMu.Lock()
	c.onClose = fn
	c.onCloseMu.Unlock()
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func endpoint(addr string) string {
	if strings.HasPrefix(addr, "ws://") || strings.HasPrefix(addr, "wss://") {
		return addr
	}
	return "ws://" + addr
}

// Connect dials the controller and completes the Hello/Identify handshake.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	conn, _, err := c.dialer.DialContext(ctx, endpoint(c.cfg.Address), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.Address, err)
	}
	if err := c.handshake(ctx, conn); err != nil {
		_ = conn.Close()
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.closing = false
	c.mu.Unlock()

	go c.readLoop(conn, done)
	slog.Info("connected to obs", slog.String("address", c.cfg.Address), slog.String("component", "obs"))
	return nil
}

func (c *Client) handshake(ctx context.Context, conn *websocket.Conn) error {
	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	_ = conn.SetWriteDeadline(deadline)
	defer func() {
		_ = conn.SetReadDeadline(time.Time{})
		_ = conn.SetWriteDeadline(time.Time{})
	}()

	var h hello
	if err := readOp(conn, opHello, &h); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}

	id := identify{RPCVersion: rpcVersion}
	if h.Authentication != nil {
		if c.cfg.Password == "" {
			return errors.New("obs requires authentication but no password is configured")
		}
		id.Authentication = authResponse(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := writeOp(conn, opIdentify, id); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	if err := readOp(conn, opIdentified, nil); err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) && ce.Code == 4009 {
			return fmt.Errorf("obs authentication failed: %w", err)
		}
		return fmt.Errorf("read identified: %w", err)
	}
	return nil
}

func readOp(conn *websocket.Conn, op int, into any) error {
	var env envelope
	if err := conn.ReadJSON(&env); err != nil {
		return err
	}
	if env.Op != op {
		return fmt.Errorf("unexpected op %d, want %d", env.Op, op)
	}
	if into == nil {
		return nil
	}
	return json.Unmarshal(env.D, into)
}

func writeOp(conn *websocket.Conn, op int, d any) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return err
	}
	return conn.WriteJSON(envelope{Op: op, D: raw})
}

func (c *Client) readLoop(conn *websocket.Conn, done chan struct{}) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.teardown(conn, done, err)
			return
		}
		switch env.Op {
		case opRequestResponse:
			var resp requestResponse
			if err := json.Unmarshal(env.D, &resp); err != nil {
				slog.Warn("malformed request response", slog.Any("err", err), slog.String("component", "obs"))
				continue
			}
			c.mu.Lock()
			p, ok := c.pending[resp.RequestID]
			delete(c.pending, resp.RequestID)
			c.mu.Unlock()
			if ok {
				p.ch <- resp
			}
		case opEvent:
			// not subscribed to any event category
		default:
			slog.Debug("ignoring obs message", slog.Int("op", env.Op), slog.String("component", "obs"))
		}
	}
}

// teardown runs once per connection from the reader goroutine.
func (c *Client) teardown(conn *websocket.Conn, done chan struct{}, cause error) {
	c.mu.Lock()
	closing := c.closing
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[string]pendingCall)
	c.mu.Unlock()

	_ = conn.Close()
	for _, p := range pending {
		close(p.ch)
	}
	close(done)

	if closing {
		return
	}
	slog.Warn("obs connection closed", slog.Any("err", cause), slog.String("component", "obs"))
	c.onCloseMu.Lock()
	fn := c.onClose
	c.onCloseMu.Unlock()
	if fn != nil {
		fn(cause)
	}
}

// Disconnect closes the connection without reporting it through OnClose and
// waits for the reader to exit.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	conn, done := c.conn, c.done
	if conn == nil {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	// the reader may already have closed it after the close handshake
	_ = conn.Close()
	<-done
	return nil
}

// Call sends a request and waits for its response. A failed request status is
// returned as *RequestError.
func (c *Client) Call(ctx context.Context, requestType string, data any) (json.RawMessage, error) {
	start := time.Now()
	defer func() { telemetry.ObserveControllerRequest(requestType, time.Since(start)) }()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	id := uuid.NewString()
	p := pendingCall{ch: make(chan requestResponse, 1)}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[id] = p
	c.mu.Unlock()

	c.writeMu.Lock()
	err := writeOp(conn, opRequest, request{RequestType: requestType, RequestID: id, RequestData: data})
	c.writeMu.Unlock()
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send %s: %w", requestType, err)
	}

	select {
	case resp, ok := <-p.ch:
		if !ok {
			return nil, fmt.Errorf("%s: %w", requestType, ErrNotConnected)
		}
		if !resp.RequestStatus.Result || resp.RequestStatus.Code != statusSuccess {
			return nil, &RequestError{RequestType: requestType, Code: resp.RequestStatus.Code, Comment: resp.RequestStatus.Comment}
		}
		return resp.ResponseData, nil
	case <-ctx.Done():
		c.forget(id)
		return nil, fmt.Errorf("%s: %w", requestType, ctx.Err())
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}
