// Package supervisor owns the lifecycle of the external links (controller and
// chat): ordered startup, disconnect detection and automatic reconnection.
//
// Each link moves through Disconnected → Connecting → Connected. At most one
// connection attempt per link is in flight at any time; a Connect call that
// arrives while an attempt is running is rejected with ErrConnectInProgress.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/onnwee/obs-commander/telemetry"
)

// ErrConnectInProgress is returned by Connect while an attempt is running.
var ErrConnectInProgress = errors.New("connection attempt already in progress")

// ErrUnknownLink is returned for names that were never added.
var ErrUnknownLink = errors.New("unknown link")

// ErrDroppedWhileConnecting is returned by Connect when the link reported an
// unsolicited close before the attempt finished.
var ErrDroppedWhileConnecting = errors.New("link closed while connecting")

// State of a single link.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Link is an external connection the supervisor manages. Connect blocks until
// the link is usable or has failed. Disconnect must not trigger the link's
// unsolicited-close notification.
type Link interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect() error
}

// ConnectedHook runs after a link connects and before it is reported
// Connected. A hook error is treated as a failed connection.
type ConnectedHook func(ctx context.Context) error

// Policy controls automatic reconnection after an unsolicited disconnect.
type Policy struct {
	// MaxAttempts is the number of reconnect attempts per disconnect. Values
	// below one mean a single attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type entry struct {
	link  Link
	hook  ConnectedHook
	state State
	// dropped holds an unsolicited close reported while Connecting.
	dropped error
}

// Supervisor tracks link states and drives reconnection.
type Supervisor struct {
	policy Policy

	mu      sync.Mutex
	entries []*entry
	byName  map[string]*entry
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns a supervisor with no links.
func New(policy Policy) *Supervisor {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = 2 * time.Second
	}
	if policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = policy.InitialInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		policy: policy,
		byName: make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers a link. Links start in the order they were added.
func (s *Supervisor) Add(link Link, hook ConnectedHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := &entry{link: link, hook: hook}
	s.entries = append(s.entries, e)
	s.byName[link.Name()] = e
	telemetry.SetLinkState(link.Name(), int(Disconnected))
}

// State returns the current state of the named link.
func (s *Supervisor) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byName[name]; ok {
		return e.state
	}
	return Disconnected
}

// States returns a snapshot of every link's state keyed by name.
func (s *Supervisor) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.entries))
	for _, e := range s.entries {
		out[e.link.Name()] = e.state
	}
	return out
}

// Ready reports whether every link is Connected.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.state != Connected {
			return false
		}
	}
	return len(s.entries) > 0
}

// Start connects links in registration order. A link that drops while it is
// still connecting is retried per the policy before the next link starts. If
// one fails, the remaining links are not attempted, pending reconnects are
// stopped and every link already connected is torn down before the combined
// error is returned.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	for i, e := range entries {
		name := e.link.Name()
		err := s.Connect(ctx, name)
		if errors.Is(err, ErrDroppedWhileConnecting) {
			_, err = s.retry(ctx, name)
		}
		if err != nil {
			s.mu.Lock()
			s.closed = true
			s.mu.Unlock()
			s.cancel()
			s.wg.Wait()

			errs := []error{fmt.Errorf("%s connect: %w", name, err)}
			for j := i - 1; j >= 0; j-- {
				if derr := s.disconnect(entries[j]); derr != nil {
					errs = append(errs, fmt.Errorf("%s teardown: %w", entries[j].link.Name(), derr))
				}
			}
			return errors.Join(errs...)
		}
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

// Connect runs one connection attempt for the named link. It is a no-op when
// the link is already connected.
func (s *Supervisor) Connect(ctx context.Context, name string) error {
	s.mu.Lock()
	e, ok := s.byName[name]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownLink, name)
	}
	switch e.state {
	case Connecting:
		s.mu.Unlock()
		return ErrConnectInProgress
	case Connected:
		s.mu.Unlock()
		return nil
	}
	s.setState(e, Connecting)
	e.dropped = nil
	s.mu.Unlock()

	log := slog.With(slog.String("link", name), slog.String("component", "supervisor"))
	err := e.link.Connect(ctx)
	if err == nil && e.hook != nil {
		if err = e.hook(ctx); err != nil {
			if derr := e.link.Disconnect(); derr != nil {
				log.Warn("teardown after failed connect hook", slog.Any("err", derr))
			}
		}
	}

	s.mu.Lock()
	if err == nil && e.dropped != nil {
		err = fmt.Errorf("%w: %w", ErrDroppedWhileConnecting, e.dropped)
	}
	e.dropped = nil
	if err != nil {
		s.setState(e, Disconnected)
	} else {
		s.setState(e, Connected)
	}
	// Once running, a drop during the attempt gets its own reconnect. During
	// Start the caller retries synchronously instead.
	if errors.Is(err, ErrDroppedWhileConnecting) && s.started && !s.closed {
		s.scheduleReconnect(name, s.policy.InitialInterval)
	}
	s.mu.Unlock()

	if err != nil {
		log.Error("link connect failed", slog.Any("err", err))
		return err
	}
	log.Info("link connected")
	return nil
}

// NotifyDisconnected reports an unsolicited close of the named link. A
// Connected link becomes Disconnected and a reconnect is scheduled per the
// policy. A close reported while the link is Connecting fails that attempt.
// Notifications for Disconnected links are ignored.
func (s *Supervisor) NotifyDisconnected(name string, cause error) {
	if cause == nil {
		cause = errors.New("connection closed")
	}
	s.mu.Lock()
	e, ok := s.byName[name]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	switch e.state {
	case Connecting:
		e.dropped = cause
		s.mu.Unlock()
		slog.Warn("link closed while connecting", slog.String("link", name), slog.Any("err", cause), slog.String("component", "supervisor"))
		return
	case Connected:
	default:
		s.mu.Unlock()
		return
	}
	s.setState(e, Disconnected)
	s.scheduleReconnect(name, 0)
	s.mu.Unlock()

	slog.Warn("link disconnected; reconnecting", slog.String("link", name), slog.Any("err", cause), slog.String("component", "supervisor"))
}

// scheduleReconnect must be called with s.mu held.
func (s *Supervisor) scheduleReconnect(name string, delay time.Duration) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-t.C:
			case <-s.ctx.Done():
				return
			}
		}
		s.reconnect(name)
	}()
}

func (s *Supervisor) reconnect(name string) {
	attempt, err := s.retry(s.ctx, name)
	switch {
	case errors.Is(err, ErrDroppedWhileConnecting):
		slog.Warn("link dropped during reconnect; rescheduled", slog.String("link", name), slog.Int("attempts", attempt), slog.String("component", "supervisor"))
	case err != nil:
		slog.Error("failed to reconnect", slog.String("link", name), slog.Int("attempts", attempt), slog.Any("err", err), slog.String("component", "supervisor"))
	default:
		slog.Info("reconnected", slog.String("link", name), slog.Int("attempts", attempt), slog.String("component", "supervisor"))
	}
}

// retry runs Connect for name under the reconnect policy.
func (s *Supervisor) retry(ctx context.Context, name string) (int, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.policy.InitialInterval
	b.MaxInterval = s.policy.MaxInterval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.Connect(ctx, name)
		telemetry.ObserveReconnect(name, err)
		if errors.Is(err, ErrConnectInProgress) {
			// Someone else (e.g. an operator) is already reconnecting.
			return struct{}{}, backoff.Permanent(err)
		}
		if errors.Is(err, ErrDroppedWhileConnecting) && s.isStarted() {
			// Connect already scheduled a fresh reconnect for this drop.
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.policy.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Info("reconnect attempt failed; retrying", slog.String("link", name), slog.Int("attempt", attempt), slog.Duration("next", next), slog.Any("err", err))
		}),
	)
	return attempt, err
}

func (s *Supervisor) isStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Shutdown stops pending reconnects and disconnects every link in reverse
// registration order.
func (s *Supervisor) Shutdown() error {
	s.mu.Lock()
	s.closed = true
	entries := append([]*entry(nil), s.entries...)
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		if err := s.disconnect(entries[i]); err != nil {
			errs = append(errs, fmt.Errorf("%s disconnect: %w", entries[i].link.Name(), err))
		}
	}
	return errors.Join(errs...)
}

func (s *Supervisor) disconnect(e *entry) error {
	s.mu.Lock()
	if e.state != Connected {
		s.mu.Unlock()
		return nil
	}
	s.setState(e, Disconnected)
	s.mu.Unlock()
	return e.link.Disconnect()
}

// setState must be called with s.mu held.
func (s *Supervisor) setState(e *entry, st State) {
	e.state = st
	telemetry.SetLinkState(e.link.Name(), int(st))
}
