package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"

	"github.com/onnwee/obs-commander/command"
	"github.com/onnwee/obs-commander/telemetry"
	"github.com/onnwee/obs-commander/twitchapi"
)

// LinkName identifies the chat link to the supervisor.
const LinkName = "chat"

// outboxSize bounds replies queued while throttled or reconnecting.
const outboxSize = 64

// ircClient is the subset of *twitch.Client the link uses.
type ircClient interface {
	OnConnect(func())
	OnPrivateMessage(func(twitch.PrivateMessage))
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

var newIRCClient = func(username, oauth string) ircClient {
	return twitch.NewClient(username, oauth)
}

// Config configures a Client.
type Config struct {
	Channel  string
	Username string
	Tokens   twitchapi.ChatTokenSource
	// RateLimit messages per RateWindow; defaults to 20 per 30s.
	RateLimit  int
	RateWindow time.Duration
}

type session struct {
	irc     ircClient
	closing bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// Client is the chat link: it joins one channel, forwards channel messages and
// sends throttled replies.
type Client struct {
	cfg     Config
	limiter *rate.Limiter
	outbox  chan string

	hmu       sync.Mutex
	onMessage func(command.Message)
	onClose   func(error)

	mu   sync.Mutex
	sess *session
}

// New returns an unconnected client.
func New(cfg Config) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 30 * time.Second
	}
	cfg.Channel = strings.ToLower(strings.TrimPrefix(cfg.Channel, "#"))
	every := cfg.RateWindow / time.Duration(cfg.RateLimit)
	return &Client{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(every), cfg.RateLimit),
		outbox:  make(chan string, outboxSize),
	}
}

// Name implements supervisor.Link.
func (c *Client) Name() string { return LinkName }

// OnMessage registers the handler for channel messages. It runs on the IRC
// reader goroutine.
func (c *Client) OnMessage(fn func(command.Message)) {
	c.hmu.Lock()
	c.onMessage = fn
	c.hmu.Unlock()
}

// OnClose registers fn to run when the connection drops without Disconnect
// having been called.
func (c *Client) OnClose(fn func(error)) {
	c.hmu.Lock()
	c.onClose = fn
	c.hmu.Unlock()
}

// Connect logs in with a fresh token, joins the channel and blocks until the
// server accepts the session or the attempt fails.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.sess != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	token, err := c.cfg.Tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("chat token: %w", err)
	}

	irc := newIRCClient(c.cfg.Username, "oauth:"+token)
	ready := make(chan struct{})
	var once sync.Once
	irc.OnConnect(func() { once.Do(func() { close(ready) }) })
	irc.OnPrivateMessage(c.handle)
	irc.Join(c.cfg.Channel)

	exit := make(chan error, 1)
	go func() { exit <- irc.Connect() }()

	select {
	case <-ready:
	case err := <-exit:
		return fmt.Errorf("connect to twitch chat: %w", err)
	case <-ctx.Done():
		// Disconnect fails with ErrConnectionIsNotOpen until the socket is up;
		// reap the attempt in the background instead of waiting on it.
		go func() {
			_ = irc.Disconnect()
			<-exit
		}()
		return ctx.Err()
	}

	sctx, cancel := context.WithCancel(context.Background())
	sess := &session{irc: irc, cancel: cancel, done: make(chan struct{})}
	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	go c.drain(sctx, irc)
	go c.watch(sess, exit)
	slog.Info("connected to twitch chat", slog.String("channel", c.cfg.Channel), slog.String("component", "chat"))
	return nil
}

func (c *Client) watch(sess *session, exit <-chan error) {
	err := <-exit
	sess.cancel()

	c.mu.Lock()
	requested := sess.closing
	if c.sess == sess {
		c.sess = nil
	}
	c.mu.Unlock()
	close(sess.done)

	if requested || errors.Is(err, twitch.ErrClientDisconnected) {
		return
	}
	slog.Warn("twitch chat connection closed", slog.Any("err", err), slog.String("component", "chat"))
	c.hmu.Lock()
	fn := c.onClose
	c.hmu.Unlock()
	if fn != nil {
		fn(err)
	}
}

// Disconnect closes the session without reporting it through OnClose.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil {
		c.mu.Unlock()
		return nil
	}
	sess.closing = true
	c.mu.Unlock()

	err := sess.irc.Disconnect()
	<-sess.done
	if err != nil && !errors.Is(err, twitch.ErrConnectionIsNotOpen) {
		return err
	}
	return nil
}

// Say queues a reply to the channel. Replies are throttled and survive a
// reconnect; when the queue is full the reply is dropped.
func (c *Client) Say(text string) {
	select {
	case c.outbox <- text:
	default:
		slog.Warn("chat outbox full; dropping reply", slog.String("component", "chat"))
	}
}

func (c *Client) drain(ctx context.Context, irc ircClient) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-c.outbox:
			if err := c.limiter.Wait(ctx); err != nil {
				return
			}
			irc.Say(c.cfg.Channel, text)
			telemetry.IncChatMessages()
		}
	}
}

func (c *Client) handle(m twitch.PrivateMessage) {
	c.hmu.Lock()
	fn := c.onMessage
	c.hmu.Unlock()
	if fn == nil {
		return
	}
	fn(ToMessage(m, c.cfg.Username))
}

// ToMessage converts an IRC channel message into a dispatcher message. Sender
// roles come from the user's badges.
func ToMessage(m twitch.PrivateMessage, botUsername string) command.Message {
	name := m.User.DisplayName
	if name == "" {
		name = m.User.Name
	}
	return command.Message{
		Text: m.Message,
		Self: strings.EqualFold(m.User.Name, botUsername),
		Sender: command.Sender{
			Name:          name,
			IsBroadcaster: hasBadge(m.User.Badges, "broadcaster"),
			IsModerator:   hasBadge(m.User.Badges, "moderator") || m.Tags["mod"] == "1",
			IsSubscriber:  hasBadge(m.User.Badges, "subscriber") || hasBadge(m.User.Badges, "founder") || m.Tags["subscriber"] == "1",
		},
	}
}

func hasBadge(badges map[string]int, name string) bool {
	_, ok := badges[name]
	return ok
}
