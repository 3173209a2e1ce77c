// Package commander wires the chat link, the OBS controller link, the command
// registry and the screenshot preview into one application built once at
// process start.
package commander

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/onnwee/obs-commander/chat"
	"github.com/onnwee/obs-commander/command"
	"github.com/onnwee/obs-commander/config"
	"github.com/onnwee/obs-commander/eventloop"
	"github.com/onnwee/obs-commander/notify"
	"github.com/onnwee/obs-commander/obs"
	"github.com/onnwee/obs-commander/preview"
	"github.com/onnwee/obs-commander/supervisor"
	"github.com/onnwee/obs-commander/twitchapi"
)

// Commander is the running application.
type Commander struct {
	cfg        *config.Config
	loop       *eventloop.Loop
	registry   *command.Registry
	dispatcher *command.Dispatcher
	supervisor *supervisor.Supervisor
	obs        *obs.Client
	chat       *chat.Client
	preview    *preview.Controller

	stopLoop func()
}

// New builds the application from configuration. Nothing connects until
// Start.
func New(cfg *config.Config, shortcuts []command.ShortcutDef) (*Commander, error) {
	tokens, err := twitchapi.NewChatTokenSource(cfg.TwitchClientID, cfg.TwitchClientSecret, cfg.TwitchRefreshToken, cfg.TwitchOAuthToken)
	if err != nil {
		return nil, err
	}
	notifier, err := notify.NewDiscord(cfg.DiscordWebhookURL)
	if err != nil {
		return nil, err
	}

	c := &Commander{cfg: cfg, loop: eventloop.New(256)}
	c.obs = obs.New(obs.Config{
		Address:        cfg.OBSAddress,
		Password:       cfg.OBSPassword,
		RequestTimeout: cfg.OBSRequestTimeout,
	})
	c.chat = chat.New(chat.Config{
		Channel:    cfg.TwitchChannel,
		Username:   cfg.TwitchBotUsername,
		Tokens:     tokens,
		RateLimit:  cfg.ChatRateLimit,
		RateWindow: cfg.ChatRateWindow,
	})
	c.preview = preview.New(preview.Options{
		Scene:     cfg.LiveScene,
		Source:    cfg.PreviewSource,
		Dir:       cfg.PreviewDir,
		ShowDelay: cfg.PreviewShowDelay,
		HideAfter: cfg.PreviewHideAfter,
	}, c.loop, c.obs)

	acts := &actions{
		prefix:   cfg.CommandPrefix,
		sources:  cfg.ScreenshotSources,
		sched:    c.loop,
		ctrl:     c.obs,
		notifier: notifier,
		preview:  c.preview,
	}
	c.registry = command.NewRegistry()
	c.registry.Register(acts.commands()...)
	if n := c.registry.AddShortcuts(shortcuts); n > 0 {
		slog.Info("command shortcuts registered", slog.Int("count", n))
	}
	c.dispatcher = command.NewDispatcher(cfg.CommandPrefix, c.registry, c.chat)

	c.supervisor = supervisor.New(supervisor.Policy{
		MaxAttempts:     cfg.ReconnectMaxAttempts,
		InitialInterval: cfg.ReconnectInitialInterval,
		MaxInterval:     cfg.ReconnectMaxInterval,
	})
	c.supervisor.Add(c.obs, c.onControllerConnected)
	c.supervisor.Add(c.chat, nil)
	c.obs.OnClose(func(err error) { c.supervisor.NotifyDisconnected(obs.LinkName, err) })
	c.chat.OnClose(func(err error) { c.supervisor.NotifyDisconnected(chat.LinkName, err) })
	return c, nil
}

// onControllerConnected refreshes capabilities and the preview scene item on
// every controller (re)connect. Failures are logged; the link stays up.
func (c *Commander) onControllerConnected(ctx context.Context) error {
	if v, err := c.obs.GetVersion(ctx); err != nil {
		slog.Warn("failed to query obs version; using default image format", slog.Any("err", err), slog.String("component", "commander"))
	} else {
		slog.Info("obs capabilities", slog.String("obs_version", v.OBSVersion), slog.String("websocket_version", v.OBSWebSocketVersion), slog.String("image_format", v.PreferredImageFormat()))
	}
	if err := c.preview.Resolve(ctx); err != nil {
		slog.Warn("screenshot preview disabled", slog.Any("err", err), slog.String("component", "commander"))
	}
	return nil
}

// Supervisor exposes link state for the HTTP surface.
func (c *Commander) Supervisor() *supervisor.Supervisor { return c.supervisor }

// Registry returns the command registry.
func (c *Commander) Registry() *command.Registry { return c.registry }

// Start runs the event loop and connects the controller, then chat. On
// failure every link is torn down and the loop is stopped.
func (c *Commander) Start(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(context.Background())
	go c.loop.Run(loopCtx)

	c.chat.OnMessage(func(m command.Message) {
		c.loop.Post(func() { c.dispatcher.OnMessage(loopCtx, m) })
	})

	stop := func() {
		cancel()
		<-c.loop.Done()
		c.loop.Wait()
	}
	if err := c.supervisor.Start(ctx); err != nil {
		stop()
		return fmt.Errorf("startup: %w", err)
	}
	c.stopLoop = stop
	slog.Info("obs commander ready", slog.String("channel", c.cfg.TwitchChannel), slog.Int("commands", len(c.registry.Commands())))
	return nil
}

// Shutdown disconnects both links and stops the event loop.
func (c *Commander) Shutdown() error {
	err := c.supervisor.Shutdown()
	if c.stopLoop != nil {
		c.stopLoop()
	}
	return err
}
