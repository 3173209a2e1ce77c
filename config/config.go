// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// For required credentials (chat login, controller address), use Validate.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Commands
	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!"`
	ShortcutsFile string `env:"COMMAND_SHORTCUTS_FILE"`

	// Twitch chat
	TwitchChannel      string        `env:"TWITCH_CHANNEL"`
	TwitchBotUsername  string        `env:"TWITCH_BOT_USERNAME"`
	TwitchOAuthToken   string        `env:"TWITCH_OAUTH_TOKEN"`
	TwitchClientID     string        `env:"TWITCH_CLIENT_ID"`
	TwitchClientSecret string        `env:"TWITCH_CLIENT_SECRET"`
	TwitchRefreshToken string        `env:"TWITCH_REFRESH_TOKEN"`
	ChatRateLimit      int           `env:"CHAT_RATE_LIMIT" envDefault:"20"`
	ChatRateWindow     time.Duration `env:"CHAT_RATE_WINDOW" envDefault:"30s"`

	// OBS
	OBSAddress        string        `env:"OBS_ADDRESS" envDefault:"localhost:4455"`
	OBSPassword       string        `env:"OBS_PASSWORD"`
	OBSRequestTimeout time.Duration `env:"OBS_REQUEST_TIMEOUT" envDefault:"10s"`

	// Screenshots and preview
	ScreenshotSources []string      `env:"SCREENSHOT_SOURCES" envSeparator:","`
	LiveScene         string        `env:"SCREENSHOT_LIVE_SCENE"`
	PreviewSource     string        `env:"SCREENSHOT_PREVIEW_SOURCE"`
	PreviewDir        string        `env:"PREVIEW_DIR" envDefault:"data"`
	PreviewShowDelay  time.Duration `env:"PREVIEW_SHOW_DELAY" envDefault:"1s"`
	PreviewHideAfter  time.Duration `env:"PREVIEW_HIDE_AFTER" envDefault:"20s"`

	// Notification
	DiscordWebhookURL string `env:"DISCORD_WEBHOOK_URL"`

	// Reconnect policy
	ReconnectMaxAttempts     int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"1"`
	ReconnectInitialInterval time.Duration `env:"RECONNECT_INITIAL_INTERVAL" envDefault:"2s"`
	ReconnectMaxInterval     time.Duration `env:"RECONNECT_MAX_INTERVAL" envDefault:"1m"`

	// HTTP
	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	AdminToken    string `env:"ADMIN_TOKEN"`
	AdminUsername string `env:"ADMIN_USERNAME"`
	AdminPassword string `env:"ADMIN_PASSWORD"`

	// Observability
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"LOG_FORMAT" envDefault:"text"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads environment variables and applies defaults. It only fails on
// malformed values; use Validate for required settings.
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.TwitchChannel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.TwitchChannel), "#"))
	cfg.ScreenshotSources = compact(cfg.ScreenshotSources)
	return &cfg, nil
}

func compact(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// HasChatCredentials reports whether a static token or a complete refresh
// token setup is configured.
func (c *Config) HasChatCredentials() bool {
	if c.TwitchOAuthToken != "" {
		return true
	}
	return c.TwitchClientID != "" && c.TwitchClientSecret != "" && c.TwitchRefreshToken != ""
}

// PreviewEnabled reports whether the preview scene item is configured.
func (c *Config) PreviewEnabled() bool {
	return c.LiveScene != "" && c.PreviewSource != ""
}

// Validate checks the settings required to start.
func (c *Config) Validate() error {
	var errs []error
	if c.TwitchChannel == "" || c.TwitchBotUsername == "" {
		errs = append(errs, errors.New("missing twitch env: require TWITCH_CHANNEL, TWITCH_BOT_USERNAME"))
	}
	if !c.HasChatCredentials() {
		errs = append(errs, errors.New("missing twitch credentials: set TWITCH_OAUTH_TOKEN or TWITCH_CLIENT_ID, TWITCH_CLIENT_SECRET and TWITCH_REFRESH_TOKEN"))
	}
	if c.OBSAddress == "" {
		errs = append(errs, errors.New("missing OBS_ADDRESS"))
	}
	if strings.TrimSpace(c.CommandPrefix) == "" {
		errs = append(errs, errors.New("COMMAND_PREFIX must not be blank"))
	}
	if c.ChatRateLimit <= 0 || c.ChatRateWindow <= 0 {
		errs = append(errs, errors.New("CHAT_RATE_LIMIT and CHAT_RATE_WINDOW must be positive"))
	}
	if c.PreviewShowDelay < 0 || c.PreviewHideAfter < 0 {
		errs = append(errs, errors.New("PREVIEW_SHOW_DELAY and PREVIEW_HIDE_AFTER must not be negative"))
	}
	if (c.LiveScene == "") != (c.PreviewSource == "") {
		errs = append(errs, errors.New("SCREENSHOT_LIVE_SCENE and SCREENSHOT_PREVIEW_SOURCE must be set together"))
	}
	if (c.AdminUsername == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_USERNAME and ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}
