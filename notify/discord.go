// Package notify posts captured screenshots to a Discord channel through an
// incoming webhook.
package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/onnwee/obs-commander/telemetry"
)

// ErrDisabled is returned by Send when no webhook is configured.
var ErrDisabled = errors.New("notify: no webhook configured")

// Discord sends files to a webhook.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
}

// ParseWebhookURL extracts the webhook id and token from a URL of the form
// https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q: missing /webhooks/<id>/<token>", u.Redacted())
}

// NewDiscord returns a notifier for the webhook URL. An empty URL yields a
// disabled notifier.
func NewDiscord(webhookURL string) (*Discord, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return &Discord{}, nil
	}
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	s.Client = &http.Client{Timeout: 30 * time.Second}
	s.UserAgent = "obs-commander"
	return &Discord{session: s, id: id, token: token}, nil
}

// Enabled reports whether a webhook is configured.
func (d *Discord) Enabled() bool { return d != nil && d.session != nil }

// Send posts caption with the file attached and waits for Discord to accept
// the message.
func (d *Discord) Send(ctx context.Context, caption, filename string, data []byte) error {
	if !d.Enabled() {
		return ErrDisabled
	}
	ctx, span := telemetry.StartSpan(ctx, "notify", "discord.webhook")
	defer span.End()

	_, err := d.session.WebhookExecute(d.id, d.token, true, &discordgo.WebhookParams{
		Content: caption,
		Files:   []*discordgo.File{{Name: filename, ContentType: contentType(filename), Reader: bytes.NewReader(data)}},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
		},
	}, discordgo.WithContext(ctx))
	telemetry.ObserveNotification(err)
	if err != nil {
		telemetry.RecordError(span, err)
		telemetry.LoggerWithCorr(ctx).Error("discord webhook failed", slog.Any("err", err), slog.String("component", "notify"))
		return fmt.Errorf("discord webhook: %w", err)
	}
	telemetry.SetSpanSuccess(span)
	return nil
}

func contentType(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".png"):
		return "image/png"
	case strings.HasSuffix(filename, ".jpg"), strings.HasSuffix(filename, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(filename, ".bmp"):
		return "image/bmp"
	default:
		return "application/octet-stream"
	}
}
