// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Dispatch outcomes recorded by ObserveDispatch.
const (
	OutcomeExecuted = "executed"
	OutcomeDenied   = "denied"
	OutcomeUnknown  = "unknown"
)

var (
	once sync.Once

	// Counters
	CommandsDispatched  *prometheus.CounterVec // labels: command, outcome
	ReconnectAttempts   *prometheus.CounterVec // labels: link, result
	ScreenshotsCaptured *prometheus.CounterVec // labels: source, result
	NotificationsSent   *prometheus.CounterVec // labels: result
	ChatMessagesSent    prometheus.Counter

	// Histograms (seconds)
	ControllerRequestDuration *prometheus.HistogramVec // labels: request

	// Gauges
	LinkState    *prometheus.GaugeVec // labels: link; 0=disconnected,1=connecting,2=connected
	PreviewState prometheus.Gauge     // 0=hidden,1=shown,2=shown with pending hide
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obscmd_commands_dispatched_total", Help: "Chat commands seen by the dispatcher"}, []string{"command", "outcome"})
		ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obscmd_reconnect_attempts_total", Help: "Automatic reconnect attempts per link"}, []string{"link", "result"})
		ScreenshotsCaptured = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obscmd_screenshots_total", Help: "Screenshot captures per source"}, []string{"source", "result"})
		NotificationsSent = promauto.NewCounterVec(prometheus.CounterOpts{Name: "obscmd_notifications_total", Help: "Notification webhook posts"}, []string{"result"})
		ChatMessagesSent = promauto.NewCounter(prometheus.CounterOpts{Name: "obscmd_chat_messages_sent_total", Help: "Chat replies written to the channel"})
		ControllerRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{Name: "obscmd_controller_request_duration_seconds", Help: "Controller request round trip seconds", Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}}, []string{"request"})
		LinkState = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "obscmd_link_state", Help: "Link state 0=disconnected 1=connecting 2=connected"}, []string{"link"})
		PreviewState = promauto.NewGauge(prometheus.GaugeOpts{Name: "obscmd_preview_state", Help: "Preview state 0=hidden 1=shown 2=shown with pending hide"})
	})
}

// ObserveDispatch counts one dispatcher decision.
func ObserveDispatch(command, outcome string) {
	if CommandsDispatched != nil {
		CommandsDispatched.WithLabelValues(command, outcome).Inc()
	}
}

// ObserveReconnect counts one reconnect attempt for link.
func ObserveReconnect(link string, err error) {
	if ReconnectAttempts == nil {
		return
	}
	ReconnectAttempts.WithLabelValues(link, result(err)).Inc()
}

// ObserveScreenshot counts one capture attempt.
func ObserveScreenshot(source string, err error) {
	if ScreenshotsCaptured != nil {
		ScreenshotsCaptured.WithLabelValues(source, result(err)).Inc()
	}
}

// ObserveNotification counts one notification post.
func ObserveNotification(err error) {
	if NotificationsSent != nil {
		NotificationsSent.WithLabelValues(result(err)).Inc()
	}
}

// IncChatMessages counts one chat reply.
func IncChatMessages() {
	if ChatMessagesSent != nil {
		ChatMessagesSent.Inc()
	}
}

// SetLinkState records the numeric state of a link.
func SetLinkState(link string, state int) {
	if LinkState != nil {
		LinkState.WithLabelValues(link).Set(float64(state))
	}
}

// SetPreviewState records the numeric preview state.
func SetPreviewState(state int) {
	if PreviewState != nil {
		PreviewState.Set(float64(state))
	}
}

// ObserveControllerRequest records the duration of one controller request.
func ObserveControllerRequest(request string, d time.Duration) {
	if ControllerRequestDuration != nil {
		ControllerRequestDuration.WithLabelValues(request).Observe(d.Seconds())
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	if s, ok := ctx.Value(corrKey).(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
