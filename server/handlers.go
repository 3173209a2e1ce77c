// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"time"

	"github.com/onnwee/obs-commander/supervisor"
)

// Links is the view of the connection supervisor the handlers need.
type Links interface {
	Ready() bool
	States() map[string]supervisor.State
	Connect(ctx context.Context, name string) error
}

// Options configures admin access.
type Options struct {
	AdminUsername string
	AdminPassword string
	AdminToken    string

	// Manual reconnects allowed per ReconnectEvery with bursts of
	// ReconnectBurst; zero values use 1 per 10s, burst 3.
	ReconnectEvery time.Duration
	ReconnectBurst int
}

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	links Links
}

// NewHandlers creates a new Handlers instance with the given dependencies.
func NewHandlers(links Links) *Handlers {
	return &Handlers{links: links}
}
