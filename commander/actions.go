package commander

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/obs-commander/command"
	"github.com/onnwee/obs-commander/eventloop"
	"github.com/onnwee/obs-commander/obs"
	"github.com/onnwee/obs-commander/telemetry"
)

// Controller is the slice of the OBS client the actions drive.
type Controller interface {
	ImageFormat() string
	GetSourceScreenshot(ctx context.Context, source, format string) ([]byte, error)
	SetSourceFilterEnabled(ctx context.Context, source, filter string, enabled bool) error
}

// Notifier publishes captured screenshots.
type Notifier interface {
	Enabled() bool
	Send(ctx context.Context, caption, filename string, data []byte) error
}

// Previewer shows a captured screenshot on stream.
type Previewer interface {
	Trigger(artifact []byte, format string)
}

// maxConcurrentCaptures bounds parallel GetSourceScreenshot requests.
const maxConcurrentCaptures = 4

type actions struct {
	prefix   string
	sources  []string
	sched    eventloop.Scheduler
	ctrl     Controller
	notifier Notifier
	preview  Previewer
}

// commands returns the built-in commands backed by a.
func (a *actions) commands() []command.Command {
	return []command.Command{
		{
			Name:    "Screenshot",
			Token:   "sc",
			Aliases: []string{"p"},
			Action:  a.takeScreenshot,
		},
		{
			Name:        "ToggleFilter",
			Token:       "setfilter",
			Permissions: []command.Permission{command.Moderator},
			Action:      a.toggleFilter,
		},
	}
}

type capture struct {
	source string
	data   []byte
	err    error
}

func (a *actions) takeScreenshot(ctx context.Context, inv *command.Invocation) {
	if len(a.sources) == 0 {
		telemetry.LoggerWithCorr(ctx).Warn("screenshot requested but no capture sources are configured")
		return
	}
	format := a.ctrl.ImageFormat()
	caption := fmt.Sprintf("Screenshot from %s: %s", inv.Sender.Name, strings.Join(inv.Args, " "))
	sources := append([]string(nil), a.sources...)

	a.sched.Async(func() func() {
		shots := make([]capture, len(sources))
		var g errgroup.Group
		g.SetLimit(maxConcurrentCaptures)
		for i, src := range sources {
			g.Go(func() error {
				data, err := a.ctrl.GetSourceScreenshot(ctx, src, format)
				telemetry.ObserveScreenshot(src, err)
				shots[i] = capture{source: src, data: data, err: err}
				return nil
			})
		}
		_ = g.Wait()

		return func() {
			log := telemetry.LoggerWithCorr(ctx)
			for _, s := range shots {
				switch {
				case obs.IsSourceOffline(s.err):
					log.Info("screenshot source is offline", slog.String("source", s.source))
				case s.err != nil:
					log.Error("failed to get screenshot", slog.String("source", s.source), slog.Any("err", s.err))
				default:
					a.preview.Trigger(s.data, format)
					a.notify(ctx, inv, caption, "screenshot."+format, s.data)
				}
			}
		}
	})
}

func (a *actions) notify(ctx context.Context, inv *command.Invocation, caption, filename string, data []byte) {
	if a.notifier == nil || !a.notifier.Enabled() {
		return
	}
	user := inv.Sender.Name
	a.sched.Async(func() func() {
		err := a.notifier.Send(ctx, caption, filename, data)
		return func() {
			if err != nil {
				telemetry.LoggerWithCorr(ctx).Warn("failed to post screenshot to discord", slog.Any("err", err))
				return
			}
			inv.Reply(user + "'s Screenshot saved to Discord!")
		}
	})
}

func (a *actions) toggleFilter(ctx context.Context, inv *command.Invocation) {
	if len(inv.Args) < 3 {
		inv.Reply(fmt.Sprintf("Usage: %ssetfilter <source_name> <filter_name> <on|off>", a.prefix))
		return
	}
	source, filter := inv.Args[0], inv.Args[1]
	enabled := parseSwitch(inv.Args[2])

	a.sched.Async(func() func() {
		err := a.ctrl.SetSourceFilterEnabled(ctx, source, filter, enabled)
		return func() {
			switch {
			case err == nil:
				if enabled {
					inv.Reply("Filter Enabled")
				} else {
					inv.Reply("Filter Disabled")
				}
			case obs.IsFilterNotFound(err):
				inv.Reply("Filter Not Found!")
			default:
				telemetry.LoggerWithCorr(ctx).Error("failed to toggle filter",
					slog.String("source", source), slog.String("filter", filter), slog.Any("err", err))
			}
		}
	})
}

// parseSwitch treats on, true and yes (any case) as enabled.
func parseSwitch(s string) bool {
	switch strings.ToLower(s) {
	case "on", "true", "yes":
		return true
	default:
		return false
	}
}
