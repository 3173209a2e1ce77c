// Package preview shows a freshly captured screenshot in the live scene for a
// bounded window. Rapid repeated captures keep the preview visible and only
// hide it once the window has elapsed after the most recent one.
//
// All state transitions run on the event loop; remote scene-item calls and
// file writes run off-loop through the scheduler's Async hook.
package preview

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/onnwee/obs-commander/eventloop"
	"github.com/onnwee/obs-commander/telemetry"
)

// State is the visible state of the preview source.
type State int

const (
	Hidden State = iota
	Shown
	ShownPendingHide
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case Shown:
		return "shown"
	case ShownPendingHide:
		return "shown_pending_hide"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// SceneItems is the slice of the controller API the preview needs.
type SceneItems interface {
	GetSceneItemID(ctx context.Context, scene, source string) (int, error)
	SetSceneItemEnabled(ctx context.Context, scene string, itemID int, enabled bool) error
}

// Options configures a Controller.
type Options struct {
	Scene  string // scene holding the preview source
	Source string // image source that displays the screenshot file
	Dir    string // directory the screenshot file is written to

	ShowDelay time.Duration // delay between the defensive hide and the show
	HideAfter time.Duration // visible window measured from the trigger; 0 disables auto-hide
}

// Controller is the preview state machine.
type Controller struct {
	opts  Options
	sched eventloop.Scheduler
	items SceneItems

	// loop-owned
	itemID    int
	hasItem   bool
	state     State
	gen       uint64
	hideTimer eventloop.Timer
	showTimer eventloop.Timer
}

// New returns a controller in the Hidden state with no scene item resolved.
func New(opts Options, sched eventloop.Scheduler, items SceneItems) *Controller {
	if opts.ShowDelay < 0 {
		opts.ShowDelay = 0
	}
	if opts.HideAfter < 0 {
		opts.HideAfter = 0
	}
	return &Controller{opts: opts, sched: sched, items: items}
}

// Resolve looks up the scene-item id of the preview source and caches it.
// It blocks on the controller call and is meant to run from the controller
// link's on-connected hook, so the id is refreshed after every reconnect.
func (c *Controller) Resolve(ctx context.Context) error {
	if c.opts.Scene == "" || c.opts.Source == "" {
		return nil
	}
	id, err := c.items.GetSceneItemID(ctx, c.opts.Scene, c.opts.Source)
	if err != nil {
		// The cached id may belong to the previous session; stop using it
		// until a later connect resolves it again.
		c.sched.Post(c.forget)
		return fmt.Errorf("resolve preview scene item %q in %q: %w", c.opts.Source, c.opts.Scene, err)
	}
	c.sched.Post(func() {
		c.itemID = id
		c.hasItem = true
		slog.Info("preview scene item resolved", slog.Int("item_id", id), slog.String("scene", c.opts.Scene), slog.String("component", "preview"))
	})
	return nil
}

// forget runs on the loop.
func (c *Controller) forget() {
	c.gen++
	c.stopTimers()
	c.itemID = 0
	c.hasItem = false
	c.setState(Hidden)
}

// FilePath is where a screenshot in the given image format is written.
func (c *Controller) FilePath(format string) string {
	return filepath.Join(c.opts.Dir, "Screenshot."+format)
}

// State returns the current state. Call it from the loop.
func (c *Controller) State() State { return c.state }

// Trigger persists the artifact and, when the preview source is known,
// restarts the visible window.
func (c *Controller) Trigger(artifact []byte, format string) {
	path := c.FilePath(format)
	c.sched.Async(func() func() {
		err := writeFile(path, artifact)
		return func() {
			if err != nil {
				slog.Error("failed to write preview file", slog.String("path", path), slog.Any("err", err), slog.String("component", "preview"))
				return
			}
			c.restart()
		}
	})
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644) //nolint:gosec // G306: preview image must be readable by OBS
}

// restart runs on the loop.
func (c *Controller) restart() {
	if !c.hasItem {
		return
	}
	c.gen++
	gen := c.gen
	c.stopTimers()

	if c.opts.HideAfter > 0 {
		c.hideTimer = c.sched.AfterFunc(c.opts.HideAfter, func() { c.expire(gen) })
	}
	c.setState(Hidden)
	c.setEnabled(false, func(err error) {
		if gen != c.gen {
			return
		}
		if err != nil {
			slog.Warn("preview hide failed", slog.Any("err", err), slog.String("component", "preview"))
			c.stopTimers()
			return
		}
		c.showTimer = c.sched.AfterFunc(c.opts.ShowDelay, func() { c.show(gen) })
	})
}

func (c *Controller) show(gen uint64) {
	if gen != c.gen {
		return
	}
	c.showTimer = nil
	if c.hideTimer != nil {
		c.setState(ShownPendingHide)
	} else {
		c.setState(Shown)
	}
	c.setEnabled(true, func(err error) {
		if err != nil {
			slog.Warn("preview show failed", slog.Any("err", err), slog.String("component", "preview"))
		}
	})
}

func (c *Controller) expire(gen uint64) {
	if gen != c.gen {
		return
	}
	c.hideTimer = nil
	if c.showTimer != nil {
		c.showTimer.Stop()
		c.showTimer = nil
	}
	c.setState(Hidden)
	c.setEnabled(false, func(err error) {
		if err != nil {
			slog.Warn("preview hide failed", slog.Any("err", err), slog.String("component", "preview"))
		}
	})
}

func (c *Controller) stopTimers() {
	if c.hideTimer != nil {
		c.hideTimer.Stop()
		c.hideTimer = nil
	}
	if c.showTimer != nil {
		c.showTimer.Stop()
		c.showTimer = nil
	}
}

func (c *Controller) setState(s State) {
	c.state = s
	telemetry.SetPreviewState(int(s))
}

// setEnabled issues the scene-item call off-loop and runs done on the loop.
func (c *Controller) setEnabled(enabled bool, done func(error)) {
	scene, id := c.opts.Scene, c.itemID
	c.sched.Async(func() func() {
		err := c.items.SetSceneItemEnabled(context.Background(), scene, id, enabled)
		return func() { done(err) }
	})
}
