package preview

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/onnwee/obs-commander/testutil"
)

type call struct {
	at      time.Duration
	id      int
	enabled bool
}

type fakeItems struct {
	clock   *testutil.ManualScheduler
	id      int
	lookupE error
	setE    error
	calls   []call
}

func (f *fakeItems) GetSceneItemID(_ context.Context, scene, source string) (int, error) {
	return f.id, f.lookupE
}

func (f *fakeItems) SetSceneItemEnabled(_ context.Context, scene string, id int, enabled bool) error {
	f.calls = append(f.calls, call{at: f.clock.Now(), id: id, enabled: enabled})
	return f.setE
}

func newController(t *testing.T) (*Controller, *fakeItems, *testutil.ManualScheduler) {
	t.Helper()
	sched := testutil.NewManualScheduler()
	items := &fakeItems{clock: sched, id: 7}
	c := New(Options{
		Scene:     "Live",
		Source:    "Screenshot Preview",
		Dir:       t.TempDir(),
		ShowDelay: time.Second,
		HideAfter: 20 * time.Second,
	}, sched, items)
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	return c, items, sched
}

func TestTriggerShowsThenHides(t *testing.T) {
	c, items, sched := newController(t)

	c.Trigger([]byte("img"), "png")
	if c.State() != Hidden {
		t.Fatalf("state after trigger = %v, want hidden", c.State())
	}
	sched.Advance(time.Second)
	if c.State() != ShownPendingHide {
		t.Fatalf("state after show delay = %v, want shown_pending_hide", c.State())
	}
	sched.Advance(19 * time.Second)
	if c.State() != Hidden {
		t.Fatalf("state after window = %v, want hidden", c.State())
	}

	want := []call{{0, 7, false}, {time.Second, 7, true}, {20 * time.Second, 7, false}}
	assertCalls(t, items.calls, want)

	b, err := os.ReadFile(filepath.Join(c.opts.Dir, "Screenshot.png"))
	if err != nil || string(b) != "img" {
		t.Fatalf("preview file = %q, %v", b, err)
	}
}

func TestRepeatedTriggerExtendsWindow(t *testing.T) {
	c, items, sched := newController(t)

	c.Trigger([]byte("one"), "jpg")
	sched.Advance(5 * time.Second)
	c.Trigger([]byte("two"), "jpg")

	sched.Advance(15 * time.Second) // t=20: the first window would have ended here
	if c.State() != ShownPendingHide {
		t.Fatalf("state at t=20 = %v, want shown_pending_hide", c.State())
	}
	if sched.Pending() != 1 {
		t.Fatalf("pending timers = %d, want exactly one hide", sched.Pending())
	}

	sched.Advance(5 * time.Second) // t=25
	if c.State() != Hidden {
		t.Fatalf("state at t=25 = %v, want hidden", c.State())
	}

	want := []call{
		{0, 7, false},
		{time.Second, 7, true},
		{5 * time.Second, 7, false},
		{6 * time.Second, 7, true},
		{25 * time.Second, 7, false},
	}
	assertCalls(t, items.calls, want)
	if sched.Pending() != 0 {
		t.Fatalf("pending timers after hide = %d", sched.Pending())
	}
}

func TestTriggerBeforeShowCancelsStaleShow(t *testing.T) {
	c, items, sched := newController(t)

	c.Trigger([]byte("one"), "png")
	sched.Advance(500 * time.Millisecond)
	c.Trigger([]byte("two"), "png")
	sched.Advance(21 * time.Second)

	shows := 0
	for _, cl := range items.calls {
		if cl.enabled {
			shows++
			if cl.at != 1500*time.Millisecond {
				t.Errorf("show at %v, want 1.5s", cl.at)
			}
		}
	}
	if shows != 1 {
		t.Fatalf("show issued %d times, want 1 (calls %+v)", shows, items.calls)
	}
}

func TestTriggerWithoutSceneItemOnlyWritesFile(t *testing.T) {
	sched := testutil.NewManualScheduler()
	items := &fakeItems{clock: sched, lookupE: errors.New("No scene items were found")}
	dir := t.TempDir()
	c := New(Options{Scene: "Live", Source: "Missing", Dir: dir, ShowDelay: time.Second, HideAfter: 20 * time.Second}, sched, items)

	if err := c.Resolve(context.Background()); err == nil {
		t.Fatal("expected resolve error")
	}
	c.Trigger([]byte("img"), "png")
	sched.Advance(time.Minute)

	if len(items.calls) != 0 {
		t.Fatalf("unexpected controller calls %+v", items.calls)
	}
	if _, err := os.Stat(filepath.Join(dir, "Screenshot.png")); err != nil {
		t.Fatalf("preview file missing: %v", err)
	}
}

func TestHideFailureSkipsShow(t *testing.T) {
	c, items, sched := newController(t)
	items.setE = errors.New("boom")

	c.Trigger([]byte("img"), "png")
	sched.Advance(2 * time.Second)

	for _, cl := range items.calls {
		if cl.enabled {
			t.Fatalf("show issued after failed hide: %+v", items.calls)
		}
	}
	if sched.Pending() != 0 {
		t.Fatalf("pending timers after failed hide = %d, want 0", sched.Pending())
	}
	sched.Advance(30 * time.Second)
	if len(items.calls) != 1 {
		t.Fatalf("calls after failed hide = %+v, want only the failed hide", items.calls)
	}
}

func TestFailedReResolveDropsCachedItem(t *testing.T) {
	c, items, sched := newController(t)
	items.id = 99
	items.lookupE = errors.New("scene not found")

	if err := c.Resolve(context.Background()); err == nil {
		t.Fatal("expected resolve error")
	}
	c.Trigger([]byte("img"), "png")
	sched.Advance(25 * time.Second)

	if len(items.calls) != 0 {
		t.Fatalf("scene item driven after failed resolve: %+v", items.calls)
	}
	if _, err := os.Stat(filepath.Join(c.opts.Dir, "Screenshot.png")); err != nil {
		t.Fatalf("preview file missing: %v", err)
	}

	items.lookupE = nil
	if err := c.Resolve(context.Background()); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	c.Trigger([]byte("img"), "png")
	sched.Advance(time.Second)
	assertCalls(t, items.calls, []call{{25 * time.Second, 99, false}, {26 * time.Second, 99, true}})
}

func TestFailedReResolveWhileShownCancelsHide(t *testing.T) {
	c, items, sched := newController(t)
	c.Trigger([]byte("img"), "png")
	sched.Advance(time.Second)
	if c.State() != ShownPendingHide {
		t.Fatalf("state = %v, want shown_pending_hide", c.State())
	}

	items.lookupE = errors.New("scene not found")
	if err := c.Resolve(context.Background()); err == nil {
		t.Fatal("expected resolve error")
	}
	if c.State() != Hidden {
		t.Fatalf("state = %v, want hidden", c.State())
	}
	if sched.Pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", sched.Pending())
	}
	sched.Advance(30 * time.Second)
	assertCalls(t, items.calls, []call{{0, 7, false}, {time.Second, 7, true}})
}

func TestAutoHideDisabled(t *testing.T) {
	sched := testutil.NewManualScheduler()
	items := &fakeItems{clock: sched, id: 3}
	c := New(Options{Scene: "Live", Source: "Preview", Dir: t.TempDir(), ShowDelay: time.Second}, sched, items)
	_ = c.Resolve(context.Background())

	c.Trigger([]byte("img"), "png")
	sched.Advance(time.Hour)

	if c.State() != Shown {
		t.Fatalf("state = %v, want shown", c.State())
	}
	if sched.Pending() != 0 {
		t.Fatalf("pending timers = %d, want 0", sched.Pending())
	}
}

func assertCalls(t *testing.T, got, want []call) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("calls = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("call %d = %+v, want %+v (all %+v)", i, got[i], want[i], got)
		}
	}
}
