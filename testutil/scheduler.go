package testutil

import (
	"sort"
	"time"

	"github.com/onnwee/obs-commander/eventloop"
)

// ManualScheduler is a deterministic eventloop.Scheduler for tests. Post and
// Async run inline on the caller's goroutine; timers fire only from Advance.
// It is not safe for concurrent use.
type ManualScheduler struct {
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	at      time.Duration
	seq     int
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewManualScheduler returns a scheduler whose clock starts at zero.
func NewManualScheduler() *ManualScheduler { return &ManualScheduler{} }

// Now is the elapsed virtual time.
func (s *ManualScheduler) Now() time.Duration { return s.now }

func (s *ManualScheduler) Post(fn func()) {
	if fn != nil {
		fn()
	}
}

func (s *ManualScheduler) Async(work func() func()) {
	if then := work(); then != nil {
		then()
	}
}

func (s *ManualScheduler) AfterFunc(d time.Duration, fn func()) eventloop.Timer {
	s.seq++
	t := &manualTimer{at: s.now + d, seq: s.seq, fn: fn}
	s.timers = append(s.timers, t)
	return t
}

// Advance moves the clock forward by d, firing due timers in deadline order.
// Timers scheduled by fired callbacks also fire if they fall inside the window.
func (s *ManualScheduler) Advance(d time.Duration) {
	target := s.now + d
	for {
		t := s.next(target)
		if t == nil {
			break
		}
		s.now = t.at
		t.fired = true
		t.fn()
	}
	s.now = target
}

func (s *ManualScheduler) next(limit time.Duration) *manualTimer {
	live := s.timers[:0]
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	s.timers = live
	sort.SliceStable(s.timers, func(i, j int) bool {
		if s.timers[i].at != s.timers[j].at {
			return s.timers[i].at < s.timers[j].at
		}
		return s.timers[i].seq < s.timers[j].seq
	})
	if len(s.timers) == 0 || s.timers[0].at > limit {
		return nil
	}
	return s.timers[0]
}

// Pending counts timers that have neither fired nor been stopped.
func (s *ManualScheduler) Pending() int {
	n := 0
	for _, t := range s.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

var _ eventloop.Scheduler = (*ManualScheduler)(nil)
