package timectrl

import (
	"sort"
	"sync"
	"time"
)

// Clock is the time source used by the coordinator and the simulated
// drivers. Depending on the interface rather than the time package lets
// tests drive acquisition budgets deterministically.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// After returns a channel that receives the current time once d has
	// elapsed on this clock.
	After(d time.Duration) <-chan time.Time
}

// Wall is the process wall clock.
type Wall struct{}

// Now implements Clock.
func (Wall) Now() time.Time { return time.Now() }

// After implements Clock.
func (Wall) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Since returns the time elapsed on c since t.
func Since(c Clock, t time.Time) time.Duration {
	return c.Now().Sub(t)
}

type timer struct {
	when time.Time
	ch   chan time.Time
}

// TimeController is a manually advanced Clock. Time only moves when
// SetTime or Advance is called; pending After channels fire as soon as
// the controller's time reaches their deadline.
type TimeController struct {
	mu          sync.Mutex
	currentTime time.Time
	timers      []*timer // ordered by when (earliest first)

	listeners []func(time.Time)
}

// NewTimeController constructs a controller whose clock reads start.
func NewTimeController(start time.Time) *TimeController {
	return &TimeController{currentTime: start}
}

// Now implements Clock.
func (tc *TimeController) Now() time.Time {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.currentTime
}

// After implements Clock. A non-positive d yields a channel that is
// already ready.
func (tc *TimeController) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)

	tc.mu.Lock()
	defer tc.mu.Unlock()

	if d <= 0 {
		ch <- tc.currentTime
		return ch
	}

	t := &timer{when: tc.currentTime.Add(d), ch: ch}
	idx := sort.Search(len(tc.timers), func(i int) bool {
		return tc.timers[i].when.After(t.when)
	})
	tc.timers = append(tc.timers, nil)
	copy(tc.timers[idx+1:], tc.timers[idx:])
	tc.timers[idx] = t
	return ch
}

// AddListener registers a callback invoked after every time change.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Advance moves the clock forward by d.
func (tc *TimeController) Advance(d time.Duration) {
	tc.mu.Lock()
	now := tc.currentTime.Add(d)
	tc.mu.Unlock()
	tc.SetTime(now)
}

// SetTime sets the clock to now, firing every timer that has become due.
// Moving the clock backwards is allowed and fires nothing.
func (tc *TimeController) SetTime(now time.Time) {
	tc.mu.Lock()
	tc.currentTime = now

	due := 0
	for due < len(tc.timers) && !tc.timers[due].when.After(now) {
		due++
	}
	fired := tc.timers[:due]
	tc.timers = append([]*timer(nil), tc.timers[due:]...)
	listeners := append([]func(time.Time){}, tc.listeners...)
	tc.mu.Unlock()

	// Channels are buffered so delivery never blocks; listeners run
	// outside the lock so they may read the clock.
	for _, t := range fired {
		t.ch <- now
	}
	for _, fn := range listeners {
		fn(now)
	}
}

// PendingTimers returns how many After channels have not fired yet.
func (tc *TimeController) PendingTimers() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return len(tc.timers)
}
