package timectrl

import (
	"testing"
	"time"
)

func TestTimeControllerSetTime(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start)

	newNow := start.Add(42 * time.Second)
	tc.SetTime(newNow)

	if got := tc.Now(); !got.Equal(newNow) {
		t.Fatalf("Now() = %v, want %v", got, newNow)
	}
}

func TestTimeControllerAfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	tc := NewTimeController(start)

	ch := tc.After(10 * time.Second)
	tc.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatalf("timer fired before its deadline")
	default:
	}

	tc.Advance(1 * time.Second)
	select {
	case got := <-ch:
		if want := start.Add(10 * time.Second); !got.Equal(want) {
			t.Fatalf("timer delivered %v, want %v", got, want)
		}
	default:
		t.Fatalf("timer did not fire at its deadline")
	}
	if n := tc.PendingTimers(); n != 0 {
		t.Fatalf("PendingTimers() = %d, want 0", n)
	}
}

func TestTimeControllerAfterNonPositiveIsReady(t *testing.T) {
	tc := NewTimeController(time.Unix(0, 0))
	select {
	case <-tc.After(0):
	default:
		t.Fatalf("After(0) should be ready immediately")
	}
}

func TestTimeControllerFiresInDeadlineOrder(t *testing.T) {
	tc := NewTimeController(time.Unix(0, 0))
	late := tc.After(3 * time.Second)
	early := tc.After(1 * time.Second)

	tc.Advance(2 * time.Second)
	select {
	case <-early:
	default:
		t.Fatalf("early timer did not fire")
	}
	select {
	case <-late:
		t.Fatalf("late timer fired too soon")
	default:
	}
	if n := tc.PendingTimers(); n != 1 {
		t.Fatalf("PendingTimers() = %d, want 1", n)
	}
}

func TestTimeControllerListeners(t *testing.T) {
	start := time.Unix(100, 0)
	tc := NewTimeController(start)

	var seen []time.Time
	tc.AddListener(func(now time.Time) {
		seen = append(seen, now)
		_ = tc.Now()
	})

	tc.Advance(time.Second)
	tc.Advance(time.Second)

	if len(seen) != 2 {
		t.Fatalf("listener called %d times, want 2", len(seen))
	}
	if !seen[1].Equal(start.Add(2 * time.Second)) {
		t.Fatalf("second notification = %v, want %v", seen[1], start.Add(2*time.Second))
	}
}

func TestSince(t *testing.T) {
	start := time.Unix(0, 0)
	tc := NewTimeController(start)
	tc.Advance(90 * time.Second)
	if got := Since(tc, start); got != 90*time.Second {
		t.Fatalf("Since() = %v, want 90s", got)
	}
}
