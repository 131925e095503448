package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/signalsfoundry/location-coordinator/model"
	"github.com/signalsfoundry/location-coordinator/timectrl"
)

const (
	hGNSS       model.ModuleHandle = 1
	hCell       model.ModuleHandle = 2
	hCellGNSS   model.ModuleHandle = 3
	hWifi       model.ModuleHandle = 4
	hBLE        model.ModuleHandle = 5
	hUnresolved model.ModuleHandle = 99
)

type fakeResolver map[model.ModuleHandle]model.ModuleDescriptor

func (f fakeResolver) Resolve(h model.ModuleHandle) (model.ModuleDescriptor, bool) {
	d, ok := f[h]
	return d, ok
}

func testModules() fakeResolver {
	return fakeResolver{
		hGNSS:     {Handle: hGNSS, Class: model.ModuleClassGNSS},
		hCell:     {Handle: hCell, Class: model.ModuleClassCellular},
		hCellGNSS: {Handle: hCellGNSS, Class: model.ModuleClassCellular, GNSSAttached: true},
		hWifi:     {Handle: hWifi, Class: model.ModuleClassShortRange, Wifi: true},
		hBLE:      {Handle: hBLE, Class: model.ModuleClassShortRange},
	}
}

// scriptDriver replays a fixed sequence of step results; the last entry
// repeats forever. It records every call.
type scriptDriver struct {
	mu       sync.Mutex
	script   []StepResult
	err      error
	calls    int
	finished int
	attempts []Attempt
	onStep   func(a *Attempt)
	onFinish func(a *Attempt)
}

func newScriptDriver(script ...StepResult) *scriptDriver {
	return &scriptDriver{script: script}
}

func (d *scriptDriver) Step(ctx context.Context, a *Attempt) (StepResult, error) {
	d.mu.Lock()
	i := d.calls
	d.calls++
	d.attempts = append(d.attempts, *a)
	hook := d.onStep
	d.mu.Unlock()

	if hook != nil {
		hook(a)
	}
	if d.err != nil {
		return StepResult{}, d.err
	}
	if len(d.script) == 0 {
		return InProgress(model.StatusUnknown), nil
	}
	if i >= len(d.script) {
		i = len(d.script) - 1
	}
	return d.script[i], nil
}

func (d *scriptDriver) Finish(a *Attempt) {
	d.mu.Lock()
	d.finished++
	hook := d.onFinish
	d.mu.Unlock()

	if hook != nil {
		hook(a)
	}
}

func (d *scriptDriver) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *scriptDriver) Finished() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finished
}

// recordingObserver keeps every status change in order.
type recordingObserver struct {
	mu       sync.Mutex
	statuses []model.LocationStatus
	outcomes []Outcome
	started  int
}

func (o *recordingObserver) AttemptStarted(model.LocationType, Mode) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
}

func (o *recordingObserver) StatusChanged(_ model.ModuleHandle, st model.LocationStatus) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, st)
}

func (o *recordingObserver) AttemptFinished(_ model.LocationType, _ Mode, outcome Outcome, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) Statuses() []model.LocationStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]model.LocationStatus(nil), o.statuses...)
}

func (o *recordingObserver) Outcomes() []Outcome {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Outcome(nil), o.outcomes...)
}

// autoClock advances its controller by the requested duration on every
// After call, so poll waits complete at once in simulated time.
type autoClock struct {
	*timectrl.TimeController
}

func (c autoClock) After(d time.Duration) <-chan time.Time {
	ch := c.TimeController.After(d)
	c.Advance(d)
	return ch
}

func fastConfig() Config {
	return Config{PollInterval: time.Millisecond, MaxPollInterval: 2 * time.Millisecond}
}

func newTestCoordinator(t *testing.T, d Driver, opts ...Option) *Coordinator {
	t.Helper()
	all := append([]Option{WithConfig(fastConfig())}, opts...)
	c := New(testModules(), d, all...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}

func waitIdle(t *testing.T, c *Coordinator, h model.ModuleHandle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.WaitIdle(ctx, h); err != nil {
		t.Fatalf("WaitIdle(%d): %v", h, err)
	}
}

func waitActive(t *testing.T, c *Coordinator, h model.ModuleHandle) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for c.registry.Active(h) == nil {
		if time.Now().After(deadline) {
			t.Fatalf("handle %d never became active", h)
		}
		time.Sleep(time.Millisecond)
	}
}
