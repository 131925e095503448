package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/signalsfoundry/location-coordinator/model"
	"github.com/signalsfoundry/location-coordinator/timectrl"
)

func sampleFix() model.Location {
	loc := model.UnknownLocation(model.LocationTypeNone)
	loc.LatitudeX1e7 = 517037000
	loc.LongitudeX1e7 = -8430000
	loc.RadiusMillimetres = 5000
	loc.SpaceVehicles = 7
	loc.TickTimeMs = 1234
	return loc
}

func TestStatusUnknownBeforeAcquisition(t *testing.T) {
	c := newTestCoordinator(t, newScriptDriver())
	for _, h := range []model.ModuleHandle{hGNSS, hCell, hUnresolved} {
		if st := c.GetLocationStatus(h); st != model.StatusUnknown {
			t.Fatalf("GetLocationStatus(%d) = %s, want UNKNOWN", h, st)
		}
	}
}

func TestBlockingGNSSSuccess(t *testing.T) {
	d := newScriptDriver(Success(sampleFix()))
	c := newTestCoordinator(t, d)

	loc, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hGNSS, Type: model.LocationTypeGNSS}, nil)
	if err != nil {
		t.Fatalf("AcquireLocationBlocking: %v", err)
	}
	if loc.LatitudeX1e7 != 517037000 || loc.LongitudeX1e7 != -8430000 {
		t.Fatalf("fix = %s", loc)
	}
	if loc.Type != model.LocationTypeGNSS {
		t.Fatalf("fix type = %s, want gnss", loc.Type)
	}
	if loc.TickTimeMs != 1234 {
		t.Fatalf("driver tick time overwritten: %d", loc.TickTimeMs)
	}
	if d.Calls() != 1 {
		t.Fatalf("driver called %d times, want 1", d.Calls())
	}
	if d.Finished() != 1 {
		t.Fatalf("Finish called %d times, want 1", d.Finished())
	}
	if got := d.attempts[0].Assist; got != model.DefaultAssist() {
		t.Fatalf("driver saw assist %+v, want defaults", got)
	}
	if c.ActiveCount() != 0 {
		t.Fatalf("handle still claimed after success")
	}
}

func TestMissingAuthTokenNeverCallsDriver(t *testing.T) {
	d := newScriptDriver(Success(sampleFix()))
	c := newTestCoordinator(t, d)

	_, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate}, nil)
	if !errors.Is(err, ErrMissingAuthToken) {
		t.Fatalf("error = %v, want ErrMissingAuthToken", err)
	}
	err = c.StartLocationAsync(context.Background(), Request{Handle: hWifi, Type: model.LocationTypeCloudGoogle}, func(model.ModuleHandle, model.Location) {})
	if !errors.Is(err, ErrMissingAuthToken) {
		t.Fatalf("async error = %v, want ErrMissingAuthToken", err)
	}
	if d.Calls() != 0 {
		t.Fatalf("driver invoked %d times", d.Calls())
	}
}

func TestGNSSOnShortRangeIsInvalidType(t *testing.T) {
	d := newScriptDriver(Success(sampleFix()))
	c := newTestCoordinator(t, d)

	_, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hWifi, Type: model.LocationTypeGNSS}, nil)
	if !errors.Is(err, ErrInvalidType) {
		t.Fatalf("error = %v, want ErrInvalidType", err)
	}
	_, err = c.AcquireLocationBlocking(context.Background(), Request{Handle: hUnresolved, Type: model.LocationTypeGNSS}, nil)
	if !errors.Is(err, ErrInvalidHandle) {
		t.Fatalf("error = %v, want ErrInvalidHandle", err)
	}
	if d.Calls() != 0 {
		t.Fatalf("driver invoked on rejected request")
	}
}

func TestCellLocateBadTokenReportsPhases(t *testing.T) {
	d := newScriptDriver(
		InProgress(model.StatusCellularScanStart),
		InProgress(model.StatusRequestingDataFromServer),
		Failure(model.StatusBadAuthenticationToken),
	)
	obs := &recordingObserver{}
	c := newTestCoordinator(t, d, WithObserver(obs))

	_, err := c.AcquireLocationBlocking(context.Background(),
		Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "not-the-token"}, nil)

	if !errors.Is(err, NewStatusError(model.StatusBadAuthenticationToken)) {
		t.Fatalf("error = %v, want BAD_AUTHENTICATION_TOKEN", err)
	}
	want := []model.LocationStatus{
		model.StatusCellularScanStart,
		model.StatusRequestingDataFromServer,
		model.StatusBadAuthenticationToken,
	}
	got := obs.Statuses()
	if len(got) != len(want) {
		t.Fatalf("status transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("status transitions = %v, want %v", got, want)
		}
	}
	if st := c.GetLocationStatus(hCell); st != model.StatusBadAuthenticationToken {
		t.Fatalf("status after failure = %s, want BAD_AUTHENTICATION_TOKEN", st)
	}
	if out := obs.Outcomes(); len(out) != 1 || out[0] != OutcomeError {
		t.Fatalf("outcomes = %v, want [error]", out)
	}
}

func TestFailureWithoutErrorStatusIsGeneric(t *testing.T) {
	c := newTestCoordinator(t, newScriptDriver(Failure(model.StatusCellularScanEnd)))
	_, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"}, nil)
	if !errors.Is(err, NewStatusError(model.StatusGenericError)) {
		t.Fatalf("error = %v, want GENERIC_ERROR", err)
	}
}

func TestDriverErrorIsUnknownCommsError(t *testing.T) {
	d := newScriptDriver()
	d.err = errors.New("at command timeout")
	c := newTestCoordinator(t, d)

	_, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hGNSS}, nil)
	if !errors.Is(err, NewStatusError(model.StatusUnknownCommsError)) {
		t.Fatalf("error = %v, want UNKNOWN_COMMS_ERROR", err)
	}
	if !errors.Is(err, d.err) {
		t.Fatalf("driver cause not retained: %v", err)
	}
	if st := c.GetLocationStatus(hGNSS); st != model.StatusUnknownCommsError {
		t.Fatalf("status = %s", st)
	}
}

func TestStatusAfterSuccessKeepsLastPhase(t *testing.T) {
	d := newScriptDriver(
		InProgress(model.StatusRequestingDataFromServer),
		InProgress(model.StatusReceivingDataFromServer),
		Success(sampleFix()),
	)
	c := newTestCoordinator(t, d)

	if _, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hWifi, Type: model.LocationTypeCloudHere, AuthToken: "t"}, nil); err != nil {
		t.Fatalf("AcquireLocationBlocking: %v", err)
	}
	if st := c.GetLocationStatus(hWifi); st != model.StatusReceivingDataFromServer {
		t.Fatalf("status = %s, want RECEIVING_DATA_FROM_SERVER", st)
	}
}

func TestPredicateDeclines(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusCellularScanStart))
	c := newTestCoordinator(t, d)

	var polls int
	keepGoing := func(h model.ModuleHandle) bool {
		if h != hCell {
			t.Errorf("predicate called with handle %d", h)
		}
		polls++
		return polls < 3
	}

	_, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"}, keepGoing)
	if !errors.Is(err, ErrUserTerminated) {
		t.Fatalf("error = %v, want ErrUserTerminated", err)
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("predicate decline reported as timeout")
	}
	if d.Calls() != 3 {
		t.Fatalf("driver steps = %d, want 3", d.Calls())
	}
	if st := c.GetLocationStatus(hCell); st != model.StatusUserTerminated {
		t.Fatalf("status = %s, want USER_TERMINATED", st)
	}
}

func TestDefaultTimeoutElapses(t *testing.T) {
	tc := timectrl.NewTimeController(time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC))
	d := newScriptDriver(InProgress(model.StatusUnknown))
	obs := &recordingObserver{}
	c := New(testModules(), d,
		WithClock(autoClock{tc}),
		WithObserver(obs),
		WithConfig(Config{Timeout: time.Second, PollInterval: 100 * time.Millisecond, MaxPollInterval: 400 * time.Millisecond}),
	)

	_, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hGNSS, Type: model.LocationTypeGNSS}, nil)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, ErrStopped) {
		t.Fatalf("error = %v, want ErrTimeout", err)
	}
	// waits of 100, 150, 225, 337.5, 400 ms cross 1 s on the sixth step
	if d.Calls() != 6 {
		t.Fatalf("driver steps = %d, want 6", d.Calls())
	}
	if out := obs.Outcomes(); len(out) != 1 || out[0] != OutcomeTimeout {
		t.Fatalf("outcomes = %v, want [timeout]", out)
	}
}

func TestPacerResetsOnPhaseChange(t *testing.T) {
	tc := timectrl.NewTimeController(time.Unix(0, 0))
	d := newScriptDriver(
		InProgress(model.StatusCellularScanStart),
		InProgress(model.StatusCellularScanStart),
		InProgress(model.StatusCellularScanEnd),
		Success(sampleFix()),
	)
	var stamps []time.Time
	d.onStep = func(*Attempt) { stamps = append(stamps, tc.Now()) }
	c := New(testModules(), d, WithClock(autoClock{tc}),
		WithConfig(Config{PollInterval: 100 * time.Millisecond, MaxPollInterval: time.Second}))

	if _, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"}, nil); err != nil {
		t.Fatalf("AcquireLocationBlocking: %v", err)
	}
	want := []time.Duration{0, 100 * time.Millisecond, 250 * time.Millisecond, 350 * time.Millisecond}
	if len(stamps) != len(want) {
		t.Fatalf("steps = %d, want %d", len(stamps), len(want))
	}
	for i, w := range want {
		if got := stamps[i].Sub(time.Unix(0, 0)); got != w {
			t.Fatalf("step %d at %v, want %v", i, got, w)
		}
	}
}

func TestTickTimeStamped(t *testing.T) {
	tc := timectrl.NewTimeController(time.Unix(1000, 0))
	fix := sampleFix()
	fix.TickTimeMs = 0
	d := newScriptDriver(Success(fix))
	d.onStep = func(*Attempt) { tc.Advance(1500 * time.Millisecond) }
	c := New(testModules(), d, WithClock(autoClock{tc}))

	loc, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hGNSS}, nil)
	if err != nil {
		t.Fatalf("AcquireLocationBlocking: %v", err)
	}
	if loc.TickTimeMs != 1500 {
		t.Fatalf("TickTimeMs = %d, want 1500", loc.TickTimeMs)
	}
}

func TestTickTimeWrapsNonNegative(t *testing.T) {
	tc := timectrl.NewTimeController(time.Unix(1000, 0))
	fix := sampleFix()
	fix.TickTimeMs = 0
	d := newScriptDriver(Success(fix))
	d.onStep = func(*Attempt) { tc.Advance(25*24*time.Hour + 1500*time.Millisecond) }
	c := New(testModules(), d, WithClock(autoClock{tc}))

	loc, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hGNSS}, nil)
	if err != nil {
		t.Fatalf("AcquireLocationBlocking: %v", err)
	}
	// 2_160_001_500 ms past the 2^31 wrap.
	if loc.TickTimeMs != 12_517_852 {
		t.Fatalf("TickTimeMs = %d, want 12517852", loc.TickTimeMs)
	}
}

func TestWaitIdleNilContext(t *testing.T) {
	c := newTestCoordinator(t, newScriptDriver(Success(sampleFix())))
	if err := c.StartLocationAsync(context.Background(), Request{Handle: hGNSS}, func(model.ModuleHandle, model.Location) {}); err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	var ctx context.Context
	if err := c.WaitIdle(ctx, hGNSS); err != nil {
		t.Fatalf("WaitIdle(nil): %v", err)
	}
	if c.ActiveCount() != 0 {
		t.Fatalf("ActiveCount = %d after WaitIdle", c.ActiveCount())
	}
}

func TestContextCancellationTerminates(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusCellularScanStart))
	c := newTestCoordinator(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	d.onStep = func(*Attempt) {
		if d.Calls() >= 2 {
			cancel()
		}
	}

	_, err := c.AcquireLocationBlocking(ctx, Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"}, nil)
	if !errors.Is(err, ErrUserTerminated) || !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want ErrUserTerminated wrapping context.Canceled", err)
	}
}

func TestConcurrentClaimsExactlyOneWins(t *testing.T) {
	gate := make(chan struct{})
	d := newScriptDriver()
	d.onStep = func(*Attempt) { <-gate }
	d.script = []StepResult{Success(sampleFix())}
	c := newTestCoordinator(t, d)

	const n = 8
	results := make(chan error, n)
	var start sync.WaitGroup
	start.Add(1)
	for i := 0; i < n; i++ {
		go func(i int) {
			start.Wait()
			req := Request{Handle: hGNSS, Type: model.LocationTypeGNSS}
			if i%2 == 0 {
				_, err := c.AcquireLocationBlocking(context.Background(), req, nil)
				results <- err
				return
			}
			done := make(chan struct{})
			err := c.StartLocationAsync(context.Background(), req, func(model.ModuleHandle, model.Location) { close(done) })
			if err == nil {
				<-done
			}
			results <- err
		}(i)
	}
	start.Done()

	busy := 0
	for busy < n-1 {
		select {
		case err := <-results:
			if !errors.Is(err, ErrBusy) {
				t.Fatalf("losing claim error = %v, want ErrBusy", err)
			}
			busy++
		case <-time.After(5 * time.Second):
			t.Fatalf("only %d claims failed with ErrBusy", busy)
		}
	}
	close(gate)

	select {
	case err := <-results:
		if err != nil {
			t.Fatalf("winning claim failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("winning claim never completed")
	}
}

func TestBusyWhileAttemptInFlight(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusCellularScanStart))
	c := newTestCoordinator(t, d)

	var calls atomic.Int32
	if err := c.StartLocationAsync(context.Background(),
		Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"},
		func(model.ModuleHandle, model.Location) { calls.Add(1) }); err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	_, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"}, nil)
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("error = %v, want ErrBusy", err)
	}
	// other handles are unaffected
	if _, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hWifi, Type: model.LocationTypeCloudGoogle, AuthToken: "t"},
		func(model.ModuleHandle) bool { return false }); !errors.Is(err, ErrUserTerminated) {
		t.Fatalf("other handle error = %v, want ErrUserTerminated", err)
	}
	c.StopLocationAsync(hCell)
	waitIdle(t, c, hCell)
	if calls.Load() != 0 {
		t.Fatalf("callback invoked after stop")
	}
}

func TestStartThenStopNeverCallsBack(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusCellularScanStart), InProgress(model.StatusCellularScanEnd))
	obs := &recordingObserver{}
	c := newTestCoordinator(t, d, WithObserver(obs))

	var calls atomic.Int32
	err := c.StartLocationAsync(context.Background(),
		Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"},
		func(model.ModuleHandle, model.Location) { calls.Add(1) })
	if err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	c.StopLocationAsync(hCell)
	waitIdle(t, c, hCell)

	if calls.Load() != 0 {
		t.Fatalf("callback invoked %d times after stop", calls.Load())
	}
	if st := c.GetLocationStatus(hCell); st != model.StatusUnknown {
		t.Fatalf("status after stop = %s, want UNKNOWN", st)
	}
	if out := obs.Outcomes(); len(out) != 1 || out[0] != OutcomeCanceled {
		t.Fatalf("outcomes = %v, want [canceled]", out)
	}
	if d.Finished() != 1 {
		t.Fatalf("Finish called %d times, want 1", d.Finished())
	}
}

func TestStopIsNoopWhenIdleOrBlocking(t *testing.T) {
	c := newTestCoordinator(t, newScriptDriver(InProgress(model.StatusCellularScanStart)))
	c.StopLocationAsync(hCell)
	c.StopLocationAsync(hUnresolved)

	var polls atomic.Int32
	done := make(chan error, 1)
	go func() {
		_, err := c.AcquireLocationBlocking(context.Background(),
			Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"},
			func(model.ModuleHandle) bool { return polls.Add(1) < 50 })
		done <- err
	}()
	waitActive(t, c, hCell)
	c.StopLocationAsync(hCell)

	select {
	case err := <-done:
		if !errors.Is(err, ErrUserTerminated) {
			t.Fatalf("error = %v, want ErrUserTerminated from predicate", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("blocking attempt did not finish")
	}
	if polls.Load() != 50 {
		t.Fatalf("stop interrupted a blocking attempt after %d polls", polls.Load())
	}
}

func TestAsyncCallbackExactlyOnce(t *testing.T) {
	d := newScriptDriver(
		InProgress(model.StatusRequestingDataFromServer),
		InProgress(model.StatusReceivingDataFromServer),
		Success(sampleFix()),
	)
	c := newTestCoordinator(t, d)

	var calls atomic.Int32
	got := make(chan model.Location, 4)
	err := c.StartLocationAsync(context.Background(),
		Request{Handle: hWifi, Type: model.LocationTypeCloudSkyhook, AuthToken: "t"},
		func(h model.ModuleHandle, loc model.Location) {
			if h != hWifi {
				t.Errorf("callback handle = %d", h)
			}
			calls.Add(1)
			got <- loc
		})
	if err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}

	select {
	case loc := <-got:
		if loc.Type != model.LocationTypeCloudSkyhook || loc.LatitudeX1e7 != 517037000 {
			t.Fatalf("fix = %s", loc)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("callback not invoked")
	}
	waitIdle(t, c, hWifi)
	c.StopLocationAsync(hWifi)
	if calls.Load() != 1 {
		t.Fatalf("callback invoked %d times, want 1", calls.Load())
	}
}

func TestRestartFromCallbackIsBusy(t *testing.T) {
	d := newScriptDriver(Success(sampleFix()))
	c := newTestCoordinator(t, d)

	restarted := make(chan error, 1)
	err := c.StartLocationAsync(context.Background(), Request{Handle: hGNSS}, func(h model.ModuleHandle, _ model.Location) {
		restarted <- c.StartLocationAsync(context.Background(), Request{Handle: h}, func(model.ModuleHandle, model.Location) {})
	})
	if err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	select {
	case err := <-restarted:
		if !errors.Is(err, ErrBusy) {
			t.Fatalf("restart from callback error = %v, want ErrBusy", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("callback not invoked")
	}

	waitIdle(t, c, hGNSS)
	if err := c.StartLocationAsync(context.Background(), Request{Handle: hGNSS}, func(model.ModuleHandle, model.Location) {}); err != nil {
		t.Fatalf("restart after release: %v", err)
	}
}

func TestStopBeforeDeliveryWins(t *testing.T) {
	d := newScriptDriver(Success(sampleFix()))
	obs := &recordingObserver{}
	c := newTestCoordinator(t, d, WithObserver(obs))
	d.onStep = func(a *Attempt) { c.StopLocationAsync(a.Handle) }

	var calls atomic.Int32
	if err := c.StartLocationAsync(context.Background(), Request{Handle: hGNSS},
		func(model.ModuleHandle, model.Location) { calls.Add(1) }); err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	waitIdle(t, c, hGNSS)

	if calls.Load() != 0 {
		t.Fatalf("callback invoked %d times although the stop came before delivery", calls.Load())
	}
	if st := c.GetLocationStatus(hGNSS); st != model.StatusUnknown {
		t.Fatalf("status = %s, want UNKNOWN", st)
	}
	if out := obs.Outcomes(); len(out) != 1 || out[0] != OutcomeCanceled {
		t.Fatalf("outcomes = %v, want [canceled]", out)
	}
}

func TestStopDuringCallbackIsNoop(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusReceivingDataFromServer), Success(sampleFix()))
	obs := &recordingObserver{}
	c := newTestCoordinator(t, d, WithObserver(obs))

	var calls atomic.Int32
	entered := make(chan struct{})
	proceed := make(chan struct{})
	err := c.StartLocationAsync(context.Background(),
		Request{Handle: hWifi, Type: model.LocationTypeCloudHere, AuthToken: "t"},
		func(model.ModuleHandle, model.Location) {
			calls.Add(1)
			close(entered)
			<-proceed
		})
	if err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatalf("callback not invoked")
	}
	c.StopLocationAsync(hWifi)
	if st := c.GetLocationStatus(hWifi); st != model.StatusReceivingDataFromServer {
		t.Fatalf("status after stop during delivery = %s, want RECEIVING_DATA_FROM_SERVER", st)
	}
	close(proceed)
	waitIdle(t, c, hWifi)

	if calls.Load() != 1 {
		t.Fatalf("callback invoked %d times, want 1", calls.Load())
	}
	if out := obs.Outcomes(); len(out) != 1 || out[0] != OutcomeSuccess {
		t.Fatalf("outcomes = %v, want [success]", out)
	}
}

func TestStopAfterCompletionNeverCallsBackAgain(t *testing.T) {
	d := newScriptDriver(Success(sampleFix()))
	c := newTestCoordinator(t, d)

	var calls atomic.Int32
	callsAtStop := make(chan int32, 1)
	d.onFinish = func(a *Attempt) {
		c.StopLocationAsync(a.Handle)
		callsAtStop <- calls.Load()
	}

	if err := c.StartLocationAsync(context.Background(), Request{Handle: hGNSS},
		func(model.ModuleHandle, model.Location) { calls.Add(1) }); err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}

	var before int32
	select {
	case before = <-callsAtStop:
	case <-time.After(5 * time.Second):
		t.Fatalf("attempt never finished")
	}
	_ = c.Close(context.Background())

	if before != 1 {
		t.Fatalf("callback invoked %d times before the late stop, want 1", before)
	}
	if calls.Load() != before {
		t.Fatalf("callback invoked after StopLocationAsync returned: %d calls, %d at stop", calls.Load(), before)
	}
}

func TestAsyncTerminalErrorSkipsCallback(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusRequestingDataFromServer), Failure(model.StatusNoDataFromServer))
	c := newTestCoordinator(t, d)

	var calls atomic.Int32
	if err := c.StartLocationAsync(context.Background(),
		Request{Handle: hWifi, Type: model.LocationTypeCloudGoogle, AuthToken: "t"},
		func(model.ModuleHandle, model.Location) { calls.Add(1) }); err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	waitIdle(t, c, hWifi)

	if calls.Load() != 0 {
		t.Fatalf("callback invoked on terminal error")
	}
	if st := c.GetLocationStatus(hWifi); st != model.StatusNoDataFromServer {
		t.Fatalf("status = %s, want NO_DATA_FROM_SERVER", st)
	}
}

func TestAsyncTimeout(t *testing.T) {
	tc := timectrl.NewTimeController(time.Unix(0, 0))
	d := newScriptDriver(InProgress(model.StatusCellularScanStart))
	c := New(testModules(), d, WithClock(autoClock{tc}),
		WithConfig(Config{Timeout: 2 * time.Second, PollInterval: 500 * time.Millisecond}))
	defer c.Close(context.Background())

	var calls atomic.Int32
	if err := c.StartLocationAsync(context.Background(),
		Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, AuthToken: "t"},
		func(model.ModuleHandle, model.Location) { calls.Add(1) }); err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	waitIdle(t, c, hCell)
	if calls.Load() != 0 {
		t.Fatalf("callback invoked on timeout")
	}
	if st := c.GetLocationStatus(hCell); st != model.StatusUserTerminated {
		t.Fatalf("status = %s, want USER_TERMINATED", st)
	}
}

func TestAsyncCopiesInputs(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusCellularScanStart))
	c := newTestCoordinator(t, d)

	assist := model.Assist{DesiredAccuracyMillimetres: 1000, DesiredTimeoutSeconds: 30, AssistModule: hWifi}
	req := Request{Handle: hCell, Type: model.LocationTypeCloudCellLocate, Assist: &assist, AuthToken: "secret"}
	if err := c.StartLocationAsync(context.Background(), req, func(model.ModuleHandle, model.Location) {}); err != nil {
		t.Fatalf("StartLocationAsync: %v", err)
	}
	assist.DesiredAccuracyMillimetres = 1
	req.AuthToken = "changed"

	waitActive(t, c, hCell)
	ar := c.registry.Active(hCell)
	if ar == nil {
		t.Fatalf("no active request")
	}
	if ar.Assist.DesiredAccuracyMillimetres != 1000 || ar.AuthToken != "secret" {
		t.Fatalf("async request shares caller memory: %+v %q", ar.Assist, ar.AuthToken)
	}
	c.StopLocationAsync(hCell)
	waitIdle(t, c, hCell)
}

func TestStartRequiresCallback(t *testing.T) {
	c := newTestCoordinator(t, newScriptDriver())
	if err := c.StartLocationAsync(context.Background(), Request{Handle: hGNSS}, nil); !errors.Is(err, ErrMissingCallback) {
		t.Fatalf("error = %v, want ErrMissingCallback", err)
	}
}

func TestCloseStopsWorkersAndRejects(t *testing.T) {
	d := newScriptDriver(InProgress(model.StatusCellularScanStart))
	c := New(testModules(), d, WithConfig(fastConfig()))

	var calls atomic.Int32
	for _, h := range []model.ModuleHandle{hCell, hWifi} {
		typ := model.LocationTypeCloudCellLocate
		if h == hWifi {
			typ = model.LocationTypeCloudGoogle
		}
		if err := c.StartLocationAsync(context.Background(), Request{Handle: h, Type: typ, AuthToken: "t"},
			func(model.ModuleHandle, model.Location) { calls.Add(1) }); err != nil {
			t.Fatalf("StartLocationAsync(%d): %v", h, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.ActiveCount() != 0 {
		t.Fatalf("ActiveCount after Close = %d", c.ActiveCount())
	}
	if calls.Load() != 0 {
		t.Fatalf("callback invoked during Close")
	}
	if err := c.StartLocationAsync(context.Background(), Request{Handle: hGNSS}, func(model.ModuleHandle, model.Location) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("start after Close error = %v, want ErrClosed", err)
	}
	if _, err := c.AcquireLocationBlocking(context.Background(), Request{Handle: hGNSS}, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("acquire after Close error = %v, want ErrClosed", err)
	}
}
