package core

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/model"
	"github.com/signalsfoundry/location-coordinator/timectrl"
)

const tracerName = "github.com/signalsfoundry/location-coordinator/core"

// Request describes one acquisition.
type Request struct {
	Handle model.ModuleHandle
	Type   model.LocationType
	// Assist is optional; nil means the configured default assist.
	Assist *model.Assist
	// AuthToken is required for cloud mechanisms.
	AuthToken string
}

// KeepGoingFunc is polled between driver steps of a blocking acquisition.
// Returning false stops the attempt with ErrUserTerminated.
type KeepGoingFunc func(h model.ModuleHandle) bool

// Callback receives the fix of a successful async acquisition.
type Callback func(h model.ModuleHandle, loc model.Location)

// Option customises Coordinator construction.
type Option func(*Coordinator)

// WithLogger sets the coordinator logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// WithObserver attaches lifecycle hooks, typically metrics.
func WithObserver(o Observer) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithClock replaces the wall clock. Used by tests and simulations.
func WithClock(clk timectrl.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithConfig sets the coordinator tunables; zero fields take defaults.
func WithConfig(cfg Config) Option {
	return func(c *Coordinator) {
		c.cfg = cfg
	}
}

// WithTracer overrides the tracer used for attempt spans.
func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) {
		if t != nil {
			c.tracer = t
		}
	}
}

// Coordinator is the location acquisition coordinator. It validates
// requests, serialises attempts per module handle and drives the
// mechanism driver either on the caller's goroutine or in the background.
type Coordinator struct {
	resolver ModuleResolver
	driver   Driver
	registry *Registry

	cfg      Config
	log      logging.Logger
	observer Observer
	clock    timectrl.Clock
	tracer   trace.Tracer
	epoch    time.Time

	// life is cancelled by Close and bounds every async worker.
	life   context.Context
	cancel context.CancelFunc

	// closeMu orders workers.Add against Close.
	closeMu sync.RWMutex
	closed  atomic.Bool
	workers sync.WaitGroup
}

// New constructs a Coordinator resolving handles through resolver and
// stepping attempts through driver.
func New(resolver ModuleResolver, driver Driver, opts ...Option) *Coordinator {
	c := &Coordinator{
		resolver: resolver,
		driver:   driver,
		registry: NewRegistry(),
		log:      logging.Noop(),
		observer: nopObserver{},
		clock:    timectrl.Wall{},
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	c.cfg = c.cfg.ApplyDefaults()
	c.epoch = c.clock.Now()
	c.life, c.cancel = context.WithCancel(context.Background())
	return c
}

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.cfg }

// AcquireLocationBlocking obtains a fix on the caller's goroutine. It
// returns when the driver reports success or a terminal error, when
// keepGoing declines (ErrUserTerminated), when ctx is done
// (ErrUserTerminated wrapping ctx.Err()), or, with a nil keepGoing, when
// the configured timeout elapses (ErrTimeout).
func (c *Coordinator) AcquireLocationBlocking(ctx context.Context, req Request, keepGoing KeepGoingFunc) (model.Location, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ar, err := c.claim(ctx, req, ModeSync, nil)
	if err != nil {
		return model.Location{}, err
	}
	loc, _, err := c.run(ctx, ar, keepGoing, nil)
	if err != nil {
		return model.Location{}, err
	}
	return loc, nil
}

// StartLocationAsync claims the handle and acquires a fix in the
// background. cb is invoked at most once, with the fix, and never once
// StopLocationAsync has returned for the attempt. cb runs before the
// handle is released: starting another attempt on the same handle from
// cb fails with ErrBusy, and WaitIdle on it never returns. Terminal
// errors invoke nothing; the status stays queryable. ctx scopes only
// this call: the attempt outlives it and ends on success, error,
// timeout, stop or Close.
func (c *Coordinator) StartLocationAsync(ctx context.Context, req Request, cb Callback) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cb == nil {
		return fmt.Errorf("%w: module %d", ErrMissingCallback, req.Handle)
	}

	c.closeMu.RLock()
	defer c.closeMu.RUnlock()

	ar, err := c.claim(ctx, req, ModeAsync, cb)
	if err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	unhook := context.AfterFunc(c.life, cancel)

	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		defer unhook()
		defer cancel()

		_, _, _ = c.run(wctx, ar, nil, func(loc model.Location) {
			ar.callback(ar.Handle, loc)
		})
	}()
	return nil
}

// GetLocationStatus returns the handle's status without blocking. It is
// UNKNOWN for handles never used, while a new attempt is starting, and
// after StopLocationAsync. After an attempt ends the last observed status
// remains until the next claim.
func (c *Coordinator) GetLocationStatus(h model.ModuleHandle) model.LocationStatus {
	return c.registry.Status(h)
}

// StopLocationAsync cancels the handle's async attempt. It does not wait
// for the worker, which releases the handle at its next poll boundary.
// It is a no-op for idle handles, for blocking attempts and for an
// attempt whose callback has already begun.
func (c *Coordinator) StopLocationAsync(h model.ModuleHandle) {
	ar := c.registry.Cancel(h)
	if ar == nil {
		return
	}
	c.observer.StatusChanged(h, model.StatusUnknown)
	c.log.Debug(logging.ContextWithAttemptID(context.Background(), ar.ID), "location attempt stop requested",
		logging.Handle(h), logging.String("mechanism", ar.Mechanism.String()))
}

// WaitIdle blocks until h has no active attempt or ctx is done.
func (c *Coordinator) WaitIdle(ctx context.Context, h model.ModuleHandle) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ar := c.registry.Active(h)
	if ar == nil {
		return nil
	}
	select {
	case <-ar.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ActiveCount returns the number of in-flight attempts.
func (c *Coordinator) ActiveCount() int {
	return c.registry.ActiveCount()
}

// Close stops every async attempt, rejects new ones with ErrClosed and
// waits for background workers until ctx is done. Blocking attempts in
// progress are left to their callers.
func (c *Coordinator) Close(ctx context.Context) error {
	c.closeMu.Lock()
	c.closed.Store(true)
	c.closeMu.Unlock()

	for _, ar := range c.registry.ActiveAsync() {
		c.StopLocationAsync(ar.Handle)
	}
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// claim validates req and registers it as the handle's active request.
// Nothing here touches the driver.
func (c *Coordinator) claim(ctx context.Context, req Request, mode Mode, cb Callback) (*ActiveRequest, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}

	log := c.log.With(logging.Handle(req.Handle), logging.String("type", req.Type.String()), logging.String("mode", mode.String()))

	mech, assist, err := validateRequest(c.resolver, req, *c.cfg.DefaultAssist)
	if err != nil {
		log.Info(ctx, "location request rejected", logging.Err(err))
		return nil, err
	}

	ar := newActiveRequest(Attempt{
		ID:        logging.NewID(),
		Handle:    req.Handle,
		Requested: req.Type,
		Mechanism: mech,
		Assist:    assist,
		AuthToken: req.AuthToken,
		Started:   c.clock.Now(),
	}, mode, cb)

	if err := c.registry.Claim(ar); err != nil {
		log.Info(ctx, "location request rejected", logging.Err(err))
		return nil, fmt.Errorf("%w: module %d", err, req.Handle)
	}
	return ar, nil
}
