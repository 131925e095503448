package core

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/model"
	"github.com/signalsfoundry/location-coordinator/timectrl"
)

// run drives a claimed attempt to completion and releases the handle. It
// is shared by the blocking and async engines. A non-nil deliver is
// called with a fix before the release unless StopLocationAsync got there
// first. canceled reports whether the stop was observed.
func (c *Coordinator) run(ctx context.Context, ar *ActiveRequest, keepGoing KeepGoingFunc, deliver func(model.Location)) (loc model.Location, canceled bool, err error) {
	ctx = logging.ContextWithAttemptID(ctx, ar.ID)
	ctx, span := c.tracer.Start(ctx, "location.attempt",
		trace.WithAttributes(
			attribute.String("attempt_id", ar.ID),
			attribute.Int("module.handle", int(ar.Handle)),
			attribute.String("location.requested", ar.Requested.String()),
			attribute.String("location.mechanism", ar.Mechanism.String()),
			attribute.String("location.mode", ar.Mode.String()),
		))
	defer span.End()

	log := c.log.With(
		logging.Handle(ar.Handle),
		logging.String("mechanism", ar.Mechanism.String()),
		logging.String("mode", ar.Mode.String()),
	)
	c.observer.AttemptStarted(ar.Mechanism, ar.Mode)
	log.Debug(ctx, "location attempt claimed")

	loc, err = c.loop(ctx, ar, keepGoing, log)
	if err == nil && deliver != nil && c.registry.BeginDelivery(ar) {
		deliver(loc)
	}

	canceled = c.registry.Release(ar)
	if f, ok := c.driver.(AttemptFinisher); ok {
		f.Finish(&ar.Attempt)
	}

	elapsed := timectrl.Since(c.clock, ar.Started)
	outcome := outcomeOf(err, canceled)
	c.observer.AttemptFinished(ar.Mechanism, ar.Mode, outcome, elapsed)

	span.SetAttributes(attribute.String("location.outcome", string(outcome)))
	fields := []logging.Field{logging.String("outcome", string(outcome)), logging.Any("elapsed", elapsed)}
	switch outcome {
	case OutcomeSuccess:
		span.SetStatus(codes.Ok, "")
		log.Debug(ctx, "location attempt released", append(fields, logging.String("fix", loc.String()))...)
	case OutcomeError:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn(ctx, "location attempt failed", append(fields, logging.Err(err))...)
	default:
		log.Debug(ctx, "location attempt released", fields...)
	}
	return loc, canceled, err
}

// loop steps the driver until a terminal result or a stop condition. The
// pause between steps grows while the phase is unchanged.
func (c *Coordinator) loop(ctx context.Context, ar *ActiveRequest, keepGoing KeepGoingFunc, log logging.Logger) (model.Location, error) {
	pacer := c.newPacer()
	phase := model.StatusUnknown

	for {
		res, err := c.driver.Step(ctx, &ar.Attempt)
		if err != nil {
			c.setStatus(ctx, ar, model.StatusUnknownCommsError, log)
			return model.Location{}, fmt.Errorf("module %d: %w", ar.Handle, driverError(err))
		}

		switch {
		case res.Kind == StepSuccess:
			return c.stamp(ar, res.Location), nil
		case res.Kind == StepFailure || res.Status.IsError():
			st := res.Status
			if !st.IsError() {
				st = model.StatusGenericError
			}
			c.setStatus(ctx, ar, st, log)
			return model.Location{}, fmt.Errorf("module %d: %w", ar.Handle, NewStatusError(st))
		case res.Status != phase:
			phase = res.Status
			c.setStatus(ctx, ar, phase, log)
			pacer.Reset()
		}

		if err := c.checkContinue(ctx, ar, keepGoing); err != nil {
			c.setStatus(ctx, ar, model.StatusUserTerminated, log)
			return model.Location{}, err
		}

		c.wait(ctx, ar, pacer.NextBackOff())
		if err := c.interrupted(ctx, ar); err != nil {
			c.setStatus(ctx, ar, model.StatusUserTerminated, log)
			return model.Location{}, err
		}
	}
}

func (c *Coordinator) newPacer() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     c.cfg.PollInterval,
		RandomizationFactor: 0,
		Multiplier:          1.5,
		MaxInterval:         c.cfg.MaxPollInterval,
	}
	b.Reset()
	return b
}

// setStatus is a no-op once the attempt has been stopped, so a stopped
// handle keeps reading UNKNOWN.
func (c *Coordinator) setStatus(ctx context.Context, ar *ActiveRequest, st model.LocationStatus, log logging.Logger) {
	if !c.registry.SetStatus(ar, st) {
		return
	}
	c.observer.StatusChanged(ar.Handle, st)
	trace.SpanFromContext(ctx).AddEvent("status", trace.WithAttributes(attribute.String("location.status", st.String())))
	log.Debug(ctx, "location status changed", logging.String("status", st.String()))
}

// checkContinue decides whether another step may be taken. A supplied
// predicate replaces the default timeout.
func (c *Coordinator) checkContinue(ctx context.Context, ar *ActiveRequest, keepGoing KeepGoingFunc) error {
	if err := c.interrupted(ctx, ar); err != nil {
		return err
	}
	if keepGoing != nil {
		if !keepGoing(ar.Handle) {
			return fmt.Errorf("module %d: %w", ar.Handle, ErrUserTerminated)
		}
		return nil
	}
	if timectrl.Since(c.clock, ar.Started) >= c.cfg.Timeout {
		return fmt.Errorf("module %d after %s: %w", ar.Handle, c.cfg.Timeout, ErrTimeout)
	}
	return nil
}

func (c *Coordinator) interrupted(ctx context.Context, ar *ActiveRequest) error {
	select {
	case <-ar.stop:
		return fmt.Errorf("module %d: %w", ar.Handle, ErrUserTerminated)
	default:
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("module %d: %w: %w", ar.Handle, ErrUserTerminated, err)
	}
	return nil
}

func (c *Coordinator) wait(ctx context.Context, ar *ActiveRequest, d time.Duration) {
	if d <= 0 {
		return
	}
	select {
	case <-c.clock.After(d):
	case <-ctx.Done():
	case <-ar.stop:
	}
}

// stamp fills the fields the engine owns on a fix.
func (c *Coordinator) stamp(ar *ActiveRequest, loc model.Location) model.Location {
	loc.Type = ar.Mechanism
	if loc.TickTimeMs == 0 {
		loc.TickTimeMs = tickMs(timectrl.Since(c.clock, c.epoch))
	}
	return loc
}

// tickMs wraps d onto the non-negative int32 range, like a 32-bit
// millisecond tick counter.
func tickMs(d time.Duration) int32 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	return int32(ms % (math.MaxInt32 + 1))
}
