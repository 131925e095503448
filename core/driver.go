package core

import (
	"context"

	"github.com/signalsfoundry/location-coordinator/model"
)

// StepKind classifies the outcome of one driver step.
type StepKind int

const (
	StepInProgress StepKind = iota
	StepSuccess
	StepFailure
)

func (k StepKind) String() string {
	switch k {
	case StepSuccess:
		return "success"
	case StepFailure:
		return "failure"
	default:
		return "in-progress"
	}
}

// StepResult is what a driver reports for one non-blocking step.
type StepResult struct {
	Kind StepKind
	// Status is the progress phase for StepInProgress and the terminal
	// error status for StepFailure.
	Status   model.LocationStatus
	Location model.Location
}

// InProgress reports that the attempt continues in phase.
func InProgress(phase model.LocationStatus) StepResult {
	return StepResult{Kind: StepInProgress, Status: phase}
}

// Success reports a fix.
func Success(loc model.Location) StepResult {
	return StepResult{Kind: StepSuccess, Location: loc}
}

// Failure reports a terminal error status.
func Failure(status model.LocationStatus) StepResult {
	return StepResult{Kind: StepFailure, Status: status}
}

// Driver performs one mechanism-specific acquisition step. Step must not
// block for long; the engine paces calls and checks for cancellation in
// between. A non-nil error ends the attempt with UNKNOWN_COMMS_ERROR.
type Driver interface {
	Step(ctx context.Context, a *Attempt) (StepResult, error)
}

// DriverFunc adapts a function to the Driver interface.
type DriverFunc func(ctx context.Context, a *Attempt) (StepResult, error)

// Step implements Driver.
func (f DriverFunc) Step(ctx context.Context, a *Attempt) (StepResult, error) {
	return f(ctx, a)
}

// AttemptFinisher is implemented by drivers that keep per-attempt state.
// Finish is called exactly once when the attempt's handle is released.
type AttemptFinisher interface {
	Finish(a *Attempt)
}
