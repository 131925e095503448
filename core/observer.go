package core

import (
	"errors"
	"time"

	"github.com/signalsfoundry/location-coordinator/model"
)

// Outcome classifies how an attempt ended.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeError    Outcome = "error"
	OutcomeStopped  Outcome = "stopped"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeCanceled Outcome = "canceled"
)

// Observer receives attempt lifecycle notifications. Implementations must
// be safe for concurrent use and must not block.
type Observer interface {
	AttemptStarted(mechanism model.LocationType, mode Mode)
	StatusChanged(h model.ModuleHandle, status model.LocationStatus)
	AttemptFinished(mechanism model.LocationType, mode Mode, outcome Outcome, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) AttemptStarted(model.LocationType, Mode)                          {}
func (nopObserver) StatusChanged(model.ModuleHandle, model.LocationStatus)           {}
func (nopObserver) AttemptFinished(model.LocationType, Mode, Outcome, time.Duration) {}

func outcomeOf(err error, canceled bool) Outcome {
	switch {
	case canceled:
		return OutcomeCanceled
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrTimeout):
		return OutcomeTimeout
	case errors.Is(err, ErrStopped):
		return OutcomeStopped
	default:
		return OutcomeError
	}
}
