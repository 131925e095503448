package nbi

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/internal/nbi/types"
	"github.com/signalsfoundry/location-coordinator/model"
)

// ToStatusError maps coordinator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, core.ErrInvalidHandle):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, types.ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidType),
		errors.Is(err, core.ErrMissingAuthToken),
		errors.Is(err, core.ErrMissingCallback):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrBusy):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, core.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, core.ErrUserTerminated):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, core.ErrClosed):
		return status.Error(codes.Unavailable, err.Error())
	}

	if st, ok := core.StatusOf(err); ok {
		if st == model.StatusBadAuthenticationToken {
			return status.Error(codes.Unauthenticated, err.Error())
		}
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
