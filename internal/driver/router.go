// Package driver dispatches each acquisition attempt to the simulated
// back end that serves its mechanism.
package driver

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/model"
)

// Router is a core.Driver that forwards to one driver per mechanism.
type Router struct {
	routes map[model.LocationType]core.Driver
}

var (
	_ core.Driver          = (*Router)(nil)
	_ core.AttemptFinisher = (*Router)(nil)
)

// Option configures a Router.
type Option func(*Router)

// Route serves mechanism t with d.
func Route(t model.LocationType, d core.Driver) Option {
	return func(r *Router) {
		r.routes[t] = d
	}
}

// RouteCloud serves every cloud mechanism with d.
func RouteCloud(d core.Driver) Option {
	return func(r *Router) {
		for _, t := range []model.LocationType{
			model.LocationTypeCloudCellLocate,
			model.LocationTypeCloudGoogle,
			model.LocationTypeCloudSkyhook,
			model.LocationTypeCloudHere,
		} {
			r.routes[t] = d
		}
	}
}

// NewRouter builds a router from opts. Later routes replace earlier ones.
func NewRouter(opts ...Option) *Router {
	r := &Router{routes: make(map[model.LocationType]core.Driver)}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Step implements core.Driver.
func (r *Router) Step(ctx context.Context, a *core.Attempt) (core.StepResult, error) {
	d, ok := r.routes[a.Mechanism]
	if !ok {
		return core.StepResult{}, fmt.Errorf("no driver for %s", a.Mechanism)
	}
	return d.Step(ctx, a)
}

// Finish implements core.AttemptFinisher.
func (r *Router) Finish(a *core.Attempt) {
	if f, ok := r.routes[a.Mechanism].(core.AttemptFinisher); ok {
		f.Finish(a)
	}
}
