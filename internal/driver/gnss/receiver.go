// Package gnss simulates a satellite-positioning receiver whose fix
// availability follows an SGP4-propagated constellation.
package gnss

import (
	"context"
	"math"
	"sync"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/model"
	"github.com/signalsfoundry/location-coordinator/timectrl"
)

// Config tunes the simulated receiver.
type Config struct {
	// Site is the receiver antenna position.
	Site model.GeoPoint

	// MinElevationDeg is the elevation mask.
	// Default: 10 degrees
	MinElevationDeg float64

	// RequiredSVs is the number of visible space vehicles needed for a fix.
	// Default: 4
	RequiredSVs int

	// AcquisitionSteps is how many driver steps an attempt takes before a
	// fix can be reported.
	// Default: 3
	AcquisitionSteps int
}

// ApplyDefaults applies default values to config fields that are zero or invalid.
func (c Config) ApplyDefaults() Config {
	if c.MinElevationDeg <= 0 {
		c.MinElevationDeg = 10
	}
	if c.RequiredSVs <= 0 {
		c.RequiredSVs = 4
	}
	if c.AcquisitionSteps <= 0 {
		c.AcquisitionSteps = 3
	}
	return c
}

// Receiver is a core.Driver for the GNSS mechanism.
type Receiver struct {
	cfg   Config
	sky   SkyView
	clock timectrl.Clock
	site  Vec3
	log   logging.Logger

	mu    sync.Mutex
	steps map[string]int // attempt ID -> steps taken
}

var (
	_ core.Driver          = (*Receiver)(nil)
	_ core.AttemptFinisher = (*Receiver)(nil)
)

// NewReceiver constructs a receiver observing sky from cfg.Site.
func NewReceiver(sky SkyView, clock timectrl.Clock, cfg Config, log logging.Logger) *Receiver {
	if clock == nil {
		clock = timectrl.Wall{}
	}
	if log == nil {
		log = logging.Noop()
	}
	cfg = cfg.ApplyDefaults()
	return &Receiver{
		cfg:   cfg,
		sky:   sky,
		clock: clock,
		site:  GeodeticToECEF(cfg.Site.LatitudeDeg, cfg.Site.LongitudeDeg, cfg.Site.AltitudeM),
		log:   log.With(logging.String("driver", "gnss")),
		steps: make(map[string]int),
	}
}

// Step implements core.Driver. The receiver stays in UNKNOWN until it has
// run for AcquisitionSteps steps with enough satellites above the mask.
func (r *Receiver) Step(ctx context.Context, a *core.Attempt) (core.StepResult, error) {
	r.mu.Lock()
	r.steps[a.ID]++
	n := r.steps[a.ID]
	r.mu.Unlock()

	if n < r.cfg.AcquisitionSteps {
		return core.InProgress(model.StatusUnknown), nil
	}

	visible := r.sky.VisibleCount(r.clock.Now(), r.site, r.cfg.MinElevationDeg)
	if visible < r.cfg.RequiredSVs {
		r.log.Debug(ctx, "waiting for satellites", logging.Int("visible", visible), logging.Int("required", r.cfg.RequiredSVs))
		return core.InProgress(model.StatusUnknown), nil
	}

	loc := model.UnknownLocation(model.LocationTypeGNSS)
	loc.LatitudeX1e7 = model.DegreesToX1e7(r.cfg.Site.LatitudeDeg)
	loc.LongitudeX1e7 = model.DegreesToX1e7(r.cfg.Site.LongitudeDeg)
	loc.AltitudeMillimetres = int32(math.Round(r.cfg.Site.AltitudeM * 1000))
	loc.RadiusMillimetres = radiusForSVs(visible)
	loc.SpeedMillimetresPerSecond = 0
	loc.SpaceVehicles = int32(visible)
	return core.Success(loc), nil
}

// Finish implements core.AttemptFinisher.
func (r *Receiver) Finish(a *core.Attempt) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.steps, a.ID)
}

// radiusForSVs shrinks the horizontal uncertainty as more space vehicles
// contribute: 15 m with four, never below 2 m.
func radiusForSVs(n int) int32 {
	if n <= 0 {
		return model.Unspecified
	}
	r := 30000 / math.Sqrt(float64(n))
	if r < 2000 {
		r = 2000
	}
	return int32(math.Round(r))
}
