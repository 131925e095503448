// Package cloud simulates the cloud positioning services: Cell Locate
// behind a cellular module and the Wifi providers behind a short-range
// module. It reproduces their protocol phases and token handling, not
// their transport.
package cloud

import (
	"context"
	"fmt"
	"sync"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/model"
)

var (
	cellLocatePhases = []model.LocationStatus{
		model.StatusCellularScanStart,
		model.StatusCellularScanEnd,
		model.StatusRequestingDataFromServer,
		model.StatusReceivingDataFromServer,
		model.StatusSendingFeedbackToServer,
	}
	wifiPhases = []model.LocationStatus{
		model.StatusRequestingDataFromServer,
		model.StatusReceivingDataFromServer,
	}
)

// Radii reported by the simulated services, in millimetres.
const (
	cellLocateRadiusMm         = 500_000
	cellLocateWithWifiRadiusMm = 50_000
	wifiRadiusMm               = 30_000
)

// Config tunes the simulated services.
type Config struct {
	// Site is the position every fix reports.
	Site model.GeoPoint

	// StepsPerPhase is how many driver steps each protocol phase lasts.
	// Default: 1
	StepsPerPhase int

	// Tokens maps a cloud location type name (e.g. "cloud-google") to the
	// token the service accepts. A type without an entry accepts any
	// non-empty token.
	Tokens map[string]string
}

// ApplyDefaults applies default values to config fields that are zero or invalid.
func (c Config) ApplyDefaults() Config {
	if c.StepsPerPhase <= 0 {
		c.StepsPerPhase = 1
	}
	return c
}

// Validate rejects token entries for unknown or non-cloud types.
func (c Config) Validate() error {
	for name := range c.Tokens {
		t, err := model.ParseLocationType(name)
		if err != nil {
			return fmt.Errorf("cloud tokens: %w", err)
		}
		if !t.IsCloud() {
			return fmt.Errorf("cloud tokens: %s is not a cloud location type", t)
		}
	}
	return nil
}

// Service is a core.Driver for every cloud mechanism.
type Service struct {
	cfg    Config
	tokens map[model.LocationType]string
	log    logging.Logger

	mu    sync.Mutex
	steps map[string]int // attempt ID -> steps taken
}

var (
	_ core.Driver          = (*Service)(nil)
	_ core.AttemptFinisher = (*Service)(nil)
)

// NewService validates cfg and constructs the simulated services.
func NewService(cfg Config, log logging.Logger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Noop()
	}
	cfg = cfg.ApplyDefaults()

	tokens := make(map[model.LocationType]string, len(cfg.Tokens))
	for name, tok := range cfg.Tokens {
		t, _ := model.ParseLocationType(name)
		tokens[t] = tok
	}
	return &Service{
		cfg:    cfg,
		tokens: tokens,
		log:    log.With(logging.String("driver", "cloud")),
		steps:  make(map[string]int),
	}, nil
}

func phasesFor(t model.LocationType) []model.LocationStatus {
	if t == model.LocationTypeCloudCellLocate {
		return cellLocatePhases
	}
	return wifiPhases
}

func requestPhase(phases []model.LocationStatus) int {
	for i, p := range phases {
		if p == model.StatusRequestingDataFromServer {
			return i
		}
	}
	return -1
}

func (s *Service) tokenAccepted(a *core.Attempt) bool {
	want, ok := s.tokens[a.Mechanism]
	if !ok {
		return a.AuthToken != ""
	}
	return a.AuthToken == want
}

// Step implements core.Driver. Each phase lasts StepsPerPhase steps; a
// rejected token ends the attempt once the request phase is over.
func (s *Service) Step(ctx context.Context, a *core.Attempt) (core.StepResult, error) {
	if !a.Mechanism.IsCloud() {
		return core.StepResult{}, fmt.Errorf("cloud service cannot serve %s", a.Mechanism)
	}

	s.mu.Lock()
	s.steps[a.ID]++
	n := s.steps[a.ID]
	s.mu.Unlock()

	phases := phasesFor(a.Mechanism)
	idx := (n - 1) / s.cfg.StepsPerPhase

	if idx > requestPhase(phases) && !s.tokenAccepted(a) {
		s.log.Debug(ctx, "token rejected", logging.String("mechanism", a.Mechanism.String()))
		return core.Failure(model.StatusBadAuthenticationToken), nil
	}
	if idx < len(phases) {
		return core.InProgress(phases[idx]), nil
	}
	return core.Success(s.fix(a)), nil
}

func (s *Service) fix(a *core.Attempt) model.Location {
	loc := model.UnknownLocation(a.Mechanism)
	loc.LatitudeX1e7 = model.DegreesToX1e7(s.cfg.Site.LatitudeDeg)
	loc.LongitudeX1e7 = model.DegreesToX1e7(s.cfg.Site.LongitudeDeg)
	switch {
	case a.Mechanism != model.LocationTypeCloudCellLocate:
		loc.RadiusMillimetres = wifiRadiusMm
	case a.Assist.AssistModule != model.NoModule:
		loc.RadiusMillimetres = cellLocateWithWifiRadiusMm
	default:
		loc.RadiusMillimetres = cellLocateRadiusMm
	}
	return loc
}

// Finish implements core.AttemptFinisher.
func (s *Service) Finish(a *core.Attempt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.steps, a.ID)
}
