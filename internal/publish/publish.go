// Package publish fans completed location fixes out to subscribers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/model"
)

// DefaultSubjectPrefix is the subject root fixes are published under.
const DefaultSubjectPrefix = "location.fix"

// Publisher delivers a completed fix for a module.
type Publisher interface {
	Publish(ctx context.Context, h model.ModuleHandle, loc model.Location) error
	Close() error
}

// FixEvent is the wire form of a published fix.
type FixEvent struct {
	Handle        int32     `json:"handle"`
	Type          string    `json:"type"`
	LatitudeX1e7  int32     `json:"latitude_x1e7"`
	LongitudeX1e7 int32     `json:"longitude_x1e7"`
	AltitudeMm    int32     `json:"altitude_mm"`
	RadiusMm      int32     `json:"radius_mm"`
	SpeedMmPerSec int32     `json:"speed_mm_per_s"`
	SpaceVehicles int32     `json:"space_vehicles"`
	TickTimeMs    int64     `json:"tick_time_ms"`
	RequestID     string    `json:"request_id,omitempty"`
	PublishedAt   time.Time `json:"published_at"`
}

// NewFixEvent converts loc into its wire form.
func NewFixEvent(h model.ModuleHandle, loc model.Location) FixEvent {
	return FixEvent{
		Handle:        int32(h),
		Type:          loc.Type.String(),
		LatitudeX1e7:  loc.LatitudeX1e7,
		LongitudeX1e7: loc.LongitudeX1e7,
		AltitudeMm:    loc.AltitudeMillimetres,
		RadiusMm:      loc.RadiusMillimetres,
		SpeedMmPerSec: loc.SpeedMillimetresPerSecond,
		SpaceVehicles: loc.SpaceVehicles,
		TickTimeMs:    int64(loc.TickTimeMs),
	}
}

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	// URL of the NATS server.
	// Default: nats.DefaultURL
	URL string `mapstructure:"url" yaml:"url"`

	// SubjectPrefix is prepended to the module handle.
	// Default: "location.fix"
	SubjectPrefix string `mapstructure:"subject_prefix" yaml:"subject_prefix"`

	// Enabled turns publishing on.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ApplyDefaults applies default values to config fields that are zero or invalid.
func (c NATSConfig) ApplyDefaults() NATSConfig {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	c.SubjectPrefix = strings.TrimSuffix(c.SubjectPrefix, ".")
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	return c
}

// NATSPublisher publishes each fix as JSON on <prefix>.<handle>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	log    logging.Logger
}

// NewNATSPublisher connects to cfg.URL.
func NewNATSPublisher(cfg NATSConfig, log logging.Logger) (*NATSPublisher, error) {
	cfg = cfg.ApplyDefaults()
	if log == nil {
		log = logging.Noop()
	}
	conn, err := nats.Connect(cfg.URL,
		nats.Name("locationd"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(context.Background(), "nats disconnected", logging.Err(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", cfg.URL, err)
	}
	return &NATSPublisher{conn: conn, prefix: cfg.SubjectPrefix, log: log}, nil
}

// Subject returns the subject fixes for h are published on.
func (p *NATSPublisher) Subject(h model.ModuleHandle) string {
	return fmt.Sprintf("%s.%d", p.prefix, h)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, h model.ModuleHandle, loc model.Location) error {
	ev := NewFixEvent(h, loc)
	ev.RequestID = logging.RequestIDFromContext(ctx)
	ev.PublishedAt = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode fix: %w", err)
	}
	subject := p.Subject(h)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	p.log.Debug(ctx, "fix published", logging.String("subject", subject))
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

// Noop discards every fix.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, model.ModuleHandle, model.Location) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
