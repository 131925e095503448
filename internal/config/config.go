// Package config loads the locationd daemon configuration from a YAML file
// and LOCATIOND_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/signalsfoundry/location-coordinator/core"
	"github.com/signalsfoundry/location-coordinator/internal/driver/cloud"
	"github.com/signalsfoundry/location-coordinator/internal/driver/gnss"
	"github.com/signalsfoundry/location-coordinator/internal/logging"
	"github.com/signalsfoundry/location-coordinator/internal/observability"
	"github.com/signalsfoundry/location-coordinator/internal/publish"
	"github.com/signalsfoundry/location-coordinator/model"
)

// EnvPrefix prefixes every environment override, e.g. LOCATIOND_GRPC_ADDR
// or LOCATIOND_LOCATION_TIMEOUT.
const EnvPrefix = "LOCATIOND"

// Config is the full daemon configuration.
type Config struct {
	// GRPCAddr is the listen address of the location service.
	// Default: ":50061"
	GRPCAddr string `mapstructure:"grpc_addr"`

	// MetricsAddr serves /metrics; empty disables it.
	// Default: ":9090"
	MetricsAddr string `mapstructure:"metrics_addr"`

	// ModulesFile is the YAML module catalogue.
	// Default: "configs/modules.yaml"
	ModulesFile string `mapstructure:"modules_file"`

	Log        LogConfig                   `mapstructure:"log"`
	Tracing    observability.TracingConfig `mapstructure:"tracing"`
	Location   LocationConfig              `mapstructure:"location"`
	NATS       publish.NATSConfig          `mapstructure:"nats"`
	Simulation SimulationConfig            `mapstructure:"simulation"`
}

// LogConfig mirrors logging.Config for file-driven setup.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// Logging converts the section into a logging.Config.
func (c LogConfig) Logging() logging.Config {
	return logging.Config{
		Level:      c.Level,
		Format:     c.Format,
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxAgeDays: c.MaxAgeDays,
		MaxBackups: c.MaxBackups,
		AddSource:  c.Level == "debug",
	}
}

// LocationConfig holds the coordinator tunables.
type LocationConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	MaxPollInterval time.Duration `mapstructure:"max_poll_interval"`
}

// Core converts the section into a core.Config with defaults applied.
func (c LocationConfig) Core() core.Config {
	return core.Config{
		Timeout:         c.Timeout,
		PollInterval:    c.PollInterval,
		MaxPollInterval: c.MaxPollInterval,
	}.ApplyDefaults()
}

// SimulationConfig configures the simulated positioning back ends.
type SimulationConfig struct {
	Site  model.GeoPoint `mapstructure:"site"`
	GNSS  GNSSConfig     `mapstructure:"gnss"`
	Cloud CloudConfig    `mapstructure:"cloud"`
}

// GNSSConfig configures the simulated receiver and its constellation.
type GNSSConfig struct {
	TLEs             []gnss.TLE `mapstructure:"tles"`
	MinElevationDeg  float64    `mapstructure:"min_elevation_deg"`
	RequiredSVs      int        `mapstructure:"required_svs"`
	AcquisitionSteps int        `mapstructure:"acquisition_steps"`
}

// CloudConfig configures the simulated cloud services.
type CloudConfig struct {
	StepsPerPhase int               `mapstructure:"steps_per_phase"`
	Tokens        map[string]string `mapstructure:"tokens"`
}

// Receiver returns the gnss.Config for the simulated receiver.
func (c SimulationConfig) Receiver() gnss.Config {
	return gnss.Config{
		Site:             c.Site,
		MinElevationDeg:  c.GNSS.MinElevationDeg,
		RequiredSVs:      c.GNSS.RequiredSVs,
		AcquisitionSteps: c.GNSS.AcquisitionSteps,
	}.ApplyDefaults()
}

// Service returns the cloud.Config for the simulated services.
func (c SimulationConfig) Service() cloud.Config {
	return cloud.Config{
		Site:          c.Site,
		StepsPerPhase: c.Cloud.StepsPerPhase,
		Tokens:        c.Cloud.Tokens,
	}.ApplyDefaults()
}

// ApplyDefaults applies default values to config fields that are zero or invalid.
func (c Config) ApplyDefaults() Config {
	if c.GRPCAddr == "" {
		c.GRPCAddr = ":50061"
	}
	if c.ModulesFile == "" {
		c.ModulesFile = "configs/modules.yaml"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	c.Tracing = c.Tracing.ApplyDefaults()
	c.NATS = c.NATS.ApplyDefaults()
	return c
}

// Validate reports every invalid setting.
func (c Config) Validate() error {
	var errs []error
	if c.GRPCAddr == "" {
		errs = append(errs, errors.New("grpc_addr is required"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format: unknown format %q", c.Log.Format))
	}
	if c.Location.Timeout < 0 || c.Location.PollInterval < 0 || c.Location.MaxPollInterval < 0 {
		errs = append(errs, errors.New("location: durations must not be negative"))
	}
	if lat := c.Simulation.Site.LatitudeDeg; lat < -90 || lat > 90 {
		errs = append(errs, fmt.Errorf("simulation.site.latitude_deg %v out of range", lat))
	}
	if lon := c.Simulation.Site.LongitudeDeg; lon < -180 || lon > 180 {
		errs = append(errs, fmt.Errorf("simulation.site.longitude_deg %v out of range", lon))
	}
	if err := c.Simulation.Service().Validate(); err != nil {
		errs = append(errs, fmt.Errorf("simulation.cloud: %w", err))
	}
	return errors.Join(errs...)
}

// defaults seeds every key so that AutomaticEnv can override keys absent
// from the file.
var defaults = map[string]any{
	"grpc_addr":                         ":50061",
	"metrics_addr":                      ":9090",
	"modules_file":                      "configs/modules.yaml",
	"log.level":                         "info",
	"log.format":                        "text",
	"log.file":                          "",
	"log.max_size_mb":                   100,
	"log.max_age_days":                  28,
	"log.max_backups":                   3,
	"tracing.enabled":                   false,
	"tracing.service_name":              "locationd",
	"tracing.exporter":                  "stdout",
	"tracing.endpoint":                  "",
	"tracing.sample_ratio":              1.0,
	"location.timeout":                  core.DefaultTimeout,
	"location.poll_interval":            core.DefaultPollInterval,
	"location.max_poll_interval":        core.DefaultMaxPollInterval,
	"nats.enabled":                      false,
	"nats.url":                          "",
	"nats.subject_prefix":               publish.DefaultSubjectPrefix,
	"simulation.site.latitude_deg":      0.0,
	"simulation.site.longitude_deg":     0.0,
	"simulation.site.altitude_m":        0.0,
	"simulation.gnss.min_elevation_deg": 10.0,
	"simulation.gnss.required_svs":      4,
	"simulation.gnss.acquisition_steps": 3,
	"simulation.cloud.steps_per_phase":  1,
}

// Load reads path (optional) and LOCATIOND_* overrides, applies defaults
// and validates the result.
func Load(path string) (Config, error) {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg = cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
