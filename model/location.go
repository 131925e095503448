package model

import (
	"fmt"
	"strings"
)

// Unspecified is the sentinel used throughout Assist and Location for
// "not specified" or "not known".
const Unspecified int32 = -1

// LocationType is the mechanism used to establish a fix.
type LocationType int

const (
	LocationTypeNone LocationType = iota
	LocationTypeGNSS
	LocationTypeCloudCellLocate
	LocationTypeCloudGoogle
	LocationTypeCloudSkyhook
	LocationTypeCloudHere
)

var locationTypeNames = [...]string{
	LocationTypeNone:            "none",
	LocationTypeGNSS:            "gnss",
	LocationTypeCloudCellLocate: "cloud-cell-locate",
	LocationTypeCloudGoogle:     "cloud-google",
	LocationTypeCloudSkyhook:    "cloud-skyhook",
	LocationTypeCloudHere:       "cloud-here",
}

// Valid reports whether t is one of the declared location types.
func (t LocationType) Valid() bool {
	return t >= LocationTypeNone && int(t) < len(locationTypeNames)
}

// IsCloud reports whether t relies on a cloud positioning service and so
// needs an authentication token.
func (t LocationType) IsCloud() bool {
	switch t {
	case LocationTypeCloudCellLocate, LocationTypeCloudGoogle, LocationTypeCloudSkyhook, LocationTypeCloudHere:
		return true
	}
	return false
}

func (t LocationType) String() string {
	if t.Valid() {
		return locationTypeNames[t]
	}
	return fmt.Sprintf("LocationType(%d)", int(t))
}

// ParseLocationType accepts the names produced by String, case-insensitively.
func ParseLocationType(s string) (LocationType, error) {
	want := strings.ToLower(strings.TrimSpace(s))
	for i, name := range locationTypeNames {
		if name == want {
			return LocationType(i), nil
		}
	}
	return LocationTypeNone, fmt.Errorf("unknown location type %q", s)
}

// Assist carries optional hints for one acquisition attempt. Every field
// uses Unspecified (-1) for "none".
type Assist struct {
	// DesiredAccuracyMillimetres may be ignored by the mechanism.
	DesiredAccuracyMillimetres int32
	// DesiredTimeoutSeconds is advisory only; it is NOT a hard timeout.
	DesiredTimeoutSeconds int32
	// AssistModule is a short-range Wifi module whose scan results can
	// improve a Cell Locate fix.
	AssistModule ModuleHandle
}

// DefaultAssist returns the all-unspecified assist value.
func DefaultAssist() Assist {
	return Assist{
		DesiredAccuracyMillimetres: Unspecified,
		DesiredTimeoutSeconds:      Unspecified,
		AssistModule:               NoModule,
	}
}

// Normalize folds every negative value onto the Unspecified sentinel.
func (a Assist) Normalize() Assist {
	if a.DesiredAccuracyMillimetres < 0 {
		a.DesiredAccuracyMillimetres = Unspecified
	}
	if a.DesiredTimeoutSeconds < 0 {
		a.DesiredTimeoutSeconds = Unspecified
	}
	if a.AssistModule < 0 {
		a.AssistModule = NoModule
	}
	return a
}

// Location is a single fix.
type Location struct {
	Type          LocationType
	LatitudeX1e7  int32 // ten-millionths of a degree
	LongitudeX1e7 int32 // ten-millionths of a degree

	AltitudeMillimetres       int32 // Unspecified if unknown
	RadiusMillimetres         int32 // Unspecified if unknown
	SpeedMillimetresPerSecond int32 // Unspecified if unknown
	SpaceVehicles             int32 // Unspecified if unknown or irrelevant

	// TickTimeMs is the tick time at which the fix was made.
	TickTimeMs int32
}

// UnknownLocation returns a Location of type t with every optional field
// set to Unspecified.
func UnknownLocation(t LocationType) Location {
	return Location{
		Type:                      t,
		AltitudeMillimetres:       Unspecified,
		RadiusMillimetres:         Unspecified,
		SpeedMillimetresPerSecond: Unspecified,
		SpaceVehicles:             Unspecified,
	}
}

// LatitudeDegrees converts the fixed-point latitude to degrees.
func (l Location) LatitudeDegrees() float64 { return float64(l.LatitudeX1e7) / 1e7 }

// LongitudeDegrees converts the fixed-point longitude to degrees.
func (l Location) LongitudeDegrees() float64 { return float64(l.LongitudeX1e7) / 1e7 }

// DegreesToX1e7 converts degrees to ten-millionths of a degree, rounding
// to nearest.
func DegreesToX1e7(deg float64) int32 {
	if deg >= 0 {
		return int32(deg*1e7 + 0.5)
	}
	return int32(deg*1e7 - 0.5)
}

func (l Location) String() string {
	return fmt.Sprintf("%s %.7f,%.7f alt=%dmm radius=%dmm svs=%d",
		l.Type, l.LatitudeDegrees(), l.LongitudeDegrees(),
		l.AltitudeMillimetres, l.RadiusMillimetres, l.SpaceVehicles)
}

// GeoPoint is a WGS84 position in degrees and metres above the ellipsoid.
type GeoPoint struct {
	LatitudeDeg  float64 `mapstructure:"latitude_deg" yaml:"latitude_deg"`
	LongitudeDeg float64 `mapstructure:"longitude_deg" yaml:"longitude_deg"`
	AltitudeM    float64 `mapstructure:"altitude_m" yaml:"altitude_m"`
}
