package gnss

import (
	"fmt"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// TLE is a named two-line element set.
type TLE struct {
	Name  string `mapstructure:"name" yaml:"name"`
	Line1 string `mapstructure:"line1" yaml:"line1"`
	Line2 string `mapstructure:"line2" yaml:"line2"`
}

func (t TLE) validate() error {
	l1 := strings.TrimRight(t.Line1, " \r\n")
	l2 := strings.TrimRight(t.Line2, " \r\n")
	if len(l1) != 69 || !strings.HasPrefix(l1, "1 ") {
		return fmt.Errorf("tle %q: line 1 must be 69 columns starting with \"1 \"", t.Name)
	}
	if len(l2) != 69 || !strings.HasPrefix(l2, "2 ") {
		return fmt.Errorf("tle %q: line 2 must be 69 columns starting with \"2 \"", t.Name)
	}
	if l1[2:7] != l2[2:7] {
		return fmt.Errorf("tle %q: catalogue numbers differ", t.Name)
	}
	return nil
}

// SkyView counts the space vehicles usable from a site at a given time.
type SkyView interface {
	VisibleCount(at time.Time, site Vec3, minElevationDeg float64) int
}

// Constellation propagates a fixed set of satellites with SGP4.
type Constellation struct {
	names []string
	sats  []satellite.Satellite
}

// NewConstellation parses every TLE. It fails on the first malformed set.
func NewConstellation(tles []TLE) (*Constellation, error) {
	c := &Constellation{}
	for _, t := range tles {
		if err := t.validate(); err != nil {
			return nil, err
		}
		c.names = append(c.names, t.Name)
		c.sats = append(c.sats, satellite.TLEToSat(t.Line1, t.Line2, satellite.GravityWGS72))
	}
	return c, nil
}

// Len returns the number of satellites.
func (c *Constellation) Len() int { return len(c.sats) }

// Positions propagates every satellite to t and returns ECEF kilometres,
// in TLE order. go-satellite yields a zero vector for a decayed orbit.
func (c *Constellation) Positions(t time.Time) []Vec3 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()

	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)

	out := make([]Vec3, len(c.sats))
	for i, sat := range c.sats {
		posECI, _ := satellite.Propagate(sat, year, int(month), day, hour, min, sec)
		ecef := satellite.ECIToECEF(posECI, gmst)
		out[i] = Vec3{X: ecef.X, Y: ecef.Y, Z: ecef.Z}
	}
	return out
}

// VisibleCount implements SkyView.
func (c *Constellation) VisibleCount(at time.Time, site Vec3, minElevationDeg float64) int {
	n := 0
	for _, pos := range c.Positions(at) {
		if pos.Norm() < EarthRadiusKm {
			continue
		}
		if ElevationDegrees(site, pos) >= minElevationDeg {
			n++
		}
	}
	return n
}
