// Package astro holds the small amount of astronomy the server performs
// itself: sexagesimal coordinate parsing and formatting, and the precession
// transform between the J2000 and JNow epochs. Everything heavier (plate
// solving, catalog lookups) is delegated to external collaborators.
package astro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/starbridge/observatoryd/internal/errs"
)

// Coordinates is an equatorial position. RA is in hours [0, 24), Dec in
// degrees [-90, 90].
type Coordinates struct {
	RA  float64 `json:"ra"`
	Dec float64 `json:"dec"`
}

// ParseHMS parses an hour-angle string of the form "H:M:S" (seconds may be
// fractional) into decimal hours.
func ParseHMS(s string) (float64, error) {
	v, err := parseSexagesimal(s)
	if err != nil {
		return 0, errs.Wrap(errs.InvalidArgument, err, "invalid hour angle %q", s)
	}
	if v < 0 || v >= 24 {
		return 0, errs.New(errs.InvalidArgument, "hour angle %q out of range [0, 24)", s)
	}
	return v, nil
}

// ParseDMS parses a declination string of the form "±D:M:S" into decimal
// degrees.
func ParseDMS(s string) (float64, error) {
	v, err := parseSexagesimal(s)
	if err != nil {
		return 0, errs.Wrap(errs.InvalidArgument, err, "invalid declination %q", s)
	}
	if v < -90 || v > 90 {
		return 0, errs.New(errs.InvalidArgument, "declination %q out of range [-90, 90]", s)
	}
	return v, nil
}

// FormatHMS renders decimal hours as "HH:MM:SS.SS".
func FormatHMS(hours float64) string {
	h, m, s := split(hours, 100)
	return fmt.Sprintf("%02d:%02d:%05.2f", h, m, s)
}

// FormatDMS renders decimal degrees as "+DD:MM:SS.S".
func FormatDMS(deg float64) string {
	sign := "+"
	if deg < 0 {
		sign = "-"
		deg = -deg
	}
	d, m, s := split(deg, 10)
	return fmt.Sprintf("%s%02d:%02d:%04.1f", sign, d, m, s)
}

// split breaks a decimal value into whole, minute and second parts.
// Seconds are rounded to 1/denom first, matching the caller's print
// precision, so a value just under 60 carries into the minute instead of
// rendering as "60.0".
func split(v float64, denom float64) (int, int, float64) {
	whole := int(v)
	rem := (v - float64(whole)) * 60
	minutes := int(rem)
	seconds := (rem - float64(minutes)) * 60
	seconds = math.Round(seconds*denom) / denom
	if seconds >= 60 {
		seconds -= 60
		minutes++
	}
	if minutes >= 60 {
		minutes -= 60
		whole++
	}
	return whole, minutes, seconds
}

func parseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty string")
	}
	neg := false
	switch s[0] {
	case '+':
		s = s[1:]
	case '-':
		neg = true
		s = s[1:]
	}
	parts := strings.Split(s, ":")
	if len(parts) < 1 || len(parts) > 3 {
		return 0, fmt.Errorf("expected H:M:S form")
	}
	var value, scale float64
	scale = 1
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, fmt.Errorf("bad field %q", p)
		}
		if scale > 1 && (f < 0 || f >= 60) {
			return 0, fmt.Errorf("field %q out of range [0, 60)", p)
		}
		value += f / scale
		scale *= 60
	}
	if neg {
		value = -value
	}
	return value, nil
}

// julianCenturies returns Julian centuries elapsed since J2000.0 at t.
func julianCenturies(t time.Time) float64 {
	const j2000 = 2451545.0
	jd := float64(t.UTC().Unix())/86400.0 + 2440587.5
	return (jd - j2000) / 36525.0
}

// PrecessJ2000ToJNow converts J2000 equatorial coordinates to the equinox
// of date using the rigorous rotation through the IAU 1976 precession
// angles. Accuracy is well inside a mount's pointing tolerance for the
// coming decades.
func PrecessJ2000ToJNow(c Coordinates, now time.Time) Coordinates {
	return precess(c, julianCenturies(now))
}

// PrecessJNowToJ2000 is the inverse transform.
func PrecessJNowToJ2000(c Coordinates, now time.Time) Coordinates {
	return precess(c, -julianCenturies(now))
}

func precess(c Coordinates, t float64) Coordinates {
	const arcsecToRad = math.Pi / (180 * 3600)

	// IAU 1976 precession angles, arcseconds.
	zeta := (2306.2181 + 0.30188*t + 0.017998*t*t) * t * arcsecToRad
	z := (2306.2181 + 1.09468*t + 0.018203*t*t) * t * arcsecToRad
	theta := (2004.3109 - 0.42665*t - 0.041833*t*t) * t * arcsecToRad

	ra := c.RA * 15 * math.Pi / 180
	dec := c.Dec * math.Pi / 180

	a := math.Cos(dec) * math.Sin(ra+zeta)
	b := math.Cos(theta)*math.Cos(dec)*math.Cos(ra+zeta) - math.Sin(theta)*math.Sin(dec)
	cc := math.Sin(theta)*math.Cos(dec)*math.Cos(ra+zeta) + math.Cos(theta)*math.Sin(dec)

	raOut := math.Atan2(a, b) + z
	decOut := math.Asin(cc)

	raHours := raOut * 180 / math.Pi / 15
	raHours = math.Mod(raHours, 24)
	if raHours < 0 {
		raHours += 24
	}
	return Coordinates{RA: raHours, Dec: decOut * 180 / math.Pi}
}

// AngularSeparation returns the great-circle separation between two
// positions in degrees. Used by the slew loop to decide pointing tolerance.
func AngularSeparation(a, b Coordinates) float64 {
	ra1 := a.RA * 15 * math.Pi / 180
	ra2 := b.RA * 15 * math.Pi / 180
	dec1 := a.Dec * math.Pi / 180
	dec2 := b.Dec * math.Pi / 180

	s := math.Sin(dec1)*math.Sin(dec2) + math.Cos(dec1)*math.Cos(dec2)*math.Cos(ra1-ra2)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return math.Acos(s) * 180 / math.Pi
}
