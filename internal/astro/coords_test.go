package astro

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHMS(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		v, err := ParseHMS("05:34:31.94")
		require.NoError(t, err)
		assert.InDelta(t, 5.57554, v, 1e-4)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := ParseHMS("24:00:01")
		assert.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := ParseHMS("five hours")
		assert.Error(t, err)
	})
}

func TestParseDMS(t *testing.T) {
	t.Run("negative declination", func(t *testing.T) {
		v, err := ParseDMS("-05:27:10")
		require.NoError(t, err)
		assert.InDelta(t, -5.45278, v, 1e-4)
	})

	t.Run("beyond pole", func(t *testing.T) {
		_, err := ParseDMS("+91:00:00")
		assert.Error(t, err)
	})
}

func TestFormatRoundTrip(t *testing.T) {
	cases := []float64{0, 5.57554, 12.5, 23.9999}
	for _, hours := range cases {
		parsed, err := ParseHMS(FormatHMS(hours))
		require.NoError(t, err)
		assert.InDelta(t, hours, parsed, 1e-2)
	}

	degCases := []float64{-89.5, -5.45278, 0, 41.2692}
	for _, deg := range degCases {
		parsed, err := ParseDMS(FormatDMS(deg))
		require.NoError(t, err)
		assert.InDelta(t, deg, parsed, 1e-2)
	}
}

func TestPrecession(t *testing.T) {
	// M42 in J2000. Precession over a quarter century moves it by a few
	// arcminutes, far more than the round-trip error.
	j2000 := Coordinates{RA: 5.58814, Dec: -5.39111}
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	jnow := PrecessJ2000ToJNow(j2000, now)
	assert.NotEqual(t, j2000, jnow)
	assert.Greater(t, AngularSeparation(j2000, jnow)*3600, 10.0)

	back := PrecessJNowToJ2000(jnow, now)
	assert.InDelta(t, j2000.RA, back.RA, 1e-3)
	assert.InDelta(t, j2000.Dec, back.Dec, 1e-2)
}

func TestAngularSeparation(t *testing.T) {
	a := Coordinates{RA: 0, Dec: 0}
	b := Coordinates{RA: 0, Dec: 1}
	assert.InDelta(t, 1.0, AngularSeparation(a, b), 1e-6)
	assert.InDelta(t, 0.0, AngularSeparation(a, a), 1e-9)
}

func TestFormatSecondsRollover(t *testing.T) {
	// 59.96 seconds rounds up at one decimal place; the carry must reach
	// the degree field instead of printing "60.0".
	deg := (59*60 + 59.96) / 3600
	assert.Equal(t, "+01:00:00.0", FormatDMS(deg))

	// Just under the two-decimal rounding threshold stays put.
	hours := (59*60 + 59.9949) / 3600
	assert.Equal(t, "00:59:59.99", FormatHMS(hours))
}
