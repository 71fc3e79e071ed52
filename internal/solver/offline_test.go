package solver

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputRingBounded(t *testing.T) {
	ring := newOutputRing(3)
	for i := 0; i < 10; i++ {
		ring.add(fmt.Sprintf("line %d", i))
	}
	assert.Equal(t, []string{"line 7", "line 8", "line 9"}, ring.snapshot())
}

func TestSolveFieldOutputParsing(t *testing.T) {
	t.Run("field center", func(t *testing.T) {
		m := fieldCenterRe.FindStringSubmatch("Field center: (RA,Dec) = (83.822083, -5.391111) deg.")
		require.NotNil(t, m)
		assert.Equal(t, "83.822083", m[1])
		assert.Equal(t, "-5.391111", m[2])
	})

	t.Run("rotation", func(t *testing.T) {
		m := rotationRe.FindStringSubmatch("Field rotation angle: up is 178.36 degrees E of N")
		require.NotNil(t, m)
		assert.Equal(t, "178.36", m[1])
	})

	t.Run("pixel scale", func(t *testing.T) {
		m := pixelScaleRe.FindStringSubmatch("Field 1: solved with index index-4107.fits, pixel scale 1.65 arcsec/pix.")
		require.NotNil(t, m)
		assert.Equal(t, "1.65", m[1])
	})

	t.Run("unrelated output", func(t *testing.T) {
		assert.Nil(t, fieldCenterRe.FindStringSubmatch("Reading input file 1 of 1"))
	})
}

func TestWCSPath(t *testing.T) {
	assert.Equal(t, "/tmp/frame.wcs", wcsPath("/tmp/frame.fits"))
	assert.Equal(t, "/tmp/no_ext.wcs", wcsPath("/tmp/no_ext"))
	assert.Equal(t, "/a.b/frame.wcs", wcsPath("/a.b/frame.png"))
}

func TestTail(t *testing.T) {
	lines := []string{"a", "b", "c"}
	assert.Equal(t, []string{"b", "c"}, tail(lines, 2))
	assert.Equal(t, lines, tail(lines, 5))
}
