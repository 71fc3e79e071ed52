package indi

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// scriptedCamera returns a camera whose property tools answer from the
// given spec-to-value table. Specs absent from the table read as missing
// properties; writes always succeed.
func scriptedCamera(values map[string]string) *Camera {
	cam := NewCamera(zap.NewNop())
	cam.newProps = func(host string, port int, logger *zap.Logger) *Props {
		p := NewProps(host, port, logger)
		p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
			if name == "indi_setprop" {
				return nil, nil
			}
			spec := args[len(args)-1]
			if v, ok := values[spec]; ok {
				return []byte(v + "\n"), nil
			}
			return nil, errors.New("no such property")
		}
		return p
	}
	return cam
}

func TestCameraConnectDiscoversProperties(t *testing.T) {
	cam := scriptedCamera(map[string]string{
		"CCD Simulator.CONNECTION.CONNECT":        "On",
		"CCD Simulator.CCD_INFO.CCD_MAX_X":        "1024",
		"CCD Simulator.CCD_INFO.CCD_MAX_Y":        "768",
		"CCD Simulator.CCD_INFO.CCD_PIXEL_SIZE_X": "3.8",
		"CCD Simulator.CCD_INFO.CCD_PIXEL_SIZE_Y": "3.8",
		"CCD Simulator.CCD_INFO.CCD_BITSPERPIXEL": "16",
		"CCD Simulator.CCD_BINNING.HOR_BIN":       "1",
		"CCD Simulator.CCD_GAIN.GAIN":             "240",
	})

	desc, err := cam.Connect(context.Background(), device.ConnectParams{Name: "CCD Simulator"})
	require.NoError(t, err)

	assert.Equal(t, 1024, desc.Properties.MaxWidth)
	assert.Equal(t, 768, desc.Properties.MaxHeight)
	assert.Equal(t, 16, desc.Properties.BitDepth)

	// Gain was advertised, offset was not.
	assert.True(t, desc.Capabilities[device.CanSetGain])
	assert.Equal(t, 240, desc.Properties.MaxGain)
	assert.False(t, desc.Capabilities[device.CanSetOffset])

	assert.True(t, desc.Capabilities[device.CanBin])
	assert.False(t, desc.Capabilities[device.CanCool])
}

func TestCameraConnectRequiresName(t *testing.T) {
	cam := scriptedCamera(nil)
	_, err := cam.Connect(context.Background(), device.ConnectParams{})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}
