package indi

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/errs"
)

// scriptRunner replays canned command output instead of shelling out.
type scriptRunner struct {
	calls []scriptCall
	reply func(name string, args []string) ([]byte, error)
}

type scriptCall struct {
	name string
	args []string
}

func (r *scriptRunner) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	r.calls = append(r.calls, scriptCall{name: name, args: args})
	return r.reply(name, args)
}

func newScriptedProps(reply func(name string, args []string) ([]byte, error)) (*Props, *scriptRunner) {
	r := &scriptRunner{reply: reply}
	p := NewProps("127.0.0.1", 7624, nil)
	p.run = r.run
	return p, r
}

func TestPropsGet(t *testing.T) {
	t.Run("bare value", func(t *testing.T) {
		p, r := newScriptedProps(func(name string, args []string) ([]byte, error) {
			return []byte("1.5\n"), nil
		})
		v, err := p.Get(context.Background(), "CCD Simulator", "CCD_EXPOSURE", "CCD_EXPOSURE_VALUE")
		require.NoError(t, err)
		assert.Equal(t, "1.5", v)

		require.Len(t, r.calls, 1)
		assert.Equal(t, "indi_getprop", r.calls[0].name)
		assert.Contains(t, r.calls[0].args, "-1")
		assert.Contains(t, r.calls[0].args, "CCD Simulator.CCD_EXPOSURE.CCD_EXPOSURE_VALUE")
	})

	t.Run("name=value form", func(t *testing.T) {
		p, _ := newScriptedProps(func(name string, args []string) ([]byte, error) {
			return []byte("CCD Simulator.CCD_EXPOSURE.CCD_EXPOSURE_VALUE=2.25\n"), nil
		})
		v, err := p.Get(context.Background(), "CCD Simulator", "CCD_EXPOSURE", "CCD_EXPOSURE_VALUE")
		require.NoError(t, err)
		assert.Equal(t, "2.25", v)
	})

	t.Run("tool failure", func(t *testing.T) {
		p, _ := newScriptedProps(func(name string, args []string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		})
		_, err := p.Get(context.Background(), "CCD", "CCD_EXPOSURE", "VALUE")
		assert.True(t, errs.IsKind(err, errs.DriverError))
	})
}

func TestPropsGetNumber(t *testing.T) {
	p, _ := newScriptedProps(func(name string, args []string) ([]byte, error) {
		return []byte("-12.5\n"), nil
	})
	v, err := p.GetNumber(context.Background(), "CCD", "CCD_TEMPERATURE", "CCD_TEMPERATURE_VALUE")
	require.NoError(t, err)
	assert.Equal(t, -12.5, v)

	p, _ = newScriptedProps(func(name string, args []string) ([]byte, error) {
		return []byte("garbage\n"), nil
	})
	_, err = p.GetNumber(context.Background(), "CCD", "CCD_TEMPERATURE", "CCD_TEMPERATURE_VALUE")
	assert.True(t, errs.IsKind(err, errs.ProtocolError))
}

func TestPropsSet(t *testing.T) {
	p, r := newScriptedProps(func(name string, args []string) ([]byte, error) {
		return nil, nil
	})
	require.NoError(t, p.SetNumber(context.Background(), "CCD", "CCD_EXPOSURE", "CCD_EXPOSURE_VALUE", 2.5))

	require.Len(t, r.calls, 1)
	assert.Equal(t, "indi_setprop", r.calls[0].name)
	assert.Contains(t, r.calls[0].args, "CCD.CCD_EXPOSURE.CCD_EXPOSURE_VALUE=2.5")
}

func TestPropsWaitState(t *testing.T) {
	t.Run("busy then ok", func(t *testing.T) {
		states := []string{"Busy", "Busy", "Ok"}
		i := 0
		p, _ := newScriptedProps(func(name string, args []string) ([]byte, error) {
			s := states[i]
			if i < len(states)-1 {
				i++
			}
			return []byte(s + "\n"), nil
		})
		err := p.WaitState(context.Background(), "Mount", "EQUATORIAL_EOD_COORD", 5*time.Second)
		assert.NoError(t, err)
	})

	t.Run("alert", func(t *testing.T) {
		p, _ := newScriptedProps(func(name string, args []string) ([]byte, error) {
			return []byte("Alert\n"), nil
		})
		err := p.WaitState(context.Background(), "Mount", "EQUATORIAL_EOD_COORD", time.Second)
		assert.True(t, errs.IsKind(err, errs.DriverError))
	})

	t.Run("timeout", func(t *testing.T) {
		p, _ := newScriptedProps(func(name string, args []string) ([]byte, error) {
			return []byte("Busy\n"), nil
		})
		err := p.WaitState(context.Background(), "Mount", "EQUATORIAL_EOD_COORD", 0)
		assert.True(t, errs.IsKind(err, errs.Timeout))
	})
}

func TestPropsListDevices(t *testing.T) {
	out := strings.Join([]string{
		"CCD Simulator.CONNECTION.CONNECT=On",
		"Telescope Simulator.CONNECTION.CONNECT=Off",
		"",
	}, "\n")
	p, _ := newScriptedProps(func(name string, args []string) ([]byte, error) {
		return []byte(out), nil
	})

	devices, err := p.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, DeviceEntry{Name: "CCD Simulator", Connected: true}, devices[0])
	assert.Equal(t, DeviceEntry{Name: "Telescope Simulator", Connected: false}, devices[1])
}

func TestPropsAutoConnect(t *testing.T) {
	var setSpecs []string
	p, _ := newScriptedProps(nil)
	p.run = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name == "indi_getprop" {
			return []byte("CCD.CONNECTION.CONNECT=Off\nMount.CONNECTION.CONNECT=On\n"), nil
		}
		setSpecs = append(setSpecs, args[len(args)-1])
		return nil, nil
	}

	require.NoError(t, p.AutoConnect(context.Background()))
	assert.Equal(t, []string{"CCD.CONNECTION.CONNECT=On"}, setSpecs)
}
