package manager

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// recordingGuider logs every adapter call by name.
type recordingGuider struct {
	calls []string
	state device.GuiderState
}

func (g *recordingGuider) record(name string) {
	g.calls = append(g.calls, name)
}

func (g *recordingGuider) Connect(ctx context.Context, params device.ConnectParams) error {
	g.record("connect")
	g.state.Connected = true
	return nil
}

func (g *recordingGuider) Disconnect(ctx context.Context) error {
	g.record("disconnect")
	g.state.Connected = false
	return nil
}

func (g *recordingGuider) State() device.GuiderState { return g.state }

func (g *recordingGuider) StartGuiding(ctx context.Context, settle device.SettleParams, recalibrate bool) error {
	g.record("guide")
	return nil
}

func (g *recordingGuider) StopGuiding(ctx context.Context) error {
	g.record("stop")
	return nil
}

func (g *recordingGuider) StartCalibration(ctx context.Context) error {
	g.record("calibrate")
	return nil
}

func (g *recordingGuider) StopCalibration(ctx context.Context) error {
	g.record("stop_calibration")
	return nil
}

func (g *recordingGuider) Dither(ctx context.Context, pixels float64, raOnly bool, settle device.SettleParams) error {
	g.record("dither")
	return nil
}

func (g *recordingGuider) SetExposure(ctx context.Context, ms int) error {
	g.record("set_exposure")
	return nil
}

func (g *recordingGuider) SetDecGuideMode(ctx context.Context, mode string) error {
	g.record("set_dec_guide_mode")
	return nil
}

func (g *recordingGuider) SetLockPosition(ctx context.Context, x, y float64) error {
	g.record("set_lock_position")
	return nil
}

func (g *recordingGuider) SetPaused(ctx context.Context, paused, full bool) error {
	g.record("set_paused")
	return nil
}

func (g *recordingGuider) SetProfile(ctx context.Context, id int) error {
	g.record("set_profile")
	return nil
}

func (g *recordingGuider) UseSubframes(ctx context.Context) (bool, error) {
	g.record("get_use_subframes")
	return true, nil
}

func newTestGuider(t *testing.T) (*Guider, *recordingGuider) {
	t.Helper()
	fake := &recordingGuider{}
	cfg := Config{PollInterval: 100 * time.Millisecond, Timeout: 5 * time.Second}
	m := NewGuider("test-guider", cfg, fake, zap.NewNop())
	return m, fake
}

func TestGuiderRequiresConnection(t *testing.T) {
	m, fake := newTestGuider(t)
	ctx := context.Background()

	assert.True(t, errs.IsKind(m.StartGuiding(ctx, StartGuidingParams{}), errs.NotConnected))
	assert.True(t, errs.IsKind(m.SetExposure(ctx, 1000), errs.NotConnected))
	_, err := m.GuiderState()
	assert.True(t, errs.IsKind(err, errs.NotConnected))
	assert.Empty(t, fake.calls)
}

func TestGuiderOperations(t *testing.T) {
	m, fake := newTestGuider(t)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, device.ConnectParams{}))
	assert.Equal(t, device.Ready, m.State())

	require.NoError(t, m.StartGuiding(ctx, StartGuidingParams{Recalibrate: true}))
	require.NoError(t, m.StartDither(ctx, DitherParams{Pixels: 3}))
	require.NoError(t, m.AbortGuiding(ctx))
	require.NoError(t, m.SetExposure(ctx, 1500))
	require.NoError(t, m.SetPaused(ctx, true, false))

	state, err := m.GuiderState()
	require.NoError(t, err)
	assert.True(t, state.Connected)

	sub, err := m.UseSubframes(ctx)
	require.NoError(t, err)
	assert.True(t, sub)

	assert.Equal(t, []string{"connect", "guide", "dither", "stop", "set_exposure", "set_paused", "get_use_subframes"}, fake.calls)

	require.NoError(t, m.Disconnect(ctx))
	assert.Equal(t, device.Disconnected, m.State())
	assert.True(t, errs.IsKind(m.StartGuiding(ctx, StartGuidingParams{}), errs.NotConnected))
}
