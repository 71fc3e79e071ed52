package manager

import (
	"context"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// DitherParams is one dither request.
type DitherParams struct {
	Pixels float64             `json:"pixels"`
	RAOnly bool                `json:"raOnly,omitempty"`
	Settle device.SettleParams `json:"settle,omitempty"`
}

// StartGuidingParams controls the guide call.
type StartGuidingParams struct {
	Settle      device.SettleParams `json:"settle,omitempty"`
	Recalibrate bool                `json:"recalibrate,omitempty"`
}

// Guider owns the external guiding process adapter. Its operations are
// thin request/response calls; long-running guiding lives in the external
// process, which pushes state through asynchronous events instead of a
// local worker.
type Guider struct {
	base
	guider  device.Guider
	connect device.ConnectParams
}

// NewGuider creates a disconnected guider manager around the given
// adapter.
func NewGuider(name string, cfg Config, guider device.Guider, logger *zap.Logger) *Guider {
	identity := device.Identity{
		ID:      string(device.KindGuider) + ":" + name,
		Name:    name,
		Kind:    device.KindGuider,
		Backend: device.BackendPHD2,
	}
	return &Guider{
		base:   newBase(identity, cfg, logger),
		guider: guider,
	}
}

// Connect dials the guider process.
func (m *Guider) Connect(ctx context.Context, params device.ConnectParams) error {
	m.mu.Lock()
	if m.state != device.Disconnected && m.state != device.Errored {
		state := m.state
		m.mu.Unlock()
		return errs.New(errs.Busy, "guider %s is %s, not connectable", m.identity.Name, state)
	}
	m.state = device.Connecting
	m.mu.Unlock()

	if params.Timeout == 0 {
		params.Timeout = m.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	if err := m.guider.Connect(cctx, params); err != nil {
		m.recordError(err)
		m.setState(device.Disconnected)
		return err
	}
	m.mu.Lock()
	m.connect = params
	m.state = device.Ready
	m.lastError = nil
	m.mu.Unlock()
	return nil
}

// Disconnect tears the guider connection down.
func (m *Guider) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	m.state = device.Disconnected
	m.mu.Unlock()
	return m.guider.Disconnect(ctx)
}

// Backend exposes the adapter for binding to a camera manager.
func (m *Guider) Backend() device.Guider {
	return m.guider
}

// State returns the cached guider state snapshot.
func (m *Guider) GuiderState() (device.GuiderState, error) {
	if err := m.requireConnected(); err != nil {
		return device.GuiderState{}, err
	}
	return m.guider.State(), nil
}

func (m *Guider) requireConnected() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == device.Disconnected || m.state == device.Connecting {
		return errs.New(errs.NotConnected, "guider %s is not connected", m.identity.Name)
	}
	return nil
}

// StartGuiding begins guiding, calibrating first when requested.
func (m *Guider) StartGuiding(ctx context.Context, params StartGuidingParams) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.StartGuiding(ctx, params.Settle, params.Recalibrate)
}

// AbortGuiding stops guiding output.
func (m *Guider) AbortGuiding(ctx context.Context) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.StopGuiding(ctx)
}

// StartCalibration forces a fresh calibration run.
func (m *Guider) StartCalibration(ctx context.Context) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.StartCalibration(ctx)
}

// AbortCalibration stops a calibration in progress.
func (m *Guider) AbortCalibration(ctx context.Context) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.StopCalibration(ctx)
}

// StartDither nudges the lock position.
func (m *Guider) StartDither(ctx context.Context, params DitherParams) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.Dither(ctx, params.Pixels, params.RAOnly, params.Settle)
}

// AbortDither stops capture, abandoning the settle phase.
func (m *Guider) AbortDither(ctx context.Context) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.StopGuiding(ctx)
}

// SetExposure sets the guide camera exposure in milliseconds.
func (m *Guider) SetExposure(ctx context.Context, ms int) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.SetExposure(ctx, ms)
}

// SetDecGuideMode sets declination guiding behavior.
func (m *Guider) SetDecGuideMode(ctx context.Context, mode string) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.SetDecGuideMode(ctx, mode)
}

// SetLockPosition moves the lock position.
func (m *Guider) SetLockPosition(ctx context.Context, x, y float64) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.SetLockPosition(ctx, x, y)
}

// SetPaused pauses or resumes guiding.
func (m *Guider) SetPaused(ctx context.Context, paused, full bool) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.SetPaused(ctx, paused, full)
}

// SetProfile switches the active equipment profile.
func (m *Guider) SetProfile(ctx context.Context, id int) error {
	if err := m.requireConnected(); err != nil {
		return err
	}
	return m.guider.SetProfile(ctx, id)
}

// UseSubframes reports whether the guide camera uses subframes.
func (m *Guider) UseSubframes(ctx context.Context) (bool, error) {
	if err := m.requireConnected(); err != nil {
		return false, err
	}
	return m.guider.UseSubframes(ctx)
}
