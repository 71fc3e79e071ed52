package manager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// FocuserBackendFactory builds a focuser backend for the chosen channel.
type FocuserBackendFactory func(backend device.Backend, logger *zap.Logger) (device.Focuser, error)

// Focuser owns one logical focuser. Relative and absolute moves share
// the single-flight worker; only one may be in flight.
type Focuser struct {
	base
	factory FocuserBackendFactory

	foc     device.Focuser
	desc    *device.FocuserDescription
	connect device.ConnectParams
}

// NewFocuser creates a disconnected focuser manager.
func NewFocuser(name string, cfg Config, factory FocuserBackendFactory, logger *zap.Logger) *Focuser {
	identity := device.Identity{ID: string(device.KindFocuser) + ":" + name, Name: name, Kind: device.KindFocuser}
	return &Focuser{
		base:    newBase(identity, cfg, logger),
		factory: factory,
	}
}

// Connect selects the backend and brings the focuser online.
func (m *Focuser) Connect(ctx context.Context, params device.ConnectParams) (*device.FocuserDescription, error) {
	m.mu.Lock()
	if m.state != device.Disconnected && m.state != device.Errored {
		state := m.state
		m.mu.Unlock()
		return nil, errs.New(errs.Busy, "focuser %s is %s, not connectable", m.identity.Name, state)
	}
	m.state = device.Connecting
	m.mu.Unlock()

	foc, err := m.factory(params.Backend, m.logger)
	if err != nil {
		m.setState(device.Disconnected)
		return nil, err
	}
	if params.Timeout == 0 {
		params.Timeout = m.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	desc, err := foc.Connect(cctx, params)
	if err != nil {
		m.recordError(err)
		m.setState(device.Disconnected)
		return nil, err
	}

	m.mu.Lock()
	m.foc = foc
	m.desc = desc
	m.connect = params
	m.identity.Backend = params.Backend
	m.state = device.Ready
	m.lastError = nil
	m.mu.Unlock()
	return desc, nil
}

// Disconnect releases the focuser. Refused while a move is in flight.
func (m *Focuser) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == device.Busy {
		m.mu.Unlock()
		return errs.New(errs.Busy, "focuser %s has a move in flight", m.identity.Name)
	}
	foc := m.foc
	m.foc = nil
	m.desc = nil
	m.state = device.Disconnected
	m.mu.Unlock()
	if foc == nil {
		return nil
	}
	return foc.Disconnect(ctx)
}

// Reconnect is a gated disconnect followed by connect with the prior
// parameters.
func (m *Focuser) Reconnect(ctx context.Context) (*device.FocuserDescription, error) {
	m.mu.Lock()
	params := m.connect
	m.mu.Unlock()
	if err := m.Disconnect(ctx); err != nil {
		return nil, err
	}
	return m.Connect(ctx, params)
}

func (m *Focuser) connectedFocuser() (device.Focuser, *device.FocuserDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.foc == nil || m.desc == nil {
		return nil, nil, errs.New(errs.NotConnected, "focuser %s is not connected", m.identity.Name)
	}
	return m.foc, m.desc, nil
}

// Move starts a signed relative move on the worker.
func (m *Focuser) Move(step int) error {
	foc, desc, err := m.connectedFocuser()
	if err != nil {
		return err
	}
	if step == 0 {
		return errs.New(errs.InvalidArgument, "move step must be nonzero")
	}
	if desc.Properties.MaxIncrement > 0 && abs(step) > desc.Properties.MaxIncrement {
		return errs.New(errs.InvalidArgument, "step %d exceeds max increment %d", step, desc.Properties.MaxIncrement)
	}
	return m.startJob("remoteMove", func(ctx context.Context, j *job) *protocol.Response {
		if err := foc.Move(ctx, step); err != nil {
			return protocol.Err("remoteMove", err)
		}
		return m.waitForStop(ctx, j, foc, "remoteMove")
	})
}

// MoveTo starts an absolute move on the worker.
func (m *Focuser) MoveTo(position int) error {
	foc, desc, err := m.connectedFocuser()
	if err != nil {
		return err
	}
	if !desc.Capabilities.Has(device.CanAbsolute) {
		return errs.New(errs.Unsupported, "focuser %s has no absolute positioning", m.identity.Name)
	}
	if position < 0 || (desc.Properties.MaxStep > 0 && position > desc.Properties.MaxStep) {
		return errs.New(errs.InvalidArgument, "position %d outside [0, %d]", position, desc.Properties.MaxStep)
	}
	return m.startJob("remoteMoveTo", func(ctx context.Context, j *job) *protocol.Response {
		if err := foc.MoveTo(ctx, position); err != nil {
			return protocol.Err("remoteMoveTo", err)
		}
		return m.waitForStop(ctx, j, foc, "remoteMoveTo")
	})
}

// waitForStop polls until the backend reports not moving.
func (m *Focuser) waitForStop(ctx context.Context, j *job, foc device.Focuser, event string) *protocol.Response {
	deadline := time.Now().Add(m.cfg.Timeout)
	for {
		if aborted(ctx, j) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := foc.Halt(stopCtx); err != nil {
				m.logger.Warn("halt failed during abort", zap.Error(err))
			}
			cancel()
			return abortedResponse(event, "move")
		}
		status, err := foc.Status(ctx)
		if err != nil {
			return protocol.Err(event, err)
		}
		if !status.Moving {
			return protocol.OK(event, "move completed", map[string]interface{}{
				"position": status.Position,
			})
		}
		if time.Now().After(deadline) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = foc.Halt(stopCtx)
			cancel()
			return protocol.Err(event, errs.New(errs.Timeout, "focuser still moving after %s", m.cfg.Timeout))
		}
		m.emit(protocol.OK("moveProgress", "moving", map[string]interface{}{
			"position": status.Position,
		}).Progress())
		m.sleepOrAbort(ctx, j, m.cfg.PollInterval)
	}
}

// Abort cancels the in-flight move.
func (m *Focuser) Abort() error {
	return m.abortJob()
}

// GetPosition reads the current position.
func (m *Focuser) GetPosition(ctx context.Context) (int, error) {
	foc, _, err := m.connectedFocuser()
	if err != nil {
		return 0, err
	}
	status, err := foc.Status(ctx)
	if err != nil {
		return 0, err
	}
	return status.Position, nil
}

// GetTemperature reads the probe temperature. Requires canTemperature.
func (m *Focuser) GetTemperature(ctx context.Context) (float64, error) {
	foc, desc, err := m.connectedFocuser()
	if err != nil {
		return 0, err
	}
	if !desc.Capabilities.Has(device.CanTemperature) {
		return 0, errs.New(errs.Unsupported, "focuser %s has no temperature probe", m.identity.Name)
	}
	status, err := foc.Status(ctx)
	if err != nil {
		return 0, err
	}
	return status.Temperature, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// FilterWheelBackendFactory builds a filter wheel backend.
type FilterWheelBackendFactory func(backend device.Backend, logger *zap.Logger) (device.FilterWheel, error)

// FilterWheel owns one logical filter wheel.
type FilterWheel struct {
	base
	factory FilterWheelBackendFactory

	wheel   device.FilterWheel
	desc    *device.FilterWheelDescription
	connect device.ConnectParams
}

// NewFilterWheel creates a disconnected filter wheel manager.
func NewFilterWheel(name string, cfg Config, factory FilterWheelBackendFactory, logger *zap.Logger) *FilterWheel {
	identity := device.Identity{ID: string(device.KindFilterWheel) + ":" + name, Name: name, Kind: device.KindFilterWheel}
	return &FilterWheel{
		base:    newBase(identity, cfg, logger),
		factory: factory,
	}
}

// Connect selects the backend and brings the wheel online.
func (m *FilterWheel) Connect(ctx context.Context, params device.ConnectParams) (*device.FilterWheelDescription, error) {
	m.mu.Lock()
	if m.state != device.Disconnected && m.state != device.Errored {
		state := m.state
		m.mu.Unlock()
		return nil, errs.New(errs.Busy, "filter wheel %s is %s, not connectable", m.identity.Name, state)
	}
	m.state = device.Connecting
	m.mu.Unlock()

	wheel, err := m.factory(params.Backend, m.logger)
	if err != nil {
		m.setState(device.Disconnected)
		return nil, err
	}
	if params.Timeout == 0 {
		params.Timeout = m.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	desc, err := wheel.Connect(cctx, params)
	if err != nil {
		m.recordError(err)
		m.setState(device.Disconnected)
		return nil, err
	}

	m.mu.Lock()
	m.wheel = wheel
	m.desc = desc
	m.connect = params
	m.identity.Backend = params.Backend
	m.state = device.Ready
	m.lastError = nil
	m.mu.Unlock()
	return desc, nil
}

// Disconnect releases the wheel.
func (m *FilterWheel) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == device.Busy {
		m.mu.Unlock()
		return errs.New(errs.Busy, "filter wheel %s is busy", m.identity.Name)
	}
	wheel := m.wheel
	m.wheel = nil
	m.desc = nil
	m.state = device.Disconnected
	m.mu.Unlock()
	if wheel == nil {
		return nil
	}
	return wheel.Disconnect(ctx)
}

// Wheel exposes the connected backend for binding to a camera manager.
func (m *FilterWheel) Wheel() device.FilterWheel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wheel
}

// Bound returns a late-binding view of this wheel. The camera manager
// holds it across wheel reconnects; calls fail with NotConnected while
// the wheel is offline.
func (m *FilterWheel) Bound() device.FilterWheel {
	return boundWheel{m}
}

type boundWheel struct {
	m *FilterWheel
}

func (b boundWheel) Connect(ctx context.Context, params device.ConnectParams) (*device.FilterWheelDescription, error) {
	return nil, errs.New(errs.Unsupported, "bound filter wheel is connected through its own manager")
}

func (b boundWheel) Disconnect(ctx context.Context) error {
	return errs.New(errs.Unsupported, "bound filter wheel is disconnected through its own manager")
}

func (b boundWheel) Position(ctx context.Context) (int, error) {
	wheel := b.m.Wheel()
	if wheel == nil {
		return 0, errs.New(errs.NotConnected, "filter wheel %s is not connected", b.m.identity.Name)
	}
	return wheel.Position(ctx)
}

func (b boundWheel) SetPosition(ctx context.Context, slot int) error {
	wheel := b.m.Wheel()
	if wheel == nil {
		return errs.New(errs.NotConnected, "filter wheel %s is not connected", b.m.identity.Name)
	}
	return wheel.SetPosition(ctx, slot)
}

// Goto rotates to the given slot on the worker.
func (m *FilterWheel) Goto(slot int) error {
	m.mu.Lock()
	wheel := m.wheel
	desc := m.desc
	m.mu.Unlock()
	if wheel == nil || desc == nil {
		return errs.New(errs.NotConnected, "filter wheel %s is not connected", m.identity.Name)
	}
	if slot < 0 || slot >= desc.Properties.SlotCount {
		return errs.New(errs.InvalidArgument, "slot %d outside [0, %d)", slot, desc.Properties.SlotCount)
	}
	return m.startJob("remoteGoto", func(ctx context.Context, j *job) *protocol.Response {
		const event = "remoteGoto"
		if err := wheel.SetPosition(ctx, slot); err != nil {
			return protocol.Err(event, err)
		}
		deadline := time.Now().Add(m.cfg.Timeout)
		for {
			if aborted(ctx, j) {
				return abortedResponse(event, "filter change")
			}
			pos, err := wheel.Position(ctx)
			if err != nil {
				return protocol.Err(event, err)
			}
			if pos == slot {
				return protocol.OK(event, "filter selected", map[string]interface{}{
					"slot": slot,
					"name": desc.Properties.Names[slot],
				})
			}
			if time.Now().After(deadline) {
				return protocol.Err(event, errs.New(errs.Timeout, "wheel did not reach slot %d", slot))
			}
			m.sleepOrAbort(ctx, j, m.cfg.PollInterval)
		}
	})
}

// GetPosition reads the current slot; -1 while the wheel turns.
func (m *FilterWheel) GetPosition(ctx context.Context) (int, error) {
	m.mu.Lock()
	wheel := m.wheel
	m.mu.Unlock()
	if wheel == nil {
		return 0, errs.New(errs.NotConnected, "filter wheel %s is not connected", m.identity.Name)
	}
	return wheel.Position(ctx)
}

// GetPositionOffsets returns the static per-filter focus offset table.
func (m *FilterWheel) GetPositionOffsets() ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.desc == nil {
		return nil, errs.New(errs.NotConnected, "filter wheel %s is not connected", m.identity.Name)
	}
	return m.desc.Properties.FocusOffsets, nil
}
