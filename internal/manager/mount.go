package manager

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/astro"
	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// GotoParams is one slew request. Coordinates arrive either as
// sexagesimal strings or as decimal hours and degrees.
type GotoParams struct {
	RA          string  `json:"ra,omitempty"`
	Dec         string  `json:"dec,omitempty"`
	RAHours     float64 `json:"raHours,omitempty"`
	DecDegrees  float64 `json:"decDegrees,omitempty"`
	Sexagesimal bool    `json:"sexagesimal"`
	CoordSystem string  `json:"coordSystem,omitempty"`
}

func (p GotoParams) coordinates() (astro.Coordinates, error) {
	if p.Sexagesimal {
		ra, err := astro.ParseHMS(p.RA)
		if err != nil {
			return astro.Coordinates{}, err
		}
		dec, err := astro.ParseDMS(p.Dec)
		if err != nil {
			return astro.Coordinates{}, err
		}
		return astro.Coordinates{RA: ra, Dec: dec}, nil
	}
	if p.RAHours < 0 || p.RAHours >= 24 {
		return astro.Coordinates{}, errs.New(errs.InvalidArgument, "right ascension %g outside [0, 24)", p.RAHours)
	}
	if p.DecDegrees < -90 || p.DecDegrees > 90 {
		return astro.Coordinates{}, errs.New(errs.InvalidArgument, "declination %g outside [-90, 90]", p.DecDegrees)
	}
	return astro.Coordinates{RA: p.RAHours, Dec: p.DecDegrees}, nil
}

// TrackingParams selects a tracking mode.
type TrackingParams struct {
	Mode string  `json:"mode"`
	Rate float64 `json:"rate,omitempty"`
}

// GuidePulseParams is one pulse guide request.
type GuidePulseParams struct {
	Direction  string `json:"direction"`
	DurationMs int    `json:"durationMs"`
}

// MountBackendFactory builds a mount backend for the chosen channel.
type MountBackendFactory func(backend device.Backend, logger *zap.Logger) (device.Mount, error)

// Mount owns one logical mount: connection lifecycle, slews, parking,
// homing, tracking, sync and pulse guiding.
type Mount struct {
	base
	factory MountBackendFactory

	mount   device.Mount
	desc    *device.MountDescription
	connect device.ConnectParams
	homePos *astro.Coordinates
}

// NewMount creates a disconnected mount manager.
func NewMount(name string, cfg Config, factory MountBackendFactory, logger *zap.Logger) *Mount {
	identity := device.Identity{ID: string(device.KindMount) + ":" + name, Name: name, Kind: device.KindMount}
	return &Mount{
		base:    newBase(identity, cfg, logger),
		factory: factory,
	}
}

// Connect selects the backend and brings the mount online.
func (m *Mount) Connect(ctx context.Context, params device.ConnectParams) (*device.MountDescription, error) {
	m.mu.Lock()
	if m.state != device.Disconnected && m.state != device.Errored {
		state := m.state
		m.mu.Unlock()
		return nil, errs.New(errs.Busy, "mount %s is %s, not connectable", m.identity.Name, state)
	}
	m.state = device.Connecting
	m.mu.Unlock()

	mount, err := m.factory(params.Backend, m.logger)
	if err != nil {
		m.setState(device.Disconnected)
		return nil, err
	}
	if params.Timeout == 0 {
		params.Timeout = m.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	desc, err := mount.Connect(cctx, params)
	if err != nil {
		m.recordError(err)
		m.setState(device.Disconnected)
		return nil, err
	}

	m.mu.Lock()
	m.mount = mount
	m.desc = desc
	m.connect = params
	m.identity.Backend = params.Backend
	m.state = device.Ready
	m.lastError = nil
	m.mu.Unlock()
	m.logger.Info("mount connected", zap.String("backend", string(params.Backend)))
	return desc, nil
}

// Disconnect releases the mount. Refused while a job is in flight.
func (m *Mount) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == device.Busy {
		m.mu.Unlock()
		return errs.New(errs.Busy, "mount %s has an operation in flight", m.identity.Name)
	}
	mount := m.mount
	m.mount = nil
	m.desc = nil
	m.state = device.Disconnected
	m.mu.Unlock()
	if mount == nil {
		return nil
	}
	return mount.Disconnect(ctx)
}

// Reconnect is a gated disconnect followed by connect with the prior
// parameters.
func (m *Mount) Reconnect(ctx context.Context) (*device.MountDescription, error) {
	m.mu.Lock()
	params := m.connect
	m.mu.Unlock()
	if err := m.Disconnect(ctx); err != nil {
		return nil, err
	}
	return m.Connect(ctx, params)
}

// Status reads the dynamic snapshot. Valid from Ready, Busy and Error.
func (m *Mount) Status(ctx context.Context) (*device.MountStatus, error) {
	mount, _, err := m.connectedMount()
	if err != nil {
		return nil, err
	}
	return mount.Status(ctx)
}

func (m *Mount) connectedMount() (device.Mount, *device.MountDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mount == nil || m.desc == nil {
		return nil, nil, errs.New(errs.NotConnected, "mount %s is not connected", m.identity.Name)
	}
	return m.mount, m.desc, nil
}

func (m *Mount) requireCapability(name, what string) (device.Mount, error) {
	mount, desc, err := m.connectedMount()
	if err != nil {
		return nil, err
	}
	if !desc.Capabilities.Has(name) {
		return nil, errs.New(errs.Unsupported, "mount %s cannot %s", m.identity.Name, what)
	}
	return mount, nil
}

// Goto slews to the requested coordinates on the worker. J2000 input is
// precessed to JNow before the backend sees it; the prior tracking
// setting is restored after arrival.
func (m *Mount) Goto(params GotoParams) error {
	mount, desc, err := m.connectedMount()
	if err != nil {
		return err
	}
	if !desc.Capabilities.Has(device.CanSlew) || !desc.Capabilities.Has(device.CanTrack) {
		return errs.New(errs.Unsupported, "mount %s cannot slew under tracking", m.identity.Name)
	}
	coords, err := params.coordinates()
	if err != nil {
		return err
	}
	if params.CoordSystem == "" || params.CoordSystem == "J2000" {
		coords = astro.PrecessJ2000ToJNow(coords, time.Now())
	}
	return m.startJob("remoteGoto", func(ctx context.Context, j *job) *protocol.Response {
		return m.runGoto(ctx, j, mount, coords)
	})
}

func (m *Mount) runGoto(ctx context.Context, j *job, mount device.Mount, coords astro.Coordinates) *protocol.Response {
	const event = "remoteGoto"
	before, err := mount.Status(ctx)
	if err != nil {
		return protocol.Err(event, err)
	}
	if before.AtPark {
		return protocol.Err(event, errs.New(errs.InvalidArgument, "mount is parked"))
	}
	wasTracking := before.Tracking

	if err := mount.SetTracking(ctx, true, device.TrackSidereal, 0); err != nil {
		return protocol.Err(event, err)
	}
	if err := mount.SlewTo(ctx, coords); err != nil {
		return protocol.Err(event, err)
	}

	// Slew completion polls at 1 Hz.
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-j.abort:
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := mount.AbortSlew(stopCtx); err != nil {
				m.logger.Warn("abort slew failed", zap.Error(err))
			}
			cancel()
			return abortedResponse(event, "goto")
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = mount.AbortSlew(stopCtx)
			cancel()
			return abortedResponse(event, "goto")
		case <-ticker.C:
		}
		status, err := mount.Status(ctx)
		if err != nil {
			return protocol.Err(event, err)
		}
		if !status.Slewing {
			if !wasTracking {
				if err := mount.SetTracking(ctx, false, "", 0); err != nil {
					m.logger.Warn("restoring tracking failed", zap.Error(err))
				}
			}
			return protocol.OK(event, "slew completed", map[string]interface{}{
				"ra":  astro.FormatHMS(status.Coordinates.RA),
				"dec": astro.FormatDMS(status.Coordinates.Dec),
			})
		}
		m.emit(protocol.OK("gotoProgress", "slewing", map[string]interface{}{
			"ra":  astro.FormatHMS(status.Coordinates.RA),
			"dec": astro.FormatDMS(status.Coordinates.Dec),
		}).Progress())
	}
}

// AbortGoto cancels an in-flight slew.
func (m *Mount) AbortGoto() error {
	return m.abortJob()
}

// Park aborts any slew, stops tracking, then parks on the worker, bounded
// by the device timeout.
func (m *Mount) Park() error {
	mount, err := m.requireCapability(device.CanPark, "park")
	if err != nil {
		return err
	}
	return m.startJob("remotePark", func(ctx context.Context, j *job) *protocol.Response {
		return m.runPark(ctx, j, mount)
	})
}

func (m *Mount) runPark(ctx context.Context, j *job, mount device.Mount) *protocol.Response {
	const event = "remotePark"
	status, err := mount.Status(ctx)
	if err != nil {
		return protocol.Err(event, err)
	}
	if status.Slewing {
		if err := mount.AbortSlew(ctx); err != nil {
			return protocol.Err(event, err)
		}
	}
	if status.Tracking {
		if err := mount.SetTracking(ctx, false, "", 0); err != nil {
			return protocol.Err(event, err)
		}
	}
	if err := mount.Park(ctx); err != nil {
		return protocol.Err(event, err)
	}

	deadline := time.Now().Add(m.cfg.Timeout)
	for {
		if aborted(ctx, j) {
			return abortedResponse(event, "park")
		}
		status, err := mount.Status(ctx)
		if err != nil {
			return protocol.Err(event, err)
		}
		if status.AtPark {
			return protocol.OK(event, "mount parked", nil)
		}
		if time.Now().After(deadline) {
			return protocol.Err(event, errs.New(errs.Timeout, "mount did not park within %s", m.cfg.Timeout))
		}
		m.sleepOrAbort(ctx, j, m.cfg.PollInterval)
	}
}

// Unpark releases the mount synchronously.
func (m *Mount) Unpark(ctx context.Context) error {
	mount, err := m.requireCapability(device.CanUnpark, "unpark")
	if err != nil {
		return err
	}
	if err := m.requireReady(); err != nil {
		return err
	}
	return mount.Unpark(ctx)
}

// Home starts the homing run on the worker. Refused while parked.
func (m *Mount) Home() error {
	mount, err := m.requireCapability(device.CanFindHome, "find home")
	if err != nil {
		return err
	}
	return m.startJob("remoteHome", func(ctx context.Context, j *job) *protocol.Response {
		return m.runHome(ctx, j, mount)
	})
}

func (m *Mount) runHome(ctx context.Context, j *job, mount device.Mount) *protocol.Response {
	const event = "remoteHome"
	status, err := mount.Status(ctx)
	if err != nil {
		return protocol.Err(event, err)
	}
	if status.AtPark {
		return protocol.Err(event, errs.New(errs.InvalidArgument, "mount is parked, unpark it first"))
	}
	if err := mount.FindHome(ctx); err != nil {
		return protocol.Err(event, err)
	}
	deadline := time.Now().Add(m.cfg.Timeout)
	for {
		if aborted(ctx, j) {
			stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = mount.AbortSlew(stopCtx)
			cancel()
			return abortedResponse(event, "homing")
		}
		status, err := mount.Status(ctx)
		if err != nil {
			return protocol.Err(event, err)
		}
		if status.AtHome {
			return protocol.OK(event, "mount homed", nil)
		}
		if time.Now().After(deadline) {
			return protocol.Err(event, errs.New(errs.Timeout, "mount did not home within %s", m.cfg.Timeout))
		}
		m.sleepOrAbort(ctx, j, m.cfg.PollInterval)
	}
}

// Unhome aborts a homing run in progress.
func (m *Mount) Unhome() error {
	if _, err := m.requireCapability(device.CanFindHome, "find home"); err != nil {
		return err
	}
	return m.abortJob()
}

// SetParkPosition records the current position as the park position.
func (m *Mount) SetParkPosition(ctx context.Context) error {
	mount, err := m.requireCapability(device.CanSetParkPos, "set a park position")
	if err != nil {
		return err
	}
	if err := m.requireReady(); err != nil {
		return err
	}
	return mount.SetParkPosition(ctx)
}

// SetHomePosition records the current pointing as the home position.
// Backends expose no native home-set operation, so the record lives in
// the manager.
func (m *Mount) SetHomePosition(ctx context.Context) error {
	mount, err := m.requireCapability(device.CanSetHomePos, "set a home position")
	if err != nil {
		return err
	}
	if err := m.requireReady(); err != nil {
		return err
	}
	status, err := mount.Status(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	coords := status.Coordinates
	m.homePos = &coords
	m.mu.Unlock()
	return nil
}

// SetTracking switches tracking with one of the named modes.
func (m *Mount) SetTracking(ctx context.Context, params TrackingParams) error {
	mount, err := m.requireCapability(device.CanTrack, "track")
	if err != nil {
		return err
	}
	if err := m.requireReady(); err != nil {
		return err
	}
	mode := device.TrackingMode(params.Mode)
	switch mode {
	case device.TrackSidereal, device.TrackLunar, device.TrackSolar, device.TrackCustom:
	default:
		return errs.New(errs.InvalidArgument, "unknown tracking mode %q", params.Mode)
	}
	rate := 0.0
	if mode == device.TrackCustom {
		rate = params.Rate
	}
	return mount.SetTracking(ctx, true, mode, rate)
}

// AbortTracking stops tracking.
func (m *Mount) AbortTracking(ctx context.Context) error {
	mount, err := m.requireCapability(device.CanTrack, "track")
	if err != nil {
		return err
	}
	return mount.SetTracking(ctx, false, "", 0)
}

// Sync aligns the mount model to the given coordinates.
func (m *Mount) Sync(ctx context.Context, params GotoParams) error {
	mount, err := m.requireCapability(device.CanSync, "sync")
	if err != nil {
		return err
	}
	if err := m.requireReady(); err != nil {
		return err
	}
	coords, err := params.coordinates()
	if err != nil {
		return err
	}
	if params.CoordSystem == "" || params.CoordSystem == "J2000" {
		coords = astro.PrecessJ2000ToJNow(coords, time.Now())
	}
	return mount.Sync(ctx, coords)
}

// Guide issues a pulse guide correction.
func (m *Mount) Guide(ctx context.Context, params GuidePulseParams) error {
	mount, err := m.requireCapability(device.CanPulseGuide, "pulse guide")
	if err != nil {
		return err
	}
	if params.DurationMs <= 0 {
		return errs.New(errs.InvalidArgument, "pulse duration must be positive, got %d ms", params.DurationMs)
	}
	directions := map[string]device.GuideDirection{
		"N": device.GuideNorth,
		"S": device.GuideSouth,
		"E": device.GuideEast,
		"W": device.GuideWest,
	}
	dir, ok := directions[params.Direction]
	if !ok {
		return errs.New(errs.InvalidArgument, "unknown guide direction %q", params.Direction)
	}
	return mount.PulseGuide(ctx, dir, params.DurationMs)
}
