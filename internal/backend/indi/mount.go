package indi

import (
	"context"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/astro"
	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Mount adapts one INDI telescope driver onto the device.Mount contract.
type Mount struct {
	props  *Props
	name   string
	logger *zap.Logger
	caps   device.Capabilities
}

// NewMount creates an unconnected INDI mount adapter.
func NewMount(logger *zap.Logger) *Mount {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mount{logger: logger.With(zap.String("component", "indi_mount"))}
}

// Connect switches the named driver on and probes which property vectors
// it exposes. A vector's presence marks the capability.
func (m *Mount) Connect(ctx context.Context, params device.ConnectParams) (*device.MountDescription, error) {
	if params.Name == "" {
		return nil, errs.New(errs.InvalidArgument, "device name is required for the indi backend")
	}
	m.props = NewProps(params.Host, params.Port, m.logger)
	m.name = params.Name

	if err := m.props.Connect(ctx, m.name, connectTimeout); err != nil {
		return nil, err
	}

	caps := device.Capabilities{
		device.CanSlew: true,
		device.CanSync: true,
	}
	vectors := map[string]string{
		device.CanTrack:       "TELESCOPE_TRACK_STATE",
		device.CanPark:        "TELESCOPE_PARK",
		device.CanFindHome:    "TELESCOPE_HOME",
		device.CanSetParkPos:  "TELESCOPE_PARK_OPTION",
		device.CanPulseGuide:  "TELESCOPE_TIMED_GUIDE_NS",
		device.CanSetTrackRat: "TELESCOPE_TRACK_RATE",
	}
	for capName, vector := range vectors {
		_, err := m.props.State(ctx, m.name, vector)
		caps[capName] = err == nil
	}
	caps[device.CanUnpark] = caps.Has(device.CanPark)
	caps[device.CanSetHomePos] = caps.Has(device.CanFindHome)
	m.caps = caps

	props := device.MountProperties{
		PointingPrecision: 1.0 / 60.0,
	}
	if info, err := m.props.Get(ctx, m.name, "DRIVER_INFO", "DRIVER_NAME"); err == nil {
		props.Description = info
	}
	if version, err := m.props.Get(ctx, m.name, "DRIVER_INFO", "DRIVER_VERSION"); err == nil {
		props.Firmware = version
	}

	m.logger.Info("mount connected", zap.String("device", m.name))
	return &device.MountDescription{Capabilities: caps, Properties: props}, nil
}

// Disconnect switches the driver off.
func (m *Mount) Disconnect(ctx context.Context) error {
	if m.props == nil {
		return nil
	}
	return m.props.Disconnect(ctx, m.name)
}

// Status reads the dynamic mount snapshot. A busy coordinate vector means
// the mount is slewing.
func (m *Mount) Status(ctx context.Context) (*device.MountStatus, error) {
	status := &device.MountStatus{}
	var err error
	if status.Coordinates.RA, err = m.props.GetNumber(ctx, m.name, "EQUATORIAL_EOD_COORD", "RA"); err != nil {
		return nil, err
	}
	if status.Coordinates.Dec, err = m.props.GetNumber(ctx, m.name, "EQUATORIAL_EOD_COORD", "DEC"); err != nil {
		return nil, err
	}
	state, err := m.props.State(ctx, m.name, "EQUATORIAL_EOD_COORD")
	if err != nil {
		return nil, err
	}
	status.Slewing = state == "Busy"

	if m.caps.Has(device.CanTrack) {
		if on, err := m.props.GetSwitch(ctx, m.name, "TELESCOPE_TRACK_STATE", "TRACK_ON"); err == nil {
			status.Tracking = on
		}
	}
	if m.caps.Has(device.CanPark) {
		if parked, err := m.props.GetSwitch(ctx, m.name, "TELESCOPE_PARK", "PARK"); err == nil {
			status.AtPark = parked
		}
	}
	return status, nil
}

// SlewTo starts a slew to JNow coordinates. TRACK mode on the coordinate
// set vector keeps the mount tracking after arrival.
func (m *Mount) SlewTo(ctx context.Context, coords astro.Coordinates) error {
	if err := m.props.SetSwitch(ctx, m.name, "ON_COORD_SET", "TRACK"); err != nil {
		return err
	}
	if err := m.props.SetNumber(ctx, m.name, "EQUATORIAL_EOD_COORD", "RA", coords.RA); err != nil {
		return err
	}
	return m.props.SetNumber(ctx, m.name, "EQUATORIAL_EOD_COORD", "DEC", coords.Dec)
}

// AbortSlew halts all motion.
func (m *Mount) AbortSlew(ctx context.Context) error {
	return m.props.SetSwitch(ctx, m.name, "TELESCOPE_ABORT_MOTION", "ABORT")
}

// SetTracking switches tracking on or off with the requested mode.
func (m *Mount) SetTracking(ctx context.Context, on bool, mode device.TrackingMode, rate float64) error {
	if on && mode != "" {
		element, err := trackModeElement(mode)
		if err != nil {
			return err
		}
		if err := m.props.SetSwitch(ctx, m.name, "TELESCOPE_TRACK_MODE", element); err != nil &&
			!errs.IsKind(err, errs.Unsupported) {
			return err
		}
		if mode == device.TrackCustom && rate != 0 && m.caps.Has(device.CanSetTrackRat) {
			if err := m.props.SetNumber(ctx, m.name, "TELESCOPE_TRACK_RATE", "TRACK_RATE_RA", rate); err != nil {
				return err
			}
		}
	}
	element := "TRACK_ON"
	if !on {
		element = "TRACK_OFF"
	}
	return m.props.SetSwitch(ctx, m.name, "TELESCOPE_TRACK_STATE", element)
}

func trackModeElement(mode device.TrackingMode) (string, error) {
	switch mode {
	case device.TrackSidereal:
		return "TRACK_SIDEREAL", nil
	case device.TrackLunar:
		return "TRACK_LUNAR", nil
	case device.TrackSolar:
		return "TRACK_SOLAR", nil
	case device.TrackCustom:
		return "TRACK_CUSTOM", nil
	}
	return "", errs.New(errs.InvalidArgument, "unknown tracking mode %q", mode)
}

// Park drives the mount to its park position.
func (m *Mount) Park(ctx context.Context) error {
	return m.props.SetSwitch(ctx, m.name, "TELESCOPE_PARK", "PARK")
}

// Unpark releases the mount from its park position.
func (m *Mount) Unpark(ctx context.Context) error {
	return m.props.SetSwitch(ctx, m.name, "TELESCOPE_PARK", "UNPARK")
}

// FindHome starts the homing run.
func (m *Mount) FindHome(ctx context.Context) error {
	return m.props.SetSwitch(ctx, m.name, "TELESCOPE_HOME", "GO")
}

// SetParkPosition records the current position as the park position.
func (m *Mount) SetParkPosition(ctx context.Context) error {
	return m.props.SetSwitch(ctx, m.name, "TELESCOPE_PARK_OPTION", "PARK_CURRENT")
}

// Sync aligns the mount model to the given JNow coordinates.
func (m *Mount) Sync(ctx context.Context, coords astro.Coordinates) error {
	if err := m.props.SetSwitch(ctx, m.name, "ON_COORD_SET", "SYNC"); err != nil {
		return err
	}
	if err := m.props.SetNumber(ctx, m.name, "EQUATORIAL_EOD_COORD", "RA", coords.RA); err != nil {
		return err
	}
	if err := m.props.SetNumber(ctx, m.name, "EQUATORIAL_EOD_COORD", "DEC", coords.Dec); err != nil {
		return err
	}
	// Restore slew semantics for the next coordinate write.
	return m.props.SetSwitch(ctx, m.name, "ON_COORD_SET", "TRACK")
}

// PulseGuide issues a timed guide correction in milliseconds.
func (m *Mount) PulseGuide(ctx context.Context, direction device.GuideDirection, durationMs int) error {
	type target struct {
		vector  string
		element string
	}
	targets := map[device.GuideDirection]target{
		device.GuideNorth: {"TELESCOPE_TIMED_GUIDE_NS", "TIMED_GUIDE_N"},
		device.GuideSouth: {"TELESCOPE_TIMED_GUIDE_NS", "TIMED_GUIDE_S"},
		device.GuideEast:  {"TELESCOPE_TIMED_GUIDE_WE", "TIMED_GUIDE_E"},
		device.GuideWest:  {"TELESCOPE_TIMED_GUIDE_WE", "TIMED_GUIDE_W"},
	}
	t, ok := targets[direction]
	if !ok {
		return errs.New(errs.InvalidArgument, "unknown guide direction %q", direction)
	}
	return m.props.SetNumber(ctx, m.name, t.vector, t.element, float64(durationMs))
}

var _ device.Mount = (*Mount)(nil)
