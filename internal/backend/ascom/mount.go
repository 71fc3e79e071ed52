package ascom

import (
	"context"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/astro"
	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Mount adapts one Alpaca telescope device onto the device.Mount contract.
type Mount struct {
	client       *Client
	deviceNumber int
	logger       *zap.Logger
	caps         device.Capabilities
}

// NewMount creates an unconnected Alpaca mount adapter.
func NewMount(logger *zap.Logger) *Mount {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mount{logger: logger.With(zap.String("component", "ascom_mount"))}
}

// Connect brings the mount online and discovers capabilities.
func (m *Mount) Connect(ctx context.Context, params device.ConnectParams) (*device.MountDescription, error) {
	m.client = NewClient(params.Host, params.Port, params.Timeout, m.logger)
	m.deviceNumber = params.DeviceNumber

	if err := m.client.setConnected(ctx, "telescope", m.deviceNumber, true); err != nil {
		return nil, err
	}

	caps := device.Capabilities{}
	flags := map[string]string{
		device.CanSlew:        "canslewasync",
		device.CanTrack:       "cansettracking",
		device.CanPark:        "canpark",
		device.CanUnpark:      "canunpark",
		device.CanFindHome:    "canfindhome",
		device.CanSetParkPos:  "cansetpark",
		device.CanSync:        "cansync",
		device.CanPulseGuide:  "canpulseguide",
		device.CanSetTrackRat: "cansettrackingrates",
	}
	for capName, method := range flags {
		v, err := m.client.boolProp(ctx, "telescope", m.deviceNumber, method)
		if err != nil {
			return nil, err
		}
		caps[capName] = v
	}
	// Home position setting has no dedicated Alpaca flag; mirror findhome.
	caps[device.CanSetHomePos] = caps[device.CanFindHome]
	m.caps = caps

	props := device.MountProperties{
		// One arcminute default pointing tolerance; refined by drivers that
		// report better.
		PointingPrecision: 1.0 / 60.0,
	}
	if desc, err := m.client.description(ctx, "telescope", m.deviceNumber); err == nil {
		props.Description = desc
	}
	if info, err := m.client.driverInfo(ctx, "telescope", m.deviceNumber); err == nil {
		props.Firmware = info
	}

	m.logger.Info("mount connected", zap.String("description", props.Description))
	return &device.MountDescription{Capabilities: caps, Properties: props}, nil
}

// Disconnect releases the mount.
func (m *Mount) Disconnect(ctx context.Context) error {
	if m.client == nil {
		return nil
	}
	return m.client.setConnected(ctx, "telescope", m.deviceNumber, false)
}

// Status reads the dynamic mount snapshot.
func (m *Mount) Status(ctx context.Context) (*device.MountStatus, error) {
	status := &device.MountStatus{}
	if err := m.client.get(ctx, "telescope", m.deviceNumber, "rightascension", &status.Coordinates.RA); err != nil {
		return nil, err
	}
	if err := m.client.get(ctx, "telescope", m.deviceNumber, "declination", &status.Coordinates.Dec); err != nil {
		return nil, err
	}
	if err := m.client.get(ctx, "telescope", m.deviceNumber, "slewing", &status.Slewing); err != nil {
		return nil, err
	}
	if err := m.client.get(ctx, "telescope", m.deviceNumber, "tracking", &status.Tracking); err != nil {
		return nil, err
	}
	atPark, err := m.client.boolProp(ctx, "telescope", m.deviceNumber, "atpark")
	if err != nil {
		return nil, err
	}
	status.AtPark = atPark
	atHome, err := m.client.boolProp(ctx, "telescope", m.deviceNumber, "athome")
	if err != nil {
		return nil, err
	}
	status.AtHome = atHome
	return status, nil
}

// SlewTo starts an asynchronous slew to JNow coordinates.
func (m *Mount) SlewTo(ctx context.Context, coords astro.Coordinates) error {
	return m.client.put(ctx, "telescope", m.deviceNumber, "slewtocoordinatesasync", map[string]interface{}{
		"RightAscension": coords.RA,
		"Declination":    coords.Dec,
	})
}

// AbortSlew halts an in-flight slew.
func (m *Mount) AbortSlew(ctx context.Context) error {
	return m.client.put(ctx, "telescope", m.deviceNumber, "abortslew", map[string]interface{}{})
}

// SetTracking switches tracking on or off with the requested rate.
func (m *Mount) SetTracking(ctx context.Context, on bool, mode device.TrackingMode, rate float64) error {
	if on && mode != "" {
		trackingRate, err := alpacaTrackingRate(mode)
		if err != nil {
			return err
		}
		if m.caps.Has(device.CanSetTrackRat) {
			if err := m.client.put(ctx, "telescope", m.deviceNumber, "trackingrate", map[string]interface{}{
				"TrackingRate": trackingRate,
			}); err != nil && !errs.IsKind(err, errs.Unsupported) {
				return err
			}
		}
		if mode == device.TrackCustom && rate != 0 {
			if err := m.client.put(ctx, "telescope", m.deviceNumber, "rightascensionrate", map[string]interface{}{
				"RightAscensionRate": rate,
			}); err != nil && !errs.IsKind(err, errs.Unsupported) {
				return err
			}
		}
	}
	return m.client.put(ctx, "telescope", m.deviceNumber, "tracking", map[string]interface{}{
		"Tracking": on,
	})
}

// ASCOM DriveRates enum.
func alpacaTrackingRate(mode device.TrackingMode) (int, error) {
	switch mode {
	case device.TrackSidereal, device.TrackCustom:
		return 0, nil
	case device.TrackLunar:
		return 1, nil
	case device.TrackSolar:
		return 2, nil
	}
	return 0, errs.New(errs.InvalidArgument, "unknown tracking mode %q", mode)
}

// Park parks the mount; the manager polls AtPark for completion.
func (m *Mount) Park(ctx context.Context) error {
	return m.client.put(ctx, "telescope", m.deviceNumber, "park", map[string]interface{}{})
}

// Unpark releases the mount from its park position.
func (m *Mount) Unpark(ctx context.Context) error {
	return m.client.put(ctx, "telescope", m.deviceNumber, "unpark", map[string]interface{}{})
}

// FindHome starts the homing run.
func (m *Mount) FindHome(ctx context.Context) error {
	return m.client.put(ctx, "telescope", m.deviceNumber, "findhome", map[string]interface{}{})
}

// SetParkPosition records the current position as the park position.
func (m *Mount) SetParkPosition(ctx context.Context) error {
	return m.client.put(ctx, "telescope", m.deviceNumber, "setpark", map[string]interface{}{})
}

// Sync aligns the mount model to the given JNow coordinates.
func (m *Mount) Sync(ctx context.Context, coords astro.Coordinates) error {
	return m.client.put(ctx, "telescope", m.deviceNumber, "synctocoordinates", map[string]interface{}{
		"RightAscension": coords.RA,
		"Declination":    coords.Dec,
	})
}

// PulseGuide issues a timed guide correction.
func (m *Mount) PulseGuide(ctx context.Context, direction device.GuideDirection, durationMs int) error {
	// ASCOM GuideDirections enum: 0=N 1=S 2=E 3=W.
	dirs := map[device.GuideDirection]int{
		device.GuideNorth: 0,
		device.GuideSouth: 1,
		device.GuideEast:  2,
		device.GuideWest:  3,
	}
	dir, ok := dirs[direction]
	if !ok {
		return errs.New(errs.InvalidArgument, "unknown guide direction %q", direction)
	}
	return m.client.put(ctx, "telescope", m.deviceNumber, "pulseguide", map[string]interface{}{
		"Direction": dir,
		"Duration":  durationMs,
	})
}

var _ device.Mount = (*Mount)(nil)
