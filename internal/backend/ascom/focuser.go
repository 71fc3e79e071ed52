package ascom

import (
	"context"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Focuser adapts one Alpaca focuser device onto the device.Focuser contract.
type Focuser struct {
	client       *Client
	deviceNumber int
	logger       *zap.Logger
	caps         device.Capabilities
	position     int
}

// NewFocuser creates an unconnected Alpaca focuser adapter.
func NewFocuser(logger *zap.Logger) *Focuser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Focuser{logger: logger.With(zap.String("component", "ascom_focuser"))}
}

// Connect brings the focuser online and discovers capabilities.
func (f *Focuser) Connect(ctx context.Context, params device.ConnectParams) (*device.FocuserDescription, error) {
	f.client = NewClient(params.Host, params.Port, params.Timeout, f.logger)
	f.deviceNumber = params.DeviceNumber

	if err := f.client.setConnected(ctx, "focuser", f.deviceNumber, true); err != nil {
		return nil, err
	}

	caps := device.Capabilities{}
	absolute, err := f.client.boolProp(ctx, "focuser", f.deviceNumber, "absolute")
	if err != nil {
		return nil, err
	}
	caps[device.CanAbsolute] = absolute

	var temp float64
	err = f.client.get(ctx, "focuser", f.deviceNumber, "temperature", &temp)
	switch {
	case err == nil:
		caps[device.CanTemperature] = true
	case errs.IsKind(err, errs.Unsupported):
		caps[device.CanTemperature] = false
	default:
		return nil, err
	}
	f.caps = caps

	props := device.FocuserProperties{}
	if err := f.client.get(ctx, "focuser", f.deviceNumber, "maxstep", &props.MaxStep); err != nil {
		return nil, err
	}
	if err := f.client.get(ctx, "focuser", f.deviceNumber, "maxincrement", &props.MaxIncrement); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return nil, err
		}
		props.MaxIncrement = props.MaxStep
	}
	if err := f.client.get(ctx, "focuser", f.deviceNumber, "stepsize", &props.StepSize); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return nil, err
		}
	}
	if desc, err := f.client.description(ctx, "focuser", f.deviceNumber); err == nil {
		props.Description = desc
	}

	f.logger.Info("focuser connected",
		zap.Bool("absolute", absolute),
		zap.Int("max_step", props.MaxStep))
	return &device.FocuserDescription{Capabilities: caps, Properties: props}, nil
}

// Disconnect releases the focuser.
func (f *Focuser) Disconnect(ctx context.Context) error {
	if f.client == nil {
		return nil
	}
	return f.client.setConnected(ctx, "focuser", f.deviceNumber, false)
}

// Status reads position, motion and temperature.
func (f *Focuser) Status(ctx context.Context) (*device.FocuserStatus, error) {
	status := &device.FocuserStatus{}
	if err := f.client.get(ctx, "focuser", f.deviceNumber, "position", &status.Position); err != nil {
		return nil, err
	}
	if err := f.client.get(ctx, "focuser", f.deviceNumber, "ismoving", &status.Moving); err != nil {
		return nil, err
	}
	if f.caps.Has(device.CanTemperature) {
		if err := f.client.get(ctx, "focuser", f.deviceNumber, "temperature", &status.Temperature); err != nil {
			return nil, err
		}
	}
	f.position = status.Position
	return status, nil
}

// MoveTo starts an absolute move.
func (f *Focuser) MoveTo(ctx context.Context, position int) error {
	if !f.caps.Has(device.CanAbsolute) {
		return errs.New(errs.Unsupported, "focuser has no absolute positioning")
	}
	return f.client.put(ctx, "focuser", f.deviceNumber, "move", map[string]interface{}{
		"Position": position,
	})
}

// Move starts a relative move from the last observed position.
func (f *Focuser) Move(ctx context.Context, step int) error {
	if f.caps.Has(device.CanAbsolute) {
		status, err := f.Status(ctx)
		if err != nil {
			return err
		}
		return f.client.put(ctx, "focuser", f.deviceNumber, "move", map[string]interface{}{
			"Position": status.Position + step,
		})
	}
	// Relative focusers interpret Position as a signed step count.
	return f.client.put(ctx, "focuser", f.deviceNumber, "move", map[string]interface{}{
		"Position": step,
	})
}

// Halt stops any motion.
func (f *Focuser) Halt(ctx context.Context) error {
	return f.client.put(ctx, "focuser", f.deviceNumber, "halt", map[string]interface{}{})
}

var _ device.Focuser = (*Focuser)(nil)

// FilterWheel adapts one Alpaca filter wheel device.
type FilterWheel struct {
	client       *Client
	deviceNumber int
	logger       *zap.Logger
}

// NewFilterWheel creates an unconnected Alpaca filter wheel adapter.
func NewFilterWheel(logger *zap.Logger) *FilterWheel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilterWheel{logger: logger.With(zap.String("component", "ascom_filterwheel"))}
}

// Connect brings the wheel online and reads the slot table.
func (w *FilterWheel) Connect(ctx context.Context, params device.ConnectParams) (*device.FilterWheelDescription, error) {
	w.client = NewClient(params.Host, params.Port, params.Timeout, w.logger)
	w.deviceNumber = params.DeviceNumber

	if err := w.client.setConnected(ctx, "filterwheel", w.deviceNumber, true); err != nil {
		return nil, err
	}

	props := device.FilterWheelProperties{}
	if err := w.client.get(ctx, "filterwheel", w.deviceNumber, "names", &props.Names); err != nil {
		return nil, err
	}
	if err := w.client.get(ctx, "filterwheel", w.deviceNumber, "focusoffsets", &props.FocusOffsets); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return nil, err
		}
		props.FocusOffsets = make([]int, len(props.Names))
	}
	props.SlotCount = len(props.Names)

	w.logger.Info("filter wheel connected", zap.Int("slots", props.SlotCount))
	return &device.FilterWheelDescription{Capabilities: device.Capabilities{}, Properties: props}, nil
}

// Disconnect releases the wheel.
func (w *FilterWheel) Disconnect(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	return w.client.setConnected(ctx, "filterwheel", w.deviceNumber, false)
}

// Position reads the current slot; -1 while the wheel is moving.
func (w *FilterWheel) Position(ctx context.Context) (int, error) {
	var pos int
	if err := w.client.get(ctx, "filterwheel", w.deviceNumber, "position", &pos); err != nil {
		return 0, err
	}
	return pos, nil
}

// SetPosition starts rotation to the given slot.
func (w *FilterWheel) SetPosition(ctx context.Context, slot int) error {
	return w.client.put(ctx, "filterwheel", w.deviceNumber, "position", map[string]interface{}{
		"Position": slot,
	})
}

var _ device.FilterWheel = (*FilterWheel)(nil)
