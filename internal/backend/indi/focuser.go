package indi

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Focuser adapts one INDI focuser driver onto the device.Focuser contract.
type Focuser struct {
	props  *Props
	name   string
	logger *zap.Logger
	caps   device.Capabilities
}

// NewFocuser creates an unconnected INDI focuser adapter.
func NewFocuser(logger *zap.Logger) *Focuser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Focuser{logger: logger.With(zap.String("component", "indi_focuser"))}
}

// Connect switches the named driver on and probes its property vectors.
func (f *Focuser) Connect(ctx context.Context, params device.ConnectParams) (*device.FocuserDescription, error) {
	if params.Name == "" {
		return nil, errs.New(errs.InvalidArgument, "device name is required for the indi backend")
	}
	f.props = NewProps(params.Host, params.Port, f.logger)
	f.name = params.Name

	if err := f.props.Connect(ctx, f.name, connectTimeout); err != nil {
		return nil, err
	}

	caps := device.Capabilities{}
	_, absErr := f.props.State(ctx, f.name, "ABS_FOCUS_POSITION")
	caps[device.CanAbsolute] = absErr == nil
	_, tempErr := f.props.GetNumber(ctx, f.name, "FOCUS_TEMPERATURE", "TEMPERATURE")
	caps[device.CanTemperature] = tempErr == nil
	f.caps = caps

	props := device.FocuserProperties{}
	if max, err := f.props.GetNumber(ctx, f.name, "FOCUS_MAX", "FOCUS_MAX_VALUE"); err == nil {
		props.MaxStep = int(max)
	} else {
		props.MaxStep = 65535
	}
	props.MaxIncrement = props.MaxStep
	if info, err := f.props.Get(ctx, f.name, "DRIVER_INFO", "DRIVER_NAME"); err == nil {
		props.Description = info
	}

	f.logger.Info("focuser connected",
		zap.String("device", f.name),
		zap.Bool("absolute", caps.Has(device.CanAbsolute)))
	return &device.FocuserDescription{Capabilities: caps, Properties: props}, nil
}

// Disconnect switches the driver off.
func (f *Focuser) Disconnect(ctx context.Context) error {
	if f.props == nil {
		return nil
	}
	return f.props.Disconnect(ctx, f.name)
}

// Status reads position, motion and temperature.
func (f *Focuser) Status(ctx context.Context) (*device.FocuserStatus, error) {
	status := &device.FocuserStatus{}
	if f.caps.Has(device.CanAbsolute) {
		pos, err := f.props.GetNumber(ctx, f.name, "ABS_FOCUS_POSITION", "FOCUS_ABSOLUTE_POSITION")
		if err != nil {
			return nil, err
		}
		status.Position = int(pos)
		state, err := f.props.State(ctx, f.name, "ABS_FOCUS_POSITION")
		if err != nil {
			return nil, err
		}
		status.Moving = state == "Busy"
	} else {
		state, err := f.props.State(ctx, f.name, "REL_FOCUS_POSITION")
		if err != nil {
			return nil, err
		}
		status.Moving = state == "Busy"
	}
	if f.caps.Has(device.CanTemperature) {
		temp, err := f.props.GetNumber(ctx, f.name, "FOCUS_TEMPERATURE", "TEMPERATURE")
		if err != nil {
			return nil, err
		}
		status.Temperature = temp
	}
	return status, nil
}

// MoveTo starts an absolute move.
func (f *Focuser) MoveTo(ctx context.Context, position int) error {
	if !f.caps.Has(device.CanAbsolute) {
		return errs.New(errs.Unsupported, "focuser has no absolute positioning")
	}
	return f.props.SetNumber(ctx, f.name, "ABS_FOCUS_POSITION", "FOCUS_ABSOLUTE_POSITION", float64(position))
}

// Move starts a relative move. Direction comes from the step sign.
func (f *Focuser) Move(ctx context.Context, step int) error {
	direction := "FOCUS_OUTWARD"
	if step < 0 {
		direction = "FOCUS_INWARD"
		step = -step
	}
	if err := f.props.SetSwitch(ctx, f.name, "FOCUS_MOTION", direction); err != nil {
		return err
	}
	return f.props.SetNumber(ctx, f.name, "REL_FOCUS_POSITION", "FOCUS_RELATIVE_POSITION", float64(step))
}

// Halt stops any motion.
func (f *Focuser) Halt(ctx context.Context) error {
	return f.props.SetSwitch(ctx, f.name, "FOCUS_ABORT_MOTION", "ABORT")
}

var _ device.Focuser = (*Focuser)(nil)

// FilterWheel adapts one INDI filter wheel driver.
type FilterWheel struct {
	props  *Props
	name   string
	logger *zap.Logger
}

// NewFilterWheel creates an unconnected INDI filter wheel adapter.
func NewFilterWheel(logger *zap.Logger) *FilterWheel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FilterWheel{logger: logger.With(zap.String("component", "indi_filterwheel"))}
}

// Connect switches the driver on and reads the slot name table. Slot
// names are numbered elements on the FILTER_NAME vector.
func (w *FilterWheel) Connect(ctx context.Context, params device.ConnectParams) (*device.FilterWheelDescription, error) {
	if params.Name == "" {
		return nil, errs.New(errs.InvalidArgument, "device name is required for the indi backend")
	}
	w.props = NewProps(params.Host, params.Port, w.logger)
	w.name = params.Name

	if err := w.props.Connect(ctx, w.name, connectTimeout); err != nil {
		return nil, err
	}

	props := device.FilterWheelProperties{}
	for slot := 1; ; slot++ {
		name, err := w.props.Get(ctx, w.name, "FILTER_NAME", fmt.Sprintf("FILTER_SLOT_NAME_%d", slot))
		if err != nil || name == "" {
			break
		}
		props.Names = append(props.Names, name)
	}
	props.SlotCount = len(props.Names)
	props.FocusOffsets = make([]int, props.SlotCount)

	w.logger.Info("filter wheel connected",
		zap.String("device", w.name),
		zap.Int("slots", props.SlotCount))
	return &device.FilterWheelDescription{Capabilities: device.Capabilities{}, Properties: props}, nil
}

// Disconnect switches the driver off.
func (w *FilterWheel) Disconnect(ctx context.Context) error {
	if w.props == nil {
		return nil
	}
	return w.props.Disconnect(ctx, w.name)
}

// Position reads the current slot, zero-based. -1 while the wheel turns.
func (w *FilterWheel) Position(ctx context.Context) (int, error) {
	state, err := w.props.State(ctx, w.name, "FILTER_SLOT")
	if err != nil {
		return 0, err
	}
	if state == "Busy" {
		return -1, nil
	}
	slot, err := w.props.GetNumber(ctx, w.name, "FILTER_SLOT", "FILTER_SLOT_VALUE")
	if err != nil {
		return 0, err
	}
	// INDI slots are one-based.
	return int(slot) - 1, nil
}

// SetPosition starts rotation to the given zero-based slot.
func (w *FilterWheel) SetPosition(ctx context.Context, slot int) error {
	return w.props.SetNumber(ctx, w.name, "FILTER_SLOT", "FILTER_SLOT_VALUE", float64(slot+1))
}

var _ device.FilterWheel = (*FilterWheel)(nil)
