package indi

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

const connectTimeout = 30 * time.Second

// Camera adapts one INDI CCD driver onto the device.Camera contract.
//
// Frames travel through the filesystem: the driver is switched to local
// upload mode at connect and DownloadFrame reads the FITS file named by
// CCD_FILE_PATH.
type Camera struct {
	props    *Props
	newProps func(host string, port int, logger *zap.Logger) *Props
	name     string
	logger   *zap.Logger

	requested float64
	started   time.Time
}

// NewCamera creates an unconnected INDI camera adapter.
func NewCamera(logger *zap.Logger) *Camera {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Camera{
		newProps: NewProps,
		logger:   logger.With(zap.String("component", "indi_camera")),
	}
}

// Connect switches the named driver on and discovers its properties.
func (c *Camera) Connect(ctx context.Context, params device.ConnectParams) (*device.CameraDescription, error) {
	if params.Name == "" {
		return nil, errs.New(errs.InvalidArgument, "device name is required for the indi backend")
	}
	c.props = c.newProps(params.Host, params.Port, c.logger)
	c.name = params.Name

	if err := c.props.Connect(ctx, c.name, connectTimeout); err != nil {
		return nil, err
	}
	// Frames are written to disk by the driver and read back from there.
	if err := c.props.SetSwitch(ctx, c.name, "UPLOAD_MODE", "UPLOAD_LOCAL"); err != nil {
		return nil, err
	}

	props := device.CameraProperties{}
	var err error
	if props.MaxWidth, err = c.number(ctx, "CCD_INFO", "CCD_MAX_X"); err != nil {
		return nil, err
	}
	if props.MaxHeight, err = c.number(ctx, "CCD_INFO", "CCD_MAX_Y"); err != nil {
		return nil, err
	}
	if props.PixelSizeX, err = c.props.GetNumber(ctx, c.name, "CCD_INFO", "CCD_PIXEL_SIZE_X"); err != nil {
		return nil, err
	}
	if props.PixelSizeY, err = c.props.GetNumber(ctx, c.name, "CCD_INFO", "CCD_PIXEL_SIZE_Y"); err != nil {
		return nil, err
	}
	if props.BitDepth, err = c.number(ctx, "CCD_INFO", "CCD_BITSPERPIXEL"); err != nil {
		return nil, err
	}
	props.MinExposure = 0.001
	props.MaxExposure = 3600

	caps := device.Capabilities{device.CanAbort: true}

	if _, err := c.props.GetNumber(ctx, c.name, "CCD_BINNING", "HOR_BIN"); err == nil {
		caps[device.CanBin] = true
		props.MaxBin = 4
	} else {
		props.MaxBin = 1
	}
	if max, err := c.props.GetNumber(ctx, c.name, "CCD_GAIN", "GAIN"); err == nil {
		caps[device.CanSetGain] = true
		props.MaxGain = maxInt(max, 100)
	}
	if max, err := c.props.GetNumber(ctx, c.name, "CCD_OFFSET", "OFFSET"); err == nil {
		caps[device.CanSetOffset] = true
		props.MaxOffset = maxInt(max, 100)
	}
	if _, err := c.props.State(ctx, c.name, "CCD_COOLER"); err == nil {
		caps[device.CanCool] = true
	}
	if _, err := c.props.GetNumber(ctx, c.name, "CCD_COOLER_POWER", "CCD_COOLER_VALUE"); err == nil {
		caps[device.CanGetCoolPower] = true
	}
	if pattern, err := c.props.Get(ctx, c.name, "CCD_CFA", "CFA_TYPE"); err == nil && pattern != "" {
		caps[device.IsColor] = true
		props.BayerPattern = pattern
	}

	c.logger.Info("camera connected",
		zap.String("device", c.name),
		zap.Int("width", props.MaxWidth),
		zap.Int("height", props.MaxHeight),
		zap.Int("bit_depth", props.BitDepth))
	return &device.CameraDescription{Capabilities: caps, Properties: props}, nil
}

func (c *Camera) number(ctx context.Context, prop, element string) (int, error) {
	v, err := c.props.GetNumber(ctx, c.name, prop, element)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

func maxInt(v float64, fallback int) int {
	if v > 0 {
		return int(v)
	}
	return fallback
}

// Disconnect switches the driver off.
func (c *Camera) Disconnect(ctx context.Context) error {
	if c.props == nil {
		return nil
	}
	return c.props.Disconnect(ctx, c.name)
}

// SetGain writes the driver gain.
func (c *Camera) SetGain(ctx context.Context, gain int) error {
	return c.props.SetNumber(ctx, c.name, "CCD_GAIN", "GAIN", float64(gain))
}

// SetOffset writes the driver offset.
func (c *Camera) SetOffset(ctx context.Context, offset int) error {
	return c.props.SetNumber(ctx, c.name, "CCD_OFFSET", "OFFSET", float64(offset))
}

// SetBinning writes symmetric binning.
func (c *Camera) SetBinning(ctx context.Context, bin int) error {
	if err := c.props.SetNumber(ctx, c.name, "CCD_BINNING", "HOR_BIN", float64(bin)); err != nil {
		return err
	}
	return c.props.SetNumber(ctx, c.name, "CCD_BINNING", "VER_BIN", float64(bin))
}

// SetROI writes the sensor sub-frame in unbinned pixels.
func (c *Camera) SetROI(ctx context.Context, roi device.ROI) error {
	elements := map[string]float64{
		"X":      float64(roi.StartX),
		"Y":      float64(roi.StartY),
		"WIDTH":  float64(roi.Width),
		"HEIGHT": float64(roi.Height),
	}
	for element, value := range elements {
		if err := c.props.SetNumber(ctx, c.name, "CCD_FRAME", element, value); err != nil {
			return err
		}
	}
	return nil
}

// StartExposure begins an exposure. Shutter control for dark frames uses
// the frame type vector where the driver supports it.
func (c *Camera) StartExposure(ctx context.Context, seconds float64, light bool) error {
	frameType := "FRAME_LIGHT"
	if !light {
		frameType = "FRAME_DARK"
	}
	if err := c.props.SetSwitch(ctx, c.name, "CCD_FRAME_TYPE", frameType); err != nil {
		c.logger.Debug("frame type not accepted", zap.Error(err))
	}
	if err := c.props.SetNumber(ctx, c.name, "CCD_EXPOSURE", "CCD_EXPOSURE_VALUE", seconds); err != nil {
		return err
	}
	c.requested = seconds
	c.started = time.Now()
	return nil
}

// StopExposure aborts the exposure in progress.
func (c *Camera) StopExposure(ctx context.Context) error {
	return c.props.SetSwitch(ctx, c.name, "CCD_ABORT_EXPOSURE", "ABORT")
}

// ExposureState reads the exposure vector's light state. Progress comes
// from the remaining-time element while the vector is busy.
func (c *Camera) ExposureState(ctx context.Context) (device.ExposureState, float64, error) {
	state, err := c.props.State(ctx, c.name, "CCD_EXPOSURE")
	if err != nil {
		return device.ExposureFailed, 0, err
	}
	switch state {
	case "Busy":
		remaining, err := c.props.GetNumber(ctx, c.name, "CCD_EXPOSURE", "CCD_EXPOSURE_VALUE")
		if err != nil || c.requested <= 0 {
			return device.ExposureExposing, 0, nil
		}
		percent := (c.requested - remaining) / c.requested * 100
		if percent < 0 {
			percent = 0
		}
		if percent >= 100 {
			return device.ExposureReading, 100, nil
		}
		return device.ExposureExposing, percent, nil
	case "Ok":
		if c.started.IsZero() {
			return device.ExposureIdle, 0, nil
		}
		return device.ExposureCompleted, 100, nil
	case "Alert":
		return device.ExposureFailed, 0, nil
	default:
		return device.ExposureIdle, 0, nil
	}
}

// DownloadFrame reads back the file the driver wrote for the last
// exposure.
func (c *Camera) DownloadFrame(ctx context.Context) (*device.Frame, error) {
	path, err := c.props.Get(ctx, c.name, "CCD_FILE_PATH", "FILE_PATH")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errs.New(errs.DriverError, "driver reported no frame file")
	}
	c.started = time.Time{}
	return readFrameFile(path)
}

// SetCooler switches the cooler on or off.
func (c *Camera) SetCooler(ctx context.Context, on bool) error {
	element := "COOLER_ON"
	if !on {
		element = "COOLER_OFF"
	}
	return c.props.SetSwitch(ctx, c.name, "CCD_COOLER", element)
}

// SetTargetTemperature writes the cooling setpoint in Celsius.
func (c *Camera) SetTargetTemperature(ctx context.Context, celsius float64) error {
	return c.props.SetNumber(ctx, c.name, "CCD_TEMPERATURE", "CCD_TEMPERATURE_VALUE", celsius)
}

// CoolingStatus reads the cooling snapshot.
func (c *Camera) CoolingStatus(ctx context.Context) (*device.CoolingStatus, error) {
	status := &device.CoolingStatus{}
	var err error
	if status.Temperature, err = c.props.GetNumber(ctx, c.name, "CCD_TEMPERATURE", "CCD_TEMPERATURE_VALUE"); err != nil {
		return nil, err
	}
	status.Target = status.Temperature
	if on, err := c.props.GetSwitch(ctx, c.name, "CCD_COOLER", "COOLER_ON"); err == nil {
		status.CoolerOn = on
	}
	if power, err := c.props.GetNumber(ctx, c.name, "CCD_COOLER_POWER", "CCD_COOLER_VALUE"); err == nil {
		status.Power = power
	}
	return status, nil
}

var _ device.Camera = (*Camera)(nil)
