package ascom

import (
	"context"
	"encoding/binary"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Camera adapts one Alpaca camera device onto the device.Camera contract.
type Camera struct {
	client       *Client
	deviceNumber int
	logger       *zap.Logger

	caps  device.Capabilities
	props device.CameraProperties
	roi   device.ROI
}

// NewCamera creates an unconnected Alpaca camera adapter.
func NewCamera(logger *zap.Logger) *Camera {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Camera{logger: logger.With(zap.String("component", "ascom_camera"))}
}

// Connect brings the device online and performs capability and property
// discovery. Bit depth is resolved here so the first exposure never has to
// branch on an unknown element type.
func (c *Camera) Connect(ctx context.Context, params device.ConnectParams) (*device.CameraDescription, error) {
	c.client = NewClient(params.Host, params.Port, params.Timeout, c.logger)
	c.deviceNumber = params.DeviceNumber

	if err := c.client.setConnected(ctx, "camera", c.deviceNumber, true); err != nil {
		return nil, err
	}

	caps, err := c.discoverCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	props, err := c.discoverProperties(ctx, caps)
	if err != nil {
		return nil, err
	}

	c.caps = caps
	c.props = props
	c.roi = device.ROI{}

	c.logger.Info("camera connected",
		zap.String("sensor", props.SensorName),
		zap.Int("bit_depth", props.BitDepth),
		zap.Int("max_width", props.MaxWidth),
		zap.Int("max_height", props.MaxHeight))

	return &device.CameraDescription{Capabilities: caps, Properties: props}, nil
}

func (c *Camera) discoverCapabilities(ctx context.Context) (device.Capabilities, error) {
	caps := device.Capabilities{}

	canCool, err := c.client.boolProp(ctx, "camera", c.deviceNumber, "cansetccdtemperature")
	if err != nil {
		return nil, err
	}
	caps[device.CanCool] = canCool

	canPower, err := c.client.boolProp(ctx, "camera", c.deviceNumber, "cangetcoolerpower")
	if err != nil {
		return nil, err
	}
	caps[device.CanGetCoolPower] = canPower

	canAbort, err := c.client.boolProp(ctx, "camera", c.deviceNumber, "canabortexposure")
	if err != nil {
		return nil, err
	}
	caps[device.CanAbort] = canAbort

	canGuide, err := c.client.boolProp(ctx, "camera", c.deviceNumber, "canpulseguide")
	if err != nil {
		return nil, err
	}
	caps[device.CanGuide] = canGuide

	// Gain support is advertised through the gain range endpoints; a driver
	// without gain control answers NotImplemented.
	var gainMax int
	err = c.client.get(ctx, "camera", c.deviceNumber, "gainmax", &gainMax)
	switch {
	case err == nil:
		caps[device.CanSetGain] = true
	case errs.IsKind(err, errs.Unsupported):
		caps[device.CanSetGain] = false
	default:
		return nil, err
	}

	var offsetMax int
	err = c.client.get(ctx, "camera", c.deviceNumber, "offsetmax", &offsetMax)
	switch {
	case err == nil:
		caps[device.CanSetOffset] = true
	case errs.IsKind(err, errs.Unsupported):
		caps[device.CanSetOffset] = false
	default:
		return nil, err
	}

	var maxBin int
	if err := c.client.get(ctx, "camera", c.deviceNumber, "maxbinx", &maxBin); err != nil {
		return nil, err
	}
	caps[device.CanBin] = maxBin > 1

	var sensorType int
	if err := c.client.get(ctx, "camera", c.deviceNumber, "sensortype", &sensorType); err == nil {
		// 0 = monochrome; anything else carries a color filter array.
		caps[device.IsColor] = sensorType != 0
	} else if errs.IsKind(err, errs.Unsupported) {
		caps[device.IsColor] = false
	} else {
		return nil, err
	}

	hasShutter, err := c.client.boolProp(ctx, "camera", c.deviceNumber, "hasshutter")
	if err != nil {
		return nil, err
	}
	caps[device.HasShutter] = hasShutter

	return caps, nil
}

func (c *Camera) discoverProperties(ctx context.Context, caps device.Capabilities) (device.CameraProperties, error) {
	var props device.CameraProperties

	if err := c.client.get(ctx, "camera", c.deviceNumber, "cameraxsize", &props.MaxWidth); err != nil {
		return props, err
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "cameraysize", &props.MaxHeight); err != nil {
		return props, err
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "pixelsizex", &props.PixelSizeX); err != nil {
		return props, err
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "pixelsizey", &props.PixelSizeY); err != nil {
		return props, err
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "maxbinx", &props.MaxBin); err != nil {
		return props, err
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "exposuremax", &props.MaxExposure); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return props, err
		}
		props.MaxExposure = 3600
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "exposuremin", &props.MinExposure); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return props, err
		}
	}

	if caps.Has(device.CanSetGain) {
		if err := c.client.get(ctx, "camera", c.deviceNumber, "gainmin", &props.MinGain); err != nil {
			return props, err
		}
		if err := c.client.get(ctx, "camera", c.deviceNumber, "gainmax", &props.MaxGain); err != nil {
			return props, err
		}
	}
	if caps.Has(device.CanSetOffset) {
		if err := c.client.get(ctx, "camera", c.deviceNumber, "offsetmin", &props.MinOffset); err != nil {
			return props, err
		}
		if err := c.client.get(ctx, "camera", c.deviceNumber, "offsetmax", &props.MaxOffset); err != nil {
			return props, err
		}
	}

	// Element width in bits. Alpaca reports the electron well depth through
	// maxadu; 8-bit sensors top out at 255, everything else is 16-bit on
	// the wire (imagearray rank 2/3 of int32 is handled at download).
	var maxADU int
	if err := c.client.get(ctx, "camera", c.deviceNumber, "maxadu", &maxADU); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return props, err
		}
		maxADU = 65535
	}
	if maxADU <= 255 {
		props.BitDepth = 8
	} else {
		props.BitDepth = 16
	}

	if caps.Has(device.IsColor) {
		var offsetX int
		if err := c.client.get(ctx, "camera", c.deviceNumber, "bayeroffsetx", &offsetX); err == nil {
			// Alpaca has no pattern string; offsets identify the layout.
			patterns := map[int]string{0: "RGGB", 1: "GRBG"}
			props.BayerPattern = patterns[offsetX]
		}
	}

	if desc, err := c.description(ctx); err == nil {
		props.SensorName = desc
	}
	if info, err := c.client.driverInfo(ctx, "camera", c.deviceNumber); err == nil {
		props.Firmware = info
	}
	return props, nil
}

func (c *Camera) description(ctx context.Context) (string, error) {
	return c.client.description(ctx, "camera", c.deviceNumber)
}

// Disconnect releases the device.
func (c *Camera) Disconnect(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	return c.client.setConnected(ctx, "camera", c.deviceNumber, false)
}

// SetGain applies a sensor gain.
func (c *Camera) SetGain(ctx context.Context, gain int) error {
	return c.client.put(ctx, "camera", c.deviceNumber, "gain", map[string]interface{}{"Gain": gain})
}

// SetOffset applies a sensor offset.
func (c *Camera) SetOffset(ctx context.Context, offset int) error {
	return c.client.put(ctx, "camera", c.deviceNumber, "offset", map[string]interface{}{"Offset": offset})
}

// SetBinning applies symmetric binning.
func (c *Camera) SetBinning(ctx context.Context, bin int) error {
	if err := c.client.put(ctx, "camera", c.deviceNumber, "binx", map[string]interface{}{"BinX": bin}); err != nil {
		return err
	}
	return c.client.put(ctx, "camera", c.deviceNumber, "biny", map[string]interface{}{"BinY": bin})
}

// SetROI applies a sub-frame, or restores full frame for an empty ROI.
func (c *Camera) SetROI(ctx context.Context, roi device.ROI) error {
	if roi.Empty() {
		roi = device.ROI{Width: c.props.MaxWidth, Height: c.props.MaxHeight}
	}
	steps := []struct {
		method string
		key    string
		value  int
	}{
		{"startx", "StartX", roi.StartX},
		{"starty", "StartY", roi.StartY},
		{"numx", "NumX", roi.Width},
		{"numy", "NumY", roi.Height},
	}
	for _, s := range steps {
		if err := c.client.put(ctx, "camera", c.deviceNumber, s.method, map[string]interface{}{s.key: s.value}); err != nil {
			return err
		}
	}
	c.roi = roi
	return nil
}

// StartExposure begins an exposure. light=false requests a dark frame
// (shutter closed where the hardware has one).
func (c *Camera) StartExposure(ctx context.Context, seconds float64, light bool) error {
	return c.client.put(ctx, "camera", c.deviceNumber, "startexposure", map[string]interface{}{
		"Duration": seconds,
		"Light":    light,
	})
}

// StopExposure aborts the in-flight exposure.
func (c *Camera) StopExposure(ctx context.Context) error {
	if !c.caps.Has(device.CanAbort) {
		return errs.New(errs.Unsupported, "camera cannot abort exposures")
	}
	return c.client.put(ctx, "camera", c.deviceNumber, "abortexposure", map[string]interface{}{})
}

// ExposureState reports the backend exposure phase and percent complete.
func (c *Camera) ExposureState(ctx context.Context) (device.ExposureState, float64, error) {
	var state int
	if err := c.client.get(ctx, "camera", c.deviceNumber, "camerastate", &state); err != nil {
		return device.ExposureFailed, 0, err
	}

	var percent float64
	if err := c.client.get(ctx, "camera", c.deviceNumber, "percentcompleted", &percent); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return device.ExposureFailed, 0, err
		}
	}

	// ASCOM CameraStates enum.
	switch state {
	case 0:
		var ready bool
		if err := c.client.get(ctx, "camera", c.deviceNumber, "imageready", &ready); err != nil {
			return device.ExposureFailed, 0, err
		}
		if ready {
			return device.ExposureCompleted, 100, nil
		}
		return device.ExposureIdle, percent, nil
	case 1, 2:
		return device.ExposureExposing, percent, nil
	case 3:
		return device.ExposureReading, percent, nil
	case 4:
		return device.ExposureDownloading, percent, nil
	default:
		return device.ExposureFailed, percent, nil
	}
}

// DownloadFrame fetches the image array and packs it into a raw buffer,
// little-endian, channels last.
func (c *Camera) DownloadFrame(ctx context.Context) (*device.Frame, error) {
	start := time.Now()

	if c.caps.Has(device.IsColor) {
		var planes [][][]int32
		if err := c.client.get(ctx, "camera", c.deviceNumber, "imagearray", &planes); err != nil {
			return nil, err
		}
		return c.packColor(planes, start)
	}

	var rows [][]int32
	if err := c.client.get(ctx, "camera", c.deviceNumber, "imagearray", &rows); err != nil {
		return nil, err
	}
	return c.packMono(rows, start)
}

func (c *Camera) packMono(cols [][]int32, start time.Time) (*device.Frame, error) {
	// Alpaca image arrays are column-major: Value[x][y].
	width := len(cols)
	if width == 0 {
		return nil, errs.New(errs.ProtocolError, "empty image array")
	}
	height := len(cols[0])
	frame := &device.Frame{
		Width:    width,
		Height:   height,
		Channels: 1,
		BitDepth: c.props.BitDepth,
	}

	bytesPer := c.props.BitDepth / 8
	frame.Data = make([]byte, width*height*bytesPer)
	for x, col := range cols {
		if len(col) != height {
			return nil, errs.New(errs.ProtocolError, "ragged image array")
		}
		for y, v := range col {
			idx := (y*width + x) * bytesPer
			putSample(frame.Data[idx:], v, c.props.BitDepth)
		}
	}

	c.logger.Debug("frame downloaded",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Duration("elapsed", time.Since(start)))
	return frame, nil
}

func (c *Camera) packColor(planes [][][]int32, start time.Time) (*device.Frame, error) {
	width := len(planes)
	if width == 0 || len(planes[0]) == 0 {
		return nil, errs.New(errs.ProtocolError, "empty image array")
	}
	height := len(planes[0])
	channels := len(planes[0][0])
	if channels != 3 {
		return nil, errs.New(errs.ProtocolError, "expected 3 color channels, got %d", channels)
	}

	frame := &device.Frame{
		Width:    width,
		Height:   height,
		Channels: 3,
		BitDepth: c.props.BitDepth,
	}
	bytesPer := c.props.BitDepth / 8
	frame.Data = make([]byte, width*height*channels*bytesPer)
	for x := range planes {
		for y := range planes[x] {
			for ch, v := range planes[x][y] {
				idx := ((y*width+x)*channels + ch) * bytesPer
				putSample(frame.Data[idx:], v, c.props.BitDepth)
			}
		}
	}

	c.logger.Debug("color frame downloaded",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Duration("elapsed", time.Since(start)))
	return frame, nil
}

func putSample(dst []byte, v int32, bitDepth int) {
	switch bitDepth {
	case 8:
		dst[0] = byte(v)
	case 16:
		binary.LittleEndian.PutUint16(dst, uint16(v))
	default:
		binary.LittleEndian.PutUint32(dst, uint32(v))
	}
}

// SetCooler turns the cooler on or off.
func (c *Camera) SetCooler(ctx context.Context, on bool) error {
	return c.client.put(ctx, "camera", c.deviceNumber, "cooleron", map[string]interface{}{"CoolerOn": on})
}

// SetTargetTemperature sets the cooling setpoint in Celsius.
func (c *Camera) SetTargetTemperature(ctx context.Context, celsius float64) error {
	return c.client.put(ctx, "camera", c.deviceNumber, "setccdtemperature", map[string]interface{}{
		"SetCCDTemperature": celsius,
	})
}

// CoolingStatus reads the cooling subsystem snapshot.
func (c *Camera) CoolingStatus(ctx context.Context) (*device.CoolingStatus, error) {
	status := &device.CoolingStatus{}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "ccdtemperature", &status.Temperature); err != nil {
		return nil, err
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "cooleron", &status.CoolerOn); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return nil, err
		}
	}
	if err := c.client.get(ctx, "camera", c.deviceNumber, "setccdtemperature", &status.Target); err != nil {
		if !errs.IsKind(err, errs.Unsupported) {
			return nil, err
		}
	}
	if c.caps.Has(device.CanGetCoolPower) {
		if err := c.client.get(ctx, "camera", c.deviceNumber, "coolerpower", &status.Power); err != nil {
			return nil, err
		}
	}
	return status, nil
}

var _ device.Camera = (*Camera)(nil)
