package device

import (
	"context"
)

// ExposureState mirrors the camera backend's exposure phase.
type ExposureState string

const (
	ExposureIdle        ExposureState = "Idle"
	ExposureExposing    ExposureState = "Exposing"
	ExposureReading     ExposureState = "Reading"
	ExposureDownloading ExposureState = "Downloading"
	ExposureCompleted   ExposureState = "Completed"
	ExposureFailed      ExposureState = "Failed"
)

// FrameKind is the photometric class of an exposure.
type FrameKind string

const (
	FrameLight FrameKind = "light"
	FrameDark  FrameKind = "dark"
	FrameFlat  FrameKind = "flat"
	FrameBias  FrameKind = "bias"
)

// ROI is a sensor sub-frame. A zero ROI means full frame.
type ROI struct {
	StartX int `json:"start_x"`
	StartY int `json:"start_y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the ROI was omitted.
func (r ROI) Empty() bool {
	return r.Width == 0 && r.Height == 0
}

// CameraProperties are the static properties discovered at connect.
// Immutable until disconnect.
type CameraProperties struct {
	SensorName   string  `json:"sensorName"`
	Firmware     string  `json:"firmware"`
	PixelSizeX   float64 `json:"pixelSizeX"`
	PixelSizeY   float64 `json:"pixelSizeY"`
	MaxWidth     int     `json:"maxWidth"`
	MaxHeight    int     `json:"maxHeight"`
	MaxBin       int     `json:"maxBin"`
	BitDepth     int     `json:"bitDepth"`
	BayerPattern string  `json:"bayerPattern,omitempty"`
	MinGain      int     `json:"minGain"`
	MaxGain      int     `json:"maxGain"`
	MinOffset    int     `json:"minOffset"`
	MaxOffset    int     `json:"maxOffset"`
	MinExposure  float64 `json:"minExposure"`
	MaxExposure  float64 `json:"maxExposure"`
}

// CameraDescription is the result of a successful connect: capabilities
// plus static properties.
type CameraDescription struct {
	Capabilities Capabilities     `json:"capabilities"`
	Properties   CameraProperties `json:"properties"`
}

// CoolingStatus is a snapshot of the cooling subsystem.
type CoolingStatus struct {
	CoolerOn    bool    `json:"coolerOn"`
	Temperature float64 `json:"temperature"`
	Target      float64 `json:"target"`
	Power       float64 `json:"power"`
}

// Frame is a raw pixel buffer as returned by a backend. Channels is 1 for
// mono and 3 for color sensors returning color data; the server never
// demosaics.
type Frame struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
	BitDepth int
}

// Camera is the backend contract for imaging devices. All methods map the
// backend's native failures into the errs taxonomy before returning.
type Camera interface {
	Connect(ctx context.Context, params ConnectParams) (*CameraDescription, error)
	Disconnect(ctx context.Context) error

	SetGain(ctx context.Context, gain int) error
	SetOffset(ctx context.Context, offset int) error
	SetBinning(ctx context.Context, bin int) error
	SetROI(ctx context.Context, roi ROI) error

	StartExposure(ctx context.Context, seconds float64, light bool) error
	StopExposure(ctx context.Context) error
	ExposureState(ctx context.Context) (ExposureState, float64, error)
	DownloadFrame(ctx context.Context) (*Frame, error)

	SetCooler(ctx context.Context, on bool) error
	SetTargetTemperature(ctx context.Context, celsius float64) error
	CoolingStatus(ctx context.Context) (*CoolingStatus, error)
}
