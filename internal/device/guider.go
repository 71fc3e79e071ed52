package device

import (
	"context"
)

// SettleParams bound the settle phase after guiding starts or a dither.
type SettleParams struct {
	Pixels  float64 `json:"pixels"`
	Time    float64 `json:"time"`
	Timeout float64 `json:"timeout"`
}

// GuideStep is one guide-frame correction as reported by the guider.
type GuideStep struct {
	Frame            int     `json:"frame"`
	Time             float64 `json:"time"`
	Mount            string  `json:"mount"`
	RADistanceRaw    float64 `json:"raDistanceRaw"`
	DecDistanceRaw   float64 `json:"decDistanceRaw"`
	RADuration       int     `json:"raDuration"`
	DecDuration      int     `json:"decDuration"`
	RADirection      string  `json:"raDirection"`
	DecDirection     string  `json:"decDirection"`
	StarMass         float64 `json:"starMass"`
	SNR              float64 `json:"snr"`
	HFD              float64 `json:"hfd"`
	AvgDist          float64 `json:"avgDist"`
}

// GuiderState is the cached state mutated by asynchronous guider events.
type GuiderState struct {
	Version          string    `json:"version"`
	AppState         string    `json:"appState"`
	Connected        bool      `json:"connected"`
	Guiding          bool      `json:"guiding"`
	Paused           bool      `json:"paused"`
	Settling         bool      `json:"settling"`
	Calibrated       bool      `json:"calibrated"`
	CalibratedMount  string    `json:"calibratedMount,omitempty"`
	CalibrationStep  int       `json:"calibrationStep"`
	CalibrationError string    `json:"calibrationError,omitempty"`
	LockPosition     []float64 `json:"lockPosition,omitempty"`
	StarSelected     bool      `json:"starSelected"`
	StarPosition     []float64 `json:"starPosition,omitempty"`
	LastStep         GuideStep `json:"lastStep"`
	DitherInFlight   bool      `json:"ditherInFlight"`
	PixelScale       float64   `json:"pixelScale"`
}

// Guider is the backend contract for an external guiding process.
type Guider interface {
	Connect(ctx context.Context, params ConnectParams) error
	Disconnect(ctx context.Context) error

	State() GuiderState

	StartGuiding(ctx context.Context, settle SettleParams, recalibrate bool) error
	StopGuiding(ctx context.Context) error
	StartCalibration(ctx context.Context) error
	StopCalibration(ctx context.Context) error
	Dither(ctx context.Context, pixels float64, raOnly bool, settle SettleParams) error

	SetExposure(ctx context.Context, ms int) error
	SetDecGuideMode(ctx context.Context, mode string) error
	SetLockPosition(ctx context.Context, x, y float64) error
	SetPaused(ctx context.Context, paused, full bool) error
	SetProfile(ctx context.Context, id int) error
	UseSubframes(ctx context.Context) (bool, error)
}
