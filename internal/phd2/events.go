package phd2

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
)

// guideStepEvent mirrors the GuideStep notification payload.
type guideStepEvent struct {
	Frame          int     `json:"Frame"`
	Time           float64 `json:"Time"`
	Mount          string  `json:"Mount"`
	RADistanceRaw  float64 `json:"RADistanceRaw"`
	DecDistanceRaw float64 `json:"DECDistanceRaw"`
	RADuration     int     `json:"RADuration"`
	DecDuration    int     `json:"DECDuration"`
	RADirection    string  `json:"RADirection"`
	DecDirection   string  `json:"DECDirection"`
	StarMass       float64 `json:"StarMass"`
	SNR            float64 `json:"SNR"`
	HFD            float64 `json:"HFD"`
	AvgDist        float64 `json:"AvgDist"`
}

// handleEvent folds one asynchronous notification into the cached state.
func (c *Client) handleEvent(name string, line []byte) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	switch name {
	case "Version":
		var ev struct {
			PHDVersion string `json:"PHDVersion"`
			PHDSubver  string `json:"PHDSubver"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.state.Version = ev.PHDVersion + ev.PHDSubver
		}

	case "AppState":
		var ev struct {
			State string `json:"State"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.applyAppState(ev.State)
		}

	case "LockPositionSet":
		var ev struct {
			X float64 `json:"X"`
			Y float64 `json:"Y"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.state.LockPosition = []float64{ev.X, ev.Y}
		}

	case "LockPositionLost":
		c.state.LockPosition = nil

	case "StarSelected":
		var ev struct {
			X float64 `json:"X"`
			Y float64 `json:"Y"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.state.StarSelected = true
			c.state.StarPosition = []float64{ev.X, ev.Y}
		}

	case "StarLost":
		c.state.StarSelected = false

	case "Calibrating":
		var ev struct {
			Step int `json:"step"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.state.CalibrationStep = ev.Step
		}
		c.state.AppState = "Calibrating"
		c.state.CalibrationError = ""

	case "CalibrationComplete":
		var ev struct {
			Mount string `json:"Mount"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.state.CalibratedMount = ev.Mount
		}
		c.state.Calibrated = true
		c.state.CalibrationError = ""

	case "CalibrationFailed":
		var ev struct {
			Reason string `json:"Reason"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.state.CalibrationError = ev.Reason
		}
		c.state.Calibrated = false

	case "CalibrationDataFlipped":
		// Calibration stays valid, only the orientation flipped.

	case "StartGuiding":
		c.state.Guiding = true
		c.state.Paused = false
		c.state.AppState = "Guiding"

	case "GuidingStopped":
		c.state.Guiding = false
		c.state.Settling = false
		c.state.DitherInFlight = false

	case "Paused":
		c.state.Paused = true
		c.state.AppState = "Paused"

	case "Resumed":
		c.state.Paused = false

	case "GuidingDithered":
		c.state.DitherInFlight = true

	case "SettleBegin", "Settling":
		c.state.Settling = true

	case "SettleDone":
		var ev struct {
			Status int    `json:"Status"`
			Error  string `json:"Error"`
		}
		c.state.Settling = false
		c.state.DitherInFlight = false
		if json.Unmarshal(line, &ev) == nil && ev.Status != 0 {
			c.logger.Warn("guider settle failed", zap.String("reason", ev.Error))
		}

	case "GuideStep":
		var ev guideStepEvent
		if json.Unmarshal(line, &ev) == nil {
			c.state.Guiding = true
			c.state.LastStep = device.GuideStep{
				Frame:          ev.Frame,
				Time:           ev.Time,
				Mount:          ev.Mount,
				RADistanceRaw:  ev.RADistanceRaw,
				DecDistanceRaw: ev.DecDistanceRaw,
				RADuration:     ev.RADuration,
				DecDuration:    ev.DecDuration,
				RADirection:    ev.RADirection,
				DecDirection:   ev.DecDirection,
				StarMass:       ev.StarMass,
				SNR:            ev.SNR,
				HFD:            ev.HFD,
				AvgDist:        ev.AvgDist,
			}
		}

	case "LoopingExposures":
		c.state.AppState = "Looping"

	case "LoopingExposuresStopped":
		c.state.AppState = "Stopped"

	case "Alert":
		var ev struct {
			Msg  string `json:"Msg"`
			Type string `json:"Type"`
		}
		if json.Unmarshal(line, &ev) == nil {
			c.logger.Warn("guider alert", zap.String("type", ev.Type), zap.String("msg", ev.Msg))
		}

	case "GuideParamChange", "ConfigurationChange", "LockPositionShiftLimitReached", "StartCalibration":
		// Informational only.

	default:
		c.logger.Debug("unhandled guider event", zap.String("event", name))
	}
}

// applyAppState maps the guider's coarse state string onto the flags the
// rest of the server reads.
func (c *Client) applyAppState(state string) {
	c.state.AppState = state
	switch state {
	case "Guiding", "LostLock":
		c.state.Guiding = true
		c.state.Paused = false
	case "Paused":
		c.state.Paused = true
	case "Stopped", "Selected", "Looping", "Calibrating":
		c.state.Guiding = false
	}
}
