package phd2

import (
	"context"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
)

// settlePayload is the settle object the guide and dither methods take.
type settlePayload struct {
	Pixels  float64 `json:"pixels"`
	Time    float64 `json:"time"`
	Timeout float64 `json:"timeout"`
}

func toSettle(s device.SettleParams) settlePayload {
	p := settlePayload{Pixels: s.Pixels, Time: s.Time, Timeout: s.Timeout}
	if p.Pixels == 0 {
		p.Pixels = 1.5
	}
	if p.Time == 0 {
		p.Time = 8
	}
	if p.Timeout == 0 {
		p.Timeout = 40
	}
	return p
}

// StartGuiding selects a star if needed and begins guiding. With
// recalibrate set the guider discards its calibration first.
func (c *Client) StartGuiding(ctx context.Context, settle device.SettleParams, recalibrate bool) error {
	params := map[string]interface{}{
		"settle":      toSettle(settle),
		"recalibrate": recalibrate,
	}
	return c.Call(ctx, "guide", params, nil)
}

// StopGuiding stops looping and guiding output.
func (c *Client) StopGuiding(ctx context.Context) error {
	return c.Call(ctx, "stop_capture", nil, nil)
}

// StartCalibration forces a fresh calibration run by guiding with the
// recalibrate flag. The guider has no standalone calibrate call.
func (c *Client) StartCalibration(ctx context.Context) error {
	params := map[string]interface{}{
		"settle":      toSettle(device.SettleParams{}),
		"recalibrate": true,
	}
	return c.Call(ctx, "guide", params, nil)
}

// StopCalibration aborts a calibration in progress.
func (c *Client) StopCalibration(ctx context.Context) error {
	return c.Call(ctx, "stop_capture", nil, nil)
}

// Dither nudges the lock position by up to pixels in each axis.
func (c *Client) Dither(ctx context.Context, pixels float64, raOnly bool, settle device.SettleParams) error {
	if pixels <= 0 {
		return errs.New(errs.InvalidArgument, "dither amount must be positive, got %g", pixels)
	}
	c.stateMu.Lock()
	c.state.DitherInFlight = true
	c.stateMu.Unlock()
	params := map[string]interface{}{
		"amount": pixels,
		"raOnly": raOnly,
		"settle": toSettle(settle),
	}
	err := c.Call(ctx, "dither", params, nil)
	if err != nil {
		c.stateMu.Lock()
		c.state.DitherInFlight = false
		c.stateMu.Unlock()
	}
	return err
}

// SetExposure sets the guide camera exposure in milliseconds.
func (c *Client) SetExposure(ctx context.Context, ms int) error {
	if ms <= 0 {
		return errs.New(errs.InvalidArgument, "exposure must be positive, got %d ms", ms)
	}
	return c.Call(ctx, "set_exposure", []interface{}{ms}, nil)
}

// SetDecGuideMode sets declination guiding to Off, Auto, North or South.
func (c *Client) SetDecGuideMode(ctx context.Context, mode string) error {
	switch mode {
	case "Off", "Auto", "North", "South":
	default:
		return errs.New(errs.InvalidArgument, "unknown dec guide mode %q", mode)
	}
	return c.Call(ctx, "set_dec_guide_mode", []interface{}{mode}, nil)
}

// SetLockPosition moves the lock position to pixel coordinates x, y.
func (c *Client) SetLockPosition(ctx context.Context, x, y float64) error {
	return c.Call(ctx, "set_lock_position", []interface{}{x, y, true}, nil)
}

// SetPaused pauses or resumes guiding. A full pause also stops looping.
func (c *Client) SetPaused(ctx context.Context, paused, full bool) error {
	params := []interface{}{paused}
	if paused && full {
		params = append(params, "full")
	}
	return c.Call(ctx, "set_paused", params, nil)
}

// SetProfile switches the active equipment profile. The profile must not
// be connected while switching.
func (c *Client) SetProfile(ctx context.Context, id int) error {
	return c.Call(ctx, "set_profile", []interface{}{id}, nil)
}

// UseSubframes reports whether the guide camera uses subframes.
func (c *Client) UseSubframes(ctx context.Context) (bool, error) {
	var v bool
	if err := c.Call(ctx, "get_use_subframes", nil, &v); err != nil {
		return false, err
	}
	return v, nil
}

var _ device.Guider = (*Client)(nil)
