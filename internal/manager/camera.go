package manager

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/image"
	"github.com/starbridge/observatoryd/internal/profile"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// SaveSpec tells the exposure pipeline whether and how to keep an
// artifact on disk.
type SaveSpec struct {
	Save bool   `json:"is_save"`
	Dark bool   `json:"is_dark"`
	Name string `json:"name"`
	Kind string `json:"type"`
}

// ExposureParams is one exposure request. Omitted gain, offset and
// binning fall back to the saved defaults; an omitted ROI means full
// frame.
type ExposureParams struct {
	Exposure   float64    `json:"exposure"`
	Gain       *int       `json:"gain,omitempty"`
	Offset     *int       `json:"offset,omitempty"`
	Binning    *int       `json:"binning,omitempty"`
	ROI        device.ROI `json:"roi,omitempty"`
	FilterSlot *int       `json:"filterSlot,omitempty"`
	Image      SaveSpec   `json:"image"`
}

// SequenceParams describes a multi-frame run.
type SequenceParams struct {
	Name     string         `json:"name"`
	Count    int            `json:"count"`
	Delay    float64        `json:"duration,omitempty"`
	Dither   bool           `json:"dither,omitempty"`
	Settle   device.SettleParams `json:"settle,omitempty"`
	Exposure ExposureParams `json:"exposure"`
}

// ExposureResult is the payload of a completed exposure and the value
// served by getExposureResult until the next start.
type ExposureResult struct {
	Image      string  `json:"image"`
	Histogram  []int   `json:"histogram"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	BitDepth   int     `json:"bitDepth"`
	Exposure   float64 `json:"exposure"`
	Path       string  `json:"path,omitempty"`
	FinishedAt time.Time `json:"finishedAt"`
}

// CameraBackendFactory builds a camera backend for the chosen channel.
type CameraBackendFactory func(backend device.Backend, logger *zap.Logger) (device.Camera, error)

// Camera owns one logical camera: connection lifecycle, the exposure
// pipeline, sequences and the cooling subsystem.
type Camera struct {
	base
	factory  CameraBackendFactory
	profiles *profile.Store

	cam     device.Camera
	desc    *device.CameraDescription
	connect device.ConnectParams

	wheel  device.FilterWheel
	guider device.Guider

	defaultGain   *int
	defaultOffset *int

	result *ExposureResult

	seqPaused bool
}

// NewCamera creates a disconnected camera manager.
func NewCamera(name string, cfg Config, factory CameraBackendFactory, profiles *profile.Store, logger *zap.Logger) *Camera {
	identity := device.Identity{ID: string(device.KindCamera) + ":" + name, Name: name, Kind: device.KindCamera}
	return &Camera{
		base:     newBase(identity, cfg, logger),
		factory:  factory,
		profiles: profiles,
	}
}

// BindFilterWheel attaches a connected filter wheel for per-exposure
// filter changes.
func (m *Camera) BindFilterWheel(w device.FilterWheel) {
	m.mu.Lock()
	m.wheel = w
	m.mu.Unlock()
}

// BindGuider attaches a connected guider for sequence dithering.
func (m *Camera) BindGuider(g device.Guider) {
	m.mu.Lock()
	m.guider = g
	m.mu.Unlock()
}

// Connect selects the backend, brings the hardware online and records the
// discovered capability set. Accepted from Disconnected and from Errored:
// reconnecting is how a faulted device is recovered, without requiring an
// explicit disconnect first. Every manager's Connect follows this rule.
func (m *Camera) Connect(ctx context.Context, params device.ConnectParams) (*device.CameraDescription, error) {
	m.mu.Lock()
	if m.state != device.Disconnected && m.state != device.Errored {
		state := m.state
		m.mu.Unlock()
		return nil, errs.New(errs.Busy, "camera %s is %s, not connectable", m.identity.Name, state)
	}
	m.state = device.Connecting
	m.mu.Unlock()

	cam, err := m.factory(params.Backend, m.logger)
	if err != nil {
		m.setState(device.Disconnected)
		return nil, err
	}
	if params.Timeout == 0 {
		params.Timeout = m.cfg.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, params.Timeout)
	defer cancel()
	desc, err := cam.Connect(cctx, params)
	if err != nil {
		m.recordError(err)
		m.setState(device.Disconnected)
		return nil, err
	}

	m.mu.Lock()
	m.cam = cam
	m.desc = desc
	m.connect = params
	m.identity.Backend = params.Backend
	m.result = nil
	m.state = device.Ready
	m.lastError = nil
	m.mu.Unlock()
	m.logger.Info("camera connected", zap.String("backend", string(params.Backend)))
	return desc, nil
}

// Disconnect releases the hardware. Refused while a job is in flight.
func (m *Camera) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == device.Busy {
		m.mu.Unlock()
		return errs.New(errs.Busy, "camera %s has an operation in flight", m.identity.Name)
	}
	cam := m.cam
	m.cam = nil
	m.desc = nil
	m.state = device.Disconnected
	m.mu.Unlock()
	if cam == nil {
		return nil
	}
	return cam.Disconnect(ctx)
}

// Reconnect is a gated disconnect followed by connect with the prior
// parameters.
func (m *Camera) Reconnect(ctx context.Context) (*device.CameraDescription, error) {
	m.mu.Lock()
	params := m.connect
	m.mu.Unlock()
	if err := m.Disconnect(ctx); err != nil {
		return nil, err
	}
	return m.Connect(ctx, params)
}

// Description returns the capability set and static properties.
func (m *Camera) Description() (*device.CameraDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.desc == nil {
		return nil, errs.New(errs.NotConnected, "camera %s is not connected", m.identity.Name)
	}
	return m.desc, nil
}

// validateExposure checks exposure parameters against the sensor
// description and fills in defaults. Called with a consistent snapshot
// of the description.
func (m *Camera) validateExposure(params *ExposureParams) error {
	m.mu.Lock()
	desc := m.desc
	defaultGain, defaultOffset := m.defaultGain, m.defaultOffset
	m.mu.Unlock()
	if desc == nil {
		return errs.New(errs.NotConnected, "camera %s is not connected", m.identity.Name)
	}
	props := desc.Properties

	if params.Exposure <= 0 {
		return errs.New(errs.InvalidArgument, "exposure must be positive, got %g", params.Exposure)
	}
	if props.MaxExposure > 0 && params.Exposure > props.MaxExposure {
		return errs.New(errs.InvalidArgument, "exposure %gs exceeds the maximum %gs", params.Exposure, props.MaxExposure)
	}
	if params.Gain == nil {
		params.Gain = defaultGain
	}
	if params.Gain != nil {
		if !desc.Capabilities.Has(device.CanSetGain) {
			return errs.New(errs.Unsupported, "camera %s has no gain control", m.identity.Name)
		}
		if *params.Gain < props.MinGain || *params.Gain > props.MaxGain {
			return errs.New(errs.InvalidArgument, "gain %d outside [%d, %d]", *params.Gain, props.MinGain, props.MaxGain)
		}
	}
	if params.Offset == nil {
		params.Offset = defaultOffset
	}
	if params.Offset != nil {
		if !desc.Capabilities.Has(device.CanSetOffset) {
			return errs.New(errs.Unsupported, "camera %s has no offset control", m.identity.Name)
		}
		if *params.Offset < props.MinOffset || *params.Offset > props.MaxOffset {
			return errs.New(errs.InvalidArgument, "offset %d outside [%d, %d]", *params.Offset, props.MinOffset, props.MaxOffset)
		}
	}
	if params.Binning != nil {
		if *params.Binning < 1 || (props.MaxBin > 0 && *params.Binning > props.MaxBin) {
			return errs.New(errs.InvalidArgument, "binning %d outside [1, %d]", *params.Binning, props.MaxBin)
		}
	}
	if params.ROI.Empty() {
		params.ROI = device.ROI{Width: props.MaxWidth, Height: props.MaxHeight}
	}
	if params.ROI.StartX < 0 || params.ROI.StartY < 0 ||
		params.ROI.StartX+params.ROI.Width > props.MaxWidth ||
		params.ROI.StartY+params.ROI.Height > props.MaxHeight {
		return errs.New(errs.InvalidArgument, "roi %+v exceeds the %dx%d sensor", params.ROI, props.MaxWidth, props.MaxHeight)
	}
	return nil
}

// StartExposure validates, transitions to Busy and runs the exposure
// pipeline on the worker.
func (m *Camera) StartExposure(params ExposureParams) error {
	if err := m.validateExposure(&params); err != nil {
		return err
	}
	return m.startJob("remoteStartExposure", func(ctx context.Context, j *job) *protocol.Response {
		m.mu.Lock()
		m.result = nil
		m.mu.Unlock()
		return m.runExposure(ctx, j, params, "remoteStartExposure", "", 0)
	})
}

// runExposure drives one exposure end to end and returns its terminal
// response. Shared by single exposures and sequence frames.
func (m *Camera) runExposure(ctx context.Context, j *job, params ExposureParams, event, sequenceName string, index int) *protocol.Response {
	m.mu.Lock()
	cam := m.cam
	desc := m.desc
	wheel := m.wheel
	m.mu.Unlock()
	if cam == nil || desc == nil {
		return protocol.Err(event, errs.New(errs.NotConnected, "camera went away"))
	}

	if params.FilterSlot != nil {
		if wheel == nil {
			return protocol.Err(event, errs.New(errs.InvalidArgument, "no filter wheel bound to this camera"))
		}
		if err := m.changeFilter(ctx, j, wheel, *params.FilterSlot); err != nil {
			return protocol.Err(event, err)
		}
	}

	// Apply order: gain, offset, binning, roi.
	if params.Gain != nil && desc.Capabilities.Has(device.CanSetGain) {
		if err := cam.SetGain(ctx, *params.Gain); err != nil {
			return protocol.Err(event, err)
		}
	}
	if params.Offset != nil && desc.Capabilities.Has(device.CanSetOffset) {
		if err := cam.SetOffset(ctx, *params.Offset); err != nil {
			return protocol.Err(event, err)
		}
	}
	if params.Binning != nil && desc.Capabilities.Has(device.CanBin) {
		if err := cam.SetBinning(ctx, *params.Binning); err != nil {
			return protocol.Err(event, err)
		}
	}
	if err := cam.SetROI(ctx, params.ROI); err != nil {
		return protocol.Err(event, err)
	}

	light := !params.Image.Dark
	if err := cam.StartExposure(ctx, params.Exposure, light); err != nil {
		return protocol.Err(event, err)
	}
	started := time.Now()

	for {
		if aborted(ctx, j) {
			if desc.Capabilities.Has(device.CanAbort) {
				stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := cam.StopExposure(stopCtx); err != nil {
					m.logger.Warn("backend stop failed during abort", zap.Error(err))
				}
				cancel()
			}
			return abortedResponse(event, "exposure")
		}
		state, percent, err := cam.ExposureState(ctx)
		if err != nil {
			return protocol.Err(event, err)
		}
		switch state {
		case device.ExposureFailed:
			return protocol.Err(event, errs.New(errs.DriverError, "exposure failed in the backend"))
		case device.ExposureCompleted:
			return m.completeExposure(ctx, cam, desc, params, event, sequenceName, index, started)
		default:
			m.emit(protocol.OK("exposureProgress", string(state), map[string]interface{}{
				"state":   string(state),
				"percent": percent,
				"elapsed": time.Since(started).Seconds(),
			}).Progress())
		}
		m.sleepOrAbort(ctx, j, m.cfg.PollInterval)
	}
}

// completeExposure downloads the frame and assembles the result payload.
func (m *Camera) completeExposure(ctx context.Context, cam device.Camera, desc *device.CameraDescription, params ExposureParams, event, sequenceName string, index int, started time.Time) *protocol.Response {
	frame, err := cam.DownloadFrame(ctx)
	if err != nil {
		return protocol.Err(event, err)
	}
	hist, err := image.Histogram(frame)
	if err != nil {
		return protocol.Err(event, err)
	}

	result := &ExposureResult{
		Image:      image.EncodeBase64(frame),
		Histogram:  hist,
		Width:      frame.Width,
		Height:     frame.Height,
		BitDepth:   frame.BitDepth,
		Exposure:   params.Exposure,
		FinishedAt: time.Now(),
	}

	if params.Image.Save && params.Image.Kind == "fits" {
		name := params.Image.Name
		if name == "" {
			name = image.ArtifactName(sequenceName, index, "fits", result.FinishedAt)
		}
		path := image.ArtifactPath(m.cfg.ArtifactDir, name)
		meta := image.FITSMeta{
			ExposureSeconds: params.Exposure,
			Timestamp:       started,
			Binning:         valueOr(params.Binning, 1),
			Gain:            valueOr(params.Gain, 0),
			Offset:          valueOr(params.Offset, 0),
			SensorType:      desc.Properties.SensorName,
			FrameKind:       frameKind(params.Image.Dark),
			BayerPattern:    desc.Properties.BayerPattern,
		}
		if err := image.WriteFITS(path, frame, meta); err != nil {
			return protocol.Err(event, err)
		}
		result.Path = path
	}

	m.mu.Lock()
	m.result = result
	m.mu.Unlock()
	return protocol.OK(event, "exposure completed", result)
}

func frameKind(dark bool) device.FrameKind {
	if dark {
		return device.FrameDark
	}
	return device.FrameLight
}

func valueOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}

// changeFilter rotates the bound wheel and waits for it to settle.
func (m *Camera) changeFilter(ctx context.Context, j *job, wheel device.FilterWheel, slot int) error {
	if err := wheel.SetPosition(ctx, slot); err != nil {
		return err
	}
	deadline := time.Now().Add(m.cfg.Timeout)
	for {
		pos, err := wheel.Position(ctx)
		if err != nil {
			return err
		}
		if pos == slot {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.New(errs.Timeout, "filter wheel did not reach slot %d", slot)
		}
		if !m.sleepOrAbort(ctx, j, m.cfg.PollInterval) {
			return errs.New(errs.Aborted, "filter change aborted")
		}
	}
}

// AbortExposure signals the running exposure worker.
func (m *Camera) AbortExposure() error {
	m.mu.Lock()
	desc := m.desc
	m.mu.Unlock()
	if desc != nil && !desc.Capabilities.Has(device.CanAbort) {
		return errs.New(errs.Unsupported, "camera %s cannot abort exposures", m.identity.Name)
	}
	return m.abortJob()
}

// ExposureStatus reports the current phase without side effects. Valid
// from Ready, Busy and Error.
func (m *Camera) ExposureStatus(ctx context.Context) (map[string]interface{}, error) {
	m.mu.Lock()
	cam := m.cam
	state := m.state
	m.mu.Unlock()
	if cam == nil {
		return nil, errs.New(errs.NotConnected, "camera %s is not connected", m.identity.Name)
	}
	expState, percent, err := cam.ExposureState(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"connState": string(state),
		"state":     string(expState),
		"percent":   percent,
	}, nil
}

// ExposureResult serves the last completed exposure. Idempotent; cleared
// by the next start.
func (m *Camera) ExposureResult() (*ExposureResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result == nil {
		return nil, errs.New(errs.InvalidArgument, "no completed exposure to fetch")
	}
	return m.result, nil
}

// StartSequence runs count exposures on the worker, honoring pause and
// abort flags at frame boundaries and optionally dithering between
// frames.
func (m *Camera) StartSequence(params SequenceParams) error {
	if params.Count <= 0 {
		return errs.New(errs.InvalidArgument, "sequence count must be positive, got %d", params.Count)
	}
	exposure := params.Exposure
	if err := m.validateExposure(&exposure); err != nil {
		return err
	}
	m.mu.Lock()
	m.seqPaused = false
	m.mu.Unlock()
	return m.startJob("remoteSequenceExposure", func(ctx context.Context, j *job) *protocol.Response {
		m.mu.Lock()
		m.result = nil
		m.mu.Unlock()
		return m.runSequence(ctx, j, params, exposure)
	})
}

func (m *Camera) runSequence(ctx context.Context, j *job, params SequenceParams, exposure ExposureParams) *protocol.Response {
	const event = "remoteSequenceExposure"
	completed := 0
	for i := 0; i < params.Count; i++ {
		if !m.waitWhilePaused(ctx, j) {
			return abortedResponse(event, fmt.Sprintf("sequence %q", params.Name))
		}

		resp := m.runExposure(ctx, j, exposure, "sequenceFrame", params.Name, i)
		if resp.Status == protocol.StatusError {
			return protocol.Err(event, errs.New(errs.Kind(errKindOf(resp)), "frame %d of %q failed: %s", i+1, params.Name, resp.Message))
		}
		if resp.Status == protocol.StatusWarning {
			return abortedResponse(event, fmt.Sprintf("sequence %q", params.Name))
		}
		completed++
		m.emit(protocol.OK("sequenceProgress", fmt.Sprintf("frame %d/%d done", i+1, params.Count), map[string]interface{}{
			"name":      params.Name,
			"completed": completed,
			"total":     params.Count,
		}).Progress())

		last := i == params.Count-1
		if last {
			break
		}
		if params.Dither {
			if err := m.ditherAndSettle(ctx, j, params.Settle); err != nil {
				return protocol.Err(event, err)
			}
		}
		if params.Delay > 0 {
			if !m.sleepOrAbort(ctx, j, time.Duration(params.Delay*float64(time.Second))) {
				return abortedResponse(event, fmt.Sprintf("sequence %q", params.Name))
			}
		}
	}
	return protocol.OK(event, "sequence completed", map[string]interface{}{
		"name":      params.Name,
		"completed": completed,
	})
}

// waitWhilePaused blocks at a frame boundary while the pause flag is set.
// Returns false on abort.
func (m *Camera) waitWhilePaused(ctx context.Context, j *job) bool {
	for {
		if aborted(ctx, j) {
			return false
		}
		m.mu.Lock()
		paused := m.seqPaused
		m.mu.Unlock()
		if !paused {
			return true
		}
		if !m.sleepOrAbort(ctx, j, m.cfg.PollInterval) {
			return false
		}
	}
}

// ditherAndSettle asks the bound guider to dither and waits for settling
// to finish.
func (m *Camera) ditherAndSettle(ctx context.Context, j *job, settle device.SettleParams) error {
	m.mu.Lock()
	guider := m.guider
	m.mu.Unlock()
	if guider == nil {
		return errs.New(errs.InvalidArgument, "no guider bound for dithering")
	}
	pixels := settle.Pixels
	if pixels <= 0 {
		pixels = 3
	}
	if err := guider.Dither(ctx, pixels, false, settle); err != nil {
		return err
	}
	timeout := settle.Timeout
	if timeout <= 0 {
		timeout = 60
	}
	deadline := time.Now().Add(time.Duration(timeout * float64(time.Second)))
	// Give the settle phase a moment to begin before watching for it to
	// end.
	if !m.sleepOrAbort(ctx, j, time.Second) {
		return errs.New(errs.Aborted, "dither aborted")
	}
	for {
		state := guider.State()
		if !state.Settling && !state.DitherInFlight {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.New(errs.Timeout, "guider did not settle within %gs", timeout)
		}
		if !m.sleepOrAbort(ctx, j, m.cfg.PollInterval) {
			return errs.New(errs.Aborted, "dither aborted")
		}
	}
}

// PauseSequence requests a pause at the next frame boundary.
func (m *Camera) PauseSequence() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.job == nil {
		return errs.New(errs.InvalidArgument, "no sequence in flight")
	}
	m.seqPaused = true
	return nil
}

// ContinueSequence clears the pause flag.
func (m *Camera) ContinueSequence() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seqPaused = false
	return nil
}

// AbortSequence cancels the running sequence at the next cooperative
// point.
func (m *Camera) AbortSequence() error {
	return m.abortJob()
}

// SetCooling switches the cooler. Requires canCool.
func (m *Camera) SetCooling(ctx context.Context, enable bool) error {
	cam, desc, err := m.connected()
	if err != nil {
		return err
	}
	if !desc.Capabilities.Has(device.CanCool) {
		return errs.New(errs.Unsupported, "camera %s has no cooler", m.identity.Name)
	}
	return cam.SetCooler(ctx, enable)
}

// CoolingTo sets the temperature setpoint. Requires canCool.
func (m *Camera) CoolingTo(ctx context.Context, celsius float64) error {
	cam, desc, err := m.connected()
	if err != nil {
		return err
	}
	if !desc.Capabilities.Has(device.CanCool) {
		return errs.New(errs.Unsupported, "camera %s has no cooler", m.identity.Name)
	}
	return cam.SetTargetTemperature(ctx, celsius)
}

// GetCoolingStatus reads the cooling snapshot. Power is omitted when the
// backend cannot report it.
func (m *Camera) GetCoolingStatus(ctx context.Context) (*device.CoolingStatus, error) {
	cam, _, err := m.connected()
	if err != nil {
		return nil, err
	}
	return cam.CoolingStatus(ctx)
}

func (m *Camera) connected() (device.Camera, *device.CameraDescription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cam == nil || m.desc == nil {
		return nil, nil, errs.New(errs.NotConnected, "camera %s is not connected", m.identity.Name)
	}
	return m.cam, m.desc, nil
}

// GetConfiguration serializes the device record.
func (m *Camera) GetConfiguration() map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := map[string]interface{}{
		"name":      m.identity.Name,
		"kind":      string(m.identity.Kind),
		"backend":   string(m.identity.Backend),
		"connState": string(m.state),
	}
	if m.desc != nil {
		cfg["capabilities"] = m.desc.Capabilities
		cfg["properties"] = m.desc.Properties
	}
	if m.defaultGain != nil {
		cfg["defaultGain"] = *m.defaultGain
	}
	if m.defaultOffset != nil {
		cfg["defaultOffset"] = *m.defaultOffset
	}
	if m.lastError != nil {
		cfg["lastError"] = *m.lastError
	}
	return cfg
}

// ConfigUpdate carries typed setConfiguration updates. Cooling target is
// applied immediately; default gain and offset are deferred to the next
// exposure.
type ConfigUpdate struct {
	CoolingTarget *float64 `json:"coolingTarget,omitempty"`
	DefaultGain   *int     `json:"defaultGain,omitempty"`
	DefaultOffset *int     `json:"defaultOffset,omitempty"`
}

// SetConfiguration applies an update.
func (m *Camera) SetConfiguration(ctx context.Context, update ConfigUpdate) error {
	if update.CoolingTarget != nil {
		if err := m.CoolingTo(ctx, *update.CoolingTarget); err != nil {
			return err
		}
	}
	m.mu.Lock()
	if update.DefaultGain != nil {
		m.defaultGain = update.DefaultGain
	}
	if update.DefaultOffset != nil {
		m.defaultOffset = update.DefaultOffset
	}
	m.mu.Unlock()
	return nil
}

// SaveConfiguration writes the saved-preferences snapshot atomically.
func (m *Camera) SaveConfiguration() error {
	if m.profiles == nil {
		return errs.New(errs.PersistenceError, "no profile store configured")
	}
	m.mu.Lock()
	snap := &profile.Snapshot{
		Name:    m.identity.Name,
		Kind:    m.identity.Kind,
		Backend: m.identity.Backend,
		Connect: m.connect,
		Prefs:   map[string]any{},
	}
	if m.defaultGain != nil {
		snap.Prefs["defaultGain"] = *m.defaultGain
	}
	if m.defaultOffset != nil {
		snap.Prefs["defaultOffset"] = *m.defaultOffset
	}
	m.mu.Unlock()
	return m.profiles.Save(snap)
}

// LoadConfiguration replaces the saved-preferences portion of the record.
// Live dynamic state is untouched.
func (m *Camera) LoadConfiguration() error {
	if m.profiles == nil {
		return errs.New(errs.PersistenceError, "no profile store configured")
	}
	snap, err := m.profiles.Load(m.identity.Kind, m.identity.Name)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.connect = snap.Connect
	if v, ok := snap.Prefs["defaultGain"]; ok {
		if gain, ok := asInt(v); ok {
			m.defaultGain = &gain
		}
	}
	if v, ok := snap.Prefs["defaultOffset"]; ok {
		if offset, ok := asInt(v); ok {
			m.defaultOffset = &offset
		}
	}
	m.mu.Unlock()
	return nil
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func errKindOf(resp *protocol.Response) string {
	if params, ok := resp.Params.(map[string]interface{}); ok {
		if kind, ok := params["kind"].(string); ok {
			return kind
		}
	}
	return string(errs.BackendError)
}
