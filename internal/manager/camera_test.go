package manager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// fakeCamera is a scripted in-memory backend. pollsToComplete controls how
// many ExposureState calls an exposure takes before reporting Completed.
type fakeCamera struct {
	mu              sync.Mutex
	desc            *device.CameraDescription
	connected       bool
	exposing        bool
	stopped         bool
	failExposure    bool
	polls           int
	pollsToComplete int

	gain    int
	offset  int
	binning int
	roi     device.ROI

	coolerOn bool
	target   float64
}

func defaultFakeDescription() *device.CameraDescription {
	return &device.CameraDescription{
		Capabilities: device.Capabilities{
			device.CanSetGain:   true,
			device.CanSetOffset: true,
			device.CanBin:       true,
			device.CanAbort:     true,
			device.CanCool:      true,
		},
		Properties: device.CameraProperties{
			SensorName:  "FakeSensor",
			MaxWidth:    4,
			MaxHeight:   4,
			MaxBin:      2,
			BitDepth:    8,
			MinGain:     0,
			MaxGain:     100,
			MinOffset:   0,
			MaxOffset:   50,
			MaxExposure: 300,
		},
	}
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{desc: defaultFakeDescription(), pollsToComplete: 1}
}

func (f *fakeCamera) Connect(ctx context.Context, params device.ConnectParams) (*device.CameraDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = true
	return f.desc, nil
}

func (f *fakeCamera) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeCamera) SetGain(ctx context.Context, gain int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gain = gain
	return nil
}

func (f *fakeCamera) SetOffset(ctx context.Context, offset int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.offset = offset
	return nil
}

func (f *fakeCamera) SetBinning(ctx context.Context, bin int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binning = bin
	return nil
}

func (f *fakeCamera) SetROI(ctx context.Context, roi device.ROI) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roi = roi
	return nil
}

func (f *fakeCamera) StartExposure(ctx context.Context, seconds float64, light bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exposing = true
	f.stopped = false
	f.polls = 0
	return nil
}

func (f *fakeCamera) StopExposure(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exposing = false
	f.stopped = true
	return nil
}

func (f *fakeCamera) ExposureState(ctx context.Context) (device.ExposureState, float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failExposure {
		return device.ExposureFailed, 0, nil
	}
	if !f.exposing {
		return device.ExposureIdle, 0, nil
	}
	f.polls++
	if f.polls >= f.pollsToComplete {
		return device.ExposureCompleted, 100, nil
	}
	return device.ExposureExposing, float64(f.polls) / float64(f.pollsToComplete) * 100, nil
}

func (f *fakeCamera) DownloadFrame(ctx context.Context) (*device.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exposing = false
	return &device.Frame{
		Data:     make([]byte, 16),
		Width:    4,
		Height:   4,
		Channels: 1,
		BitDepth: 8,
	}, nil
}

func (f *fakeCamera) SetCooler(ctx context.Context, on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coolerOn = on
	return nil
}

func (f *fakeCamera) SetTargetTemperature(ctx context.Context, celsius float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = celsius
	return nil
}

func (f *fakeCamera) CoolingStatus(ctx context.Context) (*device.CoolingStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &device.CoolingStatus{CoolerOn: f.coolerOn, Temperature: -9.5, Target: f.target, Power: 40}, nil
}

func (f *fakeCamera) wasStopped() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopped
}

// chanSink forwards every emitted event into a buffered channel.
type chanSink struct {
	ch chan *protocol.Response
}

func newChanSink() *chanSink {
	return &chanSink{ch: make(chan *protocol.Response, 128)}
}

func (s *chanSink) Emit(resp *protocol.Response) {
	select {
	case s.ch <- resp:
	default:
	}
}

// waitTerminal drains progress events until the first terminal one.
func waitTerminal(t *testing.T, s *chanSink) *protocol.Response {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case resp := <-s.ch:
			if resp.Terminal() {
				return resp
			}
		case <-deadline:
			t.Fatal("no terminal event within deadline")
			return nil
		}
	}
}

func newTestCamera(t *testing.T, fake *fakeCamera) (*Camera, *chanSink) {
	t.Helper()
	cfg := Config{PollInterval: 100 * time.Millisecond, Timeout: 5 * time.Second, ArtifactDir: t.TempDir()}
	m := NewCamera("test-cam", cfg, func(backend device.Backend, logger *zap.Logger) (device.Camera, error) {
		return fake, nil
	}, nil, zap.NewNop())
	sink := newChanSink()
	m.AddSink(sink)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, sink
}

func connectTestCamera(t *testing.T, m *Camera) *device.CameraDescription {
	t.Helper()
	desc, err := m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendASCOM})
	require.NoError(t, err)
	return desc
}

func TestCameraConnectLifecycle(t *testing.T) {
	fake := newFakeCamera()
	m, _ := newTestCamera(t, fake)

	assert.Equal(t, device.Disconnected, m.State())
	_, err := m.Description()
	assert.True(t, errs.IsKind(err, errs.NotConnected))

	desc := connectTestCamera(t, m)
	assert.Equal(t, device.Ready, m.State())
	assert.True(t, desc.Capabilities.Has(device.CanAbort))
	assert.Equal(t, device.BackendASCOM, m.Identity().Backend)

	// A second connect while Ready is refused.
	_, err = m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendASCOM})
	assert.True(t, errs.IsKind(err, errs.Busy))

	require.NoError(t, m.Disconnect(context.Background()))
	assert.Equal(t, device.Disconnected, m.State())
	assert.False(t, fake.connected)
}

func TestCameraExposure(t *testing.T) {
	fake := newFakeCamera()
	fake.pollsToComplete = 3
	m, sink := newTestCamera(t, fake)
	connectTestCamera(t, m)

	gain := 42
	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 0.5, Gain: &gain}))
	assert.Equal(t, device.Busy, m.State())

	resp := waitTerminal(t, sink)
	assert.Equal(t, "remoteStartExposure", resp.Event)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, device.Ready, m.State())
	assert.Equal(t, 42, fake.gain)

	result, err := m.ExposureResult()
	require.NoError(t, err)
	assert.NotEmpty(t, result.Image)
	assert.Len(t, result.Histogram, 256)
	assert.Equal(t, 4, result.Width)
	assert.Equal(t, 4, result.Height)
	assert.Equal(t, 0.5, result.Exposure)
}

func TestCameraSingleFlight(t *testing.T) {
	fake := newFakeCamera()
	fake.pollsToComplete = 1000
	m, sink := newTestCamera(t, fake)
	connectTestCamera(t, m)

	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 60}))

	err := m.StartExposure(ExposureParams{Exposure: 1})
	assert.True(t, errs.IsKind(err, errs.Busy))

	require.NoError(t, m.AbortExposure())
	resp := waitTerminal(t, sink)
	assert.Equal(t, protocol.StatusWarning, resp.Status)
	assert.Equal(t, device.Ready, m.State())
	assert.True(t, fake.wasStopped())
}

func TestCameraExposureValidation(t *testing.T) {
	fake := newFakeCamera()
	m, _ := newTestCamera(t, fake)
	connectTestCamera(t, m)

	t.Run("nonpositive exposure", func(t *testing.T) {
		err := m.StartExposure(ExposureParams{Exposure: 0})
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})

	t.Run("exposure over maximum", func(t *testing.T) {
		err := m.StartExposure(ExposureParams{Exposure: 301})
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})

	t.Run("gain out of range", func(t *testing.T) {
		gain := 200
		err := m.StartExposure(ExposureParams{Exposure: 1, Gain: &gain})
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})

	t.Run("binning out of range", func(t *testing.T) {
		bin := 4
		err := m.StartExposure(ExposureParams{Exposure: 1, Binning: &bin})
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})

	t.Run("roi outside sensor", func(t *testing.T) {
		err := m.StartExposure(ExposureParams{Exposure: 1, ROI: device.ROI{StartX: 2, Width: 4, Height: 4}})
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})
}

func TestCameraGainUnsupported(t *testing.T) {
	fake := newFakeCamera()
	delete(fake.desc.Capabilities, device.CanSetGain)
	m, _ := newTestCamera(t, fake)
	connectTestCamera(t, m)

	gain := 10
	err := m.StartExposure(ExposureParams{Exposure: 1, Gain: &gain})
	assert.True(t, errs.IsKind(err, errs.Unsupported))
}

func TestCameraExposureFailure(t *testing.T) {
	fake := newFakeCamera()
	fake.failExposure = true
	m, sink := newTestCamera(t, fake)
	connectTestCamera(t, m)

	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 1}))
	resp := waitTerminal(t, sink)
	assert.Equal(t, protocol.StatusError, resp.Status)
	assert.Equal(t, device.Errored, m.State())

	// A new job is refused until reconnect.
	err := m.StartExposure(ExposureParams{Exposure: 1})
	assert.True(t, errs.IsKind(err, errs.NotConnected))
}

func TestCameraAbortWithoutJob(t *testing.T) {
	fake := newFakeCamera()
	m, _ := newTestCamera(t, fake)
	connectTestCamera(t, m)

	err := m.AbortExposure()
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestCameraSequence(t *testing.T) {
	fake := newFakeCamera()
	m, sink := newTestCamera(t, fake)
	connectTestCamera(t, m)

	require.NoError(t, m.StartSequence(SequenceParams{
		Name:     "flats",
		Count:    3,
		Exposure: ExposureParams{Exposure: 0.1},
	}))

	resp := waitTerminal(t, sink)
	assert.Equal(t, "remoteSequenceExposure", resp.Event)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	params, ok := resp.Params.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 3, params["completed"])
}

func TestCameraSequenceValidation(t *testing.T) {
	fake := newFakeCamera()
	m, _ := newTestCamera(t, fake)
	connectTestCamera(t, m)

	err := m.StartSequence(SequenceParams{Count: 0, Exposure: ExposureParams{Exposure: 1}})
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))

	err = m.PauseSequence()
	assert.True(t, errs.IsKind(err, errs.InvalidArgument))
}

func TestCameraExposureStatus(t *testing.T) {
	fake := newFakeCamera()
	m, _ := newTestCamera(t, fake)

	_, err := m.ExposureStatus(context.Background())
	assert.True(t, errs.IsKind(err, errs.NotConnected))

	connectTestCamera(t, m)
	status, err := m.ExposureStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, string(device.Ready), status["connState"])
	assert.Equal(t, string(device.ExposureIdle), status["state"])
}

func TestCameraCooling(t *testing.T) {
	fake := newFakeCamera()
	m, _ := newTestCamera(t, fake)
	connectTestCamera(t, m)

	require.NoError(t, m.SetCooling(context.Background(), true))
	require.NoError(t, m.CoolingTo(context.Background(), -10))

	status, err := m.GetCoolingStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.CoolerOn)
	assert.Equal(t, -10.0, status.Target)
}

func TestCameraCoolingUnsupported(t *testing.T) {
	fake := newFakeCamera()
	delete(fake.desc.Capabilities, device.CanCool)
	m, _ := newTestCamera(t, fake)
	connectTestCamera(t, m)

	err := m.SetCooling(context.Background(), true)
	assert.True(t, errs.IsKind(err, errs.Unsupported))
	err = m.CoolingTo(context.Background(), -5)
	assert.True(t, errs.IsKind(err, errs.Unsupported))
}

func TestCameraConfiguration(t *testing.T) {
	fake := newFakeCamera()
	m, sink := newTestCamera(t, fake)
	connectTestCamera(t, m)

	gain := 25
	offset := 7
	require.NoError(t, m.SetConfiguration(context.Background(), ConfigUpdate{
		DefaultGain:   &gain,
		DefaultOffset: &offset,
	}))

	cfg := m.GetConfiguration()
	assert.Equal(t, 25, cfg["defaultGain"])
	assert.Equal(t, 7, cfg["defaultOffset"])
	assert.Equal(t, "camera", cfg["kind"])

	// The defaults apply to the next exposure that omits them.
	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 0.1}))
	resp := waitTerminal(t, sink)
	require.Equal(t, protocol.StatusOK, resp.Status)
	assert.Equal(t, 25, fake.gain)
	assert.Equal(t, 7, fake.offset)
}

func TestCameraResultClearedByNextStart(t *testing.T) {
	fake := newFakeCamera()
	m, sink := newTestCamera(t, fake)
	connectTestCamera(t, m)

	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 0.2}))
	resp := waitTerminal(t, sink)
	require.Equal(t, protocol.StatusOK, resp.Status)
	_, err := m.ExposureResult()
	require.NoError(t, err)

	// Starting the next exposure invalidates the previous result.
	fake.mu.Lock()
	fake.pollsToComplete = 1000
	fake.mu.Unlock()
	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 60}))
	require.Eventually(t, func() bool {
		_, err := m.ExposureResult()
		return errs.IsKind(err, errs.InvalidArgument)
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, m.AbortExposure())
	waitTerminal(t, sink)
}

func TestCameraReconnectFromErrored(t *testing.T) {
	fake := newFakeCamera()
	fake.failExposure = true
	m, sink := newTestCamera(t, fake)
	connectTestCamera(t, m)

	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 0.2}))
	resp := waitTerminal(t, sink)
	require.Equal(t, protocol.StatusError, resp.Status)
	require.Equal(t, device.Errored, m.State())

	// Connecting again recovers the device without an explicit disconnect.
	fake.mu.Lock()
	fake.failExposure = false
	fake.mu.Unlock()
	_, err := m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendASCOM})
	require.NoError(t, err)
	assert.Equal(t, device.Ready, m.State())

	require.NoError(t, m.StartExposure(ExposureParams{Exposure: 0.2}))
	resp = waitTerminal(t, sink)
	assert.Equal(t, protocol.StatusOK, resp.Status)
}
