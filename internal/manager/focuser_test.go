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

// fakeFocuser reports moving for a fixed number of Status polls, then
// settles at the target.
type fakeFocuser struct {
	mu           sync.Mutex
	desc         *device.FocuserDescription
	position     int
	target       int
	movingPolls  int
	pollsPerMove int
	halted       bool
}

func newFakeFocuser() *fakeFocuser {
	return &fakeFocuser{
		desc: &device.FocuserDescription{
			Capabilities: device.Capabilities{
				device.CanAbsolute:    true,
				device.CanTemperature: true,
			},
			Properties: device.FocuserProperties{
				MaxStep:      10000,
				MaxIncrement: 1000,
			},
		},
		pollsPerMove: 1,
	}
}

func (f *fakeFocuser) Connect(ctx context.Context, params device.ConnectParams) (*device.FocuserDescription, error) {
	return f.desc, nil
}

func (f *fakeFocuser) Disconnect(ctx context.Context) error { return nil }

func (f *fakeFocuser) Status(ctx context.Context) (*device.FocuserStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.movingPolls > 0 {
		f.movingPolls--
		if f.movingPolls == 0 {
			f.position = f.target
		}
		return &device.FocuserStatus{Position: f.position, Moving: f.movingPolls > 0, Temperature: 4.2}, nil
	}
	return &device.FocuserStatus{Position: f.position, Moving: false, Temperature: 4.2}, nil
}

func (f *fakeFocuser) MoveTo(ctx context.Context, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = position
	f.movingPolls = f.pollsPerMove
	return nil
}

func (f *fakeFocuser) Move(ctx context.Context, step int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.target = f.position + step
	f.movingPolls = f.pollsPerMove
	return nil
}

func (f *fakeFocuser) Halt(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted = true
	f.movingPolls = 0
	return nil
}

func newTestFocuser(t *testing.T, fake *fakeFocuser) (*Focuser, *chanSink) {
	t.Helper()
	cfg := Config{PollInterval: 100 * time.Millisecond, Timeout: 5 * time.Second}
	m := NewFocuser("test-foc", cfg, func(backend device.Backend, logger *zap.Logger) (device.Focuser, error) {
		return fake, nil
	}, zap.NewNop())
	sink := newChanSink()
	m.AddSink(sink)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, sink
}

func connectTestFocuser(t *testing.T, m *Focuser) {
	t.Helper()
	_, err := m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendINDI})
	require.NoError(t, err)
}

func TestFocuserMoveTo(t *testing.T) {
	fake := newFakeFocuser()
	fake.pollsPerMove = 2
	m, sink := newTestFocuser(t, fake)
	connectTestFocuser(t, m)

	require.NoError(t, m.MoveTo(5000))
	resp := waitTerminal(t, sink)
	assert.Equal(t, "remoteMoveTo", resp.Event)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	params, ok := resp.Params.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 5000, params["position"])

	pos, err := m.GetPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5000, pos)
}

func TestFocuserRelativeMove(t *testing.T) {
	fake := newFakeFocuser()
	fake.position = 100
	m, sink := newTestFocuser(t, fake)
	connectTestFocuser(t, m)

	require.NoError(t, m.Move(-50))
	resp := waitTerminal(t, sink)
	assert.Equal(t, protocol.StatusOK, resp.Status)

	pos, err := m.GetPosition(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 50, pos)
}

func TestFocuserMoveValidation(t *testing.T) {
	fake := newFakeFocuser()
	m, _ := newTestFocuser(t, fake)
	connectTestFocuser(t, m)

	t.Run("zero step", func(t *testing.T) {
		err := m.Move(0)
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})

	t.Run("step over max increment", func(t *testing.T) {
		err := m.Move(2000)
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})

	t.Run("position out of range", func(t *testing.T) {
		err := m.MoveTo(20000)
		assert.True(t, errs.IsKind(err, errs.InvalidArgument))
	})
}

func TestFocuserMoveToWithoutAbsolute(t *testing.T) {
	fake := newFakeFocuser()
	delete(fake.desc.Capabilities, device.CanAbsolute)
	m, _ := newTestFocuser(t, fake)
	connectTestFocuser(t, m)

	err := m.MoveTo(100)
	assert.True(t, errs.IsKind(err, errs.Unsupported))
}

func TestFocuserAbortHaltsBackend(t *testing.T) {
	fake := newFakeFocuser()
	fake.pollsPerMove = 1000
	m, sink := newTestFocuser(t, fake)
	connectTestFocuser(t, m)

	require.NoError(t, m.MoveTo(9000))
	require.NoError(t, m.Abort())

	resp := waitTerminal(t, sink)
	assert.Equal(t, protocol.StatusWarning, resp.Status)
	assert.Equal(t, device.Ready, m.State())

	fake.mu.Lock()
	halted := fake.halted
	fake.mu.Unlock()
	assert.True(t, halted)
}

func TestFocuserTemperature(t *testing.T) {
	fake := newFakeFocuser()
	m, _ := newTestFocuser(t, fake)
	connectTestFocuser(t, m)

	temp, err := m.GetTemperature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4.2, temp)

	delete(fake.desc.Capabilities, device.CanTemperature)
	_, err = m.GetTemperature(context.Background())
	assert.True(t, errs.IsKind(err, errs.Unsupported))
}

// fakeWheel settles on the requested slot after one extra Position poll.
type fakeWheel struct {
	mu       sync.Mutex
	desc     *device.FilterWheelDescription
	position int
	pending  int
	moving   bool
}

func newFakeWheel() *fakeWheel {
	return &fakeWheel{
		desc: &device.FilterWheelDescription{
			Properties: device.FilterWheelProperties{
				SlotCount:    5,
				Names:        []string{"L", "R", "G", "B", "Ha"},
				FocusOffsets: []int{0, 10, 12, 8, 40},
			},
		},
	}
}

func (f *fakeWheel) Connect(ctx context.Context, params device.ConnectParams) (*device.FilterWheelDescription, error) {
	return f.desc, nil
}

func (f *fakeWheel) Disconnect(ctx context.Context) error { return nil }

func (f *fakeWheel) Position(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moving {
		f.position = f.pending
		f.moving = false
		return -1, nil
	}
	return f.position, nil
}

func (f *fakeWheel) SetPosition(ctx context.Context, slot int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = slot
	f.moving = true
	return nil
}

func newTestWheel(t *testing.T, fake *fakeWheel) (*FilterWheel, *chanSink) {
	t.Helper()
	cfg := Config{PollInterval: 100 * time.Millisecond, Timeout: 5 * time.Second}
	m := NewFilterWheel("test-wheel", cfg, func(backend device.Backend, logger *zap.Logger) (device.FilterWheel, error) {
		return fake, nil
	}, zap.NewNop())
	sink := newChanSink()
	m.AddSink(sink)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, sink
}

func TestFilterWheelGoto(t *testing.T) {
	fake := newFakeWheel()
	m, sink := newTestWheel(t, fake)
	_, err := m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendINDI})
	require.NoError(t, err)

	require.NoError(t, m.Goto(3))
	resp := waitTerminal(t, sink)
	assert.Equal(t, protocol.StatusOK, resp.Status)
	params, ok := resp.Params.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 3, params["slot"])
	assert.Equal(t, "B", params["name"])
}

func TestFilterWheelGotoValidation(t *testing.T) {
	fake := newFakeWheel()
	m, _ := newTestWheel(t, fake)
	_, err := m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendINDI})
	require.NoError(t, err)

	assert.True(t, errs.IsKind(m.Goto(-1), errs.InvalidArgument))
	assert.True(t, errs.IsKind(m.Goto(5), errs.InvalidArgument))
}

func TestFilterWheelOffsets(t *testing.T) {
	fake := newFakeWheel()
	m, _ := newTestWheel(t, fake)

	_, err := m.GetPositionOffsets()
	assert.True(t, errs.IsKind(err, errs.NotConnected))

	_, err = m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendINDI})
	require.NoError(t, err)

	offsets, err := m.GetPositionOffsets()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 10, 12, 8, 40}, offsets)
}

func TestBoundWheelTracksReconnect(t *testing.T) {
	fake := newFakeWheel()
	m, _ := newTestWheel(t, fake)
	bound := m.Bound()

	_, err := bound.Position(context.Background())
	assert.True(t, errs.IsKind(err, errs.NotConnected))

	_, err = m.Connect(context.Background(), device.ConnectParams{Backend: device.BackendINDI})
	require.NoError(t, err)

	pos, err := bound.Position(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, pos)

	require.NoError(t, m.Disconnect(context.Background()))
	_, err = bound.Position(context.Background())
	assert.True(t, errs.IsKind(err, errs.NotConnected))

	err = bound.Disconnect(context.Background())
	assert.True(t, errs.IsKind(err, errs.Unsupported))
}
