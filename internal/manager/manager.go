// Package manager implements the per-device state machines. A manager
// owns one logical device: it validates preconditions, serializes
// operations through a single-flight worker, polls the backend during
// long-running jobs, and emits progress and terminal events to its sinks.
package manager

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// Sink receives every event a manager emits. The gateway registers one
// sink per interested session; the telemetry mirror registers one for the
// process lifetime.
type Sink interface {
	Emit(resp *protocol.Response)
}

// Config carries the per-device tunables every manager shares.
type Config struct {
	// PollInterval bounds the progress event rate during long jobs.
	PollInterval time.Duration
	// Timeout bounds synchronous backend calls and bounded waits such as
	// parking.
	Timeout time.Duration
	// ArtifactDir is where exposure artifacts are written.
	ArtifactDir string
}

func (c *Config) withDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.PollInterval < 100*time.Millisecond {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.PollInterval > 500*time.Millisecond {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.ArtifactDir == "" {
		c.ArtifactDir = "images"
	}
}

// job is one in-flight worker.
type job struct {
	event     string
	cancel    context.CancelFunc
	abort     chan struct{}
	abortOnce sync.Once
	aborted   bool
	done      chan struct{}
}

func (j *job) signalAbort() {
	j.abortOnce.Do(func() {
		j.aborted = true
		close(j.abort)
	})
}

// base carries the state machine shared by every device manager.
type base struct {
	identity device.Identity
	cfg      Config
	logger   *zap.Logger

	mu        sync.Mutex
	state     device.ConnState
	lastError *device.LastError
	sinks     []Sink
	job       *job
}

func newBase(identity device.Identity, cfg Config, logger *zap.Logger) base {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.withDefaults()
	return base{
		identity: identity,
		cfg:      cfg,
		logger: logger.With(
			zap.String("component", string(identity.Kind)+"_manager"),
			zap.String("device", identity.Name)),
		state: device.Disconnected,
	}
}

// Identity returns the device's stable identity.
func (b *base) Identity() device.Identity {
	return b.identity
}

// State returns the current connection state.
func (b *base) State() device.ConnState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// LastError returns the last recorded failure, or nil.
func (b *base) LastError() *device.LastError {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastError == nil {
		return nil
	}
	cp := *b.lastError
	return &cp
}

// AddSink registers an event receiver.
func (b *base) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// RemoveSink unregisters an event receiver.
func (b *base) RemoveSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, existing := range b.sinks {
		if existing == s {
			b.sinks = append(b.sinks[:i], b.sinks[i+1:]...)
			return
		}
	}
}

func (b *base) emit(resp *protocol.Response) {
	b.mu.Lock()
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()
	for _, s := range sinks {
		s.Emit(resp)
	}
}

func (b *base) setState(s device.ConnState) {
	b.mu.Lock()
	b.state = s
	if s == device.Ready {
		b.lastError = nil
	}
	b.mu.Unlock()
}

func (b *base) recordError(err error) {
	b.mu.Lock()
	b.lastError = &device.LastError{
		Kind:       string(errs.KindOf(err)),
		Message:    err.Error(),
		Diagnostic: errs.DiagnosticOf(err),
		At:         time.Now(),
	}
	b.mu.Unlock()
}

// requireReady refuses an operation unless the device is Ready.
func (b *base) requireReady() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case device.Ready:
		return nil
	case device.Busy:
		return errs.New(errs.Busy, "%s is busy", b.identity.Name)
	case device.Errored:
		return errs.New(errs.NotConnected, "%s is in error state, reconnect it first", b.identity.Name)
	default:
		return errs.New(errs.NotConnected, "%s is not connected", b.identity.Name)
	}
}

// startJob transitions Ready to Busy and spawns the single-flight worker.
// work returns the job's terminal response; the base emits it exactly
// once and restores the state machine. Overlapping starts fail fast.
func (b *base) startJob(event string, work func(ctx context.Context, j *job) *protocol.Response) error {
	b.mu.Lock()
	switch b.state {
	case device.Ready:
	case device.Busy:
		b.mu.Unlock()
		return errs.New(errs.Busy, "%s already has an operation in flight", b.identity.Name)
	case device.Errored:
		b.mu.Unlock()
		return errs.New(errs.NotConnected, "%s is in error state, reconnect it first", b.identity.Name)
	default:
		b.mu.Unlock()
		return errs.New(errs.NotConnected, "%s is not connected", b.identity.Name)
	}
	ctx, cancel := context.WithCancel(context.Background())
	j := &job{
		event:  event,
		cancel: cancel,
		abort:  make(chan struct{}),
		done:   make(chan struct{}),
	}
	b.state = device.Busy
	b.job = j
	b.mu.Unlock()

	go func() {
		defer cancel()
		defer close(j.done)
		resp := work(ctx, j)
		if resp == nil {
			resp = protocol.OK(event, "completed", nil)
		}
		b.finishJob(j, resp)
	}()
	return nil
}

// finishJob emits the terminal event and returns the device to Ready, or
// to Error when the job failed.
func (b *base) finishJob(j *job, resp *protocol.Response) {
	b.mu.Lock()
	if b.job == j {
		b.job = nil
		if b.state == device.Busy {
			if resp.Status == protocol.StatusError {
				b.state = device.Errored
			} else {
				b.state = device.Ready
				b.lastError = nil
			}
		}
	}
	b.mu.Unlock()
	b.emit(resp)
	b.logger.Debug("job finished", zap.String("event", resp.Event), zap.Int("status", resp.Status))
}

// abortJob signals the running worker. The worker observes the signal at
// its next cooperative point and produces the Aborted terminal event.
func (b *base) abortJob() error {
	b.mu.Lock()
	j := b.job
	b.mu.Unlock()
	if j == nil {
		return errs.New(errs.InvalidArgument, "no operation in flight on %s", b.identity.Name)
	}
	j.signalAbort()
	return nil
}

// AbortActive cancels whatever job is in flight, if any. Used when a
// session that owns the device goes away.
func (b *base) AbortActive() {
	b.mu.Lock()
	j := b.job
	b.mu.Unlock()
	if j != nil {
		j.signalAbort()
	}
}

// Shutdown aborts any in-flight job and waits for its terminal event.
// Workers observe the cancelled context and report Aborted.
func (b *base) Shutdown(ctx context.Context) {
	b.mu.Lock()
	j := b.job
	b.mu.Unlock()
	if j == nil {
		return
	}
	j.signalAbort()
	j.cancel()
	select {
	case <-j.done:
	case <-ctx.Done():
		b.logger.Warn("worker did not stop before shutdown deadline")
	}
}

// sleepOrAbort waits one poll interval, returning false when the job was
// aborted or cancelled during the wait.
func (b *base) sleepOrAbort(ctx context.Context, j *job, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-j.abort:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func aborted(ctx context.Context, j *job) bool {
	select {
	case <-j.abort:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// abortedResponse builds the status 2 terminal event for a user abort.
func abortedResponse(event, what string) *protocol.Response {
	return protocol.Warn(event, what+" aborted", nil)
}
