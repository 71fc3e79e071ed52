package indihub

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
)

// Defaults for the managed indiserver process.
const (
	DefaultFIFOPath  = "/tmp/indiFIFO"
	DefaultIndiPort  = 7624
	DefaultConfigDir = "/tmp/indi"
	serverLogPath    = "/tmp/indiserver.log"
)

// Supervisor owns the local indiserver process. The server is started
// with a FIFO control pipe; drivers are started and stopped afterwards by
// writing commands to that pipe, so a driver change never restarts the
// whole server.
type Supervisor struct {
	fifoPath  string
	configDir string
	logger    *zap.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	port    int
	running map[string]Driver
}

// NewSupervisor builds a supervisor. Empty paths fall back to the
// conventional /tmp locations.
func NewSupervisor(fifoPath, configDir string, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fifoPath == "" {
		fifoPath = DefaultFIFOPath
	}
	if configDir == "" {
		configDir = DefaultConfigDir
	}
	return &Supervisor{
		fifoPath:  fifoPath,
		configDir: configDir,
		logger:    logger.With(zap.String("component", "indi_supervisor")),
		running:   make(map[string]Driver),
	}
}

// IsRunning reports whether the managed indiserver process is alive.
func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runningLocked()
}

func (s *Supervisor) runningLocked() bool {
	if s.cmd == nil || s.cmd.Process == nil {
		return false
	}
	return s.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// Port returns the port the running server listens on, or 0.
func (s *Supervisor) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return 0
	}
	return s.port
}

// Start launches indiserver on the given port and starts the listed
// drivers through the FIFO. A server already running is stopped first.
func (s *Supervisor) Start(ctx context.Context, port int, drivers []Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if port == 0 {
		port = DefaultIndiPort
	}
	if s.runningLocked() {
		s.logger.Warn("indiserver already running, restarting it")
		s.stopLocked()
	}

	if err := os.MkdirAll(s.configDir, 0o755); err != nil {
		return errs.Wrap(errs.PersistenceError, err, "creating config dir %s", s.configDir)
	}
	os.Remove(s.fifoPath)
	if err := syscall.Mkfifo(s.fifoPath, 0o600); err != nil {
		return errs.Wrap(errs.PersistenceError, err, "creating control pipe %s", s.fifoPath)
	}

	logFile, err := os.OpenFile(serverLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errs.Wrap(errs.PersistenceError, err, "opening %s", serverLogPath)
	}

	cmd := exec.Command("indiserver",
		"-p", fmt.Sprint(port),
		"-m", "100",
		"-v",
		"-f", s.fifoPath)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), "INDICONFIG="+s.configDir)
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return errs.Wrap(errs.BackendError, err, "starting indiserver")
	}
	go func() {
		cmd.Wait()
		logFile.Close()
	}()

	s.cmd = cmd
	s.port = port
	s.running = make(map[string]Driver)
	s.logger.Info("indiserver started",
		zap.Int("port", port), zap.Int("pid", cmd.Process.Pid), zap.Int("drivers", len(drivers)))

	for _, d := range drivers {
		if err := s.startDriverLocked(d); err != nil {
			return err
		}
	}
	return nil
}

// Stop terminates the indiserver process and with it every driver.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Supervisor) stopLocked() {
	if s.cmd == nil || s.cmd.Process == nil {
		return
	}
	pid := s.cmd.Process.Pid
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err == nil {
		deadline := time.After(5 * time.Second)
		done := make(chan struct{})
		go func(cmd *exec.Cmd) {
			cmd.Wait()
			close(done)
		}(s.cmd)
		select {
		case <-done:
		case <-deadline:
			s.cmd.Process.Kill()
		}
	}
	s.cmd = nil
	s.running = make(map[string]Driver)
	s.logger.Info("indiserver stopped", zap.Int("pid", pid))
}

// StartDriver asks the running server to load one driver.
func (s *Supervisor) StartDriver(d Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return errs.New(errs.NotConnected, "indiserver is not running")
	}
	return s.startDriverLocked(d)
}

func (s *Supervisor) startDriverLocked(d Driver) error {
	cmd := "start " + d.Binary
	if d.Skeleton != "" {
		cmd += fmt.Sprintf(" -s %q", d.Skeleton)
	}
	if err := s.writeFIFO(cmd); err != nil {
		return err
	}
	s.running[d.Label] = d
	s.logger.Info("driver started", zap.String("label", d.Label), zap.String("binary", d.Binary))
	return nil
}

// StopDriver asks the running server to unload one driver. Remote driver
// entries carry no local label on the server side.
func (s *Supervisor) StopDriver(d Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.runningLocked() {
		return errs.New(errs.NotConnected, "indiserver is not running")
	}
	cmd := "stop " + d.Binary
	if !d.Remote() {
		cmd += fmt.Sprintf(" -n %q", d.Label)
	}
	if err := s.writeFIFO(cmd); err != nil {
		return err
	}
	delete(s.running, d.Label)
	s.logger.Info("driver stopped", zap.String("label", d.Label))
	return nil
}

// RestartDriver cycles one driver without touching the server.
func (s *Supervisor) RestartDriver(d Driver) error {
	if err := s.StopDriver(d); err != nil {
		return err
	}
	return s.StartDriver(d)
}

// EnsureDriver starts the driver unless it is already running. Device
// connects over the INDI backend call this before dialing.
func (s *Supervisor) EnsureDriver(d Driver) error {
	s.mu.Lock()
	_, active := s.running[d.Label]
	s.mu.Unlock()
	if active {
		return nil
	}
	return s.StartDriver(d)
}

// RunningDrivers lists the drivers started through this supervisor,
// sorted by label.
func (s *Supervisor) RunningDrivers() []Driver {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Driver, 0, len(s.running))
	for _, d := range s.running {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

func (s *Supervisor) writeFIFO(command string) error {
	f, err := os.OpenFile(s.fifoPath, os.O_WRONLY, 0)
	if err != nil {
		return errs.Wrap(errs.BackendError, err, "opening control pipe")
	}
	defer f.Close()
	if _, err := f.WriteString(strings.TrimSpace(command) + "\n"); err != nil {
		return errs.Wrap(errs.BackendError, err, "writing control pipe")
	}
	s.logger.Debug("fifo command sent", zap.String("command", command))
	return nil
}
