package indihub

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starbridge/observatoryd/internal/errs"
)

// pipeSupervisor backs the control pipe with a regular file so FIFO
// commands can be read back, and fakes a live server process.
func pipeSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	pipe := filepath.Join(t.TempDir(), "fifo")
	require.NoError(t, os.WriteFile(pipe, nil, 0o600))

	s := NewSupervisor(pipe, t.TempDir(), nil)
	cmd := exec.Command("sleep", "60")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})
	s.cmd = cmd
	s.port = DefaultIndiPort
	return s, pipe
}

func readPipe(t *testing.T, pipe string) string {
	t.Helper()
	data, err := os.ReadFile(pipe)
	require.NoError(t, err)
	return string(data)
}

func TestSupervisorStoppedState(t *testing.T) {
	s := NewSupervisor(filepath.Join(t.TempDir(), "fifo"), t.TempDir(), nil)

	assert.False(t, s.IsRunning())
	assert.Zero(t, s.Port())
	assert.Empty(t, s.RunningDrivers())

	err := s.StartDriver(Driver{Label: "CCD Simulator", Binary: "indi_simulator_ccd"})
	assert.True(t, errs.IsKind(err, errs.NotConnected))
	err = s.StopDriver(Driver{Label: "CCD Simulator", Binary: "indi_simulator_ccd"})
	assert.True(t, errs.IsKind(err, errs.NotConnected))
}

func TestSupervisorDriverCommands(t *testing.T) {
	s, pipe := pipeSupervisor(t)
	require.True(t, s.IsRunning())
	assert.Equal(t, DefaultIndiPort, s.Port())

	require.NoError(t, s.StartDriver(Driver{Label: "CCD Simulator", Binary: "indi_simulator_ccd"}))
	assert.Equal(t, "start indi_simulator_ccd\n", readPipe(t, pipe))

	require.NoError(t, s.StopDriver(Driver{Label: "CCD Simulator", Binary: "indi_simulator_ccd"}))
	assert.Contains(t, readPipe(t, pipe), `stop indi_simulator_ccd -n "CCD Simulator"`)
}

func TestSupervisorSkeletonAndRemote(t *testing.T) {
	s, pipe := pipeSupervisor(t)

	require.NoError(t, s.StartDriver(Driver{
		Label:    "CCD Simulator",
		Binary:   "indi_simulator_ccd",
		Skeleton: "/usr/share/indi/ccd_simulator_sk.xml",
	}))
	assert.Contains(t, readPipe(t, pipe), `start indi_simulator_ccd -s "/usr/share/indi/ccd_simulator_sk.xml"`)

	// Remote entries are stopped without a local label.
	remote := Driver{Label: "Remote Dome", Binary: "\"Dome\"@10.0.0.3"}
	require.NoError(t, s.StopDriver(remote))
	assert.NotContains(t, readPipe(t, pipe), "-n \"Remote Dome\"")
}

func TestSupervisorTracksRunningDrivers(t *testing.T) {
	s, _ := pipeSupervisor(t)

	b := Driver{Label: "B Mount", Binary: "indi_b"}
	a := Driver{Label: "A Camera", Binary: "indi_a"}
	require.NoError(t, s.StartDriver(b))
	require.NoError(t, s.StartDriver(a))

	// EnsureDriver is a no-op for an active driver.
	require.NoError(t, s.EnsureDriver(a))

	running := s.RunningDrivers()
	require.Len(t, running, 2)
	assert.Equal(t, "A Camera", running[0].Label)
	assert.Equal(t, "B Mount", running[1].Label)

	require.NoError(t, s.StopDriver(a))
	running = s.RunningDrivers()
	require.Len(t, running, 1)
	assert.Equal(t, "B Mount", running[0].Label)
}
