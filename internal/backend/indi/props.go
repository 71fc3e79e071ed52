// Package indi implements the device backend contract over a local INDI
// server. Property access goes through the indi_getprop and indi_setprop
// command line tools; driver lifecycle is handled by internal/indihub.
package indi

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
)

// DefaultPort is the stock INDI server port.
const DefaultPort = 7624

// runner executes one external command and returns its combined stdout.
// Swappable in tests.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Props reads and writes INDI properties for one server.
type Props struct {
	host   string
	port   int
	run    runner
	logger *zap.Logger
}

// NewProps creates a property client for the INDI server at host:port.
func NewProps(host string, port int, logger *zap.Logger) *Props {
	if logger == nil {
		logger = zap.NewNop()
	}
	if host == "" {
		host = "127.0.0.1"
	}
	if port == 0 {
		port = DefaultPort
	}
	return &Props{
		host:   host,
		port:   port,
		run:    execRunner,
		logger: logger.With(zap.String("component", "indi_props")),
	}
}

func (p *Props) hostArgs() []string {
	return []string{"-h", p.host, "-p", strconv.Itoa(p.port)}
}

// Get reads one property element, e.g. Get(ctx, "CCD Simulator",
// "CCD_EXPOSURE", "CCD_EXPOSURE_VALUE").
func (p *Props) Get(ctx context.Context, dev, prop, element string) (string, error) {
	spec := fmt.Sprintf("%s.%s.%s", dev, prop, element)
	args := append(p.hostArgs(), "-1", spec)
	out, err := p.run(ctx, "indi_getprop", args...)
	if err != nil {
		return "", errs.Wrap(errs.DriverError, err, "reading %s", spec)
	}
	// -1 prints the bare value; older builds print name=value.
	value := strings.TrimSpace(string(out))
	if i := strings.IndexByte(value, '='); i >= 0 {
		value = strings.TrimSpace(value[i+1:])
	}
	return value, nil
}

// GetNumber reads one numeric property element.
func (p *Props) GetNumber(ctx context.Context, dev, prop, element string) (float64, error) {
	raw, err := p.Get(ctx, dev, prop, element)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errs.Wrap(errs.ProtocolError, err, "non-numeric value %q for %s.%s.%s", raw, dev, prop, element)
	}
	return v, nil
}

// GetSwitch reads one switch element as a boolean.
func (p *Props) GetSwitch(ctx context.Context, dev, prop, element string) (bool, error) {
	raw, err := p.Get(ctx, dev, prop, element)
	if err != nil {
		return false, err
	}
	return raw == "On", nil
}

// Set writes one property element.
func (p *Props) Set(ctx context.Context, dev, prop, element, value string) error {
	spec := fmt.Sprintf("%s.%s.%s=%s", dev, prop, element, value)
	args := append(p.hostArgs(), spec)
	if _, err := p.run(ctx, "indi_setprop", args...); err != nil {
		return errs.Wrap(errs.DriverError, err, "writing %s", spec)
	}
	return nil
}

// SetNumber writes one numeric property element.
func (p *Props) SetNumber(ctx context.Context, dev, prop, element string, value float64) error {
	return p.Set(ctx, dev, prop, element, strconv.FormatFloat(value, 'f', -1, 64))
}

// SetSwitch turns one switch element on. Sibling switches in a one-of-many
// vector are reset by the driver.
func (p *Props) SetSwitch(ctx context.Context, dev, prop, element string) error {
	return p.Set(ctx, dev, prop, element, "On")
}

// State reads the light state of a property vector: Idle, Ok, Busy or
// Alert.
func (p *Props) State(ctx context.Context, dev, prop string) (string, error) {
	return p.Get(ctx, dev, prop, "_STATE")
}

// WaitState polls a property vector until it leaves Busy, or until ctx or
// the deadline expires. Alert maps to DriverError.
func (p *Props) WaitState(ctx context.Context, dev, prop string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		state, err := p.State(ctx, dev, prop)
		if err != nil {
			return err
		}
		switch state {
		case "Ok", "Idle":
			return nil
		case "Alert":
			return errs.New(errs.DriverError, "%s.%s entered alert state", dev, prop)
		}
		if time.Now().After(deadline) {
			return errs.New(errs.Timeout, "%s.%s still busy after %s", dev, prop, timeout)
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.Aborted, ctx.Err(), "wait on %s.%s cancelled", dev, prop)
		case <-ticker.C:
		}
	}
}

// DeviceEntry is one device reported by the running server.
type DeviceEntry struct {
	Name      string
	Connected bool
}

// ListDevices enumerates devices and their connection state by querying the
// wildcard CONNECTION property.
func (p *Props) ListDevices(ctx context.Context) ([]DeviceEntry, error) {
	args := append(p.hostArgs(), "*.CONNECTION.CONNECT")
	out, err := p.run(ctx, "indi_getprop", args...)
	if err != nil {
		return nil, errs.Wrap(errs.DriverError, err, "enumerating devices")
	}
	var devices []DeviceEntry
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		dev, _, ok := strings.Cut(name, ".")
		if !ok {
			continue
		}
		devices = append(devices, DeviceEntry{Name: dev, Connected: strings.TrimSpace(value) == "On"})
	}
	return devices, nil
}

// Connect flips a device's CONNECTION switch on and waits for it to take.
func (p *Props) Connect(ctx context.Context, dev string, timeout time.Duration) error {
	if err := p.SetSwitch(ctx, dev, "CONNECTION", "CONNECT"); err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		on, err := p.GetSwitch(ctx, dev, "CONNECTION", "CONNECT")
		if err == nil && on {
			return nil
		}
		if time.Now().After(deadline) {
			return errs.New(errs.Timeout, "device %q did not connect within %s", dev, timeout)
		}
		select {
		case <-ctx.Done():
			return errs.Wrap(errs.Aborted, ctx.Err(), "connect to %q cancelled", dev)
		case <-ticker.C:
		}
	}
}

// Disconnect flips a device's CONNECTION switch off.
func (p *Props) Disconnect(ctx context.Context, dev string) error {
	return p.SetSwitch(ctx, dev, "CONNECTION", "DISCONNECT")
}

// AutoConnect connects every device the server reports as disconnected.
func (p *Props) AutoConnect(ctx context.Context) error {
	devices, err := p.ListDevices(ctx)
	if err != nil {
		return err
	}
	for _, dev := range devices {
		if dev.Connected {
			continue
		}
		if err := p.SetSwitch(ctx, dev.Name, "CONNECTION", "CONNECT"); err != nil {
			p.logger.Warn("auto-connect failed", zap.String("device", dev.Name), zap.Error(err))
		}
	}
	return nil
}
