package health

import (
	"context"

	"github.com/starbridge/observatoryd/internal/device"
)

// managedDevice is the slice of a device manager health cares about.
type managedDevice interface {
	Identity() device.Identity
	State() device.ConnState
	LastError() *device.LastError
}

// DeviceChecker grades one device manager. A device in the Error state is
// unhealthy; a disconnected device is merely degraded since idle
// observatories are normal.
type DeviceChecker struct {
	dev managedDevice
}

// NewDeviceChecker wraps a manager.
func NewDeviceChecker(dev managedDevice) *DeviceChecker {
	return &DeviceChecker{dev: dev}
}

func (c *DeviceChecker) Name() string {
	return string(c.dev.Identity().Kind)
}

func (c *DeviceChecker) Check(ctx context.Context) *Result {
	state := c.dev.State()
	r := &Result{
		Details: map[string]interface{}{
			"state":  string(state),
			"device": c.dev.Identity().Name,
		},
	}
	switch state {
	case device.Errored:
		r.Status = StatusUnhealthy
		if lastErr := c.dev.LastError(); lastErr != nil {
			r.Message = lastErr.Message
			r.Details["errorKind"] = lastErr.Kind
		}
	case device.Disconnected, device.Connecting, device.Reconnecting:
		r.Status = StatusDegraded
		r.Message = "device not connected"
	default:
		r.Status = StatusHealthy
	}
	return r
}

// serverSupervisor is the slice of the INDI supervisor health cares
// about.
type serverSupervisor interface {
	IsRunning() bool
	Port() int
}

// IndiServerChecker grades the managed indiserver process. A stopped
// server is degraded, not unhealthy, since ASCOM-only setups never start
// one.
type IndiServerChecker struct {
	sup serverSupervisor
}

// NewIndiServerChecker wraps the supervisor.
func NewIndiServerChecker(sup serverSupervisor) *IndiServerChecker {
	return &IndiServerChecker{sup: sup}
}

func (c *IndiServerChecker) Name() string {
	return "indiserver"
}

func (c *IndiServerChecker) Check(ctx context.Context) *Result {
	if !c.sup.IsRunning() {
		return &Result{Status: StatusDegraded, Message: "indiserver not running"}
	}
	return &Result{
		Status:  StatusHealthy,
		Details: map[string]interface{}{"port": c.sup.Port()},
	}
}
