package gateway

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/manager"
)

// Managed is the slice of a device manager the gateway needs: identity,
// state, event fan-out and emergency abort. Every manager satisfies it
// through its embedded state machine.
type Managed interface {
	Identity() device.Identity
	State() device.ConnState
	LastError() *device.LastError
	AddSink(manager.Sink)
	RemoveSink(manager.Sink)
	AbortActive()
	Shutdown(ctx context.Context)
}

// Hub holds the device managers the gateway routes to, at most one per
// device kind, and tracks which session owns each device. Mutating
// operations require ownership; any session may observe.
type Hub struct {
	Camera  *manager.Camera
	Mount   *manager.Mount
	Focuser *manager.Focuser
	Wheel   *manager.FilterWheel
	Guider  *manager.Guider
	Solver  *manager.Solver

	logger *zap.Logger

	mu     sync.Mutex
	owners map[device.Kind]*session
}

// NewHub wires the managers behind the gateway. Nil managers are allowed;
// requests for their kind fail with Unsupported.
func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger.With(zap.String("component", "gateway_hub")),
		owners: make(map[device.Kind]*session),
	}
}

// devices returns the configured managers.
func (h *Hub) devices() []Managed {
	var out []Managed
	if h.Camera != nil {
		out = append(out, h.Camera)
	}
	if h.Mount != nil {
		out = append(out, h.Mount)
	}
	if h.Focuser != nil {
		out = append(out, h.Focuser)
	}
	if h.Wheel != nil {
		out = append(out, h.Wheel)
	}
	if h.Guider != nil {
		out = append(out, h.Guider)
	}
	if h.Solver != nil {
		out = append(out, h.Solver)
	}
	return out
}

func (h *Hub) managed(kind device.Kind) Managed {
	switch kind {
	case device.KindCamera:
		if h.Camera != nil {
			return h.Camera
		}
	case device.KindMount:
		if h.Mount != nil {
			return h.Mount
		}
	case device.KindFocuser:
		if h.Focuser != nil {
			return h.Focuser
		}
	case device.KindFilterWheel:
		if h.Wheel != nil {
			return h.Wheel
		}
	case device.KindGuider:
		if h.Guider != nil {
			return h.Guider
		}
	case device.KindSolver:
		if h.Solver != nil {
			return h.Solver
		}
	}
	return nil
}

// acquire grants s exclusive mutating access to the kind. Acquisition is
// idempotent for the current owner and fails with Busy while another
// session holds the device.
func (h *Hub) acquire(kind device.Kind, s *session) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	owner, held := h.owners[kind]
	if held && owner != s {
		return errs.New(errs.Busy, "%s is controlled by another session", kind)
	}
	if !held {
		h.owners[kind] = s
		h.logger.Debug("device claimed",
			zap.String("kind", string(kind)), zap.String("session", s.id))
	}
	return nil
}

// releaseAll drops every claim held by s and aborts in-flight jobs on the
// devices it owned. Devices themselves stay connected.
func (h *Hub) releaseAll(s *session) {
	h.mu.Lock()
	var released []device.Kind
	for kind, owner := range h.owners {
		if owner == s {
			delete(h.owners, kind)
			released = append(released, kind)
		}
	}
	h.mu.Unlock()
	for _, kind := range released {
		if dev := h.managed(kind); dev != nil {
			dev.AbortActive()
		}
		h.logger.Info("device released",
			zap.String("kind", string(kind)), zap.String("session", s.id))
	}
}

// Shutdown aborts every in-flight job and waits for the workers.
func (h *Hub) Shutdown(ctx context.Context) {
	for _, dev := range h.devices() {
		dev.Shutdown(ctx)
	}
}
