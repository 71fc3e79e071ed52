package indihub

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/backend/indi"
	"github.com/starbridge/observatoryd/internal/errs"
)

// Hub ties the driver catalog, the server supervisor and the profile
// store together and carries the active-profile bookkeeping the control
// plane needs.
type Hub struct {
	Catalog    *Catalog
	Supervisor *Supervisor
	Profiles   *ProfileStore
	logger     *zap.Logger

	mu        sync.Mutex
	active    string
	selection map[string]Driver
}

// NewHub assembles a hub from its parts and folds any stored custom
// drivers into the catalog.
func NewHub(catalog *Catalog, supervisor *Supervisor, profiles *ProfileStore, logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		Catalog:    catalog,
		Supervisor: supervisor,
		Profiles:   profiles,
		logger:     logger.With(zap.String("component", "indi_hub")),
	}
	if custom, err := profiles.CustomDrivers(); err == nil {
		catalog.SetCustom(custom)
	} else {
		h.logger.Warn("loading custom drivers failed", zap.Error(err))
	}
	return h
}

// ActiveProfile names the profile the running server was started with.
func (h *Hub) ActiveProfile() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active
}

// StartProfile resolves a profile's drivers and starts the server. When
// the profile asks for autoconnect, every device is flipped to connected
// a few seconds after the drivers come up.
func (h *Hub) StartProfile(ctx context.Context, name string) error {
	profile, err := h.Profiles.Get(name)
	if err != nil {
		return err
	}
	drivers := make([]Driver, 0, len(profile.Drivers)+len(profile.Remote))
	for _, label := range profile.Drivers {
		d, err := h.Catalog.ByLabel(label)
		if err != nil {
			return err
		}
		drivers = append(drivers, d)
	}
	for _, spec := range profile.Remote {
		drivers = append(drivers, Driver{Name: spec, Label: spec, Binary: spec, Family: "Remote"})
	}
	if err := h.Supervisor.Start(ctx, profile.Port, drivers); err != nil {
		return err
	}
	h.mu.Lock()
	h.active = name
	h.mu.Unlock()

	if profile.Autoconnect {
		port := profile.Port
		time.AfterFunc(3*time.Second, func() {
			props := indi.NewProps("127.0.0.1", port, h.logger)
			cctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := props.AutoConnect(cctx); err != nil {
				h.logger.Warn("autoconnect failed", zap.Error(err))
			}
		})
	}
	return nil
}

// StartDevices starts the server with the drivers named by a
// kind-to-label selection, e.g. {"camera": "CCD Simulator"}. The
// selection is remembered so individual kinds can be restarted later.
func (h *Hub) StartDevices(ctx context.Context, selection map[string]string) error {
	resolved := make(map[string]Driver, len(selection))
	drivers := make([]Driver, 0, len(selection))
	for kind, label := range selection {
		if label == "" {
			continue
		}
		d, err := h.resolveDriver(label)
		if err != nil {
			return err
		}
		resolved[kind] = d
		drivers = append(drivers, d)
	}
	if len(drivers) == 0 {
		return errs.New(errs.InvalidArgument, "device selection names no drivers")
	}
	if err := h.Supervisor.Start(ctx, DefaultIndiPort, drivers); err != nil {
		return err
	}
	h.mu.Lock()
	h.active = ""
	h.selection = resolved
	h.mu.Unlock()
	return nil
}

// RestartDevice cycles the driver the last selection bound to a device
// kind.
func (h *Hub) RestartDevice(kind string) error {
	h.mu.Lock()
	d, ok := h.selection[kind]
	h.mu.Unlock()
	if !ok {
		return errs.New(errs.InvalidArgument, "no %s driver was selected at start", kind)
	}
	return h.Supervisor.RestartDriver(d)
}

// StopServer stops the server and clears the active profile and device
// selection.
func (h *Hub) StopServer() {
	h.Supervisor.Stop()
	h.mu.Lock()
	h.active = ""
	h.selection = nil
	h.mu.Unlock()
}

// Autostart starts the first profile flagged for autostart, if any.
func (h *Hub) Autostart(ctx context.Context) error {
	profiles, err := h.Profiles.List()
	if err != nil {
		return err
	}
	for _, p := range profiles {
		if p.Autostart {
			h.logger.Info("autostarting profile", zap.String("profile", p.Name))
			return h.StartProfile(ctx, p.Name)
		}
	}
	return nil
}

// EnsureDriverFor starts the driver whose label or name matches, used by
// device connects that name an INDI device before its driver is up.
func (h *Hub) EnsureDriverFor(label string) error {
	d, err := h.resolveDriver(label)
	if err != nil {
		return err
	}
	return h.Supervisor.EnsureDriver(d)
}

func (h *Hub) resolveDriver(label string) (Driver, error) {
	d, err := h.Catalog.ByLabel(label)
	if err != nil {
		if d, err = h.Catalog.ByName(label); err != nil {
			return Driver{}, errs.Wrap(errs.InvalidArgument, err, "resolving driver for %s", label)
		}
	}
	return d, nil
}

// Devices enumerates devices on the running server.
func (h *Hub) Devices(ctx context.Context) ([]indi.DeviceEntry, error) {
	port := h.Supervisor.Port()
	if port == 0 {
		return nil, errs.New(errs.NotConnected, "indiserver is not running")
	}
	props := indi.NewProps("127.0.0.1", port, h.logger)
	return props.ListDevices(ctx)
}
