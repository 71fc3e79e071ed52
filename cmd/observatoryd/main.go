// Package main is the entry point for the observatory control server.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/auth"
	"github.com/starbridge/observatoryd/internal/backend/ascom"
	"github.com/starbridge/observatoryd/internal/backend/indi"
	"github.com/starbridge/observatoryd/internal/config"
	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/gateway"
	"github.com/starbridge/observatoryd/internal/health"
	"github.com/starbridge/observatoryd/internal/indihub"
	"github.com/starbridge/observatoryd/internal/manager"
	"github.com/starbridge/observatoryd/internal/phd2"
	"github.com/starbridge/observatoryd/internal/profile"
	"github.com/starbridge/observatoryd/internal/solver"
	"github.com/starbridge/observatoryd/internal/telemetry"
)

func main() {
	host := flag.String("host", "", "listen address, overrides config")
	port := flag.Int("port", 0, "listen port, overrides config")
	debug := flag.Bool("debug", false, "enable debug logging")
	threaded := flag.Bool("threaded", true, "run on all CPUs")
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *host != "" {
		cfg.Host = *host
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}
	cfg.Threaded = *threaded
	if !cfg.Threaded {
		runtime.GOMAXPROCS(1)
	}

	var logger *zap.Logger
	if cfg.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer logger.Sync()

	logger.Info("starting observatoryd",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.Bool("debug", cfg.Debug))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Device managers.
	profiles := profile.NewStore(cfg.Devices.ProfileDir, logger)
	mcfg := manager.Config{
		PollInterval: cfg.Devices.PollInterval,
		Timeout:      cfg.Devices.Timeout,
		ArtifactDir:  cfg.Devices.ArtifactDir,
	}

	camera := manager.NewCamera("camera", mcfg, cameraFactory, profiles, logger)
	mount := manager.NewMount("mount", mcfg, mountFactory, logger)
	focuser := manager.NewFocuser("focuser", mcfg, focuserFactory, logger)
	wheel := manager.NewFilterWheel("filterwheel", mcfg, wheelFactory, logger)

	phdClient := phd2.NewClient(10*time.Second, logger)
	guider := manager.NewGuider("guider", mcfg, phdClient, logger)

	camera.BindFilterWheel(wheel.Bound())
	camera.BindGuider(phdClient)

	solveMgr, err := buildSolver(cfg, mcfg, logger)
	if err != nil {
		logger.Fatal("solver setup failed", zap.Error(err))
	}

	hub := gateway.NewHub(logger)
	hub.Camera = camera
	hub.Mount = mount
	hub.Focuser = focuser
	hub.Wheel = wheel
	hub.Guider = guider
	hub.Solver = solveMgr

	// Telemetry mirror.
	mirror, err := telemetry.NewMirror(telemetry.Config{
		BrokerURL:   cfg.Telemetry.BrokerURL,
		ClientID:    cfg.Telemetry.ClientID,
		Username:    cfg.Telemetry.Username,
		Password:    cfg.Telemetry.Password,
		TopicPrefix: cfg.Telemetry.TopicPrefix,
	}, logger)
	if err != nil {
		logger.Warn("telemetry disabled", zap.Error(err))
	}
	if mirror != nil {
		camera.AddSink(mirror.ForKind("camera"))
		mount.AddSink(mirror.ForKind("telescope"))
		focuser.AddSink(mirror.ForKind("focuser"))
		wheel.AddSink(mirror.ForKind("filterwheel"))
		guider.AddSink(mirror.ForKind("guider"))
		solveMgr.AddSink(mirror.ForKind("solver"))
		defer mirror.Close()
	}

	// Health engine over the managers.
	healthEngine := health.NewEngine(cfg.DeviceHub.HealthEvery, logger)
	healthEngine.Register(health.NewDeviceChecker(camera))
	healthEngine.Register(health.NewDeviceChecker(mount))
	healthEngine.Register(health.NewDeviceChecker(focuser))
	healthEngine.Register(health.NewDeviceChecker(wheel))
	healthEngine.Register(health.NewDeviceChecker(guider))
	go healthEngine.Run(ctx)

	// Optional managed INDI server with its control plane.
	var indiHub *indihub.Hub
	var hubServer *http.Server
	if cfg.DeviceHub.Enabled {
		indiHub, hubServer, err = startDeviceHub(ctx, cfg, healthEngine, logger)
		if err != nil {
			logger.Fatal("device hub setup failed", zap.Error(err))
		}
	}

	// Authentication and the WebSocket gateway.
	provider, jwtAuth := buildAuth(cfg, logger)
	gw := gateway.NewServer(hub, provider, gateway.Options{
		MaxConnections: cfg.Gateway.MaxConnections,
		QueueLimit:     cfg.Gateway.QueueLimit,
		CallTimeout:    cfg.Gateway.CallTimeout,
	}, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", gw)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		agg := healthEngine.CheckAll(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !agg.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(agg)
	})
	if jwtAuth != nil {
		mux.HandleFunc("/api/login", loginHandler(jwtAuth, logger))
	}

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: mux,
	}
	go func() {
		logger.Info("gateway listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("gateway server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	gw.Close(shutdownCtx)
	server.Shutdown(shutdownCtx)
	if hubServer != nil {
		hubServer.Shutdown(shutdownCtx)
	}
	if indiHub != nil {
		indiHub.StopServer()
		indiHub.Profiles.Close()
	}
	cancel()
	logger.Info("observatoryd stopped")
}

func cameraFactory(backend device.Backend, logger *zap.Logger) (device.Camera, error) {
	switch backend {
	case device.BackendASCOM:
		return ascom.NewCamera(logger), nil
	case device.BackendINDI:
		return indi.NewCamera(logger), nil
	default:
		return nil, errs.New(errs.Unsupported, "no camera backend for %q", backend)
	}
}

func mountFactory(backend device.Backend, logger *zap.Logger) (device.Mount, error) {
	switch backend {
	case device.BackendASCOM:
		return ascom.NewMount(logger), nil
	case device.BackendINDI:
		return indi.NewMount(logger), nil
	default:
		return nil, errs.New(errs.Unsupported, "no mount backend for %q", backend)
	}
}

func focuserFactory(backend device.Backend, logger *zap.Logger) (device.Focuser, error) {
	switch backend {
	case device.BackendASCOM:
		return ascom.NewFocuser(logger), nil
	case device.BackendINDI:
		return indi.NewFocuser(logger), nil
	default:
		return nil, errs.New(errs.Unsupported, "no focuser backend for %q", backend)
	}
}

func wheelFactory(backend device.Backend, logger *zap.Logger) (device.FilterWheel, error) {
	switch backend {
	case device.BackendASCOM:
		return ascom.NewFilterWheel(logger), nil
	case device.BackendINDI:
		return indi.NewFilterWheel(logger), nil
	default:
		return nil, errs.New(errs.Unsupported, "no filter wheel backend for %q", backend)
	}
}

func buildSolver(cfg *config.Server, mcfg manager.Config, logger *zap.Logger) (*manager.Solver, error) {
	switch cfg.Solver.Mode {
	case "online":
		adapter := solver.NewOnline("", cfg.Solver.APIKey, logger)
		return manager.NewSolver("solver", device.BackendAstrometry, mcfg, adapter, logger), nil
	case "offline", "":
		adapter := solver.NewOffline(cfg.Solver.Binary, logger)
		return manager.NewSolver("solver", device.BackendAstrometry, mcfg, adapter, logger), nil
	default:
		return nil, errs.New(errs.InvalidArgument, "unknown solver mode %q", cfg.Solver.Mode)
	}
}

func buildAuth(cfg *config.Server, logger *zap.Logger) (auth.Provider, *auth.JWT) {
	if cfg.Auth.Secret == "" {
		logger.Warn("no auth secret configured, running open")
		return auth.Open{}, nil
	}
	users := make([]auth.User, 0, len(cfg.Auth.Users))
	for _, u := range cfg.Auth.Users {
		users = append(users, auth.User{Name: u.Name, Hash: u.Hash})
	}
	jwtAuth := auth.NewJWT(cfg.Auth.Secret, users, cfg.Auth.TokenTTL, logger)
	return jwtAuth, jwtAuth
}

func loginHandler(jwtAuth *auth.JWT, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		token, err := jwtAuth.Login(body.Username, body.Password)
		if err != nil {
			logger.Warn("login refused", zap.String("user", body.Username))
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	}
}

func startDeviceHub(ctx context.Context, cfg *config.Server, healthEngine *health.Engine, logger *zap.Logger) (*indihub.Hub, *http.Server, error) {
	catalog := indihub.NewCatalog(cfg.DeviceHub.DataDir, logger)
	if err := catalog.Load(); err != nil {
		logger.Warn("driver catalog unavailable", zap.Error(err))
	}
	supervisor := indihub.NewSupervisor(cfg.DeviceHub.FIFOPath, cfg.DeviceHub.ConfigDir, logger)
	store, err := indihub.OpenProfileStore(cfg.DeviceHub.ProfileDB, logger)
	if err != nil {
		return nil, nil, err
	}
	hub := indihub.NewHub(catalog, supervisor, store, logger)
	healthEngine.Register(health.NewIndiServerChecker(supervisor))

	if err := hub.Autostart(ctx); err != nil {
		logger.Warn("profile autostart failed", zap.Error(err))
	}

	api := indihub.NewAPI(hub, healthEngine, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.DeviceHub.ListenHost, cfg.DeviceHub.ListenPort),
		Handler: api.Router(cfg.Debug),
	}
	go func() {
		logger.Info("device hub listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("device hub server failed", zap.Error(err))
		}
	}()
	return hub, server, nil
}
