package indihub

import (
	"net/http"
	"os/exec"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/health"
)

// API serves the device hub control plane under /devicehub/api. It is the
// management surface for the local INDI server: profiles, drivers, server
// lifecycle and process health.
type API struct {
	hub    *Hub
	health *health.Engine
	logger *zap.Logger
}

// NewAPI builds the control plane. The health engine is optional.
func NewAPI(hub *Hub, healthEngine *health.Engine, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		hub:    hub,
		health: healthEngine,
		logger: logger.With(zap.String("component", "devicehub_api")),
	}
}

// Router builds a gin engine with the hub routes mounted.
func (a *API) Router(debug bool) *gin.Engine {
	if debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(a.requestLogger())
	a.RegisterRoutes(router.Group("/devicehub/api"))
	return router
}

// deviceKinds are the kinds a start selection may name and that expose a
// per-kind restart endpoint.
var deviceKinds = []string{"camera", "mount", "focuser", "filterwheel", "guider", "solver"}

// RegisterRoutes mounts the hub endpoints on an existing route group.
// The start/status/stop and per-kind restart paths are the fixed wire
// surface; everything else is the management extension around it.
func (a *API) RegisterRoutes(g *gin.RouterGroup) {
	g.POST("/start", a.startDevices)
	g.GET("/status", a.hubStatus)
	g.POST("/stop", a.stopServer)
	for _, kind := range deviceKinds {
		g.POST("/"+kind+"/restart", a.restartKind(kind))
	}

	g.GET("/profiles", a.listProfiles)
	g.GET("/profiles/:name", a.getProfile)
	g.POST("/profiles/:name", a.addProfile)
	g.PUT("/profiles/:name", a.updateProfile)
	g.DELETE("/profiles/:name", a.deleteProfile)
	g.POST("/profiles/:name/drivers", a.setProfileDrivers)
	g.GET("/profiles/:name/labels", a.getProfileLabels)
	g.POST("/profiles/custom", a.addCustomDriver)

	g.GET("/server/status", a.serverStatus)
	g.POST("/server/start/:profile", a.startServer)
	g.POST("/server/stop", a.stopServer)
	g.GET("/server/drivers", a.runningDrivers)

	g.GET("/drivers", a.listDrivers)
	g.GET("/drivers/groups", a.driverGroups)
	g.POST("/drivers/start/:label", a.startDriver)
	g.POST("/drivers/stop/:label", a.stopDriver)
	g.POST("/drivers/restart/:label", a.restartDriver)

	g.GET("/devices", a.listDevices)
	g.GET("/health", a.healthStatus)

	g.POST("/system/reboot", a.systemReboot)
	g.POST("/system/poweroff", a.systemPoweroff)
}

func (a *API) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		a.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

// fail maps taxonomy kinds onto HTTP status codes.
func fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch errs.KindOf(err) {
	case errs.InvalidArgument, errs.Unsupported:
		status = http.StatusBadRequest
	case errs.NotConnected:
		status = http.StatusConflict
	case errs.Busy:
		status = http.StatusConflict
	case errs.Timeout:
		status = http.StatusGatewayTimeout
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": string(errs.KindOf(err))})
}

func (a *API) listProfiles(c *gin.Context) {
	profiles, err := a.hub.Profiles.List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, profiles)
}

func (a *API) getProfile(c *gin.Context) {
	p, err := a.hub.Profiles.Get(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (a *API) addProfile(c *gin.Context) {
	p := Profile{Name: c.Param("name"), Port: DefaultIndiPort}
	if err := a.hub.Profiles.Save(p); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

func (a *API) updateProfile(c *gin.Context) {
	name := c.Param("name")
	var body struct {
		Port        int  `json:"port"`
		Autostart   bool `json:"autostart"`
		Autoconnect bool `json:"autoconnect"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.Wrap(errs.InvalidArgument, err, "bad profile body"))
		return
	}
	p, err := a.hub.Profiles.Get(name)
	if err != nil {
		fail(c, err)
		return
	}
	if body.Port != 0 {
		p.Port = body.Port
	}
	p.Autostart = body.Autostart
	p.Autoconnect = body.Autoconnect
	if err := a.hub.Profiles.Save(p); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) deleteProfile(c *gin.Context) {
	if err := a.hub.Profiles.Delete(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) setProfileDrivers(c *gin.Context) {
	var body struct {
		Drivers []string `json:"drivers"`
		Remote  []string `json:"remote"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		fail(c, errs.Wrap(errs.InvalidArgument, err, "bad driver list"))
		return
	}
	if err := a.hub.Profiles.SetDrivers(c.Param("name"), body.Drivers, body.Remote); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) getProfileLabels(c *gin.Context) {
	p, err := a.hub.Profiles.Get(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"drivers": p.Drivers, "remote": p.Remote})
}

func (a *API) addCustomDriver(c *gin.Context) {
	var d Driver
	if err := c.ShouldBindJSON(&d); err != nil {
		fail(c, errs.Wrap(errs.InvalidArgument, err, "bad custom driver"))
		return
	}
	if err := a.hub.Profiles.SaveCustomDriver(d); err != nil {
		fail(c, err)
		return
	}
	custom, err := a.hub.Profiles.CustomDrivers()
	if err != nil {
		fail(c, err)
		return
	}
	a.hub.Catalog.SetCustom(custom)
	c.Status(http.StatusCreated)
}

func (a *API) startDevices(c *gin.Context) {
	var selection map[string]string
	if err := c.ShouldBindJSON(&selection); err != nil {
		fail(c, errs.Wrap(errs.InvalidArgument, err, "bad device selection"))
		return
	}
	if err := a.hub.StartDevices(c.Request.Context(), selection); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) hubStatus(c *gin.Context) {
	status := "False"
	if a.hub.Supervisor.IsRunning() {
		status = "True"
	}
	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (a *API) restartKind(kind string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := a.hub.RestartDevice(kind); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusOK)
	}
}

func (a *API) serverStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"running":       a.hub.Supervisor.IsRunning(),
		"activeProfile": a.hub.ActiveProfile(),
		"port":          a.hub.Supervisor.Port(),
	})
}

func (a *API) startServer(c *gin.Context) {
	if err := a.hub.StartProfile(c.Request.Context(), c.Param("profile")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) stopServer(c *gin.Context) {
	a.hub.StopServer()
	c.Status(http.StatusOK)
}

func (a *API) runningDrivers(c *gin.Context) {
	c.JSON(http.StatusOK, a.hub.Supervisor.RunningDrivers())
}

func (a *API) listDrivers(c *gin.Context) {
	c.JSON(http.StatusOK, a.hub.Catalog.Drivers())
}

func (a *API) driverGroups(c *gin.Context) {
	c.JSON(http.StatusOK, a.hub.Catalog.Families())
}

func (a *API) startDriver(c *gin.Context) {
	d, err := a.hub.Catalog.ByLabel(c.Param("label"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.hub.Supervisor.StartDriver(d); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) stopDriver(c *gin.Context) {
	d, err := a.hub.Catalog.ByLabel(c.Param("label"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.hub.Supervisor.StopDriver(d); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) restartDriver(c *gin.Context) {
	d, err := a.hub.Catalog.ByLabel(c.Param("label"))
	if err != nil {
		fail(c, err)
		return
	}
	if err := a.hub.Supervisor.RestartDriver(d); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) listDevices(c *gin.Context) {
	devices, err := a.hub.Devices(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, devices)
}

func (a *API) healthStatus(c *gin.Context) {
	if a.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "unknown"})
		return
	}
	agg := a.health.CheckAll(c.Request.Context())
	status := http.StatusOK
	if agg.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, agg)
}

func (a *API) systemReboot(c *gin.Context) {
	a.logger.Warn("system reboot requested")
	a.hub.StopServer()
	if err := exec.Command("reboot").Start(); err != nil {
		fail(c, errs.Wrap(errs.BackendError, err, "issuing reboot"))
		return
	}
	c.Status(http.StatusOK)
}

func (a *API) systemPoweroff(c *gin.Context) {
	a.logger.Warn("system poweroff requested")
	a.hub.StopServer()
	if err := exec.Command("poweroff").Start(); err != nil {
		fail(c, errs.Wrap(errs.BackendError, err, "issuing poweroff"))
		return
	}
	c.Status(http.StatusOK)
}
