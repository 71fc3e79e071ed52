package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/starbridge/observatoryd/internal/backend/ascom"
	"github.com/starbridge/observatoryd/internal/backend/indi"
	"github.com/starbridge/observatoryd/internal/device"
	"github.com/starbridge/observatoryd/internal/errs"
	"github.com/starbridge/observatoryd/internal/manager"
	"github.com/starbridge/observatoryd/internal/protocol"
)

// routeKey identifies one operation on the wire.
type routeKey struct {
	Type  string
	Event string
}

// route binds an operation to its handler. Mutating routes require the
// calling session to own the device kind.
type route struct {
	kind     device.Kind
	mutating bool
	handler  func(ctx context.Context, h *Hub, params json.RawMessage) *protocol.Response
}

// dispatch resolves and runs one request. Unknown (type, event) pairs get
// an error reply; the connection stays open either way.
func (s *Server) dispatch(sess *session, req *protocol.Request) *protocol.Response {
	rt, ok := s.routes[routeKey{Type: req.Type, Event: req.Event}]
	if !ok {
		return protocol.Err(req.Event, errs.New(errs.InvalidArgument,
			"unknown operation %s/%s", req.Type, req.Event))
	}
	if rt.mutating {
		if err := s.hub.acquire(rt.kind, sess); err != nil {
			return protocol.Err(req.Event, err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
	defer cancel()
	return rt.handler(ctx, s.hub, req.Params)
}

func decodeParams(raw json.RawMessage, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return errs.Wrap(errs.InvalidArgument, err, "bad parameters")
	}
	return nil
}

// reply wraps the common ok/err pattern for synchronous calls.
func reply(event string, err error, message string, params interface{}) *protocol.Response {
	if err != nil {
		return protocol.Err(event, err)
	}
	return protocol.OK(event, message, params)
}

func errNoDevice(kind device.Kind) error {
	return errs.New(errs.Unsupported, "no %s is configured on this server", kind)
}

// buildRoutes lays out the fixed (type, event) table.
func buildRoutes() map[routeKey]route {
	routes := make(map[routeKey]route)
	add := func(typ string, kind device.Kind, event string, mutating bool,
		h func(ctx context.Context, hub *Hub, params json.RawMessage) *protocol.Response) {
		routes[routeKey{Type: typ, Event: event}] = route{kind: kind, mutating: mutating, handler: h}
	}

	cameraRoutes(add)
	mountRoutes(add)
	focuserRoutes(add)
	filterWheelRoutes(add)
	guiderRoutes(add)
	solverRoutes(add)
	serverRoutes(add)

	// Older clients name the mount "telescope" and the roster "server"
	// operations "system"; both spellings stay routable.
	aliasType(routes, "mount", "telescope")
	aliasType(routes, "server", "system")
	return routes
}

func aliasType(routes map[routeKey]route, from, to string) {
	aliased := make(map[routeKey]route)
	for key, rt := range routes {
		if key.Type == from {
			aliased[routeKey{Type: to, Event: key.Event}] = rt
		}
	}
	for key, rt := range aliased {
		routes[key] = rt
	}
}

type addFunc func(typ string, kind device.Kind, event string, mutating bool,
	h func(ctx context.Context, hub *Hub, params json.RawMessage) *protocol.Response)

func cameraRoutes(add addFunc) {
	const typ = "camera"
	kind := device.KindCamera

	add(typ, kind, "remoteConnect", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteConnect"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		var params device.ConnectParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		desc, err := h.Camera.Connect(ctx, params)
		return reply(event, err, "camera connected", desc)
	})
	add(typ, kind, "remoteDisconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteDisconnect"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return reply(event, h.Camera.Disconnect(ctx), "camera disconnected", nil)
	})
	add(typ, kind, "remoteReconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteReconnect"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		desc, err := h.Camera.Reconnect(ctx)
		return reply(event, err, "camera reconnected", desc)
	})
	add(typ, kind, "remoteScanning", false, scanHandler("remoteScanning", kind))
	add(typ, kind, "remoteDescription", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteDescription"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		desc, err := h.Camera.Description()
		return reply(event, err, "camera description", desc)
	})

	add(typ, kind, "remoteStartExposure", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteStartExposure"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		var params manager.ExposureParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		if err := h.Camera.StartExposure(params); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("exposureStarted", "exposure started", nil)
	})
	add(typ, kind, "remoteAbortExposure", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortExposure"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return reply(event, h.Camera.AbortExposure(), "abort requested", nil)
	})
	add(typ, kind, "remoteGetExposureStatus", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetExposureStatus"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		status, err := h.Camera.ExposureStatus(ctx)
		return reply(event, err, "exposure status", status)
	})
	add(typ, kind, "remoteGetExposureResult", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetExposureResult"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		result, err := h.Camera.ExposureResult()
		return reply(event, err, "exposure result", result)
	})

	add(typ, kind, "remoteSequenceExposure", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSequenceExposure"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		var params manager.SequenceParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		if err := h.Camera.StartSequence(params); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("sequenceStarted", "sequence started", nil)
	})
	add(typ, kind, "remotePauseSequence", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remotePauseSequence"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return reply(event, h.Camera.PauseSequence(), "sequence paused", nil)
	})
	add(typ, kind, "remoteContinueSequence", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteContinueSequence"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return reply(event, h.Camera.ContinueSequence(), "sequence resumed", nil)
	})
	add(typ, kind, "remoteAbortSequence", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortSequence"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return reply(event, h.Camera.AbortSequence(), "sequence abort requested", nil)
	})

	add(typ, kind, "remoteCooling", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteCooling"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		var params struct {
			Enable bool `json:"enable"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, h.Camera.SetCooling(ctx, params.Enable), "cooler updated", nil)
	})
	add(typ, kind, "remoteCoolingTo", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteCoolingTo"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		var params struct {
			Temperature float64 `json:"temperature"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, h.Camera.CoolingTo(ctx, params.Temperature), "cooling target set", nil)
	})
	add(typ, kind, "remoteGetCoolingStatus", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetCoolingStatus"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		status, err := h.Camera.GetCoolingStatus(ctx)
		return reply(event, err, "cooling status", status)
	})

	add(typ, kind, "remoteGetConfiguration", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetConfiguration"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return protocol.OK(event, "camera configuration", h.Camera.GetConfiguration())
	})
	add(typ, kind, "remoteSetConfiguration", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSetConfiguration"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		var update manager.ConfigUpdate
		if err := decodeParams(raw, &update); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, h.Camera.SetConfiguration(ctx, update), "configuration updated", nil)
	})
	add(typ, kind, "remoteSaveConfiguration", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteSaveConfiguration"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return reply(event, h.Camera.SaveConfiguration(), "configuration saved", nil)
	})
	add(typ, kind, "remoteLoadConfiguration", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteLoadConfiguration"
		if h.Camera == nil {
			return protocol.Err(event, errNoDevice(kind))
		}
		return reply(event, h.Camera.LoadConfiguration(), "configuration loaded", nil)
	})
}

func mountRoutes(add addFunc) {
	const typ = "mount"
	kind := device.KindMount

	mount := func(h *Hub, event string) (*manager.Mount, *protocol.Response) {
		if h.Mount == nil {
			return nil, protocol.Err(event, errNoDevice(kind))
		}
		return h.Mount, nil
	}

	add(typ, kind, "remoteConnect", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteConnect"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		var params device.ConnectParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		desc, err := m.Connect(ctx, params)
		return reply(event, err, "telescope connected", desc)
	})
	add(typ, kind, "remoteDisconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteDisconnect"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, m.Disconnect(ctx), "telescope disconnected", nil)
	})
	add(typ, kind, "remoteReconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteReconnect"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		desc, err := m.Reconnect(ctx)
		return reply(event, err, "telescope reconnected", desc)
	})
	add(typ, kind, "remoteScanning", false, scanHandler("remoteScanning", kind))
	add(typ, kind, "remoteGetStatus", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetStatus"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		status, err := m.Status(ctx)
		return reply(event, err, "telescope status", status)
	})

	add(typ, kind, "remoteGoto", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteGoto"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		var params manager.GotoParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		if err := m.Goto(params); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("gotoStarted", "slew started", nil)
	})
	add(typ, kind, "remoteAbortGoto", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortGoto"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, m.AbortGoto(), "abort requested", nil)
	})
	add(typ, kind, "remotePark", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remotePark"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		if err := m.Park(); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("parkStarted", "park started", nil)
	})
	add(typ, kind, "remoteUnpark", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteUnpark"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, m.Unpark(ctx), "telescope unparked", nil)
	})
	add(typ, kind, "remoteHome", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteHome"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		if err := m.Home(); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("homeStarted", "homing started", nil)
	})
	add(typ, kind, "remoteUnhome", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteUnhome"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, m.Unhome(), "homing abort requested", nil)
	})
	add(typ, kind, "remoteSetParkPosition", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteSetParkPosition"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, m.SetParkPosition(ctx), "park position set", nil)
	})
	add(typ, kind, "remoteSetHomePosition", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteSetHomePosition"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, m.SetHomePosition(ctx), "home position set", nil)
	})
	add(typ, kind, "remoteTracking", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteTracking"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		var params manager.TrackingParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, m.SetTracking(ctx, params), "tracking updated", nil)
	})
	add(typ, kind, "remoteAbortTracking", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortTracking"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, m.AbortTracking(ctx), "tracking stopped", nil)
	})
	add(typ, kind, "remoteSync", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSync"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		var params manager.GotoParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, m.Sync(ctx, params), "telescope synced", nil)
	})
	add(typ, kind, "remoteGuide", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteGuide"
		m, fail := mount(h, event)
		if fail != nil {
			return fail
		}
		var params manager.GuidePulseParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, m.Guide(ctx, params), "guide pulse sent", nil)
	})
}

func focuserRoutes(add addFunc) {
	const typ = "focuser"
	kind := device.KindFocuser

	foc := func(h *Hub, event string) (*manager.Focuser, *protocol.Response) {
		if h.Focuser == nil {
			return nil, protocol.Err(event, errNoDevice(kind))
		}
		return h.Focuser, nil
	}

	add(typ, kind, "remoteConnect", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteConnect"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		var params device.ConnectParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		desc, err := f.Connect(ctx, params)
		return reply(event, err, "focuser connected", desc)
	})
	add(typ, kind, "remoteDisconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteDisconnect"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, f.Disconnect(ctx), "focuser disconnected", nil)
	})
	add(typ, kind, "remoteReconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteReconnect"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		desc, err := f.Reconnect(ctx)
		return reply(event, err, "focuser reconnected", desc)
	})
	add(typ, kind, "remoteScanning", false, scanHandler("remoteScanning", kind))

	add(typ, kind, "remoteMove", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteMove"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			Step int `json:"step"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		if err := f.Move(params.Step); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("moveStarted", "move started", nil)
	})
	add(typ, kind, "remoteMoveTo", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteMoveTo"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			Position int `json:"position"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		if err := f.MoveTo(params.Position); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("moveStarted", "move started", nil)
	})
	add(typ, kind, "remoteAbort", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbort"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, f.Abort(), "abort requested", nil)
	})
	add(typ, kind, "remoteGetPosition", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetPosition"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		pos, err := f.GetPosition(ctx)
		return reply(event, err, "focuser position", map[string]int{"position": pos})
	})
	add(typ, kind, "remoteGetTemperature", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetTemperature"
		f, fail := foc(h, event)
		if fail != nil {
			return fail
		}
		temp, err := f.GetTemperature(ctx)
		return reply(event, err, "focuser temperature", map[string]float64{"temperature": temp})
	})
}

func filterWheelRoutes(add addFunc) {
	const typ = "filterwheel"
	kind := device.KindFilterWheel

	wheel := func(h *Hub, event string) (*manager.FilterWheel, *protocol.Response) {
		if h.Wheel == nil {
			return nil, protocol.Err(event, errNoDevice(kind))
		}
		return h.Wheel, nil
	}

	add(typ, kind, "remoteConnect", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteConnect"
		w, fail := wheel(h, event)
		if fail != nil {
			return fail
		}
		var params device.ConnectParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		desc, err := w.Connect(ctx, params)
		return reply(event, err, "filter wheel connected", desc)
	})
	add(typ, kind, "remoteDisconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteDisconnect"
		w, fail := wheel(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, w.Disconnect(ctx), "filter wheel disconnected", nil)
	})
	add(typ, kind, "remoteScanning", false, scanHandler("remoteScanning", kind))

	add(typ, kind, "remoteGoto", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteGoto"
		w, fail := wheel(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			Slot int `json:"slot"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		if err := w.Goto(params.Slot); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("filterChangeStarted", "filter change started", nil)
	})
	add(typ, kind, "remoteGetPosition", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetPosition"
		w, fail := wheel(h, event)
		if fail != nil {
			return fail
		}
		pos, err := w.GetPosition(ctx)
		return reply(event, err, "filter wheel position", map[string]int{"position": pos})
	})
	add(typ, kind, "remoteGetPositionOffsets", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetPositionOffsets"
		w, fail := wheel(h, event)
		if fail != nil {
			return fail
		}
		offsets, err := w.GetPositionOffsets()
		return reply(event, err, "filter focus offsets", map[string][]int{"offsets": offsets})
	})
}

func guiderRoutes(add addFunc) {
	const typ = "guider"
	kind := device.KindGuider

	gdr := func(h *Hub, event string) (*manager.Guider, *protocol.Response) {
		if h.Guider == nil {
			return nil, protocol.Err(event, errNoDevice(kind))
		}
		return h.Guider, nil
	}

	add(typ, kind, "remoteConnect", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteConnect"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params device.ConnectParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.Connect(ctx, params), "guider connected", nil)
	})
	add(typ, kind, "remoteDisconnect", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteDisconnect"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, g.Disconnect(ctx), "guider disconnected", nil)
	})
	add(typ, kind, "remoteGetState", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetState"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		state, err := g.GuiderState()
		return reply(event, err, "guider state", state)
	})

	add(typ, kind, "remoteStartGuiding", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteStartGuiding"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params manager.StartGuidingParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.StartGuiding(ctx, params), "guiding requested", nil)
	})
	add(typ, kind, "remoteAbortGuiding", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortGuiding"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, g.AbortGuiding(ctx), "guiding stopped", nil)
	})
	add(typ, kind, "remoteStartCalibration", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteStartCalibration"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, g.StartCalibration(ctx), "calibration requested", nil)
	})
	add(typ, kind, "remoteAbortCalibration", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortCalibration"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, g.AbortCalibration(ctx), "calibration stopped", nil)
	})
	add(typ, kind, "remoteStartDither", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteStartDither"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params manager.DitherParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.StartDither(ctx, params), "dither requested", nil)
	})
	add(typ, kind, "remoteAbortDither", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortDither"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, g.AbortDither(ctx), "dither abandoned", nil)
	})
	add(typ, kind, "remoteSetExposure", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSetExposure"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			Milliseconds int `json:"milliseconds"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.SetExposure(ctx, params.Milliseconds), "guide exposure set", nil)
	})
	add(typ, kind, "remoteSetDecGuideMode", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSetDecGuideMode"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			Mode string `json:"mode"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.SetDecGuideMode(ctx, params.Mode), "dec guide mode set", nil)
	})
	add(typ, kind, "remoteSetLockPosition", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSetLockPosition"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.SetLockPosition(ctx, params.X, params.Y), "lock position set", nil)
	})
	add(typ, kind, "remoteSetPaused", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSetPaused"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			Paused bool `json:"paused"`
			Full   bool `json:"full"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.SetPaused(ctx, params.Paused, params.Full), "pause state set", nil)
	})
	add(typ, kind, "remoteSetProfile", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSetProfile"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		var params struct {
			ID int `json:"id"`
		}
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		return reply(event, g.SetProfile(ctx, params.ID), "profile selected", nil)
	})
	add(typ, kind, "remoteUseSubframes", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteUseSubframes"
		g, fail := gdr(h, event)
		if fail != nil {
			return fail
		}
		subframes, err := g.UseSubframes(ctx)
		return reply(event, err, "subframe setting", map[string]bool{"useSubframes": subframes})
	})
}

func solverRoutes(add addFunc) {
	const typ = "solver"
	kind := device.KindSolver

	slv := func(h *Hub, event string) (*manager.Solver, *protocol.Response) {
		if h.Solver == nil {
			return nil, protocol.Err(event, errNoDevice(kind))
		}
		return h.Solver, nil
	}

	add(typ, kind, "remoteSolveImage", true, func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		const event = "remoteSolveImage"
		s, fail := slv(h, event)
		if fail != nil {
			return fail
		}
		var params device.SolveParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		if err := s.Solve(params); err != nil {
			return protocol.Err(event, err)
		}
		return protocol.OK("solveStarted", "solve started", nil)
	})
	add(typ, kind, "remoteAbortSolve", true, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteAbortSolve"
		s, fail := slv(h, event)
		if fail != nil {
			return fail
		}
		return reply(event, s.AbortSolve(), "abort requested", nil)
	})
	add(typ, kind, "remoteGetResult", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		const event = "remoteGetResult"
		s, fail := slv(h, event)
		if fail != nil {
			return fail
		}
		result, err := s.LastResult()
		return reply(event, err, "solve result", result)
	})
}

func serverRoutes(add addFunc) {
	const typ = "server"

	add(typ, "", "remotePing", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		return protocol.OK("remotePing", "pong", nil)
	})
	add(typ, "", "remoteDashboardSetup", false, func(ctx context.Context, h *Hub, _ json.RawMessage) *protocol.Response {
		var devices []map[string]interface{}
		for _, dev := range h.devices() {
			entry := map[string]interface{}{
				"identity": dev.Identity(),
				"state":    dev.State(),
			}
			if lastErr := dev.LastError(); lastErr != nil {
				entry["lastError"] = lastErr
			}
			devices = append(devices, entry)
		}
		return protocol.OK("remoteDashboardSetup", "device roster", map[string]interface{}{
			"devices": devices,
		})
	})
}

// scanHandler enumerates devices reachable over the requested backend.
func scanHandler(event string, kind device.Kind) func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
	return func(ctx context.Context, h *Hub, raw json.RawMessage) *protocol.Response {
		var params device.ConnectParams
		if err := decodeParams(raw, &params); err != nil {
			return protocol.Err(event, err)
		}
		switch params.Backend {
		case device.BackendASCOM, "":
			host, port := params.Host, params.Port
			if host == "" {
				servers, err := ascom.Discover(ctx, 2*time.Second, h.logger)
				if err == nil && len(servers) > 0 {
					host, port = servers[0].Host, servers[0].Port
				}
			}
			found, err := ascom.Scan(ctx, host, port, alpacaType(kind), 10*time.Second)
			return reply(event, err, "scan complete", map[string]interface{}{"devices": found})
		case device.BackendINDI:
			props := indi.NewProps(params.Host, params.Port, h.logger)
			found, err := props.ListDevices(ctx)
			return reply(event, err, "scan complete", map[string]interface{}{"devices": found})
		default:
			return protocol.Err(event, errs.New(errs.Unsupported,
				"backend %s does not support scanning", params.Backend))
		}
	}
}

func alpacaType(kind device.Kind) string {
	switch kind {
	case device.KindCamera:
		return "Camera"
	case device.KindMount:
		return "Telescope"
	case device.KindFocuser:
		return "Focuser"
	case device.KindFilterWheel:
		return "FilterWheel"
	default:
		return ""
	}
}
