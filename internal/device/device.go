// Package device defines the device-agnostic contract every hardware
// backend must satisfy: device kinds, connection states, capability sets,
// and one interface per device kind. Managers own the state machine and
// talk to hardware only through these interfaces; backends are leaves and
// hold no reference back to their manager.
package device

import (
	"time"
)

// Kind is the logical device class.
type Kind string

const (
	KindCamera      Kind = "camera"
	KindMount       Kind = "mount"
	KindFocuser     Kind = "focuser"
	KindFilterWheel Kind = "filterwheel"
	KindGuider      Kind = "guider"
	KindSolver      Kind = "solver"
)

// Backend names the channel a logical device is implemented over.
type Backend string

const (
	BackendASCOM      Backend = "ascom"
	BackendINDI       Backend = "indi"
	BackendNative     Backend = "native"
	BackendPHD2       Backend = "phd2"
	BackendAstrometry Backend = "astrometry"
	BackendASTAP      Backend = "astap"
)

// ConnState is the connection state of a logical device.
type ConnState string

const (
	Disconnected ConnState = "Disconnected"
	Connecting   ConnState = "Connecting"
	Ready        ConnState = "Ready"
	Busy         ConnState = "Busy"
	Errored      ConnState = "Error"
	Reconnecting ConnState = "Reconnecting"
)

// ConnectParams selects and addresses a backend at connect time.
type ConnectParams struct {
	Backend      Backend       `json:"backend"`
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	DeviceNumber int           `json:"deviceNumber"`
	Name         string        `json:"name"`
	Timeout      time.Duration `json:"-"`
}

// Capabilities is the flat flag set discovered at connect time. Flags are
// immutable between connect and disconnect; operations whose required flag
// is false fail fast with Unsupported.
type Capabilities map[string]bool

// Has reports whether the named capability is advertised.
func (c Capabilities) Has(name string) bool {
	return c != nil && c[name]
}

// Capability flag names. Cameras.
const (
	CanCool         = "canCool"
	CanGetCoolPower = "canGetCoolPower"
	CanSetGain      = "canSetGain"
	CanSetOffset    = "canSetOffset"
	CanBin          = "canBin"
	CanAbort        = "canAbort"
	CanGuide        = "canGuide"
	HasShutter      = "hasShutter"
	IsColor         = "isColor"
)

// Mounts.
const (
	CanSlew        = "canSlew"
	CanTrack       = "canTrack"
	CanPark        = "canPark"
	CanUnpark      = "canUnpark"
	CanFindHome    = "canFindHome"
	CanSetParkPos  = "canSetParkPosition"
	CanSetHomePos  = "canSetHomePosition"
	CanSync        = "canSync"
	CanPulseGuide  = "canPulseGuide"
	CanSetTrackRat = "canSetTrackingRate"
)

// Focusers.
const (
	CanAbsolute    = "canAbsolute"
	CanTemperature = "canTemperature"
)

// LastError is the per-device last-failure record, cleared on the next
// successful transition.
type LastError struct {
	Kind       string    `json:"kind"`
	Message    string    `json:"message"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	At         time.Time `json:"at"`
}

// Identity names one logical device for the lifetime of a connection.
type Identity struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Kind    Kind    `json:"kind"`
	Backend Backend `json:"backend"`
}
