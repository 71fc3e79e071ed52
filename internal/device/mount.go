package device

import (
	"context"

	"github.com/starbridge/observatoryd/internal/astro"
)

// TrackingMode selects the mount tracking rate.
type TrackingMode string

const (
	TrackSidereal TrackingMode = "sidereal"
	TrackLunar    TrackingMode = "lunar"
	TrackSolar    TrackingMode = "solar"
	TrackCustom   TrackingMode = "custom"
)

// GuideDirection is a cardinal pulse-guide direction.
type GuideDirection string

const (
	GuideNorth GuideDirection = "N"
	GuideSouth GuideDirection = "S"
	GuideEast  GuideDirection = "E"
	GuideWest  GuideDirection = "W"
)

// MountProperties are static mount properties discovered at connect.
type MountProperties struct {
	Description       string  `json:"description"`
	Firmware          string  `json:"firmware"`
	PointingPrecision float64 `json:"pointingPrecision"` // degrees
}

// MountDescription is the result of a successful mount connect.
type MountDescription struct {
	Capabilities Capabilities    `json:"capabilities"`
	Properties   MountProperties `json:"properties"`
}

// MountStatus is a dynamic snapshot.
type MountStatus struct {
	Coordinates astro.Coordinates `json:"coordinates"`
	Slewing     bool              `json:"slewing"`
	Tracking    bool              `json:"tracking"`
	AtPark      bool              `json:"atPark"`
	AtHome      bool              `json:"atHome"`
}

// Mount is the backend contract for telescope mounts. SlewTo starts an
// asynchronous slew in JNow coordinates; completion is observed by polling
// Status until Slewing goes false.
type Mount interface {
	Connect(ctx context.Context, params ConnectParams) (*MountDescription, error)
	Disconnect(ctx context.Context) error

	Status(ctx context.Context) (*MountStatus, error)

	SlewTo(ctx context.Context, coords astro.Coordinates) error
	AbortSlew(ctx context.Context) error

	SetTracking(ctx context.Context, on bool, mode TrackingMode, rate float64) error

	Park(ctx context.Context) error
	Unpark(ctx context.Context) error
	FindHome(ctx context.Context) error
	SetParkPosition(ctx context.Context) error

	Sync(ctx context.Context, coords astro.Coordinates) error
	PulseGuide(ctx context.Context, direction GuideDirection, durationMs int) error
}
