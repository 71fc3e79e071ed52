package device

import (
	"context"
)

// FocuserProperties are static focuser properties discovered at connect.
type FocuserProperties struct {
	Description string `json:"description"`
	MaxStep     int    `json:"maxStep"`
	MaxIncrement int   `json:"maxIncrement"`
	StepSize    float64 `json:"stepSize"`
}

// FocuserDescription is the result of a successful focuser connect.
type FocuserDescription struct {
	Capabilities Capabilities      `json:"capabilities"`
	Properties   FocuserProperties `json:"properties"`
}

// FocuserStatus is a dynamic snapshot.
type FocuserStatus struct {
	Position    int     `json:"position"`
	Moving      bool    `json:"moving"`
	Temperature float64 `json:"temperature"`
}

// Focuser is the backend contract for focusers. MoveTo is absolute, Move is
// relative; both start asynchronous motion observed by polling Status.
type Focuser interface {
	Connect(ctx context.Context, params ConnectParams) (*FocuserDescription, error)
	Disconnect(ctx context.Context) error

	Status(ctx context.Context) (*FocuserStatus, error)
	MoveTo(ctx context.Context, position int) error
	Move(ctx context.Context, step int) error
	Halt(ctx context.Context) error
}

// FilterWheelProperties are static filter wheel properties.
type FilterWheelProperties struct {
	SlotCount    int      `json:"slotCount"`
	Names        []string `json:"names"`
	FocusOffsets []int    `json:"focusOffsets"`
}

// FilterWheelDescription is the result of a successful filter wheel connect.
type FilterWheelDescription struct {
	Capabilities Capabilities          `json:"capabilities"`
	Properties   FilterWheelProperties `json:"properties"`
}

// FilterWheel is the backend contract for filter wheels. SetPosition starts
// an asynchronous rotation; Position reports -1 while the wheel is moving.
type FilterWheel interface {
	Connect(ctx context.Context, params ConnectParams) (*FilterWheelDescription, error)
	Disconnect(ctx context.Context) error

	Position(ctx context.Context) (int, error)
	SetPosition(ctx context.Context, slot int) error
}
