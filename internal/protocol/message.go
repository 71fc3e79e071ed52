// Package protocol defines the JSON envelope spoken on the dashboard
// WebSocket. Inbound messages carry a device type, an operation name and an
// opaque payload; outbound messages echo the operation (or name an
// asynchronous event) together with a correlation id and a status code.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/starbridge/observatoryd/internal/errs"
)

// Status codes on outbound messages.
const (
	StatusOK      = 0
	StatusError   = 1
	StatusWarning = 2
)

// Request is the inbound envelope. Params is left unparsed; the routed
// manager decodes it into its own typed parameter struct.
type Request struct {
	Type   string          `json:"type"`
	Event  string          `json:"event"`
	Params json.RawMessage `json:"params,omitempty"`
}

// Response is the outbound envelope, used both for replies and for
// asynchronous events pushed during long-running operations.
type Response struct {
	Event   string      `json:"event"`
	ID      uint64      `json:"id"`
	Status  int         `json:"status"`
	Message string      `json:"message"`
	Params  interface{} `json:"params,omitempty"`

	progress bool
}

// Terminal reports whether the response ends a long-running job. Progress
// events are coalescible under backpressure; terminal events are not.
func (r *Response) Terminal() bool {
	return !r.progress
}

// OK builds a success reply.
func OK(event, message string, params interface{}) *Response {
	return &Response{Event: event, Status: StatusOK, Message: message, Params: params}
}

// Warn builds a warning reply (used for user-initiated aborts).
func Warn(event, message string, params interface{}) *Response {
	return &Response{Event: event, Status: StatusWarning, Message: message, Params: params}
}

// Err builds an error reply from a taxonomy error. The error kind and, when
// available, the upstream diagnostic are exposed in params so clients can
// distinguish retryable failures.
func Err(event string, err error) *Response {
	params := map[string]interface{}{
		"kind": string(errs.KindOf(err)),
	}
	if diag := errs.DiagnosticOf(err); diag != "" {
		params["diagnostic"] = diag
	}
	msg := err.Error()
	var e *errs.Error
	if errors.As(err, &e) {
		msg = e.Message
	}
	return &Response{Event: event, Status: StatusError, Message: msg, Params: params}
}

// Progress marks the response as a coalescible progress event and returns it.
func (r *Response) Progress() *Response {
	r.progress = true
	return r
}
