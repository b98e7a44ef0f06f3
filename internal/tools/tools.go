// Package tools is the thin dispatch boundary between the assistant-facing
// tool catalog and the bridge core. The catalog is intentionally
// open-ended: tool names map to device method names in a string-keyed
// table, and unknown names pass through verbatim so the mobile SDK can
// expose new methods without a bridge release.
//
// This layer is also the error containment boundary: every failure the
// core raises is caught here and rendered as a structured payload, never
// propagated as a bare error to the outer protocol.
package tools

import (
	"context"
	"encoding/json"

	apperrors "github.com/appbridge/bridge/internal/errors"
)

// Bridge is the contract the dispatcher needs from the core: a cheap
// connectivity check and the single suspending command operation.
type Bridge interface {
	HasConnectedDevice() bool
	SendCommand(ctx context.Context, deviceID, method string, params any) (json.RawMessage, error)
}

// Result is the structured outcome of one tool call. Exactly one of
// Result or Error is meaningful, discriminated by OK.
type Result struct {
	// OK reports whether the call succeeded.
	OK bool `json:"ok"`

	// Result is the raw reply from the device when OK.
	Result json.RawMessage `json:"result,omitempty"`

	// Error carries the failure when not OK.
	Error *CallError `json:"error,omitempty"`
}

// CallError is a rendered bridge failure: a stable code for programmatic
// handling plus a short human-readable message.
type CallError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Dispatcher forwards tool calls to the bridge core.
type Dispatcher struct {
	bridge Bridge

	// methods maps tool names to device method names where they differ.
	// Tools absent from the table use their own name as the method.
	methods map[string]string
}

// NewDispatcher creates a dispatcher over the given bridge.
func NewDispatcher(b Bridge) *Dispatcher {
	return &Dispatcher{
		bridge:  b,
		methods: make(map[string]string),
	}
}

// Register maps a tool name to a device method name. Later registrations
// replace earlier ones.
func (d *Dispatcher) Register(tool, method string) {
	d.methods[tool] = method
}

// HasConnectedDevice reports whether any device is available, so the
// outer layer can render connect-your-app guidance before attempting a
// call.
func (d *Dispatcher) HasConnectedDevice() bool {
	return d.bridge.HasConnectedDevice()
}

// Call invokes a tool against a device and renders the outcome. deviceID
// may be empty to target the primary device. All core errors come back as
// a structured payload with a stable code; Call never returns a Go error.
func (d *Dispatcher) Call(ctx context.Context, tool, deviceID string, params any) Result {
	method, ok := d.methods[tool]
	if !ok {
		method = tool
	}

	result, err := d.bridge.SendCommand(ctx, deviceID, method, params)
	if err != nil {
		code, message := apperrors.ToCodeAndMessage(err)
		return Result{
			OK: false,
			Error: &CallError{
				Code:    code,
				Message: message,
			},
		}
	}

	return Result{
		OK:     true,
		Result: result,
	}
}
