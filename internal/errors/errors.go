// Package errors provides standardized error codes for the bridge daemon.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (handshake, device, command, storage)
//   - error: The specific error type within that domain
//
// These codes are stable and can be used by the tool-dispatch layer for
// programmatic error handling. Human-readable messages are provided
// alongside codes so the outer layer can render a short failure string
// without inspecting the code.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that callers can rely on for error handling.
const (
	// Handshake domain - connection establishment errors
	CodeHandshakeTimeout = "handshake.timeout" // No handshake within the window
	CodeHandshakeInvalid = "handshake.invalid" // First message was not a valid handshake

	// Device domain - registry and targeting errors
	CodeDeviceNotConnected = "device.not_connected" // No device connected at all
	CodeDeviceNotFound     = "device.not_found"     // Named device is not connected
	CodeDeviceDisconnected = "device.disconnected"  // Device dropped while a command was in flight

	// Command domain - request/response multiplexing errors
	CodeCommandTimeout     = "command.timeout"      // No reply within the request window
	CodeCommandRemoteError = "command.remote_error" // Device replied with an error field
	CodeCommandSendFailed  = "command.send_failed"  // Envelope could not be queued or written

	// Storage domain - database and persistence errors
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed
	CodeStorageSaveFailed  = "storage.save_failed"  // Failed to save data
	CodeStorageNotFound    = "storage.not_found"    // Device record not found

	// Server domain - listener and transport errors
	CodeServerBindFailed     = "server.bind_failed"     // Listen port already in use
	CodeServerUpgradeFailed  = "server.upgrade_failed"  // WebSocket upgrade failed
	CodeServerInvalidMessage = "server.invalid_message" // Malformed or invalid message

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "device.not_connected")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// HasCode reports whether err carries the given stable code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}
