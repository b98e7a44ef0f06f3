package bridge

// router.go contains the command router: the request/response multiplexer
// that correlates JSON-RPC-shaped envelopes with asynchronous device
// replies by request identifier.

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/appbridge/bridge/internal/errors"
)

// errDeviceDisconnected builds the error used to fail requests whose
// target device dropped while they were in flight.
func errDeviceDisconnected() error {
	return apperrors.New(apperrors.CodeDeviceDisconnected, "device disconnected")
}

// SendCommand sends a command to a device and waits for its reply.
//
// deviceID names a specific connected device; when empty, the primary
// (most recently active) device is targeted. If no device can be resolved
// the call fails immediately with no network round-trip and no timer.
//
// method and params are opaque to the router and are forwarded verbatim
// inside the envelope. The returned raw JSON is the reply's result field.
//
// Exactly one resolution per call is guaranteed: reply, remote error,
// timeout, disconnect, or context cancellation. The router never retries;
// retry policy belongs to the caller.
func (s *Server) SendCommand(ctx context.Context, deviceID, method string, params any) (json.RawMessage, error) {
	device, err := s.resolveTarget(deviceID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	timeout := s.commandTimeout
	recorder := s.commandRecorder
	s.mu.RUnlock()

	requestID := uuid.NewString()

	pr := device.addPending(requestID)
	if pr == nil {
		// Device shut down between resolution and registration.
		return nil, errDeviceDisconnected()
	}

	env := commandEnvelope{
		JSONRPC: "2.0",
		ID:      requestID,
		Method:  method,
		Params:  params,
	}

	start := time.Now()
	if err := device.enqueue(env); err != nil {
		device.takePending(requestID)
		return nil, err
	}

	result, err := s.awaitOutcome(ctx, device, pr, requestID, timeout)
	if recorder != nil {
		recorder(device.ID, method, time.Since(start), err == nil)
	}
	return result, err
}

// awaitOutcome blocks until the pending request resolves, its timer fires,
// or the caller's context is cancelled. Whoever removes the entry from the
// pending table owns its resolution, so a reply racing the timer is still
// delivered exactly once and a reply arriving after removal is ignored.
func (s *Server) awaitOutcome(ctx context.Context, device *Device, pr *pendingRequest, requestID string, timeout time.Duration) (json.RawMessage, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-pr.outcome:
		return out.result, out.err

	case <-timer.C:
		if device.takePending(requestID) != nil {
			return nil, apperrors.New(apperrors.CodeCommandTimeout,
				"command timed out waiting for device reply")
		}
		// The reply won the race: it already removed the entry and its
		// outcome is in the buffered channel.
		out := <-pr.outcome
		return out.result, out.err

	case <-ctx.Done():
		if device.takePending(requestID) != nil {
			return nil, ctx.Err()
		}
		out := <-pr.outcome
		return out.result, out.err
	}
}

// resolveTarget maps a caller-supplied device ID to a registered device.
// Both "nothing connected" and "named device missing" fail synchronously;
// the outer layer renders them as connect-your-app guidance.
func (s *Server) resolveTarget(deviceID string) (*Device, error) {
	if deviceID == "" {
		device := s.PrimaryDevice()
		if device == nil {
			return nil, apperrors.New(apperrors.CodeDeviceNotConnected, "no device connected")
		}
		return device, nil
	}

	device := s.Device(deviceID)
	if device == nil {
		return nil, apperrors.New(apperrors.CodeDeviceNotFound,
			"device "+deviceID+" is not connected")
	}
	return device, nil
}
