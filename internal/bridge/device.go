package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	apperrors "github.com/appbridge/bridge/internal/errors"
)

// sendBufferSize is the buffer size for per-device send channels. The
// buffer absorbs bursts of outbound envelopes without blocking the router;
// if it fills up, enqueue fails rather than stalling callers.
const sendBufferSize = 64

// pushEventBurst is the burst size for the per-device push-event limiter.
const pushEventBurst = 50

// pushEventsPerSecond caps unsolicited push events per device. Command
// replies are never rate-limited; dropping a reply would strand a caller
// until timeout.
const pushEventsPerSecond = 200

// Device represents one connected mobile-app instance that has completed
// the handshake. A Device exists in the server's registry if and only if
// its WebSocket connection is open and handshaken.
//
// Each Device owns its connection's two goroutines (readPump/writePump)
// and the table of requests outstanding on that connection.
type Device struct {
	// ID is the stable identifier for this connection, either supplied by
	// the SDK at handshake or generated by the registry.
	ID string

	// Platform is the runtime tag from the handshake.
	Platform Platform

	// AppName and AppVersion describe the connected application.
	AppName    string
	AppVersion string

	// Capabilities are the free-form feature tags from the handshake.
	Capabilities []string

	// conn is the underlying WebSocket connection. Its lifecycle is driven
	// by the peer or by error; the device only reacts to closure.
	conn *websocket.Conn

	// send is a buffered channel of outbound envelopes. writePump drains
	// it onto the WebSocket.
	send chan any

	// done is closed exactly once to signal both pumps to shut down.
	done chan struct{}

	// closeOnce guards the done channel. Both readPump teardown and
	// server Stop() may race to close the device.
	closeOnce sync.Once

	// server is a reference back to the owning server.
	server *Server

	// eventLimiter rate-limits unsolicited push events from this device
	// so a chatty SDK cannot monopolize the event handlers.
	eventLimiter *rate.Limiter

	// mu protects lastSeen and pending. Mutation happens from the device's
	// readPump goroutine and from router goroutines, so a lock is required.
	mu sync.Mutex

	// lastSeen is refreshed on every inbound message. The most recently
	// seen device is the implicit target for unaddressed commands.
	lastSeen time.Time

	// pending maps request identifiers to their outstanding waiters.
	// nil after the device has been shut down; registrations then fail.
	pending map[string]*pendingRequest
}

// commandOutcome is the single resolution of one outstanding command:
// either a raw result or an error, never both.
type commandOutcome struct {
	result json.RawMessage
	err    error
}

// pendingRequest tracks one outstanding command awaiting a reply. The
// outcome channel is buffered so the resolver never blocks; every entry
// is resolved exactly once via reply, timeout, or disconnect.
type pendingRequest struct {
	id      string
	outcome chan commandOutcome
}

// newDevice builds a Device from a completed handshake.
func newDevice(conn *websocket.Conn, hs *HandshakeMessage, id string, s *Server) *Device {
	return &Device{
		ID:           id,
		Platform:     hs.Platform,
		AppName:      hs.AppName,
		AppVersion:   hs.AppVersion,
		Capabilities: hs.Capabilities,
		conn:         conn,
		send:         make(chan any, sendBufferSize),
		done:         make(chan struct{}),
		server:       s,
		eventLimiter: rate.NewLimiter(rate.Limit(pushEventsPerSecond), pushEventBurst),
		lastSeen:     time.Now(),
		pending:      make(map[string]*pendingRequest),
	}
}

// LastSeen returns when the device last sent any message.
func (d *Device) LastSeen() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSeen
}

// touch refreshes the last-seen timestamp. Called on every inbound message.
func (d *Device) touch() {
	d.mu.Lock()
	d.lastSeen = time.Now()
	d.mu.Unlock()
}

// shutdown signals both pumps to exit. Safe to call multiple times from
// different goroutines.
func (d *Device) shutdown() {
	d.closeOnce.Do(func() {
		close(d.done)
	})
}

// enqueue queues an outbound message for writePump without blocking.
// It fails if the device is shutting down or its send buffer is full.
func (d *Device) enqueue(msg any) error {
	select {
	case <-d.done:
		return apperrors.New(apperrors.CodeDeviceDisconnected, "device disconnected")
	default:
	}

	select {
	case d.send <- msg:
		return nil
	case <-d.done:
		return apperrors.New(apperrors.CodeDeviceDisconnected, "device disconnected")
	default:
		return apperrors.New(apperrors.CodeCommandSendFailed, "device send buffer full")
	}
}

// addPending registers a new outstanding request under id. Returns nil if
// the device has already been shut down; the caller must fail fast.
func (d *Device) addPending(id string) *pendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending == nil {
		return nil
	}

	pr := &pendingRequest{
		id:      id,
		outcome: make(chan commandOutcome, 1),
	}
	d.pending[id] = pr
	return pr
}

// takePending removes and returns the pending entry for id, or nil if no
// such request is outstanding. Whoever takes the entry owns its resolution;
// this is what makes reply-vs-timeout races resolve exactly once.
func (d *Device) takePending(id string) *pendingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()

	pr, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	return pr
}

// resolvePending completes the request for id with a reply from the device.
// Returns false if no matching request is outstanding (late or unknown
// reply; the message is dropped by the caller).
func (d *Device) resolvePending(id string, result json.RawMessage, remoteErr *RemoteError) bool {
	pr := d.takePending(id)
	if pr == nil {
		return false
	}

	if remoteErr != nil {
		msg := remoteErr.Message
		if msg == "" {
			msg = "Unknown error"
		}
		pr.outcome <- commandOutcome{err: apperrors.New(apperrors.CodeCommandRemoteError, msg)}
		return true
	}

	pr.outcome <- commandOutcome{result: result}
	return true
}

// failAllPending rejects every outstanding request with err and prevents
// new registrations. Called once when the device disconnects so callers
// fail fast instead of stalling until their own timeout.
func (d *Device) failAllPending(err error) {
	d.mu.Lock()
	taken := d.pending
	d.pending = nil
	d.mu.Unlock()

	for _, pr := range taken {
		pr.outcome <- commandOutcome{err: err}
	}
}

// pendingCount returns the number of outstanding requests, for tests and
// the status endpoint.
func (d *Device) pendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
