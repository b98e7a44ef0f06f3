// Package bridge provides the device connection and command-routing layer
// of the appbridge daemon. It accepts persistent WebSocket connections from
// mobile-app processes, performs the connection handshake, multiplexes many
// concurrent request/response exchanges over a single connection per device,
// tracks device liveness, and selects which device an unaddressed command
// targets.
//
// The bridge never interprets command payloads. Method names and parameters
// flow through verbatim inside JSON-RPC-shaped envelopes; the tool-dispatch
// layer above decides what they mean.
package bridge

import (
	"encoding/json"
)

// Platform tags a device with the runtime its app is built on.
// The set is fixed; the mobile SDK sends one of these in its handshake.
type Platform string

const (
	PlatformIOS         Platform = "ios"
	PlatformAndroid     Platform = "android"
	PlatformReactNative Platform = "react-native"
	PlatformMacOS       Platform = "macos"
	PlatformFlutter     Platform = "flutter"
	PlatformWeb         Platform = "web"
)

// KnownPlatform reports whether p is one of the recognized platform tags.
// Unknown tags are accepted at handshake time (forward compatibility with
// newer SDKs) but callers can use this to surface a warning.
func KnownPlatform(p Platform) bool {
	switch p {
	case PlatformIOS, PlatformAndroid, PlatformReactNative,
		PlatformMacOS, PlatformFlutter, PlatformWeb:
		return true
	}
	return false
}

// WebSocket close codes for handshake protocol violations.
// Codes in the 4000-4999 range are reserved for application use by RFC 6455,
// so the mobile SDK can distinguish these from transport-level closures.
const (
	// CloseHandshakeTimeout is sent when a connection stays silent past
	// the handshake window.
	CloseHandshakeTimeout = 4000

	// CloseExpectedHandshake is sent when the first message parses but is
	// not a handshake.
	CloseExpectedHandshake = 4001

	// CloseInvalidHandshake is sent when the first message cannot be
	// parsed at all.
	CloseInvalidHandshake = 4002
)

// messageTypeHandshake is the discriminator value the first message on every
// connection must carry.
const messageTypeHandshake = "handshake"

// messageTypeHandshakeAck is the discriminator on the server's reply to a
// successful handshake.
const messageTypeHandshakeAck = "handshake_ack"

// HandshakeMessage is the mandatory first message on a new connection.
// It establishes device identity before any commands can be routed.
type HandshakeMessage struct {
	// Type must equal "handshake".
	Type string `json:"type"`

	// DeviceID optionally carries a stable identifier chosen by the SDK.
	// When empty, the registry generates one.
	DeviceID string `json:"deviceId,omitempty"`

	// Platform is the runtime tag (ios, android, react-native, macos,
	// flutter, web).
	Platform Platform `json:"platform"`

	// AppName is the human-readable application name.
	AppName string `json:"appName"`

	// AppVersion is the application version string.
	AppVersion string `json:"appVersion"`

	// Capabilities lists free-form feature tags the SDK supports,
	// such as "state", "network", "logs", "tracing".
	Capabilities []string `json:"capabilities,omitempty"`
}

// HandshakeAck is sent back to the device after a successful handshake.
type HandshakeAck struct {
	// Type is always "handshake_ack".
	Type string `json:"type"`

	// DeviceID is the identifier assigned to this connection. It echoes
	// the handshake's deviceId or carries a freshly generated one.
	DeviceID string `json:"deviceId"`

	// ServerVersion is the bridge daemon's version string.
	ServerVersion string `json:"serverVersion"`
}

// commandEnvelope is the JSON-RPC-shaped message carrying a command to a
// device. Method and params are forwarded verbatim; the bridge only owns
// the correlation id.
type commandEnvelope struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RemoteError is the error shape a device may include in a command reply.
type RemoteError struct {
	Message string `json:"message"`
}

// inboundMessage is the union of everything a device sends after handshake.
// A non-empty ID marks a command reply; a Method with no ID marks an
// unsolicited push event. Anything else is malformed and dropped.
type inboundMessage struct {
	ID     string          `json:"id,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}
