package config

// DefaultAddr is the default listen address for the WebSocket server.
const DefaultAddr = "0.0.0.0:8765"

// DefaultHandshakeTimeoutMs is how long a fresh connection may stay silent
// before it is dropped, in milliseconds.
const DefaultHandshakeTimeoutMs = 5000

// DefaultCommandTimeoutMs is how long a command waits for its reply, in
// milliseconds.
const DefaultCommandTimeoutMs = 10000
