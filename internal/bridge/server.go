package bridge

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultHandshakeTimeout is how long a new connection may stay silent
// before it is closed without registering a device.
const DefaultHandshakeTimeout = 5 * time.Second

// DefaultCommandTimeout is how long the router waits for a command reply.
const DefaultCommandTimeout = 10 * time.Second

// DeviceActivityTracker is called whenever a message is received from a
// registered device. This allows persisting last-seen timestamps without
// the bridge depending on the storage layer.
type DeviceActivityTracker func(deviceID string)

// DeviceLifecycleHook is called when a device completes handshake or is
// removed from the registry.
type DeviceLifecycleHook func(device *Device)

// CommandRecorder observes completed command round-trips for metrics.
// ok is false for timeouts, disconnects, and remote errors.
type CommandRecorder func(deviceID, method string, duration time.Duration, ok bool)

// Server accepts device connections, runs the handshake state machine,
// owns the device registry, and routes commands and push events. All
// registry state lives on the Server instance so tests can spin up and
// tear down independent servers.
type Server struct {
	// addr is the address to listen on (e.g., "0.0.0.0:8765").
	addr string

	// upgrader converts HTTP connections to WebSocket connections.
	upgrader websocket.Upgrader

	// serverVersion is reported to devices in the handshake ack.
	serverVersion string

	// handshakeTimeout bounds how long a fresh connection may stay silent.
	handshakeTimeout time.Duration

	// commandTimeout bounds how long SendCommand waits for a reply.
	commandTimeout time.Duration

	// mu protects devices, stopped, and the hook fields below. Connection
	// goroutines run concurrently, so registry mutation must be locked.
	mu sync.RWMutex

	// devices maps device ID to the registered Device. A device is present
	// if and only if its connection is open and has completed handshake.
	devices map[string]*Device

	// stopped indicates the server has been shut down; no new devices
	// are registered after this point.
	stopped bool

	// activityTracker, connectHook, disconnectHook, and commandRecorder
	// are optional observers set before Start.
	activityTracker DeviceActivityTracker
	connectHook     DeviceLifecycleHook
	disconnectHook  DeviceLifecycleHook
	commandRecorder CommandRecorder

	// handlersMu protects handlers separately from the registry lock so
	// event dispatch never contends with connection churn.
	handlersMu sync.RWMutex

	// handlers maps push-event method names to their single handler.
	// Last registration wins; there is no handler chaining.
	handlers map[string]EventHandler

	// httpServer is the underlying HTTP server for graceful shutdown.
	httpServer *http.Server

	// startedAt is when the server began listening, for the status endpoint.
	startedAt time.Time
}

// NewServer creates a new bridge server. Call Start or StartAsync to begin
// accepting connections.
func NewServer(addr string) *Server {
	return &Server{
		addr:             addr,
		serverVersion:    "dev",
		handshakeTimeout: DefaultHandshakeTimeout,
		commandTimeout:   DefaultCommandTimeout,
		devices:          make(map[string]*Device),
		handlers:         make(map[string]EventHandler),
		upgrader: websocket.Upgrader{
			// Web-platform apps connect from arbitrary dev-server origins.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetServerVersion sets the version string reported in handshake acks.
func (s *Server) SetServerVersion(v string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.serverVersion = v
}

// SetHandshakeTimeout overrides the handshake window. Must be called
// before Start.
func (s *Server) SetHandshakeTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshakeTimeout = d
}

// SetCommandTimeout overrides the per-request reply window. Must be called
// before Start.
func (s *Server) SetCommandTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandTimeout = d
}

// SetDeviceActivityTracker installs a callback invoked on every inbound
// message from a registered device.
func (s *Server) SetDeviceActivityTracker(t DeviceActivityTracker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activityTracker = t
}

// SetConnectHook installs a callback invoked after a device registers.
func (s *Server) SetConnectHook(h DeviceLifecycleHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectHook = h
}

// SetDisconnectHook installs a callback invoked after a device is removed
// from the registry.
func (s *Server) SetDisconnectHook(h DeviceLifecycleHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnectHook = h
}

// SetCommandRecorder installs a callback observing command round-trips.
func (s *Server) SetCommandRecorder(r CommandRecorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commandRecorder = r
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return s.addr
}

// StartedAt returns when the server began listening.
func (s *Server) StartedAt() time.Time {
	return s.startedAt
}

// createMux creates the HTTP mux with all endpoints.
func (s *Server) createMux() *http.ServeMux {
	mux := http.NewServeMux()

	// Devices connect at the /ws endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// Health check endpoint for monitoring.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Status endpoint for the CLI.
	mux.Handle("/status", newStatusHandler(s))

	return mux
}

// Start begins listening for device connections. This method blocks, so
// call it in a goroutine if you need to do other work. For non-blocking
// startup with error handling, use StartAsync instead.
func (s *Server) Start() error {
	mux := s.createMux()

	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: mux,
	}
	s.startedAt = time.Now()

	log.Printf("bridge: listening on %s", s.addr)

	return s.httpServer.ListenAndServe()
}

// StartAsync starts the server in a goroutine and reports startup errors.
// The listener is created before serving so a port conflict surfaces
// immediately on the returned channel rather than being logged later.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)

	mux := s.createMux()

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		errCh <- fmt.Errorf("failed to listen on %s: %w", s.addr, err)
		close(errCh)
		return errCh
	}

	s.httpServer = &http.Server{
		Handler: mux,
	}
	s.startedAt = time.Now()

	go func() {
		log.Printf("bridge: listening on %s", s.addr)
		errCh <- nil
		close(errCh)

		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("bridge: server error: %v", err)
		}
	}()

	return errCh
}

// Stop shuts down the server and closes all device connections.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	devices := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	s.mu.Unlock()

	// Shut devices down outside the lock; their readPumps will unregister
	// themselves and fail any in-flight requests.
	for _, d := range devices {
		d.shutdown()
	}

	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// handleWebSocket upgrades an HTTP connection and hands it to the
// handshake state machine. The connection is not a Device yet; it becomes
// one only after a valid handshake.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("bridge: WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	log.Printf("bridge: connection accepted from %s, awaiting handshake", r.RemoteAddr)

	// Each connection's handshake wait is independent; a silent peer never
	// blocks other connections.
	go s.awaitHandshake(conn, r.RemoteAddr)
}

// awaitHandshake runs the AWAITING_HANDSHAKE state for one connection:
// it reads exactly one message within the handshake window and either
// promotes the connection into a registered Device or closes it with a
// distinguishing close code. There is no path back from a rejection.
func (s *Server) awaitHandshake(conn *websocket.Conn, remoteAddr string) {
	s.mu.RLock()
	timeout := s.handshakeTimeout
	s.mu.RUnlock()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(timeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		// Silence past the window is the common rejection; everything else
		// (peer hangup mid-handshake) gets the same teardown without a code.
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			log.Printf("bridge: handshake timeout for %s", remoteAddr)
			closeWithCode(conn, CloseHandshakeTimeout, "Handshake timeout")
		} else {
			conn.Close()
		}
		return
	}

	var hs HandshakeMessage
	if err := json.Unmarshal(data, &hs); err != nil {
		log.Printf("bridge: unparseable handshake from %s: %v", remoteAddr, err)
		closeWithCode(conn, CloseInvalidHandshake, "Invalid handshake")
		return
	}

	if hs.Type != messageTypeHandshake {
		log.Printf("bridge: first message from %s was %q, not a handshake", remoteAddr, hs.Type)
		closeWithCode(conn, CloseExpectedHandshake, "Expected handshake")
		return
	}

	deviceID := hs.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}

	if !KnownPlatform(hs.Platform) {
		log.Printf("bridge: device %s reports unknown platform %q", deviceID, hs.Platform)
	}

	device := newDevice(conn, &hs, deviceID, s)

	replaced, ok := s.register(device)
	if !ok {
		// Server is stopping; refuse the registration cleanly.
		conn.Close()
		return
	}
	if replaced != nil {
		// A reconnecting peer reused an ID still held by a live connection.
		// The new connection wins: the stale one is shut down and its
		// in-flight requests fail as disconnected.
		log.Printf("bridge: device %s reconnected, dropping stale connection", deviceID)
		replaced.shutdown()
	}

	s.mu.RLock()
	version := s.serverVersion
	connectHook := s.connectHook
	s.mu.RUnlock()

	// Ack directly before the pumps start; nothing else can be writing yet.
	ack := HandshakeAck{
		Type:          messageTypeHandshakeAck,
		DeviceID:      deviceID,
		ServerVersion: version,
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ack); err != nil {
		log.Printf("bridge: failed to send handshake ack to %s: %v", deviceID, err)
		s.unregister(device)
		conn.Close()
		return
	}
	conn.SetWriteDeadline(time.Time{})

	log.Printf("bridge: device connected: id=%s platform=%s app=%s %s (%d total)",
		device.ID, device.Platform, device.AppName, device.AppVersion, s.DeviceCount())

	if connectHook != nil {
		connectHook(device)
	}

	// CONNECTED: steady-state message handling until disconnect.
	go device.writePump()
	go device.readPump()
}

// closeWithCode sends a close frame with an application close code and
// tears the connection down. Best effort; the peer may already be gone.
func closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, msg)
	conn.Close()
}

// trackActivity forwards inbound-message activity to the configured tracker.
func (s *Server) trackActivity(deviceID string) {
	s.mu.RLock()
	tracker := s.activityTracker
	s.mu.RUnlock()

	if tracker != nil {
		tracker(deviceID)
	}
}
