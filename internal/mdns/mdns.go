// Package mdns provides optional mDNS/Bonjour service advertisement.
//
// When enabled, the bridge advertises itself on the local network using
// DNS-SD (DNS Service Discovery), allowing the mobile SDK to discover it
// without manual IP entry. This is an opt-in feature.
//
// The mDNS advertisement includes:
//   - Service type: _appbridge._tcp
//   - TXT records with protocol version, server version, and hostname
//
// Discovery only reveals presence; the device still has to complete the
// connection handshake before any commands can be routed.
package mdns

import (
	"fmt"
	"os"
	"sync"

	"github.com/grandcat/zeroconf"
)

// ServiceType is the mDNS service type for appbridge daemons.
// Follows the standard Bonjour naming convention: _<service>._<protocol>
const ServiceType = "_appbridge._tcp"

// ProtocolVersion identifies the mDNS protocol version for compatibility.
const ProtocolVersion = "1"

// Config holds configuration for mDNS advertisement.
type Config struct {
	// Port is the server port to advertise (e.g., 8765).
	Port int

	// ServerVersion is the bridge daemon version, included in TXT records
	// so SDKs can check compatibility before connecting.
	ServerVersion string

	// Name is a human-readable name for this bridge.
	// Defaults to the system hostname if empty.
	Name string
}

// Advertiser manages mDNS/DNS-SD service registration.
// It advertises the bridge on the local network so mobile SDKs can
// discover it without typing IP addresses.
type Advertiser struct {
	config Config
	server *zeroconf.Server
	mu     sync.Mutex
}

// NewAdvertiser creates a new mDNS advertiser with the given configuration.
func NewAdvertiser(cfg Config) *Advertiser {
	return &Advertiser{
		config: cfg,
	}
}

// Start begins advertising the service via mDNS.
// It registers the service with DNS-SD so it can be discovered by
// apps on the same local network.
//
// Start is safe to call multiple times; subsequent calls are no-ops
// if already running.
func (a *Advertiser) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	// Already running
	if a.server != nil {
		return nil
	}

	name := a.config.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "appbridge"
		} else {
			name = hostname
		}
	}

	// TXT records provide metadata to SDKs before they connect.
	txtRecords := []string{
		fmt.Sprintf("version=%s", ProtocolVersion),
		fmt.Sprintf("name=%s", name),
	}
	if a.config.ServerVersion != "" {
		txtRecords = append(txtRecords, fmt.Sprintf("server=%s", a.config.ServerVersion))
	}

	server, err := zeroconf.Register(
		name,        // Instance name (e.g., "MacBook-Pro")
		ServiceType, // Service type
		"local.",    // Domain
		a.config.Port,
		txtRecords,
		nil, // Network interfaces (nil = all)
	)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	a.server = server
	return nil
}

// Stop stops the mDNS advertisement and unregisters the service.
// It is safe to call Stop multiple times or on an advertiser that
// was never started.
func (a *Advertiser) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.server != nil {
		a.server.Shutdown()
		a.server = nil
	}
}

// IsRunning returns true if the advertiser is currently running.
func (a *Advertiser) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.server != nil
}
