package bridge

// status_handler.go implements the /status HTTP endpoint for CLI queries.

import (
	"encoding/json"
	"net/http"
	"time"
)

// DeviceStatus describes one connected device in a status response.
type DeviceStatus struct {
	// ID is the device identifier assigned at handshake.
	ID string `json:"id"`

	// Platform is the runtime tag from the handshake.
	Platform string `json:"platform"`

	// AppName and AppVersion describe the connected application.
	AppName    string `json:"app_name"`
	AppVersion string `json:"app_version"`

	// Capabilities are the feature tags the device declared.
	Capabilities []string `json:"capabilities,omitempty"`

	// LastSeen is when the device last sent any message (RFC 3339).
	LastSeen string `json:"last_seen"`

	// PendingCommands is the number of requests outstanding on this device.
	PendingCommands int `json:"pending_commands"`
}

// StatusResponse contains bridge status information returned by /status.
type StatusResponse struct {
	// ListeningAddress is the address the bridge is listening on.
	ListeningAddress string `json:"listening_address"`

	// ServerVersion is the bridge daemon version.
	ServerVersion string `json:"server_version"`

	// UptimeSeconds is how long the bridge has been running.
	UptimeSeconds int64 `json:"uptime_seconds"`

	// ConnectedDevices lists all currently registered devices.
	ConnectedDevices []DeviceStatus `json:"connected_devices"`

	// PrimaryDeviceID is the implicit command target, empty if none.
	PrimaryDeviceID string `json:"primary_device_id,omitempty"`
}

// statusHandler handles HTTP GET requests for bridge status.
type statusHandler struct {
	server *Server
}

func newStatusHandler(s *Server) *statusHandler {
	return &statusHandler{server: s}
}

// ServeHTTP returns a JSON StatusResponse with current bridge state.
// Only GET is allowed; other methods receive HTTP 405.
func (h *statusHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s := h.server

	s.mu.RLock()
	version := s.serverVersion
	s.mu.RUnlock()

	devices := s.ConnectedDevices()
	statuses := make([]DeviceStatus, 0, len(devices))
	for _, d := range devices {
		statuses = append(statuses, DeviceStatus{
			ID:              d.ID,
			Platform:        string(d.Platform),
			AppName:         d.AppName,
			AppVersion:      d.AppVersion,
			Capabilities:    d.Capabilities,
			LastSeen:        d.LastSeen().Format(time.RFC3339),
			PendingCommands: d.pendingCount(),
		})
	}

	primaryID := ""
	if primary := s.PrimaryDevice(); primary != nil {
		primaryID = primary.ID
	}

	resp := StatusResponse{
		ListeningAddress: s.Addr(),
		ServerVersion:    version,
		UptimeSeconds:    int64(time.Since(s.StartedAt()).Seconds()),
		ConnectedDevices: statuses,
		PrimaryDeviceID:  primaryID,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
