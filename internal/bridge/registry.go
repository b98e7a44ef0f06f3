package bridge

// registry.go contains the device registry: registration at handshake,
// removal at disconnect, and the selection policy for unaddressed commands.

import (
	"log"
)

// register adds a device to the registry. If another live device holds the
// same ID, it is returned so the caller can shut it down; the new
// connection takes over the registry slot. ok is false when the server is
// stopped and no registration occurred.
func (s *Server) register(d *Device) (replaced *Device, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil, false
	}

	replaced = s.devices[d.ID]
	s.devices[d.ID] = d
	return replaced, true
}

// unregister removes a device from the registry. The identity check keeps
// a stale connection's teardown from evicting the device that replaced it
// under the same ID; removal happens at most once per device.
func (s *Server) unregister(d *Device) {
	s.mu.Lock()
	current, ok := s.devices[d.ID]
	if !ok || current != d {
		s.mu.Unlock()
		return
	}
	delete(s.devices, d.ID)
	remaining := len(s.devices)
	disconnectHook := s.disconnectHook
	s.mu.Unlock()

	// Fail in-flight requests immediately rather than letting callers
	// stall until their own timeout.
	d.failAllPending(errDeviceDisconnected())

	log.Printf("bridge: device disconnected: id=%s (%d remaining)", d.ID, remaining)

	if disconnectHook != nil {
		disconnectHook(d)
	}
}

// Device returns the connected device with the given ID, or nil if no such
// device is registered.
func (s *Server) Device(id string) *Device {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.devices[id]
}

// PrimaryDevice returns the registered device with the most recent
// last-seen timestamp, or nil when no device is connected. Most recently
// active wins; connection order is irrelevant.
func (s *Server) PrimaryDevice() *Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var primary *Device
	for _, d := range s.devices {
		if primary == nil || d.LastSeen().After(primary.LastSeen()) {
			primary = d
		}
	}
	return primary
}

// ConnectedDevices returns all registered devices. Order is unspecified.
func (s *Server) ConnectedDevices() []*Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]*Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, d)
	}
	return devices
}

// HasConnectedDevice reports whether at least one device is registered.
// This is the cheap check the tool-dispatch layer uses before rendering
// "please connect your app" guidance.
func (s *Server) HasConnectedDevice() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices) > 0
}

// DeviceCount returns the number of registered devices.
func (s *Server) DeviceCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices)
}
