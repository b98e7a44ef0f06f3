package bridge

// events.go contains push-event dispatch: routing unsolicited
// device-originated messages to registered handlers by method name.

import (
	"encoding/json"
	"log"
)

// EventHandler processes one unsolicited push event from a device.
// Handlers run synchronously on the device's read goroutine, so they must
// not block; hand off long work to another goroutine.
type EventHandler func(device *Device, params json.RawMessage)

// OnEvent registers a handler for a push-event method name, replacing any
// prior handler for that name. There is no handler chaining or fan-out.
// Registration is process-wide for the life of the server.
func (s *Server) OnEvent(method string, handler EventHandler) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()

	if handler == nil {
		delete(s.handlers, method)
		return
	}
	s.handlers[method] = handler
}

// dispatchEvent routes a push event to its handler by exact method-name
// match. Events with no registered handler are dropped silently; no reply
// is ever sent back to the device for push events.
func (s *Server) dispatchEvent(device *Device, method string, params json.RawMessage) {
	s.handlersMu.RLock()
	handler := s.handlers[method]
	s.handlersMu.RUnlock()

	if handler == nil {
		log.Printf("bridge: no handler for push event %q from device %s", method, device.ID)
		return
	}

	handler(device, params)
}
