package bridge

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

// maxMessageSize caps inbound messages at 512KB. Command replies carrying
// app state snapshots can be large; anything bigger is a protocol abuse.
const maxMessageSize = 512 * 1024

// pongWait is how long the connection may go without any inbound traffic
// (including pong frames) before the read side gives up.
const pongWait = 60 * time.Second

// pingInterval is how often writePump sends a ping to keep the connection
// alive through NATs and to detect dead peers. Must be under pongWait.
const pingInterval = 30 * time.Second

// writeWait is the deadline for a single outbound write.
const writeWait = 10 * time.Second

// writePump continuously sends envelopes from the send channel to the
// WebSocket. It also sends periodic pings to keep the connection alive.
// One writePump per device; gorilla connections allow only one concurrent
// writer.
func (d *Device) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		d.conn.Close()
	}()

	for {
		select {
		case <-d.done:
			// Shutdown signaled; send close frame and exit.
			d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			d.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case msg := <-d.send:
			d.conn.SetWriteDeadline(time.Now().Add(writeWait))

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("bridge: failed to marshal outbound message for device %s: %v", d.ID, err)
				continue
			}

			if err := d.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("bridge: write error for device %s: %v", d.ID, err)
				return
			}

		case <-ticker.C:
			d.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := d.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump reads messages from the WebSocket and demultiplexes them:
// messages carrying a pending request id resolve that request, messages
// carrying a method are dispatched as push events, anything else is
// logged and dropped.
//
// readPump owns device teardown: when it exits for any reason, the device
// is unregistered and every outstanding request on it fails immediately.
func (d *Device) readPump() {
	defer func() {
		d.server.unregister(d)
		d.shutdown()
	}()

	d.conn.SetReadLimit(maxMessageSize)
	d.conn.SetReadDeadline(time.Now().Add(pongWait))

	// A pong proves the peer is alive even when it has nothing to say.
	d.conn.SetPongHandler(func(string) error {
		d.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := d.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				log.Printf("bridge: read error for device %s: %v", d.ID, err)
			}
			return
		}

		// Any inbound traffic counts as liveness. The most recently seen
		// device becomes the implicit target for unaddressed commands.
		d.touch()
		d.conn.SetReadDeadline(time.Now().Add(pongWait))
		d.server.trackActivity(d.ID)

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed traffic after handshake is dropped, never fatal.
			log.Printf("bridge: dropping unparseable message from device %s: %v", d.ID, err)
			continue
		}

		switch {
		case msg.ID != "":
			// Reply to an outstanding command. A miss means the request
			// already timed out or never existed; either way it is ignored.
			if !d.resolvePending(msg.ID, msg.Result, msg.Error) {
				log.Printf("bridge: ignoring late reply %s from device %s", msg.ID, d.ID)
			}

		case msg.Method != "":
			// Unsolicited push event. Fire-and-forget: no reply is sent.
			if !d.eventLimiter.Allow() {
				log.Printf("bridge: push event rate limit exceeded for device %s, dropping %s", d.ID, msg.Method)
				continue
			}
			d.server.dispatchEvent(d, msg.Method, msg.Params)

		default:
			log.Printf("bridge: dropping message with neither id nor method from device %s", d.ID)
		}
	}
}
