// Command wsclient is a simulated-device WebSocket test client for appbridge.
// It performs the connection handshake, answers a few canned commands, and
// emits a periodic push event, which makes it handy for exercising the
// bridge end to end without a real mobile app.
//
// Usage: go run ./cmd/wsclient ws://127.0.0.1:8765/ws
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/gorilla/websocket"
)

// handshake is the first message every connection must send.
type handshake struct {
	Type         string   `json:"type"`
	DeviceID     string   `json:"deviceId,omitempty"`
	Platform     string   `json:"platform"`
	AppName      string   `json:"appName"`
	AppVersion   string   `json:"appVersion"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// inbound is a command envelope from the bridge.
type inbound struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func main() {
	url := "ws://127.0.0.1:8765/ws"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	fmt.Printf("Connecting to %s...\n", url)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Handshake first; the bridge closes the connection if anything else
	// arrives before it.
	hs := handshake{
		Type:         "handshake",
		Platform:     "ios",
		AppName:      "WsClientDemo",
		AppVersion:   "1.0.0",
		Capabilities: []string{"state", "logs"},
	}
	if err := conn.WriteJSON(hs); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to send handshake: %v\n", err)
		os.Exit(1)
	}

	var ack map[string]any
	if err := conn.ReadJSON(&ack); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read handshake ack: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Connected as device %v (server %v)\n", ack["deviceId"], ack["serverVersion"])

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	// Writes funnel through one channel; gorilla connections allow only
	// one concurrent writer.
	outbound := make(chan any, 16)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg inbound
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					fmt.Printf("Read error: %v\n", err)
				}
				return
			}

			fmt.Printf("<- command id=%s method=%s\n", msg.ID, msg.Method)

			// Answer the canned commands; reject everything else the way a
			// real SDK reports an unsupported method.
			switch msg.Method {
			case "ping":
				outbound <- map[string]any{"id": msg.ID, "result": "pong"}
			case "get_app_state":
				outbound <- map[string]any{
					"id": msg.ID,
					"result": map[string]any{
						"screen":  "Home",
						"uptime":  time.Since(start).Seconds(),
						"version": hs.AppVersion,
					},
				}
			default:
				outbound <- map[string]any{
					"id":    msg.ID,
					"error": map[string]string{"message": "unsupported method: " + msg.Method},
				}
			}
		}
	}()

	// A heartbeat push event keeps the bridge's last-seen fresh and
	// demonstrates unsolicited traffic.
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg := <-outbound:
			if err := conn.WriteJSON(msg); err != nil {
				fmt.Printf("Write error: %v\n", err)
				return
			}
		case <-ticker.C:
			event := map[string]any{
				"method": "app_heartbeat",
				"params": map[string]any{"at": time.Now().Format(time.RFC3339)},
			}
			if err := conn.WriteJSON(event); err != nil {
				fmt.Printf("Write error: %v\n", err)
				return
			}
		case <-done:
			fmt.Println("Connection closed.")
			return
		case <-interrupt:
			fmt.Println("Interrupted, closing...")
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			return
		}
	}
}

var start = time.Now()
