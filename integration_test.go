//go:build integration
// +build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var (
	binaryPath string
	moduleDir  string
)

func TestMain(m *testing.M) {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get working dir: %v\n", err)
		os.Exit(1)
	}
	moduleDir = wd

	tmpDir, err := os.MkdirTemp("", "appbridge-integration-")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "appbridge")
	build := exec.Command("go", "build", "-o", binaryPath, "./cmd")
	build.Dir = moduleDir
	out, err := build.CombinedOutput()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build appbridge: %v\n%s", err, out)
		_ = os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()
	_ = os.RemoveAll(tmpDir)
	os.Exit(code)
}

type bridgeProcess struct {
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	addr   string
	store  string
	waited bool
}

func startBridge(t *testing.T, addr, store string) *bridgeProcess {
	t.Helper()

	cmd := exec.Command(
		binaryPath,
		"serve",
		"--addr", addr,
		"--store", store,
	)
	cmd.Dir = moduleDir

	bp := &bridgeProcess{
		cmd:   cmd,
		addr:  addr,
		store: store,
	}
	cmd.Stdout = &bp.stdout
	cmd.Stderr = &bp.stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start bridge failed: %v", err)
	}

	waitForHealth(t, addr, 3*time.Second)

	t.Cleanup(func() {
		bp.stop(t)
	})

	return bp
}

func (b *bridgeProcess) stop(t *testing.T) {
	t.Helper()
	if b.waited {
		return
	}
	_ = b.cmd.Process.Signal(syscall.SIGTERM)
	_ = b.wait(t, 5*time.Second)
}

func (b *bridgeProcess) wait(t *testing.T, timeout time.Duration) error {
	t.Helper()
	if b.waited {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		done <- b.cmd.Wait()
	}()

	select {
	case err := <-done:
		b.waited = true
		return err
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for bridge exit")
	}
}

func getFreeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func waitForHealth(t *testing.T, addr string, timeout time.Duration) {
	t.Helper()
	url := fmt.Sprintf("http://%s/health", addr)
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK && string(body) == "ok" {
				return
			}
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("health endpoint not ready: %s", url)
}

func dialWebSocket(t *testing.T, addr string) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://%s/ws", addr)
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil {
			return conn
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("failed to dial websocket: %s", url)
	return nil
}

func sendHandshake(t *testing.T, conn *websocket.Conn, deviceID string) map[string]any {
	t.Helper()

	hs := map[string]any{
		"type":         "handshake",
		"deviceId":     deviceID,
		"platform":     "ios",
		"appName":      "IntegrationApp",
		"appVersion":   "0.1.0",
		"capabilities": []string{"state"},
	}
	if err := conn.WriteJSON(hs); err != nil {
		t.Fatalf("failed to send handshake: %v", err)
	}

	var ack map[string]any
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("failed to read handshake ack: %v", err)
	}
	if ack["type"] != "handshake_ack" {
		t.Fatalf("expected handshake_ack, got %v", ack["type"])
	}
	return ack
}

func fetchStatus(t *testing.T, addr string) map[string]any {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("http://%s/status", addr))
	if err != nil {
		t.Fatalf("status request failed: %v", err)
	}
	defer resp.Body.Close()

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode status: %v", err)
	}
	return status
}

func TestDeviceConnectAndStatus(t *testing.T) {
	addr := getFreeAddr(t)
	store := filepath.Join(t.TempDir(), "appbridge.db")
	startBridge(t, addr, store)

	conn := dialWebSocket(t, addr)
	defer conn.Close()

	ack := sendHandshake(t, conn, "integration-device")
	if ack["deviceId"] != "integration-device" {
		t.Errorf("expected deviceId integration-device, got %v", ack["deviceId"])
	}

	status := fetchStatus(t, addr)
	devices, _ := status["connected_devices"].([]any)
	if len(devices) != 1 {
		t.Fatalf("expected 1 connected device, got %d", len(devices))
	}
	if status["primary_device_id"] != "integration-device" {
		t.Errorf("expected primary integration-device, got %v", status["primary_device_id"])
	}
}

func TestDeviceHistorySurvivesDisconnect(t *testing.T) {
	addr := getFreeAddr(t)
	store := filepath.Join(t.TempDir(), "appbridge.db")
	bp := startBridge(t, addr, store)

	conn := dialWebSocket(t, addr)
	sendHandshake(t, conn, "history-device")
	conn.Close()

	// Wait until the registry reflects the disconnect.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status := fetchStatus(t, addr)
		if devices, _ := status["connected_devices"].([]any); len(devices) == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	bp.stop(t)

	// The CLI reads the same store the daemon wrote.
	list := exec.Command(binaryPath, "devices", "list", "--store", store)
	out, err := list.CombinedOutput()
	if err != nil {
		t.Fatalf("devices list failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "history-device") {
		t.Errorf("expected history-device in listing, got:\n%s", out)
	}
}

func TestHandshakeRequiredBeforeCommands(t *testing.T) {
	addr := getFreeAddr(t)
	store := filepath.Join(t.TempDir(), "appbridge.db")
	startBridge(t, addr, store)

	conn := dialWebSocket(t, addr)
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "something_else"}); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection close for non-handshake first message")
	}
	closeErr, ok := err.(*websocket.CloseError)
	if !ok {
		t.Fatalf("expected close error, got %v", err)
	}
	if closeErr.Code != 4001 {
		t.Errorf("expected close code 4001, got %d", closeErr.Code)
	}
}
