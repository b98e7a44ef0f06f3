package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/skip2/go-qrcode"

	"github.com/appbridge/bridge/internal/bridge"
	"github.com/appbridge/bridge/internal/config"
	"github.com/appbridge/bridge/internal/mdns"
	"github.com/appbridge/bridge/internal/storage"
)

// ServeConfig holds the effective configuration for the serve command
// after merging the config file and CLI flags.
type ServeConfig struct {
	ConfigPath string
	Addr       string
	Store      string
	Mdns       bool
	QR         bool
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)

	cfg := &ServeConfig{}
	fs.StringVar(&cfg.ConfigPath, "config", "", "Path to config file (default: ~/.appbridge/config.toml)")
	fs.StringVar(&cfg.Addr, "addr", "", "Listen address (default: "+config.DefaultAddr+")")
	fs.StringVar(&cfg.Store, "store", "", "Path to SQLite store (default: ~/.appbridge/appbridge.db)")
	fs.BoolVar(&cfg.Mdns, "mdns", false, "Advertise the bridge via mDNS on the local network")
	fs.BoolVar(&cfg.QR, "qr", false, "Print the WebSocket URL as a QR code for the mobile app")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: appbridge serve [options]\n\nStart the bridge daemon.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	// Load the config file, then let CLI flags win over file values.
	fileCfg, err := config.Load(cfg.ConfigPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	fileCfg.ApplyDefaults()

	if cfg.Addr == "" {
		cfg.Addr = fileCfg.Addr
	}
	if cfg.Store == "" {
		cfg.Store = fileCfg.Store
	}
	cfg.Mdns = cfg.Mdns || fileCfg.MdnsEnabled
	cfg.QR = cfg.QR || fileCfg.QR

	// Open the device history / metrics store.
	if dir := filepath.Dir(cfg.Store); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			fmt.Fprintf(stderr, "Error: failed to create data directory: %v\n", err)
			return 1
		}
	}
	store, err := storage.NewSQLiteStore(cfg.Store)
	if err != nil {
		fmt.Fprintf(stderr, "Error: failed to open store: %v\n", err)
		return 1
	}
	defer store.Close()

	srv := bridge.NewServer(cfg.Addr)
	srv.SetServerVersion(Version)
	srv.SetHandshakeTimeout(time.Duration(fileCfg.HandshakeTimeoutMs) * time.Millisecond)
	srv.SetCommandTimeout(time.Duration(fileCfg.CommandTimeoutMs) * time.Millisecond)

	// Persist connection history: a row per handshake, last-seen refreshed
	// on every inbound message, and a final refresh at disconnect.
	srv.SetConnectHook(func(d *bridge.Device) {
		now := time.Now()
		err := store.SaveDevice(&storage.Device{
			ID:           d.ID,
			Platform:     string(d.Platform),
			AppName:      d.AppName,
			AppVersion:   d.AppVersion,
			Capabilities: d.Capabilities,
			FirstSeen:    now,
			LastSeen:     now,
		})
		if err != nil {
			fmt.Fprintf(stderr, "Warning: failed to record device %s: %v\n", d.ID, err)
		}
	})
	srv.SetDeviceActivityTracker(func(deviceID string) {
		if err := store.UpdateLastSeen(deviceID, time.Now()); err != nil &&
			!errors.Is(err, storage.ErrDeviceNotFound) {
			fmt.Fprintf(stderr, "Warning: failed to update last seen for %s: %v\n", deviceID, err)
		}
	})
	srv.SetDisconnectHook(func(d *bridge.Device) {
		if err := store.UpdateLastSeen(d.ID, time.Now()); err != nil &&
			!errors.Is(err, storage.ErrDeviceNotFound) {
			fmt.Fprintf(stderr, "Warning: failed to update last seen for %s: %v\n", d.ID, err)
		}
	})
	srv.SetCommandRecorder(func(deviceID, method string, duration time.Duration, ok bool) {
		if err := store.RecordCommand(deviceID, method, duration, ok); err != nil {
			fmt.Fprintf(stderr, "Warning: failed to record command metric: %v\n", err)
		}
	})

	// Bind before reporting success so a port conflict fails startup.
	if err := <-srv.StartAsync(); err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer srv.Stop()

	wsURL := connectURL(cfg.Addr)
	fmt.Fprintf(stdout, "appbridge %s listening on %s\n", Version, cfg.Addr)
	fmt.Fprintf(stdout, "Connect your app's SDK to %s\n", wsURL)

	if cfg.QR {
		displayConnectQR(stdout, wsURL)
	}

	if cfg.Mdns {
		_, portStr, err := net.SplitHostPort(cfg.Addr)
		port, convErr := strconv.Atoi(portStr)
		if err != nil || convErr != nil {
			fmt.Fprintf(stderr, "Warning: cannot parse port from %s, skipping mDNS\n", cfg.Addr)
		} else {
			adv := mdns.NewAdvertiser(mdns.Config{
				Port:          port,
				ServerVersion: Version,
			})
			if err := adv.Start(); err != nil {
				fmt.Fprintf(stderr, "Warning: mDNS advertisement failed: %v\n", err)
			} else {
				fmt.Fprintf(stdout, "Advertising via mDNS as %s\n", mdns.ServiceType)
				defer adv.Stop()
			}
		}
	}

	// Handle signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	fmt.Fprintf(stdout, "\nReceived signal %v, stopping...\n", sig)
	return 0
}

// connectURL builds the ws:// URL the mobile SDK should dial. A wildcard
// bind address is replaced with the machine's preferred outbound IP so the
// URL is dialable from another device on the LAN.
func connectURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "ws://" + addr + "/ws"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		if ip := preferredOutboundIP(); ip != "" {
			host = ip
		} else {
			host = "127.0.0.1"
		}
	}
	return "ws://" + net.JoinHostPort(host, port) + "/ws"
}

// preferredOutboundIP returns the local IP the OS would use for outbound
// traffic. Dialing UDP sends no packets; it only selects an interface.
func preferredOutboundIP() string {
	conn, err := net.Dial("udp4", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}

// displayConnectQR prints the connect URL as a terminal QR code with a
// plain-text fallback.
func displayConnectQR(w io.Writer, wsURL string) {
	payload := "appbridge://connect?url=" + url.QueryEscape(wsURL)

	qr, err := qrcode.New(payload, qrcode.Medium)
	if err != nil {
		fmt.Fprintf(w, "Error generating QR code: %v\n", err)
		return
	}

	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "        SCAN TO CONNECT YOUR APP")
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
	fmt.Fprint(w, qr.ToSmallString(false))
	fmt.Fprintln(w, "-------------------------------------------")
	fmt.Fprintf(w, "  URL: %s\n", wsURL)
	fmt.Fprintln(w, "===========================================")
	fmt.Fprintln(w, "")
}
