package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/appbridge/bridge/internal/bridge"
)

func runStatus(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var addr string
	var asJSON bool
	fs.StringVar(&addr, "addr", "127.0.0.1:8765", "Bridge address to query")
	fs.BoolVar(&asJSON, "json", false, "Output in JSON format")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: appbridge status [options]\n\nShow status of the running bridge.\n\nOptions:\n")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Get("http://" + addr + "/status")
	if err != nil {
		fmt.Fprintf(stderr, "Error: bridge not reachable at %s: %v\n", addr, err)
		fmt.Fprintln(stderr, "Is the bridge running? Start it with 'appbridge serve'.")
		return 1
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(stderr, "Error: bridge returned HTTP %d\n", resp.StatusCode)
		return 1
	}

	var status bridge.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(stderr, "Error: failed to parse status response: %v\n", err)
		return 1
	}

	if asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(status)
		return 0
	}

	fmt.Fprintf(stdout, "Bridge:   %s (version %s)\n", status.ListeningAddress, status.ServerVersion)
	fmt.Fprintf(stdout, "Uptime:   %s\n", (time.Duration(status.UptimeSeconds) * time.Second).String())
	fmt.Fprintf(stdout, "Devices:  %d connected\n", len(status.ConnectedDevices))
	for _, d := range status.ConnectedDevices {
		primary := ""
		if d.ID == status.PrimaryDeviceID {
			primary = " (primary)"
		}
		fmt.Fprintf(stdout, "  - %s %s %s %s, last seen %s%s\n",
			d.ID, d.Platform, d.AppName, d.AppVersion, d.LastSeen, primary)
	}

	return 0
}
