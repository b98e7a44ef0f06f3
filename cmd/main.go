package main

import (
	"fmt"
	"io"
	"os"
)

// Version is set at build time via -ldflags.
// Example: go build -ldflags="-X main.Version=v0.2.0" ./cmd
var Version = "dev"

const usage = `appbridge - development bridge between an AI coding assistant and a running mobile app

Usage:
  appbridge <command> [options]

Commands:
  serve         Start the bridge daemon
  devices list  List devices that have connected to this bridge
  status        Show status of the running bridge
  version       Print the version

Run 'appbridge <command> --help' for more information on a command.
`

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		fmt.Fprint(stdout, usage)
		return 0
	}

	switch args[1] {
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "devices":
		if len(args) < 3 {
			fmt.Fprintln(stdout, "Usage: appbridge devices <list>")
			return 1
		}
		switch args[2] {
		case "list":
			return runDevicesList(args[3:], stdout, stderr)
		default:
			fmt.Fprintf(stdout, "Unknown devices command: %s\n", args[2])
			return 1
		}
	case "status":
		return runStatus(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "appbridge %s\n", Version)
		return 0
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stdout, "Unknown command: %s\n\n%s", args[1], usage)
		return 1
	}
}
