// Package main implements the entry point for sensorstream, an
// environmental telemetry pipeline that ingests sensor readings from a
// broker, flags threshold breaches and anomalies, persists every reading and
// streams the results to dashboards.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

const appName = "sensorstream"

// Set with -ldflags "-X main.Version=... -X main.BuildTime=..." at release.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_, _ = fmt.Fprintf(os.Stderr, "%s: panic: %v\n\n%s", appName, r, debug.Stack())
			os.Exit(2)
		}
	}()

	if err := newRootCmd().Execute(); err != nil {
		slog.Error("sensorstream exited", "error", err)
		os.Exit(1)
	}
}
