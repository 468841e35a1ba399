// Command socket-replay is the standalone out-of-process mock socket server
// (spec §6's "constructs SocketTraffic(host, {port1, port2, ...}) and sleeps
// forever"), grounded on cmd/loadtest/main.go's flag-driven main.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ocx/airreplay/mocksocket"
)

func main() {
	host := flag.String("host", "0.0.0.0", "host to bind accept-side mock servers on")
	ports := flag.String("ports", "", "comma-separated list of recorded server ports to mock (required)")
	traceDir := flag.String("trace-dir", ".", "directory containing socket_rec_*.bin recordings")
	flag.Parse()

	if *ports == "" {
		slog.Error("socket-replay: -ports is required")
		os.Exit(1)
	}

	traffic, err := mocksocket.NewSocketTraffic(*host, strings.Split(*ports, ","), *traceDir)
	if err != nil {
		slog.Error("socket-replay: start", "err", err)
		os.Exit(1)
	}
	defer traffic.Close()

	slog.Info("socket-replay: mock servers running", "host", *host, "ports", *ports, "trace_dir", *traceDir)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	slog.Info("socket-replay: shutting down")
}
