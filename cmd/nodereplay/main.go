// Command nodereplay runs a replay Engine against a recorded trace and
// exposes its cursor position over a websocket feed, grounded on
// cmd/loadtest/main.go's flag-driven main and
// internal/websocket/dag_streamer.go's hub (via internal/cursorfeed).
package main

import (
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ocx/airreplay/airreplay"
	"github.com/ocx/airreplay/internal/cursorfeed"
)

func main() {
	tracePrefix := flag.String("trace", "", "trace file prefix to replay (required)")
	httpAddr := flag.String("http", ":8088", "address to serve the cursor-feed websocket on")
	flag.Parse()

	if *tracePrefix == "" {
		slog.Error("nodereplay: -trace is required")
		os.Exit(1)
	}

	engine, err := airreplay.NewEngine(*tracePrefix, airreplay.ModeReplay)
	if err != nil {
		slog.Error("nodereplay: open trace", "err", err)
		os.Exit(1)
	}
	defer engine.Close()

	hub := cursorfeed.NewHub()
	go hub.Run()
	engine.SetCursorObserver(hub.Observer())

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: *httpAddr, Handler: mux}
	go func() {
		slog.Info("nodereplay: serving cursor feed", "addr", *httpAddr, "trace", *tracePrefix)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("nodereplay: http server", "err", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	slog.Info("nodereplay: shutting down")
	server.Close()
}
