// Command server runs a netcode Server Authority over TCP or WebSocket.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"netcode/config"
	"netcode/internal/demo"
	"netcode/logging"
	"netcode/server"
	"netcode/sim"
	"netcode/transport"
	"netcode/world"
)

func main() {
	addr := flag.String("addr", ":7777", "address to listen on")
	transportName := flag.String("transport", "tcp", "transport to use: tcp or ws")
	stepRate := flag.Int("step-rate", 60, "simulation steps per second")
	updateRate := flag.Int("update-rate", 6, "steps between syncs")
	fullSyncRate := flag.Int("full-sync-rate", 20, "syncs between full (non-diffed) syncs")
	tracesPath := flag.String("traces", "", "if non-empty, log client trace entries at debug level tagged with this path (no file is written); empty ignores them")
	flag.Parse()

	cfg := config.DefaultServerConfig()
	cfg.ListenAddr = *addr
	cfg.StepRate = *stepRate
	cfg.UpdateRate = *updateRate
	cfg.FullSyncRate = *fullSyncRate
	cfg.TracesPath = *tracesPath

	logger := logging.FromEnv()

	listener, closeListener, err := newListener(*transportName, cfg.ListenAddr)
	if err != nil {
		log.Fatalf("server: listen on %s: %v", cfg.ListenAddr, err)
	}

	w := world.New()
	registry := demo.NewRegistry()
	engine := sim.New(w, demo.NewPhysics(w), demo.ApplyInput)

	authority := server.New(w, engine, registry, cfg, listener, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.WithField("addr", cfg.ListenAddr).WithField("transport", *transportName).Info("server listening")

	errCh := make(chan error, 1)
	go func() { errCh <- authority.Serve(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("authority stopped")
		}
	}

	if closeListener != nil {
		closeListener()
	}
}

// newListener builds the transport.Listener for name, starting the
// backing http.Server in the background for "ws". The returned func, if
// non-nil, shuts down that http.Server on exit.
func newListener(name, addr string) (transport.Listener, func(), error) {
	switch name {
	case "tcp":
		l, err := transport.ListenTCP(addr)
		if err != nil {
			return nil, nil, err
		}
		return l, nil, nil
	case "ws":
		wsListener := transport.NewWSListener()
		mux := http.NewServeMux()
		mux.HandleFunc("/", wsListener.Handler)
		httpServer := &http.Server{Addr: addr, Handler: mux}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("server: ws listener stopped: %v", err)
			}
		}()
		return wsListener, func() { httpServer.Close() }, nil
	default:
		log.Fatalf("server: unknown transport %q, want tcp or ws", name)
		return nil, nil, nil
	}
}
