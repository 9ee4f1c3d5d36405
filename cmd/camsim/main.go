// camsim runs the simulated exposure-capable camera: a TCP server speaking
// the newline-terminated device protocol, for developing and demoing camctl
// without hardware.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bmitc/camctl/internal/camsim"
)

func main() {
	listenAddr := flag.String("listen", "127.0.0.1:8888", "Address to listen on")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	server := camsim.NewServer()
	if err := server.Start(*listenAddr); err != nil {
		slog.Error("failed to start camsim", "error", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	slog.Info("received shutdown signal", "signal", sig)

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Stop(stopCtx); err != nil {
		slog.Error("camsim stop failed", "error", err)
		os.Exit(1)
	}

	slog.Info("camsim stopped successfully")
}
