// cortexd is the Cortex intelligence backend. It consumes document-index and
// search events from NATS, runs the indexing pipeline against the graph,
// vector, catalog and fingerprint stores, and serves the REST interface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"cortex-backend/internal/di"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "cortexd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := di.New(ctx)
	if err != nil {
		return err
	}
	logger := container.Logger

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("address", container.HTTPServer.Addr))
		if err := container.HTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigChan:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case runErr = <-serverErr:
		logger.Error("http server failed", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), container.Config.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := container.HTTPServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown incomplete", zap.Error(err))
	}
	if err := container.Shutdown(shutdownCtx); err != nil {
		logger.Warn("container shutdown incomplete", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}

	return runErr
}
