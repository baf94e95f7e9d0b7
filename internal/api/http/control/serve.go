package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/oshokin/zephyr-tools/internal/logger"
)

const (
	// readHeaderTimeout bounds slow clients.
	readHeaderTimeout = 5 * time.Second
	// shutdownTimeout bounds in-flight requests on shutdown.
	shutdownTimeout = 10 * time.Second
)

// Serve listens on address and serves handler until ctx is cancelled.
func Serve(ctx context.Context, address string, handler http.Handler) error {
	ctx = logger.WithName(ctx, "control")

	lc := net.ListenConfig{}

	lis, err := lc.Listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	return serveListener(ctx, lis, handler)
}

// serveListener serves handler on lis until ctx is cancelled.
func serveListener(ctx context.Context, lis net.Listener, handler http.Handler) error {
	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	logger.InfoKV(ctx, "Control API listening", "listen_address", lis.Addr().String())

	// Closed after Shutdown returns so Serve never outlives the server.
	done := make(chan struct{})

	go func() {
		defer close(done)

		<-ctx.Done()
		logger.Info(ctx, "Shutting down control API")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.WarnKV(ctx, "Control API shutdown incomplete", "error", shutdownErr)
		}
	}()

	if err := server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve control API: %w", err)
	}

	<-done
	logger.Info(ctx, "Control API stopped")

	return nil
}
