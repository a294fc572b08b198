// server/shutdown.go
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownTimeout bounds the whole shutdown sequence
const ShutdownTimeout = 30 * time.Second

// HTTPServer is the part of *http.Server the manager stops
type HTTPServer interface {
	Shutdown(ctx context.Context) error
}

// ShutdownManager handles graceful shutdown
type ShutdownManager struct {
	server     HTTPServer
	closers    []io.Closer
	once       sync.Once
	shutdownCh chan struct{}
	logger     *log.Logger
}

// NewShutdownManager creates a manager that stops srv and then closes
// each closer in order. srv may be nil when there is no HTTP listener.
func NewShutdownManager(srv HTTPServer, logger *log.Logger, closers ...io.Closer) *ShutdownManager {
	return &ShutdownManager{
		server:     srv,
		closers:    closers,
		shutdownCh: make(chan struct{}),
		logger:     logger,
	}
}

// HandleGracefulShutdown waits for SIGINT/SIGTERM or ctx, then shuts down
func (sm *ShutdownManager) HandleGracefulShutdown(ctx context.Context) error {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)

	select {
	case sig := <-signals:
		sm.logger.Printf("Received signal: %v", sig)
	case <-ctx.Done():
		sm.logger.Printf("Context done: %v", ctx.Err())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return sm.Shutdown(shutdownCtx)
}

// Shutdown runs the shutdown sequence once; later calls return nil
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	var err error
	sm.once.Do(func() {
		close(sm.shutdownCh)

		done := make(chan error, 1)
		go func() {
			done <- sm.performGracefulShutdown(ctx)
		}()

		select {
		case err = <-done:
			if err != nil {
				sm.logger.Printf("Final shutdown error: %v", err)
			} else {
				sm.logger.Println("Graceful shutdown completed")
			}
		case <-ctx.Done():
			err = fmt.Errorf("shutdown timed out: %w", ctx.Err())
		}
	})
	return err
}

// performGracefulShutdown handles the actual shutdown sequence
func (sm *ShutdownManager) performGracefulShutdown(ctx context.Context) error {
	var errs []error

	// Stop accepting new connections
	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Printf("Error during server shutdown: %v", err)
			errs = append(errs, fmt.Errorf("server shutdown error: %w", err))
		}
	}

	for _, c := range sm.closers {
		if err := c.Close(); err != nil {
			sm.logger.Printf("Error closing %T: %v", c, err)
			errs = append(errs, fmt.Errorf("close error: %w", err))
		}
	}

	return errors.Join(errs...)
}

// IsShuttingDown returns true if shutdown has been initiated
func (sm *ShutdownManager) IsShuttingDown() bool {
	select {
	case <-sm.shutdownCh:
		return true
	default:
		return false
	}
}
