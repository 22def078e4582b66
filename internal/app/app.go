// Package app provides application lifecycle management for the HMS server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/hms-server/internal/boot"
	"github.com/stacklok/hms-server/internal/config"
	"github.com/stacklok/hms-server/internal/models"
	"github.com/stacklok/hms-server/internal/schema"
)

// HMSApp encapsulates all components needed to boot and run the HMS server.
type HMSApp struct {
	config     *config.Config
	logger     *slog.Logger
	components *AppComponents
	catalog    schema.Catalog
	httpServer *http.Server

	shutdownTimeout time.Duration
	cleanups        []func()
}

// Boot runs the boot sequence once. A failure also marks the app unready.
func (app *HMSApp) Boot(ctx context.Context) (*boot.Report, error) {
	report, err := app.components.Sequence.Run(ctx)
	if err != nil {
		app.components.Readiness.Fail(err)
	}
	return report, err
}

// Verify checks the registered tables without taking the lock or changing
// the schema.
func (app *HMSApp) Verify(ctx context.Context) (schema.Verification, error) {
	v := schema.NewVerifier(app.catalog, schema.WithLogger(app.logger))
	return v.VerifyTables(ctx, models.RequiredTables(), models.OptionalTables(), app.config.IsProduction())
}

// Start serves HTTP and runs the boot sequence concurrently. Readiness turns
// green once boot completes. It blocks until ctx is cancelled, the server
// fails, or boot fails fatally.
func (app *HMSApp) Start(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.logger.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		_, err := app.Boot(gctx)
		if err != nil && ctx.Err() != nil {
			// Interrupted by shutdown rather than a boot failure.
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Stop releases the resources the app created: telemetry providers and the
// connection pool. Injected components are left alone.
func (app *HMSApp) Stop(timeout time.Duration) error {
	app.logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	err := app.httpServer.Shutdown(shutdownCtx)
	for i := len(app.cleanups) - 1; i >= 0; i-- {
		app.cleanups[i]()
	}
	app.cleanups = nil

	if err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	app.logger.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *HMSApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *HMSApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the wired components
func (app *HMSApp) Components() *AppComponents {
	return app.components
}
