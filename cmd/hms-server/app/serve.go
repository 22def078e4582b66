package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	hmsapp "github.com/stacklok/hms-server/internal/app"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Synchronize the schema and serve the operational endpoints",
	Long: `Start the operational HTTP server and run the boot sequence:
acquire the migration lock, synchronize every registered table, verify the
result and seed reference data. /readiness reports 200 once boot completes.

A fatal boot failure stops the server with a non-zero exit code.`,
	RunE: runServe,
}

// Kubernetes-friendly shutdown time
const defaultGracefulTimeout = 30 * time.Second

func init() {
	serveCmd.Flags().String("address", ":8080", "Address to listen on")
	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	application, err := hmsapp.NewHMSApp(ctx,
		hmsapp.WithConfig(cfg),
		hmsapp.WithAddress(viper.GetString("address")),
		hmsapp.WithShutdownTimeout(defaultGracefulTimeout),
	)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() {
		if err := application.Stop(defaultGracefulTimeout); err != nil {
			slog.Error("Shutdown failed", "error", err)
		}
	}()

	if err := application.Start(ctx); err != nil {
		slog.Error("Server stopped", "error", err)
		return err
	}
	return nil
}

// commandContext returns cmd's context or a background context when the
// command is executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
