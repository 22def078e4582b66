package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	hmsapp "github.com/stacklok/hms-server/internal/app"
)

// errMissingTables makes verify exit non-zero in every environment.
var errMissingTables = errors.New("required tables are missing")

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that every registered table exists",
	Long: `Check the database for the required and optional hospital tables
without taking the migration lock or changing the schema.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := commandContext(cmd)

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		application, err := hmsapp.NewHMSApp(ctx, hmsapp.WithConfig(cfg))
		if err != nil {
			return fmt.Errorf("failed to build application: %w", err)
		}
		defer func() { _ = application.Stop(5 * time.Second) }()

		v, err := application.Verify(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "present:          %s\n", strings.Join(v.Present, ", "))
		fmt.Fprintf(out, "missing required: %s\n", strings.Join(v.MissingRequired, ", "))
		fmt.Fprintf(out, "missing optional: %s\n", strings.Join(v.MissingOptional, ", "))

		if len(v.MissingRequired) > 0 {
			return errMissingTables
		}
		return nil
	},
}
