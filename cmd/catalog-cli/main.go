// Command catalog-cli harvests, merges and gates the product catalog.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical-ai/catalog-engine/internal/config"
	"github.com/spherical-ai/catalog-engine/internal/observability"
	"github.com/spherical-ai/catalog-engine/internal/storage"
)

// version is set at build time.
var version = "0.1.0"

var (
	cfgFile    string
	outputJSON bool
	verbose    bool
	noColor    bool

	// set by PersistentPreRunE before any subcommand runs
	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "catalog-cli",
	Short: "Product catalog harvesting, canonicalization, and quality gating",
	Long: `catalog-cli maintains the canonical product catalog.

Use this tool to:
- Harvest product pages through the rendering proxy or import catalog exports
- Merge staged records into canonical products
- Promote complete products and recompute brand quality snapshots
- Approve or reject products by hand

All commands support --json for automation.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return err
		}

		level := cfg.Observability.LogLevel
		if verbose {
			level = "debug"
		}
		// JSON output keeps stderr machine readable too
		format := "console"
		if outputJSON {
			format = "json"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       level,
			Format:      format,
			Output:      os.Stderr,
			ServiceName: "catalog-cli",
		})
		ui = NewUI(outputJSON, noColor)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if ui != nil {
			ui.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: env vars and defaults)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "plain text output")

	rootCmd.AddCommand(
		newMigrateCmd(),
		newAliasesCmd(),
		newHarvestCmd(),
		newReprocessCmd(),
		newRetryFailuresCmd(),
		newMergeCmd(),
		newPromoteCmd(),
		newApproveCmd(),
		newRejectCmd(),
		newQualityCmd(),
		newRunCmd(),
		newVersionCmd(),
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "catalog-cli: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM. Long-running commands
// check it between products.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newMigrateCmd() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			db, dialect, err := storage.Open(ctx, cfg.Database)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			manager := storage.NewMigrationManager(db, dialect)
			status, err := manager.CheckMigrations(ctx)
			if err != nil {
				return err
			}
			if check || status.UpToDate {
				if outputJSON {
					return ui.JSON(status)
				}
				ui.Info("%s: %d applied, %d pending", dialect, len(status.Applied), len(status.Pending))
				for _, name := range status.Pending {
					ui.Step("pending %s", name)
				}
				return nil
			}

			stop := ui.Spinner(fmt.Sprintf("Applying %d migrations on %s", len(status.Pending), dialect))
			err = manager.RunMigrations(ctx, status)
			stop()
			if err != nil {
				return err
			}

			logger.Info().Str("dialect", string(dialect)).Strs("applied", status.Pending).Msg("Migrations applied")
			if outputJSON {
				return ui.JSON(map[string]interface{}{"dialect": dialect, "applied": status.Pending})
			}
			ui.Success("Applied %d migrations on %s", len(status.Pending), dialect)
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "only report pending migrations")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if outputJSON {
				return ui.JSON(map[string]string{"version": version, "go": runtime.Version()})
			}
			ui.Info("catalog-cli %s, %s", version, runtime.Version())
			return nil
		},
	}
}
