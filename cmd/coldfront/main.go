// Command coldfront manages the billing-record archival engine: it
// moves aged records from the live tier to the cold tier, resolves and
// restores records across both, and reports run outcomes.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/coldfront/coldfront/internal/archive"
	"github.com/coldfront/coldfront/internal/config"
	"github.com/coldfront/coldfront/internal/metrics"
	"github.com/coldfront/coldfront/internal/store/blob"
	"github.com/coldfront/coldfront/internal/store/sqlite"
)

// Build information, set via ldflags.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "coldfront",
		Short: "Tiered-storage archival engine for billing records",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			setupLogging()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "info", "log level")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newReconcileCmd())
	rootCmd.AddCommand(newResolveCmd())
	rootCmd.AddCommand(newRestoreCmd())
	rootCmd.AddCommand(newStatsCmd())
	rootCmd.AddCommand(newCreateCmd())

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("coldfront %s (commit %s, built %s)\n", Version, Commit, BuildTime)
		},
	}
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// loadConfig reads the config file, falling back to defaults when no
// path was given.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return config.Default(), nil
	}
	return config.Load(cfgFile)
}

// openService builds the engine over the sqlite and blob backends.
// The returned close function releases the database.
func openService(cfg *config.Config) (*archive.Service, func(), error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sqlite.Open(filepath.Join(cfg.DataDir, "coldfront.db"))
	if err != nil {
		return nil, nil, err
	}

	cold, err := blob.New(cfg.ArchiveDir)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	svc := archive.NewService(cfg, db, cold, db.Index(), db, metrics.New(metrics.Registry), log.Logger)
	return svc, func() { _ = db.Close() }, nil
}

func withService(fn func(svc *archive.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	svc, closeFn, err := openService(cfg)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(svc)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newRunCmd() *cobra.Command {
	var (
		ageDays   int
		batchSize int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one archival run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *archive.Service) error {
				// Interrupts cancel between batches; in-flight
				// migrations finish and stay committed.
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				summary, err := svc.RunOnce(ctx, time.Duration(ageDays)*24*time.Hour, batchSize)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
	cmd.Flags().IntVar(&ageDays, "age-days", 0, "age threshold in days (0 = config value)")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "batch size and concurrency width (0 = config value)")
	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Sweep stale index entries once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *archive.Service) error {
				summary, err := svc.Reconcile(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <record-id>",
		Short: "Resolve a record from whichever tier owns it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *archive.Service) error {
				rec, source, err := svc.Resolve(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]any{
					"source": source,
					"record": rec,
				})
			})
		},
	}
}

func newRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <record-id>",
		Short: "Restore an archived record to the live tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *archive.Service) error {
				rec, err := svc.Restore(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Report tier populations and the last run outcome",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(func(svc *archive.Service) error {
				stats, err := svc.CurrentStats(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(stats)
			})
		},
	}
}
