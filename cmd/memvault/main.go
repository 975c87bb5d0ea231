// Command memvault is a small CLI over the memvault library, exercising
// the temporal log, LTM tree, compaction control, and background
// registry from outside a host agent process. Its root-command-plus-
// per-subcommand-file layout and flags>viper>defaults precedence follow
// the teacher's cmd/bd/main.go, scaled down to memvault's surface.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sanity-labs/memvault/internal/config"
	"github.com/sanity-labs/memvault/internal/idgen"
	"github.com/sanity-labs/memvault/internal/ltm"
	"github.com/sanity-labs/memvault/internal/registry"
	"github.com/sanity-labs/memvault/internal/store"
	"github.com/sanity-labs/memvault/internal/telemetry"
	"github.com/sanity-labs/memvault/internal/temporal"
)

// app bundles the wired-up library handles every subcommand needs,
// mirroring the teacher's package-level `store storage.Storage` global
// but collected into one struct instead of scattered package vars.
type app struct {
	cfg   config.Config
	store *store.Store
	log   *temporal.Log
	ltm   *ltm.Store
	reg   *registry.Registry
	ids   *idgen.Generator
}

var (
	dbPath     string
	jsonOutput bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "memvault",
	Short: "memvault - temporal memory substrate for a conversational agent",
	Long:  `An append-only message log with recursive summarization, a versioned long-term-memory tree, and a background worker registry.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

		if cmd.Flags().Changed("db") {
			config.Set("db_path", dbPath)
		}

		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		shutdown, err := telemetry.Init(rootCtx)
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		cobra.OnFinalize(func() { _ = shutdown(context.Background()) })

		s, err := store.Open(cfg.DBPath, store.WithBusyTimeout(cfg.StoreBusyTimeout))
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}

		current = &app{
			cfg:   cfg,
			store: s,
			log:   temporal.New(s),
			ltm:   ltm.New(s),
			reg:   registry.New(s, idgen.New()),
			ids:   idgen.New(),
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if current != nil && current.store != nil {
			_ = current.store.Close()
		}
		if rootCancel != nil {
			rootCancel()
		}
	},
}

// current is the app instance built by PersistentPreRunE, read by every
// subcommand's RunE.
var current *app

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: memvault.db)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	rootCmd.AddCommand(messageCmd)
	rootCmd.AddCommand(viewCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(ltmCmd)
	rootCmd.AddCommand(workerCmd)
}
