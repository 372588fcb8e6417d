package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"moneywright/internal/codegen"
	"moneywright/internal/config"
	"moneywright/internal/kvstore"
	"moneywright/internal/llm"
	"moneywright/internal/logging"
	"moneywright/internal/parsercache"
	"moneywright/internal/pipeline"
	"moneywright/internal/sandbox"
	"moneywright/internal/trials"
)

var (
	// Global flags
	configPath string
	debugMode  bool

	// Loaded in PersistentPreRunE, used by every subcommand
	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "moneywright",
	Short: "Moneywright statement parser engine",
	Long: `Moneywright parses bank and brokerage statements with generated,
cached, versioned extraction code.

Each issuer/document-type pair gets its own parser. Cached versions are tried
newest first; when every version fails on a document, the engine asks the
configured LLM for fresh code, validates it statically, proves it against the
document in a sandbox, and caches it as the next version.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debugMode {
			cfg.Logging.DebugMode = true
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return logging.Initialize(logging.Options{
			DebugMode:  cfg.Logging.DebugMode,
			Level:      cfg.Logging.Level,
			Categories: cfg.Logging.Categories,
			JSONFormat: cfg.Logging.JSONFormat,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// engine bundles the wired subsystems behind the subcommands.
type engine struct {
	store *kvstore.Store
	pool  *pipeline.Pool
}

// buildEngine wires store, executor, LLM client, per-namespace orchestrators
// and generators, and the worker pool.
func buildEngine(ctx context.Context) (*engine, error) {
	store, err := kvstore.New(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	executor := sandbox.Select(cfg)
	client, err := llm.New(cfg.LLM)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	statements := parsercache.ForMode(store, false)
	investments := parsercache.ForMode(store, true)

	router := pipeline.NewRouter(
		trials.New(statements, executor),
		trials.New(investments, executor),
		codegen.NewGenerator(client, executor, statements),
		codegen.NewGenerator(client, executor, investments),
	)

	pool := pipeline.New(cfg.Pipeline, router, router)
	pool.Start(ctx)

	logging.Get(logging.CategoryBoot).Info("Engine ready (backend=%s, db=%s)", executor.Name(), cfg.Store.DatabasePath)
	return &engine{store: store, pool: pool}, nil
}

// Close shuts the pool down first so no worker touches a closed store.
func (e *engine) Close() {
	_ = e.pool.Close()
	_ = e.store.Close()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config YAML")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(keysCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logging.Fprintln("Error:", err)
		os.Exit(1)
	}
}
