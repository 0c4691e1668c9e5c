// Package cmd provides the command-line interface for entitycore.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"entitycore/bootstrap"
	"entitycore/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON   bool
	configFile   string
	manifestFile string
	noColor      bool
	logLevel     string
)

const defaultTimeout = 30 * time.Second

// NewRootCmd creates the entitycore command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "entitycore",
		Short: "Identifier, lifecycle and cache invalidation registries",
		Long: `entitycore allocates prefixed entity identifiers, drives entity lifecycles
through declared state machines and flushes the cached queries that depend on
an entity type whenever one of its entities is written.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file path (default: search . and ./config)")
	rootCmd.PersistentFlags().StringVar(&manifestFile, "manifest", "", "Entity manifest path (overrides manifest_path)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newDescribeCmd())
	rootCmd.AddCommand(newApplyCmd())
	rootCmd.AddCommand(newIDsCmd())
	rootCmd.AddCommand(newTriggersCmd())
	rootCmd.AddCommand(newManifestCmd())
	rootCmd.AddCommand(newEntityCmd())

	return rootCmd
}

// newServeCmd creates the 'serve' subcommand
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the registries until interrupted",
		Long:  "Load configuration and the entity manifest, start the invalidation workers and block until SIGINT or SIGTERM.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			app, cleanup, err := initApp(ctx, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			app.Sugar.Infow("entitycore running", "entity_types", app.Service.EntityTypes())
			app.WaitForShutdown(ctx)
			return nil
		},
	}
}

// loadEnvironment builds the logger and loads config and manifest as
// selected by the global flags.
func loadEnvironment() (*config.Config, *config.Manifest, *zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	logger, sugar, err := bootstrap.NewLogger(level)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := bootstrap.InitConfig(configFile, sugar)
	if err != nil {
		return nil, nil, nil, err
	}
	if manifestFile != "" {
		cfg.ManifestPath = manifestFile
	}

	manifest, err := bootstrap.InitManifest(cfg, sugar)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, manifest, logger, nil
}

// initApp builds and starts the application. tweak, when set, may adjust the
// loaded config before anything is wired.
func initApp(ctx context.Context, tweak func(*config.Config)) (*bootstrap.App, func(), error) {
	cfg, manifest, logger, err := loadEnvironment()
	if err != nil {
		return nil, nil, err
	}
	if tweak != nil {
		tweak(cfg)
	}

	app, err := bootstrap.NewApp(ctx, cfg, manifest, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize: %w", err)
	}
	if err := app.Start(); err != nil {
		app.Shutdown()
		return nil, nil, err
	}
	return app, app.Shutdown, nil
}

// initCommandApp builds the application for a one-shot command. The HTTP
// API is never started outside serve.
func initCommandApp(ctx context.Context) (*bootstrap.App, func(), error) {
	return initApp(ctx, func(cfg *config.Config) {
		cfg.API.Enabled = false
	})
}

// initOfflineApp builds the registries without touching external storage or
// caches, for commands that only inspect the manifest.
func initOfflineApp(ctx context.Context, tweak func(*config.Config)) (*bootstrap.App, func(), error) {
	return initApp(ctx, func(cfg *config.Config) {
		cfg.Storage.Backend = config.StorageBackendMemory
		cfg.Cache.Backend = config.CacheBackendNone
		cfg.API.Enabled = false
		if tweak != nil {
			tweak(cfg)
		}
	})
}

// outputAsJSON writes data as indented JSON.
func outputAsJSON(w io.Writer, data interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return context.WithTimeout(parent, defaultTimeout)
}
