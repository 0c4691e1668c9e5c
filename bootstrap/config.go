package bootstrap

import (
	"fmt"
	"os"

	"entitycore/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	return NewLogger(zapcore.DebugLevel)
}

// NewLogger builds the console logger at the given level
func NewLogger(level zapcore.Level) (*zap.Logger, *zap.SugaredLogger, error) {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder // Colored levels
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder        // Readable timestamps
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder      // Short file paths

	consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)

	// Logs go to stderr so command output on stdout stays machine readable
	core := zapcore.NewCore(
		consoleEncoder,
		zapcore.AddSync(os.Stderr),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration from file, or from the
// default search path when file is empty.
func InitConfig(file string, sugar *zap.SugaredLogger) (*config.Config, error) {
	cfg, err := config.Load(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	sugar.Infow("Config loaded",
		"sequence_width", cfg.Identifiers.SequenceWidth,
		"strict_transitions", cfg.Transitions.Strict,
		"cache_backend", cfg.Cache.Backend,
		"storage_backend", cfg.Storage.Backend,
		"manifest", cfg.ManifestPath)

	return cfg, nil
}

// InitManifest loads the entity manifest named by cfg, falling back to the
// built-in entities when no manifest is configured.
func InitManifest(cfg *config.Config, sugar *zap.SugaredLogger) (*config.Manifest, error) {
	if cfg.ManifestPath == "" {
		sugar.Info("No entity manifest configured, using built-in entities")
		return config.DefaultManifest(), nil
	}

	manifest, err := config.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return nil, err
	}
	sugar.Infow("Entity manifest loaded",
		"path", cfg.ManifestPath,
		"machines", len(manifest.Machines),
		"entities", len(manifest.Entities),
		"triggers", len(manifest.Triggers))
	return manifest, nil
}
