// Package cli is the apidouble command-line surface: start plus the entry
// maintenance commands, all operating on the same storage the server uses.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/egehanasal/apidouble/internal/config"
	"github.com/egehanasal/apidouble/internal/storage"
)

// Execute runs the root command. Returns the process exit code: 0 on
// graceful completion, 1 on startup/validation failure.
func Execute() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "apidouble",
		Short:         "Record, replay and transform HTTP traffic against an upstream API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	root.AddCommand(newStartCmd(&configPath))
	root.AddCommand(
		newListCmd(&configPath),
		newClearCmd(&configPath),
		newDeleteCmd(&configPath),
		newExportCmd(&configPath),
		newImportCmd(&configPath),
	)
	return root
}

// newLogger builds the process logger.
func newLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build())
}

// openStorage builds and initializes the backing the config selects.
func openStorage(cmd *cobra.Command, cfg config.Config, log *zap.Logger) (storage.Storage, error) {
	store, err := storage.New(storage.Options{
		Type: cfg.Storage.Type,
		Path: cfg.Storage.Path,
		Addr: cfg.Storage.Addr,
		DB:   cfg.Storage.DB,
	}, log)
	if err != nil {
		return nil, err
	}
	if err := store.Init(cmd.Context()); err != nil {
		return nil, fmt.Errorf("storage init: %w", err)
	}
	return store, nil
}
