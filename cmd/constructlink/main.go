// Package main is the constructlink binary: the transfer API server plus
// maintenance commands.
package main

import (
	"fmt"
	"os"
	"strings"

	"constructlink/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const appName = "constructlink"

// @title           ConstructLink Transfer API
// @version         1.0
// @description     Inter-project asset transfer workflow for construction sites.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFile string

	cmd := &cobra.Command{
		Use:           appName,
		Short:         "Asset transfer workflow service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&envFile, "env-file", "configs/.env", "Optional .env file loaded before reading the environment")

	cmd.AddCommand(
		serveCmd(&envFile),
		migrateCmd(&envFile),
		seedCmd(&envFile),
		sweepCmd(&envFile),
	)
	return cmd
}

// bootstrap loads config and builds the logger shared by every command.
func bootstrap(envFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Logging.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.Logging.Level, err)
	}

	zc := zap.NewDevelopmentConfig()
	if cfg.Release() {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build(zap.Fields(zap.String("app", appName)))
}
