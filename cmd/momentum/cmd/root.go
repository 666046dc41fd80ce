// Package cmd implements the momentum command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"momentum/internal/config"
	"momentum/internal/util"
)

var rootCmd = &cobra.Command{
	Use:   "momentum",
	Short: "Time-gated intraday momentum engine for Korean index ETFs",
	Long: `momentum watches the opening minutes of the KRX session, decides once
whether to go long (KODEX 200) or short (KODEX inverse), sizes and places a
market order and exits at a configured time. Every bar it sees is persisted
for the offline grid search.

Configuration is read from config/momentum.yaml unless --config or
MOMENTUM_CONFIG names another file.`,
	SilenceUsage: true,
}

var (
	cfgPath string
	cfg     *config.Config
	logFile *os.File
)

// Execute adds all child commands to the root command and runs it.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	defaultPath := "config/momentum.yaml"
	if p := os.Getenv("MOMENTUM_CONFIG"); p != "" {
		defaultPath = p
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultPath, "path to YAML config file")
}

// loadConfig reads the config file and installs the default logger. Commands
// that need configuration call it first.
func loadConfig() error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg = c

	var w io.Writer = os.Stdout
	if cfg.Logging.File != "" {
		f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		logFile = f
		w = io.MultiWriter(os.Stdout, f)
	}
	util.SetDefault(util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format))
	slog.Debug("config loaded", "path", cfgPath, "broker", cfg.Broker.Kind)
	return nil
}
