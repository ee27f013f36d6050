// Command datapilot answers analytics questions over a SQL warehouse.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aixgo-dev/datapilot"
	"github.com/aixgo-dev/datapilot/pkg/config"
)

var (
	configFile string
	verbose    bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "datapilot",
	Short: "Conversational analytics over your data warehouse",
	Long: `datapilot routes natural language questions to SQL, analysis,
machine learning, documentation and web search capabilities and
composes a single markdown answer per turn.

Run "datapilot chat" for an interactive session or "datapilot serve"
to expose the HTTP API.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("DATAPILOT_CONFIG"), "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Per-turn timeout")

	rootCmd.AddCommand(serveCmd, askCmd, chatCmd, ingestCmd, versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// withSystem builds the system, runs fn and closes the system.
func withSystem(ctx context.Context, fn func(*datapilot.System) error, opts ...datapilot.Option) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	sys, err := datapilot.Build(ctx, cfg, opts...)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = sys.Close(closeCtx)
	}()
	return fn(sys)
}
