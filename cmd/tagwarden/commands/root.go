// Package commands is the tagwarden CLI.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tagwarden/tagwarden/pkg/config"
	"github.com/tagwarden/tagwarden/pkg/telemetry"
)

// CurrentVersion is stamped at release time.
const CurrentVersion = "0.3.0"

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "tagwarden",
	Short: "Read-only tag compliance engine for AWS",
	Long: `Tagwarden validates resource tags against a declarative policy across
every enabled region, attributes monthly cost to violations, and serves the
results to AI assistants over the tool-call protocol.`,
	Version:      CurrentVersion,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(policyCmd)
}

// loadConfig resolves flags over file over environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	return telemetry.NewLogger(cfg.LogLevel)
}
