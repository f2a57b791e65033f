// Package cli is the docqa command line. Every command runs the same engine
// as the server, against the configured database and index.
package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"docqa/internal/app"
	"docqa/internal/config"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "docqa",
	Short: "Ask questions about PDF documents",
	Long: `docqa ingests PDFs into a per-document vector index and answers
questions using only the document's own text, citing the pages used.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (overrides the environment)")
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var (
	bold   = color.New(color.Bold).SprintFunc()
	green  = color.New(color.FgGreen, color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	red    = color.New(color.FgRed, color.Bold).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	faint  = color.New(color.Faint).SprintFunc()
)

func loadConfig() (*config.Config, error) {
	if configFile != "" {
		if err := os.Setenv("CONFIG_FILE", configFile); err != nil {
			return nil, err
		}
	}
	return config.Load()
}

// openApp builds the engine for a one-shot command. The returned close
// function drains and releases everything.
func openApp() (*app.App, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	a, err := app.New(cfg)
	if err != nil {
		return nil, nil, err
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	}
	return a, closeFn, nil
}

func statusColor(status string) string {
	switch status {
	case "ready":
		return green(status)
	case "failed":
		return red(status)
	default:
		return yellow(status)
	}
}
