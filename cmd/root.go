// Package cmd defines the CLI commands for the icp-exporter executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/app"
	"github.com/JakeFAU/icp-exporter/internal/config"
	"github.com/JakeFAU/icp-exporter/internal/icp"
)

// Runner is the application surface the commands use. Tests swap in a fake
// through newApp.
type Runner interface {
	Run(ctx context.Context) (icp.Summary, error)
	Close(ctx context.Context) error
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Runner, error) {
	return app.Build(ctx, cfg, logger)
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "icp-exporter",
		Short: "Exports ICP registration records for a province and date range.",
		Long: `icp-exporter downloads ICP registration records from the public lookup
service one day at a time. Each day is fetched with the bulk spreadsheet
export; days whose export hits the 1000-row cap are re-fetched page by page
from the HTML listing. Records are written to the configured sink.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.AddCommand(newExportCmd(&cfgFile))
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
