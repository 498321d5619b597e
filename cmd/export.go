package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/icp-exporter/internal/config"
	"github.com/JakeFAU/icp-exporter/internal/icp"
	"github.com/JakeFAU/icp-exporter/internal/logging"
)

const shutdownTimeout = 10 * time.Second

// exportFlags maps command-line flags to configuration keys.
var exportFlags = map[string]string{
	"start":    "run.start",
	"end":      "run.end",
	"province": "run.province",
	"threads":  "run.threads",
	"sink":     "sink.kind",
	"output":   "sink.file.path",
	"port":     "server.port",
}

// newExportCmd creates the 'export' subcommand.
func newExportCmd(cfgFile *string) *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Runs one export over a date range",
		Long: `Splits the inclusive range --start..--end (YYYYMMDD) into days, fetches
each day for --province on a pool of --threads workers, and writes every
record to the configured sink. A JSON summary is printed when the run ends.`,
		Example: "  icp-exporter export --start 20240101 --end 20240131 --province 北京 --threads 8",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runExport(cmd, v, *cfgFile)
		},
	}

	flags := cmd.Flags()
	flags.String("start", "", "first day of the range, YYYYMMDD")
	flags.String("end", "", "last day of the range, YYYYMMDD")
	flags.String("province", "", "province name as the lookup service spells it")
	flags.Int("threads", 4, "number of days fetched in parallel")
	flags.String("sink", "", "record sink: sqlite, postgres, file or memory")
	flags.String("output", "", "output path for the file sink (.csv, .jsonl or .xlsx)")
	flags.Int("port", 0, "serve run status on this port while exporting (0 disables)")
	for name, key := range exportFlags {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return cmd
}

func runExport(cmd *cobra.Command, v *viper.Viper, cfgFile string) error {
	cfg, err := config.LoadWith(v, cfgFile)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := newApp(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := application.Close(closeCtx); cerr != nil {
			logger.Warn("failed to close application", zap.Error(cerr))
		}
	}()

	summary, err := application.Run(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Warn("export interrupted; summary covers the days fetched before the signal")
	}
	return printSummary(cmd, summary)
}

func printSummary(cmd *cobra.Command, summary icp.Summary) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("print summary: %w", err)
	}
	return nil
}
