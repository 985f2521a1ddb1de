package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run <git_link>",
	Short: "Run the full pipeline for one repository",
	Long: `Run metadata fetch, the miner, CSV ingestion, forecasting, ReACT extraction
and net-vis loading for a repository, printing the per-stage result as JSON.

Example:
  pulse run https://github.com/apache/kafka.git`,
	Args: cobra.ExactArgs(1),
	RunE: runPipeline,
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, upserter, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	led, err := openLedger(ctx)
	if err != nil {
		logger.WithError(err).Warn("run ledger disabled")
	}
	if led != nil {
		defer led.Close()
	}

	result, err := newOrchestrator(upserter, led).Run(ctx, args[0])
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return err
	}
	if failed := result.Failed(); len(failed) > 0 {
		fmt.Fprintf(os.Stderr, "%d stage(s) failed: %v (run %s)\n", len(failed), failed, result.RunID)
	}
	if result.Error != "" {
		return fmt.Errorf("pipeline stopped: %s", result.Error)
	}
	return nil
}
