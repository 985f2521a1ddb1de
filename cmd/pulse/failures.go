package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rohankatakam/osspulse/internal/errors"
	"github.com/spf13/cobra"
)

var (
	failuresLimit int
	failuresRun   string
	failuresPurge time.Duration
)

var failuresCmd = &cobra.Command{
	Use:   "failures [project]",
	Short: "Show pipeline stage failures from the run ledger",
	Long: `List recent stage failures for a project, or every failure of one run.

Examples:
  pulse failures kafka
  pulse failures --run 6f1c...
  pulse failures --purge 720h`,
	Args: cobra.MaximumNArgs(1),
	RunE: runFailures,
}

func init() {
	failuresCmd.Flags().IntVar(&failuresLimit, "limit", 20, "maximum failures to show")
	failuresCmd.Flags().StringVar(&failuresRun, "run", "", "show the failures of one run id")
	failuresCmd.Flags().DurationVar(&failuresPurge, "purge", 0, "delete failures older than this")
}

func runFailures(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	led, err := openLedger(ctx)
	if err != nil {
		return err
	}
	if led == nil {
		return errors.ConfigErrorf("no run ledger configured (set ledger.postgres_dsn or POSTGRES_DSN)")
	}
	defer led.Close()

	if failuresPurge > 0 {
		n, err := led.PurgeOld(ctx, failuresPurge)
		if err != nil {
			return err
		}
		fmt.Printf("purged %d failures\n", n)
		return nil
	}

	if failuresRun != "" {
		list, err := led.RunFailures(ctx, failuresRun)
		if err != nil {
			return err
		}
		for _, f := range list {
			fmt.Println(f.String())
		}
		return nil
	}

	if len(args) == 0 {
		return errors.MalformedInputf("a project id or --run is required")
	}
	stats, err := led.ProjectStats(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d failures across %d runs\n", args[0], stats.Total, stats.Runs)
	for stage, n := range stats.ByStage {
		fmt.Printf("  %-18s %d\n", stage, n)
	}
	list, err := led.RecentFailures(ctx, args[0], failuresLimit)
	if err != nil {
		return err
	}
	for _, f := range list {
		fmt.Printf("%s  %s (attempts %d)\n", f.UpdatedAt.Format(time.RFC3339), f.String(), f.Attempts)
	}
	return nil
}
