package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/rohankatakam/osspulse/internal/ingestion"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/spf13/cobra"
)

var (
	ingestProjectID   string
	ingestProjectName string
	ingestFoundation  string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest <dir>",
	Short: "Ingest miner CSV output from a folder",
	Long: `Bucket the commit and issue CSVs of a miner output folder by month, upsert them
into the commit_links and issue_links families, and archive the processed files.

Example:
  pulse ingest OSS-Scraper/output --project-id kafka`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestProjectID, "project-id", "", "project id (default: from the CSV rows)")
	ingestCmd.Flags().StringVar(&ingestProjectName, "project-name", "", "display name (default: derived from the id)")
	ingestCmd.Flags().StringVar(&ingestFoundation, "foundation", string(models.FoundationApache), "apache or eclipse")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	foundation, err := parseFoundation(ingestFoundation)
	if err != nil {
		return err
	}

	store, upserter, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	dir, err := filepath.Abs(args[0])
	if err != nil {
		return err
	}
	in := ingestion.NewIngester(upserter, foundation, cfg.Pipeline.ArchiveDir, logger)
	result, err := in.ProcessFolder(ctx, dir, ingestProjectID, ingestProjectName)
	if err != nil {
		return err
	}

	for _, res := range []*ingestion.CSVResult{result.Commit, result.Issue} {
		if res != nil {
			fmt.Printf("%-13s %d rows (%d dropped) for %s\n", res.Family+":", res.Rows, res.Dropped, res.ProjectID)
		}
	}
	if result.CommitErr != nil {
		fmt.Printf("commit table failed: %v\n", result.CommitErr)
	}
	if result.IssueErr != nil {
		fmt.Printf("issue table failed: %v\n", result.IssueErr)
	}
	for _, a := range result.Archived {
		fmt.Printf("archived %s\n", a)
	}
	for _, w := range result.Warnings() {
		fmt.Printf("warning: %s\n", w)
	}
	return nil
}
