package main

import (
	"context"
	"fmt"

	"github.com/rohankatakam/osspulse/internal/export"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/spf13/cobra"
)

var (
	exportFamily     string
	exportProject    string
	exportOut        string
	exportFoundation string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a link family to Parquet",
	Long: `Write one row per link entry, with its project and month, to a Parquet file.

Examples:
  pulse export --family commit_links --project kafka --out kafka_commits.parquet
  pulse export --family email_links --out all_emails.parquet`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportFamily, "family", string(models.FamilyCommitLinks), "commit_links, issue_links or email_links")
	exportCmd.Flags().StringVar(&exportProject, "project", "", "project id (default: every project)")
	exportCmd.Flags().StringVar(&exportOut, "out", "links.parquet", "output file")
	exportCmd.Flags().StringVar(&exportFoundation, "foundation", string(models.FoundationApache), "apache or eclipse")
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	foundation, err := parseFoundation(exportFoundation)
	if err != nil {
		return err
	}
	family, err := models.ParseFamily(exportFamily)
	if err != nil {
		return err
	}

	store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := export.NewExporter(store, logger).ExportLinks(ctx, foundation, family, exportProject, exportOut)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %d rows to %s\n", n, exportOut)
	return nil
}
