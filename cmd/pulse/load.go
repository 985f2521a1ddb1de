package main

import (
	"context"
	"fmt"

	"github.com/rohankatakam/osspulse/internal/ingestion"
	"github.com/rohankatakam/osspulse/internal/models"
	"github.com/spf13/cobra"
)

var (
	loadStaticDir  string
	loadFoundation string
)

var loadCmd = &cobra.Command{
	Use:   "load [family...]",
	Short: "Load the static data tree into the store",
	Long: `Load project info and the per-family CSV/JSON files under <static-dir>/new
into the document store. With no arguments every family is loaded.

Examples:
  pulse load
  pulse load tech_net social_net --static-dir ./data`,
	RunE: runLoad,
}

func init() {
	loadCmd.Flags().StringVar(&loadStaticDir, "static-dir", "", "static data root (default from config)")
	loadCmd.Flags().StringVar(&loadFoundation, "foundation", string(models.FoundationApache), "apache or eclipse")
}

func runLoad(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	foundation, err := parseFoundation(loadFoundation)
	if err != nil {
		return err
	}

	families := models.Families()
	if len(args) > 0 {
		families = families[:0:0]
		for _, a := range args {
			f, err := models.ParseFamily(a)
			if err != nil {
				return err
			}
			families = append(families, f)
		}
	}

	dir := loadStaticDir
	if dir == "" {
		dir = cfg.Data.StaticDir
	}

	store, upserter, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	loader := ingestion.NewLoader(ingestion.NewFileSource(dir, logger), store, upserter, foundation, logger)
	failed := 0
	for _, res := range loader.LoadAll(ctx, families) {
		if res.Err != nil {
			failed++
			fmt.Printf("✗ %-15s %s\n", res.Family, res.ErrorMessage())
			continue
		}
		fmt.Printf("✓ %-15s %d loaded, %d skipped (%s)\n", res.Family, len(res.Loaded), len(res.Skipped), res.Duration)
	}
	if failed > 0 {
		return fmt.Errorf("%d load(s) failed", failed)
	}
	return nil
}
