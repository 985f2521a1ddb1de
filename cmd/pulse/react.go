package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

var reactAll bool

var reactCmd = &cobra.Command{
	Use:   "react",
	Short: "Extract ReACT recommendations from the forecaster's feature table",
	Long: `Run the ReACT extractor on the latest month of the feature table, or on every
month with --all, and print the prioritized items as JSON.`,
	RunE: runReact,
}

func init() {
	reactCmd.Flags().BoolVar(&reactAll, "all", false, "extract every month")
}

func runReact(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	runner := newReactRunner()

	var out interface{}
	var err error
	if reactAll {
		out, err = runner.RunAll(ctx)
	} else {
		out, err = runner.RunLatest(ctx)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
