package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rohankatakam/osspulse/internal/mcp"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the query tools over MCP stdio",
	Long: `Start a Model Context Protocol server on stdin/stdout exposing
get_month_slice, get_predictions and list_projects. Logs go to stderr.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, _, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, c, err := newQueryService(ctx, store)
	if err != nil {
		return err
	}
	defer c.Close()

	return mcp.NewServer(svc, logger).RunStdio(ctx)
}
