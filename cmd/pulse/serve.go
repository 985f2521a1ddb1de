package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/browser"
	"github.com/rohankatakam/osspulse/internal/api"
	"github.com/spf13/cobra"
)

var (
	serveAddr   string
	serveOpen   bool
	serveNoPipe bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Long: `Serve the month-slice, forecast and project routes under /api and /eclipse,
and accept new repositories on POST /api/upload_git_link.

Examples:
  pulse serve --addr :8080
  pulse serve --open`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().BoolVar(&serveOpen, "open", false, "open the API root in a browser")
	serveCmd.Flags().BoolVar(&serveNoPipe, "no-pipeline", false, "disable git link uploads")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, upserter, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	svc, c, err := newQueryService(ctx, store)
	if err != nil {
		return err
	}
	defer c.Close()

	var runner api.PipelineRunner
	if !serveNoPipe {
		led, err := openLedger(ctx)
		if err != nil {
			logger.WithError(err).Warn("run ledger disabled")
		}
		if led != nil {
			defer led.Close()
		}
		runner = newOrchestrator(upserter, led)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewRouter(api.NewHandler(svc, runner, logger), logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	if serveOpen {
		url := "http://" + browsableHost(addr) + "/"
		if err := browser.OpenURL(url); err != nil {
			fmt.Printf("Could not open browser automatically. Visit %s\n", url)
		}
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func browsableHost(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
