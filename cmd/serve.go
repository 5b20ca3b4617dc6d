package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	deps "github.com/bwise1/civic_patrol/internal/debs"
	api "github.com/bwise1/civic_patrol/internal/http/rest"
	"github.com/bwise1/civic_patrol/util/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	allowConnectionsAfterShutdown = 1 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API and the change event websocket",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := deps.New(cfg)
	if err != nil {
		return err
	}
	defer d.Close()

	if err := d.DB.Migrate(ctx); err != nil {
		return errors.Wrap(err, "migrate database")
	}

	go d.WebSocket.Run(ctx)
	go func() {
		if err := d.Broker.Listen(ctx, d.WebSocket.Broadcast); err != nil {
			logger.Log.Error("change event broker stopped", zap.Error(err))
			stop()
		}
	}()

	a := api.New(cfg, d)
	serveErr := make(chan error, 1)
	go func() {
		logger.Log.Info("server running", zap.Int("port", cfg.Port))
		serveErr <- a.Serve()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "serve")
		}
		return nil
	case <-ctx.Done():
	}

	logger.Log.Info("request to shutdown server", zap.Duration("grace", allowConnectionsAfterShutdown))
	time.Sleep(allowConnectionsAfterShutdown)

	logger.Log.Info("shutting down server")
	if err := a.Shutdown(); err != nil {
		return errors.Wrap(err, "shutdown")
	}
	return nil
}
