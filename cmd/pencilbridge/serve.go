// ABOUTME: serve command: loads config, starts devices, runs the HTTP surface
// ABOUTME: Shuts the server and devices down gracefully on SIGINT or SIGTERM
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/harper/pencil-bridge/internal/application/config"
	"github.com/harper/pencil-bridge/internal/application/logging"
	"github.com/harper/pencil-bridge/internal/application/manager"
	"github.com/harper/pencil-bridge/internal/infrastructure/http"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve [config]",
	Short: "Run the bridge with the monitoring and control HTTP surface",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgPath := "config.yaml"
		if len(args) > 0 {
			cfgPath = args[0]
		}
		return runServe(cmd.Context(), cfgPath)
	},
}

func runServe(parent context.Context, cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, JSON: cfg.Logging.JSON})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}

	mgr, err := manager.NewFromConfig(cfg, logger)
	if err != nil {
		return fmt.Errorf("create manager: %w", err)
	}

	if err := mgr.Start(); err != nil {
		mgr.Shutdown()
		return fmt.Errorf("start devices: %w", err)
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &nethttp.Server{
		Addr:        cfg.Addr(),
		Handler:     http.NewMux(mgr, logger),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 0, // Event streams
		BaseContext: func(_ net.Listener) context.Context {
			return context.Background()
		},
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", "http://"+cfg.Addr(), "devices", len(mgr.List()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	serveErr := g.Wait()

	if err := mgr.Shutdown(); err != nil {
		return errors.Join(serveErr, fmt.Errorf("shutdown devices: %w", err))
	}
	if serveErr != nil {
		return serveErr
	}

	logger.Info("shutdown complete")
	return nil
}
