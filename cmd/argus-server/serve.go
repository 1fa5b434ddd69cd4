package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/config"
	"github.com/BrandonDHaskell/Argus/server/internal/healthsrv"
	"github.com/BrandonDHaskell/Argus/server/internal/httpapi"
	"github.com/BrandonDHaskell/Argus/server/internal/metrics"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and gRPC health server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

// runServe blocks until parent is cancelled or a signal arrives.  Logs go
// to logOut.
func runServe(parent context.Context, opts *rootOptions, logOut io.Writer) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log, logOut).With("component", "argus-server")
	slog.SetDefault(logger)

	m := metrics.New()
	engine, closeStores, err := openEngine(ctx, cfg, logger, m)
	if err != nil {
		return err
	}
	defer closeStores()

	logger.Info("engine ready",
		"env", cfg.Env,
		"storage", cfg.Storage.Backend,
		"template_dim", cfg.Policy.TemplateDim,
	)

	var health *healthsrv.Server
	observers := []service.IntegrityObserver{m}
	if cfg.GRPCAddr != "" {
		health = healthsrv.New(logger)
		observers = append(observers, health)
	}

	monitor := service.NewIntegrityMonitor(engine, cfg.Integrity.Interval(), logger, observers...)
	monitor.Start(ctx)
	defer monitor.Stop()

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Engine:  engine,
		Metrics: m,
	})

	if health != nil {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		go func() {
			if err := health.Serve(lis); err != nil {
				logger.Error("grpc health server error", "err", err)
				stop()
			}
		}()
		defer health.Shutdown()
	}

	go func() {
		logger.Info("listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
