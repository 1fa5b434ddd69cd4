package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/Argus/server/internal/argus/extractor"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/service"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/memory"
	"github.com/BrandonDHaskell/Argus/server/internal/argus/store/sqlite"
	"github.com/BrandonDHaskell/Argus/server/internal/config"
	"github.com/BrandonDHaskell/Argus/server/internal/db"
)

// Version is set at build time.
var Version = "0.1.0"

type rootOptions struct {
	configPath string
	output     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "argus-server",
		Short: "Biometric access-control decision engine",
		Long: `argus-server matches face templates against enrolled principals,
enforces per-tier acceptance thresholds, lockout and TOTP second factors,
and records every decision in a hash-chained audit log.

Running without a subcommand starts the server.`,
		Version:      Version,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("ARGUS_CONFIG"), "Path to a YAML config file (env ARGUS_CONFIG)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table, json, yaml")

	root.AddCommand(newServeCmd(opts))
	root.AddCommand(newAuditCmd(opts))
	root.AddCommand(newThresholdsCmd(opts))
	return root
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func policyFrom(cfg config.PolicyConfig) service.Policy {
	return service.Policy{
		MaxAttempts:        cfg.MaxAttempts,
		LockoutDuration:    cfg.LockoutDuration(),
		SecondFactorWindow: cfg.SecondFactorWindow(),
		TemplateDim:        cfg.TemplateDim,
		AuditAdminEvents:   cfg.AuditAdminEvents,
	}
}

// extractorFrom returns nil without a URL; the engine then rejects image
// requests with ErrModelUnavailable.
func extractorFrom(cfg config.ExtractorConfig) extractor.Extractor {
	if cfg.URL == "" {
		return nil
	}
	return extractor.NewHTTP(cfg.URL, cfg.Timeout())
}

// openStores returns the configured backends and a func releasing them.
func openStores(ctx context.Context, cfg config.Config) (service.Stores, func(), error) {
	if cfg.Storage.Backend == "memory" {
		return service.Stores{
			Blobs: memory.NewBlobStore(),
			Audit: memory.NewAuditRecordStore(),
		}, func() {}, nil
	}

	conn, err := db.Open(ctx, db.Config{Path: cfg.Storage.DBPath, Env: cfg.Env})
	if err != nil {
		return service.Stores{}, nil, fmt.Errorf("open database: %w", err)
	}
	writer := db.NewWorker(conn)
	closeFn := func() {
		writer.Close()
		_ = conn.Close()
	}
	return service.Stores{
		Blobs: sqlite.NewBlobStore(conn, writer),
		Audit: sqlite.NewAuditRecordStore(conn, writer),
	}, closeFn, nil
}

// openEngine bootstraps an engine over the persisted state cfg points at.
func openEngine(ctx context.Context, cfg config.Config, logger *slog.Logger, rec service.Recorder) (*service.Engine, func(), error) {
	stores, closeFn, err := openStores(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	engine, err := service.Bootstrap(ctx, stores, service.BootstrapConfig{
		KeyPath:   cfg.Storage.KeyPath,
		Issuer:    cfg.SecondFactor.Issuer,
		Policy:    policyFrom(cfg.Policy),
		Extractor: extractorFrom(cfg.Extractor),
		Recorder:  rec,
		Logger:    logger,
	})
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return engine, closeFn, nil
}

func writeOutput(w io.Writer, format string, data any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case "yaml":
		out, err := yaml.Marshal(data)
		if err != nil {
			return err
		}
		_, err = w.Write(out)
		return err
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}
