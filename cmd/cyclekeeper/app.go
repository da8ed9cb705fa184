package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"cyclekeeper/internal/blob"
	"cyclekeeper/internal/core"
	"cyclekeeper/internal/export"
	"cyclekeeper/internal/platform/auth"
	"cyclekeeper/internal/platform/config"
	"cyclekeeper/internal/platform/logger"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	cycles   *core.Service
	exports  *export.Service
	tokens   *auth.TokenService
	closers  []func() error
}

// newApp opens the stores named by cfg. When traceOut is non-nil spans are
// written there as JSON lines instead of going to OpenTelemetry.
func newApp(ctx context.Context, cfg config.Config, logOut, traceOut io.Writer) (*app, error) {
	log, err := logger.NewWithWriter(logOut, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: log, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, closeStore, err := core.OpenPersistentStore(ctx, core.StorageOptions{
		Driver:      core.StorageDriver(cfg.Storage.Driver),
		SQLitePath:  cfg.Storage.SQLitePath,
		PostgresDSN: cfg.Storage.PostgresDSN,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	a.closers = append(a.closers, closeStore)

	var tracer core.Tracer = core.NewOTelTracer(nil)
	if traceOut != nil {
		tracer = core.NewJSONTracer(traceOut)
	}
	a.cycles = core.NewService(store,
		core.WithLogger(log.With("component", "core")),
		core.WithMetricsRecorder(core.NewPrometheusMetricsRecorder(a.registry)),
		core.WithTracer(tracer),
	)

	artifacts, err := blob.Open(ctx, blob.Config{
		Driver: blob.Driver(strings.ToLower(cfg.Blob.Driver)),
		FSRoot: cfg.Blob.FSRoot,
		S3: blob.S3Config{
			Region:          cfg.Blob.S3.Region,
			Bucket:          cfg.Blob.S3.Bucket,
			Endpoint:        cfg.Blob.S3.Endpoint,
			AccessKeyID:     cfg.Blob.S3.AccessKeyID,
			SecretAccessKey: cfg.Blob.S3.SecretAccessKey,
			PathStyle:       cfg.Blob.S3.PathStyle,
		},
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	a.exports = export.NewService(a.cycles, artifacts,
		export.WithPrefix(cfg.Export.Prefix),
		export.WithPresignExpiry(cfg.Export.PresignExpiry),
		export.WithLogger(log.With("component", "export")),
	)
	a.tokens = auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	return a, nil
}

// Close releases the stores.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
