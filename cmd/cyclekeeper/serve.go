package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"cyclekeeper/internal/adapters/httpapi"
	"cyclekeeper/internal/platform/config"
	"cyclekeeper/internal/platform/httpserver"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.HTTP.Addr = addr
			}
			a, err := newApp(cmd.Context(), cfg, os.Stderr, traceWriter(opts))
			if err != nil {
				return err
			}
			defer a.Close()
			if cfg.Auth.JWTSecret == config.DevJWTSecret {
				a.logger.Warn("using the development JWT secret; set CYCLEKEEPER_JWT_SECRET")
			}

			router := httpapi.NewRouter(httpapi.RouterConfig{
				Cycles:     a.cycles,
				Exports:    a.exports,
				Auth:       a.tokens,
				Logger:     a.logger.With("component", "http"),
				Registerer: a.registry,
				Gatherer:   a.registry,
			})
			srv := httpserver.New(cfg.HTTP.Addr, router, cfg.HTTP.ReadHeaderTimeout)
			a.logger.Info("starting cyclekeeper",
				"storage", cfg.Storage.Driver,
				"blob", cfg.Blob.Driver)
			return httpserver.Run(cmd.Context(), srv, cfg.HTTP.ShutdownTimeout, a.logger)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}

// traceWriter returns a nil interface when tracing is off so newApp falls
// back to OpenTelemetry.
func traceWriter(opts *rootOptions) io.Writer {
	if opts.trace {
		return os.Stderr
	}
	return nil
}
