package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/seoagent/governor/pkg/server"
	"github.com/seoagent/governor/pkg/telemetry"
)

func newServeCommand(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the governance HTTP API",
		Long: `Start the governance HTTP API.

The server exposes policy validation, runtime limit checks, action leases
and the approval queue. The OpenAPI document is served at /openapi.json.`,
		Example: `  # Serve with defaults (SQLite at ./governor.db, :8080)
  governor serve

  # Serve a config file on a custom address
  governor serve -c governor.yaml --addr 127.0.0.1:9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.ListenAddress = addr
			}
			if cfg.Telemetry.ServiceVersion == "" || cfg.Telemetry.ServiceVersion == "dev" {
				cfg.Telemetry.ServiceVersion = version
			}

			tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
			if err != nil {
				return fmt.Errorf("failed to initialize telemetry: %w", err)
			}
			defer func() {
				ctx, cancel := shutdownContext(cfg.Server.ShutdownTimeout)
				defer cancel()
				if err := tel.Shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("Telemetry shutdown failed")
				}
			}()
			logger := tel.Logger.Zerolog()
			tel.Events.Subscribe(telemetry.LogSink(logger.With().Str("component", "audit").Logger()), nil)

			ctx := tel.WithContext(cmd.Context())
			rt, err := openRuntime(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.guardrails != nil {
				tel.Metrics.SetGuardrailRules(float64(len(rt.guardrails.ListRules())))
				if cfg.Guardrails.Watch && len(cfg.Guardrails.Paths) > 0 {
					if err := rt.guardrails.Watch(ctx, cfg.Guardrails.Paths); err != nil {
						return err
					}
					defer rt.guardrails.StopWatching()
				}
			}

			handler, err := server.New(server.Config{
				Engine:    rt.engine,
				Approvals: rt.approvals,
				Leases:    rt.leases,
				LeaseTTL:  cfg.Lease.TTL,
				Health:    rt.health,
				Telemetry: tel,
				BasePath:  cfg.Server.BasePath,
				Version:   version,
				Auth:      server.AuthConfig{JWTSecret: cfg.Server.JWTSecret},
				RateLimit: server.RateLimit{RPS: cfg.Server.RateLimit.RPS, Burst: cfg.Server.RateLimit.Burst},
				Logger:    logger,
			})
			if err != nil {
				return err
			}

			if cfg.Lease.Backend == "sqlite" {
				go purgeLeases(ctx, rt, cfg.Lease.TTL, logger)
			}

			if metricsSrv := tel.Metrics.NewMetricsServer(); metricsSrv != nil {
				go func() {
					logger.Info().Str("addr", metricsSrv.Addr).Msg("Serving metrics")
					if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						logger.Error().Err(err).Msg("Metrics server failed")
					}
				}()
				defer shutdown(metricsSrv, cfg.Server.ShutdownTimeout)
			}

			srv := &http.Server{
				Addr:              cfg.Server.ListenAddress,
				Handler:           handler,
				ReadTimeout:       cfg.Server.ReadTimeout,
				ReadHeaderTimeout: 5 * time.Second,
				WriteTimeout:      cfg.Server.WriteTimeout,
			}
			go func() {
				<-ctx.Done()
				shutdown(srv, cfg.Server.ShutdownTimeout)
			}()

			logger.Info().
				Str("addr", cfg.Server.ListenAddress).
				Str("base_path", cfg.Server.BasePath).
				Str("approvals", cfg.Store.Driver).
				Str("leases", cfg.Lease.Backend).
				Msg("Serving governor API (OpenAPI at /openapi.json)")

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.listen_address)")

	return cmd
}

func shutdown(srv *http.Server, timeout time.Duration) {
	ctx, cancel := shutdownContext(timeout)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func shutdownContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}

// purgeLeases drops expired SQLite leases until ctx is done.
func purgeLeases(ctx context.Context, rt *runtime, ttl time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := rt.store.PurgeExpiredLeases(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("Lease purge failed")
				continue
			}
			if n > 0 {
				logger.Debug().Int64("purged", n).Msg("Expired leases purged")
			}
		}
	}
}
