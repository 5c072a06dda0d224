package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/seoagent/governor/pkg/config"
	"github.com/seoagent/governor/pkg/guardrails"
	"github.com/seoagent/governor/pkg/lease"
	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/server"
	"github.com/seoagent/governor/pkg/stores"
)

// approvalBackend is an approval store the API can also list from.
type approvalBackend interface {
	policy.ApprovalStore
	server.ApprovalLister
}

// runtime holds the wired collaborators of one governor process.
type runtime struct {
	cfg        *config.Config
	store      *stores.SQLiteStore
	approvals  approvalBackend
	leases     lease.Claimer
	guardrails *guardrails.Engine
	engine     *policy.Engine
	health     healthChecks
	closers    []func() error
	logger     zerolog.Logger
}

// loadConfig reads --config and applies the --db override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if db := viper.GetString("db"); db != "" {
		cfg.Store.SQLitePath = db
	}
	return cfg, nil
}

// openStore opens and migrates the SQLite store.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*stores.SQLiteStore, error) {
	store, err := stores.NewSQLiteStore(stores.Config{
		Path:        cfg.Store.SQLitePath,
		BusyTimeout: cfg.Store.BusyTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

// openRuntime wires stores, the lease backend, guardrails and the policy
// engine as described by cfg.
func openRuntime(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (rt *runtime, err error) {
	rt = &runtime{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	rt.store, err = openStore(ctx, cfg, logger)
	if err != nil {
		return rt, err
	}
	rt.closers = append(rt.closers, rt.store.Close)
	rt.health = append(rt.health, rt.store.HealthCheck)

	rt.approvals = rt.store
	if cfg.Store.Driver == "postgres" {
		db, err := stores.OpenPostgres(ctx, cfg.Store.PostgresDSN)
		if err != nil {
			return rt, err
		}
		pg := stores.NewPostgresApprovalStore(db, logger)
		rt.closers = append(rt.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			return rt, err
		}
		rt.approvals = pg
		rt.health = append(rt.health, db.PingContext)
	}

	rt.leases = rt.store
	if cfg.Lease.Backend == "redis" {
		rc := lease.NewRedisClaimer(cfg.Lease.RedisAddress, cfg.Lease.RedisPassword, cfg.Lease.RedisDB)
		rt.closers = append(rt.closers, rc.Close)
		if err := rc.Ping(ctx); err != nil {
			return rt, fmt.Errorf("redis lease backend unreachable: %w", err)
		}
		rt.leases = rc
		rt.health = append(rt.health, rc.Ping)
	}

	catalog, err := config.BuildCatalog(cfg)
	if err != nil {
		return rt, err
	}

	opts := []policy.Option{
		policy.WithCatalog(catalog),
		policy.WithDecisionRecorder(rt.store),
		policy.WithApprovalTiming(cfg.Approvals.TTL, cfg.Approvals.PollInterval),
	}

	if cfg.Guardrails.Enabled {
		var gopts []guardrails.Option
		if len(cfg.Guardrails.Params) > 0 {
			gopts = append(gopts, guardrails.WithParams(cfg.Guardrails.Params))
		}
		rt.guardrails, err = guardrails.NewEngine(logger, gopts...)
		if err != nil {
			return rt, err
		}
		if len(cfg.Guardrails.Paths) > 0 {
			if err := rt.guardrails.LoadRules(ctx, cfg.Guardrails.Paths); err != nil {
				return rt, err
			}
		}
		opts = append(opts, policy.WithGuardrails(rt.guardrails))
	}

	rt.engine, err = policy.NewEngine(logger, rt.store, rt.store, rt.approvals, opts...)
	if err != nil {
		return rt, err
	}
	return rt, nil
}

// Close releases every opened resource in reverse order.
func (rt *runtime) Close() error {
	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	rt.closers = nil
	return errors.Join(errs...)
}

// withRuntime opens the runtime for the duration of fn.
func withRuntime(ctx context.Context, logger zerolog.Logger, fn func(context.Context, *runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

// healthChecks reports healthy only when every backend answers.
type healthChecks []func(context.Context) error

func (h healthChecks) HealthCheck(ctx context.Context) error {
	for _, check := range h {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// --- output helpers ---

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	if header != nil {
		tw.AppendHeader(header)
	}
	return tw
}
