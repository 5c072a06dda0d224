package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/telemetry"
)

// Default returns a complete working configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:   ":8080",
			BasePath:        "/v1",
			RateLimit:       RateLimitConfig{RPS: 20, Burst: 40},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Driver:      "sqlite",
			SQLitePath:  "governor.db",
			BusyTimeout: 5 * time.Second,
		},
		Lease: LeaseConfig{
			Backend:      "sqlite",
			RedisAddress: "localhost:6379",
			TTL:          10 * time.Minute,
		},
		Approvals: ApprovalsConfig{
			TTL:          policy.DefaultApprovalTTL,
			PollInterval: policy.DefaultPollInterval,
		},
		Guardrails: GuardrailsConfig{
			Enabled: true,
		},
		Telemetry: *telemetry.DefaultConfig(),
		Catalog: CatalogConfig{
			Fallback: policy.ActionContentGeneration,
		},
	}
}

// Load reads the YAML file at path on top of Default and validates the
// result. An empty path returns the validated defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Validate checks struct constraints, the telemetry section and every
// catalog entry against the #PolicyEntry schema.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("validation failed: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	sr := NewSchemaRegistry()
	for actionType, entry := range c.Catalog.Entries {
		if err := sr.ValidatePolicyEntry(context.Background(), entry); err != nil {
			return fmt.Errorf("catalog entry %s: %w", actionType, err)
		}
	}

	return nil
}

// BuildCatalog merges the configured entries over the built-in ones and
// returns the immutable catalog the engine is built with.
func BuildCatalog(cfg *Config) (*policy.Catalog, error) {
	entries := policy.DefaultEntries()
	for actionType, override := range cfg.Catalog.Entries {
		entries[actionType] = MergePatch(entries[actionType], override)
	}

	fallback := cfg.Catalog.Fallback
	if fallback == "" {
		fallback = policy.ActionContentGeneration
	}

	catalog, err := policy.NewCatalog(entries, fallback)
	if err != nil {
		return nil, fmt.Errorf("failed to build catalog: %w", err)
	}
	return catalog, nil
}

// MergePatch returns base with every field set in override replaced.
func MergePatch(base, override policy.PolicyPatch) policy.PolicyPatch {
	out := base
	if override.Environment != nil {
		out.Environment = override.Environment
	}
	if override.MaxPages != nil {
		out.MaxPages = override.MaxPages
	}
	if override.MaxPatches != nil {
		out.MaxPatches = override.MaxPatches
	}
	if override.TimeoutMs != nil {
		out.TimeoutMs = override.TimeoutMs
	}
	if override.RequiresApproval != nil {
		out.RequiresApproval = override.RequiresApproval
	}
	if override.RespectRobots != nil {
		out.RespectRobots = override.RespectRobots
	}
	if override.AllowedDomains != nil {
		out.AllowedDomains = append([]string(nil), override.AllowedDomains...)
	}

	if override.BlastRadius != nil {
		br := policy.BlastRadiusPatch{}
		if base.BlastRadius != nil {
			br = *base.BlastRadius
		}
		if override.BlastRadius.Scope != nil {
			br.Scope = override.BlastRadius.Scope
		}
		if override.BlastRadius.MaxAffectedPages != nil {
			br.MaxAffectedPages = override.BlastRadius.MaxAffectedPages
		}
		if override.BlastRadius.RiskLevel != nil {
			br.RiskLevel = override.BlastRadius.RiskLevel
		}
		if override.BlastRadius.RollbackRequired != nil {
			br.RollbackRequired = override.BlastRadius.RollbackRequired
		}
		out.BlastRadius = &br
	}

	return out
}
