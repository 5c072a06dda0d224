package config

import (
	"time"

	"github.com/seoagent/governor/pkg/policy"
	"github.com/seoagent/governor/pkg/telemetry"
)

// Config is the complete governor configuration, read from governor.yaml.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Store configures persistence.
	Store StoreConfig `yaml:"store"`

	// Lease configures actionId leases.
	Lease LeaseConfig `yaml:"lease"`

	// Approvals configures the approval gate timing.
	Approvals ApprovalsConfig `yaml:"approvals"`

	// Guardrails configures the Rego guardrail engine.
	Guardrails GuardrailsConfig `yaml:"guardrails"`

	// Telemetry configures logging, tracing, metrics and events.
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Catalog overrides the built-in default policies.
	Catalog CatalogConfig `yaml:"catalog"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	// ListenAddress is the host:port the API binds to (e.g., ":8080").
	ListenAddress string `yaml:"listen_address" validate:"required"`

	// BasePath prefixes every API route.
	BasePath string `yaml:"base_path" validate:"omitempty,startswith=/"`

	// JWTSecret is the HS256 key for bearer tokens. Empty disables auth.
	JWTSecret string `yaml:"jwt_secret" validate:"omitempty,min=16"`

	// RateLimit bounds requests per client.
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	ReadTimeout     time.Duration `yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gte=0"`
}

// RateLimitConfig is a per-client token bucket. Zero RPS disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" validate:"gte=0"`
	Burst int     `yaml:"burst" validate:"gte=0"`
}

// StoreConfig configures persistence. Sites, subscriptions, leases and the
// decision audit log always live in SQLite; Driver selects where approval
// requests are kept.
type StoreConfig struct {
	Driver      string        `yaml:"driver" validate:"oneof=sqlite postgres"`
	SQLitePath  string        `yaml:"sqlite_path" validate:"required"`
	BusyTimeout time.Duration `yaml:"busy_timeout" validate:"gte=0"`
	PostgresDSN string        `yaml:"postgres_dsn" validate:"required_if=Driver postgres"`
}

// LeaseConfig configures where actionId leases are held.
type LeaseConfig struct {
	Backend       string        `yaml:"backend" validate:"oneof=sqlite redis"`
	RedisAddress  string        `yaml:"redis_address" validate:"required_if=Backend redis"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db" validate:"gte=0"`
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
}

// ApprovalsConfig configures the approval gate.
type ApprovalsConfig struct {
	// TTL is how long a request stays pending before it reads as expired.
	// Zero disables expiry.
	TTL time.Duration `yaml:"ttl" validate:"gte=0"`

	// PollInterval is the AwaitApproval polling period.
	PollInterval time.Duration `yaml:"poll_interval" validate:"gt=0"`
}

// GuardrailsConfig configures operator guardrail rules.
type GuardrailsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths are Rego files or directories of operator rules.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Watch reloads the rules when a file under Paths changes.
	Watch bool `yaml:"watch"`

	// Params replace the values exposed to rules as data.governor.params.
	Params map[string]interface{} `yaml:"params"`
}

// CatalogConfig overrides built-in catalog entries field by field.
type CatalogConfig struct {
	// Fallback is the action type used for unknown types.
	Fallback policy.ActionType `yaml:"fallback"`

	// Entries are partial policies keyed by action type. A key that is not
	// a built-in action type adds a new entry on top of the baseline.
	Entries map[policy.ActionType]policy.PolicyPatch `yaml:"entries"`
}
