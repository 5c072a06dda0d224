package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/seoagent/governor/pkg/policy"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "governor.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default().Validate() error = %v", err)
	}
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Server.ListenAddress != ":8080" {
		t.Errorf("ListenAddress = %s, want :8080", cfg.Server.ListenAddress)
	}
}

func TestLoad_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "127.0.0.1:9090"
  jwt_secret: "0123456789abcdef0123"
approvals:
  ttl: 2h
lease:
  backend: redis
  redis_address: "redis:6379"
telemetry:
  logging:
    level: debug
catalog:
  entries:
    technical_seo_fix:
      max_pages: 5
      blast_radius:
        risk_level: high
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:9090" {
		t.Errorf("ListenAddress = %s", cfg.Server.ListenAddress)
	}
	if cfg.Server.BasePath != "/v1" {
		t.Errorf("BasePath = %s, want default /v1", cfg.Server.BasePath)
	}
	if cfg.Approvals.TTL != 2*time.Hour {
		t.Errorf("Approvals.TTL = %v, want 2h", cfg.Approvals.TTL)
	}
	if cfg.Approvals.PollInterval != policy.DefaultPollInterval {
		t.Errorf("Approvals.PollInterval = %v, want default", cfg.Approvals.PollInterval)
	}
	if cfg.Lease.Backend != "redis" || cfg.Lease.TTL != 10*time.Minute {
		t.Errorf("Lease = %+v", cfg.Lease)
	}
	if cfg.Telemetry.Logging.Level != "debug" || cfg.Telemetry.Logging.Format != "console" {
		t.Errorf("Telemetry.Logging = %+v", cfg.Telemetry.Logging)
	}

	entry, ok := cfg.Catalog.Entries[policy.ActionTechnicalSEOFix]
	if !ok || entry.MaxPages == nil || *entry.MaxPages != 5 {
		t.Errorf("catalog entry = %+v", entry)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "malformed yaml",
			content: "server: [",
			want:    "failed to parse",
		},
		{
			name: "unknown store driver",
			content: `
store:
  driver: mysql
`,
			want: "Driver",
		},
		{
			name: "postgres without dsn",
			content: `
store:
  driver: postgres
`,
			want: "PostgresDSN",
		},
		{
			name: "short jwt secret",
			content: `
server:
  jwt_secret: short
`,
			want: "JWTSecret",
		},
		{
			name: "bad telemetry",
			content: `
telemetry:
  logging:
    format: xml
`,
			want: "telemetry",
		},
		{
			name: "bad catalog entry",
			content: `
catalog:
  entries:
    cms_publishing:
      environment: LIVE
`,
			want: "catalog entry cms_publishing",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil {
				t.Fatal("expected error, got none")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestBuildCatalog(t *testing.T) {
	cfg := Default()
	maxPages := 5
	high := policy.RiskHigh
	timeout := int64(1000)
	cfg.Catalog.Entries = map[policy.ActionType]policy.PolicyPatch{
		policy.ActionTechnicalSEOFix: {
			MaxPages:    &maxPages,
			BlastRadius: &policy.BlastRadiusPatch{RiskLevel: &high},
		},
		"image_compression": {
			TimeoutMs: &timeout,
		},
	}

	catalog, err := BuildCatalog(cfg)
	if err != nil {
		t.Fatalf("BuildCatalog() error = %v", err)
	}

	fix := catalog.DefaultFor(policy.ActionTechnicalSEOFix)
	if fix.MaxPages != 5 {
		t.Errorf("MaxPages = %d, want 5", fix.MaxPages)
	}
	if fix.BlastRadius.RiskLevel != policy.RiskHigh {
		t.Errorf("RiskLevel = %s, want high", fix.BlastRadius.RiskLevel)
	}
	// untouched fields keep the built-in values
	builtin := policy.DefaultCatalog().DefaultFor(policy.ActionTechnicalSEOFix)
	if fix.MaxPatches != builtin.MaxPatches || fix.BlastRadius.Scope != builtin.BlastRadius.Scope {
		t.Errorf("override clobbered unrelated fields: %+v", fix)
	}

	if !catalog.Has("image_compression") {
		t.Error("custom action type missing from catalog")
	}
	custom := catalog.DefaultFor("image_compression")
	if custom.TimeoutMs != 1000 || custom.MaxPages != policy.Baseline().MaxPages {
		t.Errorf("custom entry = %+v", custom)
	}

	if catalog.Fallback() != policy.ActionContentGeneration {
		t.Errorf("Fallback() = %s", catalog.Fallback())
	}
}

func TestBuildCatalog_UnknownFallback(t *testing.T) {
	cfg := Default()
	cfg.Catalog.Fallback = "does_not_exist"

	if _, err := BuildCatalog(cfg); err == nil {
		t.Error("expected error for fallback without entry")
	}
}

func TestMergePatch_DoesNotAliasBase(t *testing.T) {
	base := policy.DefaultEntries()[policy.ActionCMSPublishing]
	scope := policy.ScopeSiteWide

	merged := MergePatch(base, policy.PolicyPatch{
		BlastRadius: &policy.BlastRadiusPatch{Scope: &scope},
	})

	if *merged.BlastRadius.Scope != policy.ScopeSiteWide {
		t.Errorf("merged scope = %s", *merged.BlastRadius.Scope)
	}
	if *base.BlastRadius.Scope != policy.ScopeSection {
		t.Errorf("base scope mutated to %s", *base.BlastRadius.Scope)
	}
	if *merged.BlastRadius.MaxAffectedPages != *base.BlastRadius.MaxAffectedPages {
		t.Error("unset blast radius fields not carried over")
	}
}
