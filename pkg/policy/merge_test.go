package policy

import (
	"reflect"
	"testing"
)

func TestOverwrite(t *testing.T) {
	p := Baseline()
	Overwrite(&p, &PolicyPatch{
		Environment: env(EnvironmentProduction),
		MaxPages:    intp(50),
		BlastRadius: &BlastRadiusPatch{RiskLevel: risk(RiskHigh)},
	})

	if p.Environment != EnvironmentProduction || p.MaxPages != 50 {
		t.Errorf("Overwrite did not apply fields: %+v", p)
	}
	if p.BlastRadius.RiskLevel != RiskHigh || p.BlastRadius.Scope != ScopeSinglePage {
		t.Errorf("Overwrite blast radius = %+v", p.BlastRadius)
	}
	if p.MaxPatches != 20 {
		t.Errorf("unset field changed: MaxPatches = %d", p.MaxPatches)
	}

	before := p
	Overwrite(&p, nil)
	if !reflect.DeepEqual(before, p) {
		t.Error("Overwrite(nil) modified the policy")
	}
}

func TestTighten(t *testing.T) {
	resolved := Policy{
		Environment:      EnvironmentStaging,
		MaxPages:         20,
		MaxPatches:       0,
		TimeoutMs:        600000,
		RequiresApproval: true,
		RespectRobots:    true,
		BlastRadius:      BlastRadius{Scope: ScopeSection, MaxAffectedPages: 10, RiskLevel: RiskMedium, RollbackRequired: true},
	}

	tests := []struct {
		name    string
		req     *PolicyPatch
		check   func(t *testing.T, p Policy)
		clamped []string
	}{
		{
			name:  "nil request",
			req:   nil,
			check: func(t *testing.T, p Policy) {},
		},
		{
			name: "stricter environment honored",
			req:  &PolicyPatch{Environment: env(EnvironmentDryRun)},
			check: func(t *testing.T, p Policy) {
				if p.Environment != EnvironmentDryRun {
					t.Errorf("Environment = %s", p.Environment)
				}
			},
		},
		{
			name: "looser environment clamped",
			req:  &PolicyPatch{Environment: env(EnvironmentProduction)},
			check: func(t *testing.T, p Policy) {
				if p.Environment != EnvironmentStaging {
					t.Errorf("Environment = %s", p.Environment)
				}
			},
			clamped: []string{"environment"},
		},
		{
			name: "lower limits honored",
			req:  &PolicyPatch{MaxPages: intp(5), TimeoutMs: int64p(1000)},
			check: func(t *testing.T, p Policy) {
				if p.MaxPages != 5 || p.TimeoutMs != 1000 {
					t.Errorf("limits = %d/%d", p.MaxPages, p.TimeoutMs)
				}
			},
		},
		{
			name: "higher and zero limits clamped",
			req:  &PolicyPatch{MaxPages: intp(500), TimeoutMs: int64p(0)},
			check: func(t *testing.T, p Policy) {
				if p.MaxPages != 20 || p.TimeoutMs != 600000 {
					t.Errorf("limits = %d/%d", p.MaxPages, p.TimeoutMs)
				}
			},
			clamped: []string{"max_pages", "timeout_ms"},
		},
		{
			name: "bound on unenforced limit honored",
			req:  &PolicyPatch{MaxPatches: intp(3)},
			check: func(t *testing.T, p Policy) {
				if p.MaxPatches != 3 {
					t.Errorf("MaxPatches = %d", p.MaxPatches)
				}
			},
		},
		{
			name: "negative limit clamped",
			req:  &PolicyPatch{MaxPatches: intp(-1)},
			check: func(t *testing.T, p Policy) {
				if p.MaxPatches != 0 {
					t.Errorf("MaxPatches = %d", p.MaxPatches)
				}
			},
			clamped: []string{"max_patches"},
		},
		{
			name: "flags cannot be disabled",
			req:  &PolicyPatch{RequiresApproval: boolp(false), RespectRobots: boolp(false)},
			check: func(t *testing.T, p Policy) {
				if !p.RequiresApproval || !p.RespectRobots {
					t.Errorf("flags = %v/%v", p.RequiresApproval, p.RespectRobots)
				}
			},
			clamped: []string{"requires_approval", "respect_robots"},
		},
		{
			name: "blast radius widens",
			req: &PolicyPatch{BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSiteWide),
				MaxAffectedPages: intp(30),
				RiskLevel:        risk(RiskHigh),
			}},
			check: func(t *testing.T, p Policy) {
				want := BlastRadius{Scope: ScopeSiteWide, MaxAffectedPages: 30, RiskLevel: RiskHigh, RollbackRequired: true}
				if p.BlastRadius != want {
					t.Errorf("BlastRadius = %+v", p.BlastRadius)
				}
			},
		},
		{
			name: "blast radius cannot narrow",
			req: &PolicyPatch{BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSinglePage),
				MaxAffectedPages: intp(1),
				RiskLevel:        risk(RiskLow),
				RollbackRequired: boolp(false),
			}},
			check: func(t *testing.T, p Policy) {
				if p.BlastRadius != resolved.BlastRadius {
					t.Errorf("BlastRadius = %+v", p.BlastRadius)
				}
			},
			clamped: []string{
				"blast_radius.scope",
				"blast_radius.max_affected_pages",
				"blast_radius.risk_level",
				"blast_radius.rollback_required",
			},
		},
		{
			name: "domains apply on empty allowlist",
			req:  &PolicyPatch{AllowedDomains: []string{"example.com"}},
			check: func(t *testing.T, p Policy) {
				if !reflect.DeepEqual(p.AllowedDomains, []string{"example.com"}) {
					t.Errorf("AllowedDomains = %v", p.AllowedDomains)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, clamped := Tighten(resolved, tt.req)
			tt.check(t, p)
			if !reflect.DeepEqual(clamped, tt.clamped) {
				t.Errorf("clamped = %v, want %v", clamped, tt.clamped)
			}
		})
	}
}

func TestTighten_DomainIntersection(t *testing.T) {
	resolved := Baseline()
	resolved.AllowedDomains = []string{"a.com", "b.com"}

	p, clamped := Tighten(resolved, &PolicyPatch{AllowedDomains: []string{"b.com", "c.com"}})
	if !reflect.DeepEqual(p.AllowedDomains, []string{"b.com"}) {
		t.Errorf("AllowedDomains = %v", p.AllowedDomains)
	}
	if !reflect.DeepEqual(clamped, []string{"allowed_domains"}) {
		t.Errorf("clamped = %v", clamped)
	}

	p, _ = Tighten(resolved, &PolicyPatch{AllowedDomains: []string{"c.com"}})
	if !reflect.DeepEqual(p.AllowedDomains, []string{"a.com", "b.com"}) {
		t.Errorf("empty intersection: AllowedDomains = %v", p.AllowedDomains)
	}
}

func TestTighten_DoesNotMutateInput(t *testing.T) {
	resolved := Baseline()
	resolved.AllowedDomains = []string{"a.com"}

	p, _ := Tighten(resolved, &PolicyPatch{MaxPages: intp(1)})
	p.AllowedDomains[0] = "changed"
	if resolved.AllowedDomains[0] != "a.com" {
		t.Error("Tighten aliased the resolved allowlist")
	}
}
