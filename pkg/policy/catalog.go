package policy

import (
	"fmt"
	"sort"
)

// highRiskActions require a managed site and, in production, explicit approval.
var highRiskActions = map[ActionType]bool{
	ActionSchemaInjection:    true,
	ActionTechnicalSEOFix:    true,
	ActionCMSPublishing:      true,
	ActionRobotsModification: true,
	ActionCanonicalChanges:   true,
}

var mediumRiskActions = map[ActionType]bool{
	ActionContentOptimization: true,
	ActionMetaTagUpdates:      true,
	ActionAltTextUpdates:      true,
	ActionSitemapGeneration:   true,
}

// IsHighRisk reports whether t belongs to the high-risk action set.
func IsHighRisk(t ActionType) bool {
	return highRiskActions[t]
}

// IsMediumRisk reports whether t belongs to the medium-risk action set.
func IsMediumRisk(t ActionType) bool {
	return mediumRiskActions[t]
}

// Baseline is applied before every catalog entry so that each field is defined.
func Baseline() Policy {
	return Policy{
		Environment:      EnvironmentDryRun,
		MaxPages:         10,
		MaxPatches:       20,
		TimeoutMs:        300000,
		RequiresApproval: false,
		RespectRobots:    true,
		BlastRadius: BlastRadius{
			Scope:            ScopeSinglePage,
			MaxAffectedPages: 1,
			RiskLevel:        RiskLow,
			RollbackRequired: true,
		},
	}
}

// NewSitePolicy returns the conservative policy for first-time or unverified
// sites. It does not depend on any catalog.
func NewSitePolicy() Policy {
	return Policy{
		Environment:      EnvironmentDryRun,
		MaxPages:         5,
		MaxPatches:       10,
		TimeoutMs:        60000,
		RequiresApproval: true,
		RespectRobots:    true,
		BlastRadius: BlastRadius{
			Scope:            ScopeSinglePage,
			MaxAffectedPages: 5,
			RiskLevel:        RiskLow,
			RollbackRequired: true,
		},
	}
}

// Catalog is an immutable table of default policies keyed by action type.
// Build one with NewCatalog or DefaultCatalog and inject it into the engine.
type Catalog struct {
	entries  map[ActionType]Policy
	fallback ActionType
}

// NewCatalog builds a catalog. Each entry patch is applied on top of Baseline.
// fallback names the entry used for unknown action types and must be present.
func NewCatalog(entries map[ActionType]PolicyPatch, fallback ActionType) (*Catalog, error) {
	if _, ok := entries[fallback]; !ok {
		return nil, fmt.Errorf("fallback action type %q has no catalog entry", fallback)
	}

	resolved := make(map[ActionType]Policy, len(entries))
	for actionType, patch := range entries {
		p := Baseline()
		patch := patch
		Overwrite(&p, &patch)
		if err := checkPolicy(p); err != nil {
			return nil, fmt.Errorf("invalid catalog entry %s: %w", actionType, err)
		}
		resolved[actionType] = p
	}

	return &Catalog{entries: resolved, fallback: fallback}, nil
}

// DefaultCatalog returns the built-in catalog with content_generation as fallback.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultEntries(), ActionContentGeneration)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog is invalid: %v", err))
	}
	return c
}

// DefaultFor returns a fully populated copy of the default policy for t.
// Unknown action types get the fallback entry.
func (c *Catalog) DefaultFor(t ActionType) Policy {
	if p, ok := c.entries[t]; ok {
		return p.Clone()
	}
	return c.entries[c.fallback].Clone()
}

// Has reports whether t has its own entry.
func (c *Catalog) Has(t ActionType) bool {
	_, ok := c.entries[t]
	return ok
}

// Fallback returns the action type used for unknown types.
func (c *Catalog) Fallback() ActionType {
	return c.fallback
}

// ActionTypes returns the action types with entries, sorted.
func (c *Catalog) ActionTypes() []ActionType {
	out := make([]ActionType, 0, len(c.entries))
	for t := range c.entries {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultEntries returns the built-in catalog patches. The result is a fresh
// map on every call, so callers may modify it before passing it to NewCatalog.
func DefaultEntries() map[ActionType]PolicyPatch {
	return map[ActionType]PolicyPatch{
		// Crawls apply no patches; max_patches 0 leaves the patch limit
		// unenforced and the page and time limits bound the run.
		ActionTechnicalSEOCrawl: {
			Environment:      env(EnvironmentProduction),
			MaxPages:         intp(500),
			MaxPatches:       intp(0),
			TimeoutMs:        int64p(1800000),
			RequiresApproval: boolp(false),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSiteWide),
				MaxAffectedPages: intp(0),
				RiskLevel:        risk(RiskLow),
				RollbackRequired: boolp(true),
			},
		},
		ActionContentGeneration: {
			Environment:      env(EnvironmentDryRun),
			MaxPages:         intp(1),
			MaxPatches:       intp(5),
			TimeoutMs:        int64p(300000),
			RequiresApproval: boolp(false),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSinglePage),
				MaxAffectedPages: intp(1),
				RiskLevel:        risk(RiskLow),
				RollbackRequired: boolp(true),
			},
		},
		ActionTechnicalSEOFix: {
			Environment:      env(EnvironmentStaging),
			MaxPages:         intp(20),
			MaxPatches:       intp(50),
			TimeoutMs:        int64p(600000),
			RequiresApproval: boolp(false),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSection),
				MaxAffectedPages: intp(10),
				RiskLevel:        risk(RiskMedium),
				RollbackRequired: boolp(true),
			},
		},
		ActionCMSPublishing: {
			Environment:      env(EnvironmentStaging),
			MaxPages:         intp(10),
			MaxPatches:       intp(10),
			TimeoutMs:        int64p(600000),
			RequiresApproval: boolp(true),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSection),
				MaxAffectedPages: intp(10),
				RiskLevel:        risk(RiskMedium),
				RollbackRequired: boolp(true),
			},
		},
		ActionSchemaInjection: {
			Environment:      env(EnvironmentDryRun),
			MaxPages:         intp(50),
			MaxPatches:       intp(100),
			TimeoutMs:        int64p(900000),
			RequiresApproval: boolp(true),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSiteWide),
				MaxAffectedPages: intp(100),
				RiskLevel:        risk(RiskHigh),
				RollbackRequired: boolp(true),
			},
		},
		ActionRobotsModification: {
			Environment:      env(EnvironmentDryRun),
			MaxPages:         intp(1),
			MaxPatches:       intp(1),
			TimeoutMs:        int64p(120000),
			RequiresApproval: boolp(true),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSiteWide),
				MaxAffectedPages: intp(1000),
				RiskLevel:        risk(RiskHigh),
				RollbackRequired: boolp(true),
			},
		},
		ActionCanonicalChanges: {
			Environment:      env(EnvironmentDryRun),
			MaxPages:         intp(25),
			MaxPatches:       intp(25),
			TimeoutMs:        int64p(600000),
			RequiresApproval: boolp(true),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSection),
				MaxAffectedPages: intp(25),
				RiskLevel:        risk(RiskHigh),
				RollbackRequired: boolp(true),
			},
		},
		ActionMetaTagUpdates: {
			Environment: env(EnvironmentStaging),
			MaxPages:    intp(20),
			MaxPatches:  intp(40),
			TimeoutMs:   int64p(600000),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSection),
				MaxAffectedPages: intp(20),
				RiskLevel:        risk(RiskMedium),
				RollbackRequired: boolp(true),
			},
		},
		ActionContentOptimization: {
			Environment: env(EnvironmentDryRun),
			MaxPages:    intp(5),
			MaxPatches:  intp(10),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSinglePage),
				MaxAffectedPages: intp(5),
				RiskLevel:        risk(RiskMedium),
				RollbackRequired: boolp(true),
			},
		},
		ActionAltTextUpdates: {
			Environment: env(EnvironmentStaging),
			MaxPages:    intp(20),
			MaxPatches:  intp(100),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSection),
				MaxAffectedPages: intp(20),
				RiskLevel:        risk(RiskLow),
				RollbackRequired: boolp(true),
			},
		},
		ActionSitemapGeneration: {
			Environment: env(EnvironmentDryRun),
			MaxPages:    intp(1000),
			MaxPatches:  intp(1),
			TimeoutMs:   int64p(900000),
			BlastRadius: &BlastRadiusPatch{
				Scope:            scope(ScopeSiteWide),
				MaxAffectedPages: intp(1),
				RiskLevel:        risk(RiskMedium),
				RollbackRequired: boolp(true),
			},
		},
	}
}

// checkPolicy enforces the structural invariants of a resolved policy.
func checkPolicy(p Policy) error {
	switch {
	case !p.Environment.Valid():
		return fmt.Errorf("unknown environment %q", p.Environment)
	case p.MaxPages < 0, p.MaxPatches < 0, p.TimeoutMs < 0:
		return fmt.Errorf("limits must be non-negative")
	case !p.BlastRadius.Scope.Valid():
		return fmt.Errorf("unknown blast radius scope %q", p.BlastRadius.Scope)
	case !p.BlastRadius.RiskLevel.Valid():
		return fmt.Errorf("unknown blast radius risk level %q", p.BlastRadius.RiskLevel)
	case p.BlastRadius.MaxAffectedPages < 0:
		return fmt.Errorf("max affected pages must be non-negative")
	}
	return nil
}

func env(e Environment) *Environment { return &e }
func scope(s Scope) *Scope           { return &s }
func risk(r RiskLevel) *RiskLevel    { return &r }
func intp(v int) *int                { return &v }
func int64p(v int64) *int64          { return &v }
func boolp(v bool) *bool             { return &v }
