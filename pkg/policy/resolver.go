package policy

import (
	"github.com/rs/zerolog"
)

// ManagedSiteOverride is the relaxed override granted to sites whose owner
// opted into active automated changes.
func ManagedSiteOverride() PolicyPatch {
	return PolicyPatch{
		Environment:      env(EnvironmentProduction),
		RequiresApproval: boolp(false),
		MaxPages:         intp(50),
		MaxPatches:       intp(100),
	}
}

// Resolver merges catalog defaults, site overrides and caller requests into
// one effective policy.
type Resolver struct {
	catalog *Catalog
	logger  zerolog.Logger
}

// NewResolver creates a resolver over an immutable catalog.
func NewResolver(catalog *Catalog, logger zerolog.Logger) *Resolver {
	return &Resolver{
		catalog: catalog,
		logger:  logger,
	}
}

// Resolve returns the effective policy for action on site and the requested
// fields that were clamped because they were looser than the resolved policy.
func (r *Resolver) Resolve(action ActionContext, site SiteRecord, requested *PolicyPatch) (Policy, []string) {
	p := r.catalog.DefaultFor(action.ActionType)

	if override := SiteOverride(site); override != nil {
		Overwrite(&p, override)
	}

	return Tighten(p, requested)
}

// SiteOverride returns the owner-granted override for site, or nil when the
// site is unknown or not managed.
func SiteOverride(site SiteRecord) *PolicyPatch {
	if !site.Exists || !site.IsManaged {
		return nil
	}
	override := ManagedSiteOverride()
	return &override
}
