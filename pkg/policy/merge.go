package policy

// Overwrite applies every non-nil field of patch onto dst. It is used for
// trusted sources only: catalog entries and owner-managed site overrides.
func Overwrite(dst *Policy, patch *PolicyPatch) {
	if patch == nil {
		return
	}
	if patch.Environment != nil {
		dst.Environment = *patch.Environment
	}
	if patch.MaxPages != nil {
		dst.MaxPages = *patch.MaxPages
	}
	if patch.MaxPatches != nil {
		dst.MaxPatches = *patch.MaxPatches
	}
	if patch.TimeoutMs != nil {
		dst.TimeoutMs = *patch.TimeoutMs
	}
	if patch.RequiresApproval != nil {
		dst.RequiresApproval = *patch.RequiresApproval
	}
	if patch.RespectRobots != nil {
		dst.RespectRobots = *patch.RespectRobots
	}
	if br := patch.BlastRadius; br != nil {
		if br.Scope != nil {
			dst.BlastRadius.Scope = *br.Scope
		}
		if br.MaxAffectedPages != nil {
			dst.BlastRadius.MaxAffectedPages = *br.MaxAffectedPages
		}
		if br.RiskLevel != nil {
			dst.BlastRadius.RiskLevel = *br.RiskLevel
		}
		if br.RollbackRequired != nil {
			dst.BlastRadius.RollbackRequired = *br.RollbackRequired
		}
	}
	if len(patch.AllowedDomains) > 0 {
		dst.AllowedDomains = append([]string(nil), patch.AllowedDomains...)
	}
}

// Tighten applies a caller-requested patch to a resolved policy, honoring only
// values at least as strict as the resolved ones. It returns the merged policy
// and the names of requested fields that were clamped.
//
// Limits and flags may only tighten. The blast radius is a declaration of
// footprint, so it may only widen.
func Tighten(resolved Policy, req *PolicyPatch) (Policy, []string) {
	out := resolved.Clone()
	if req == nil {
		return out, nil
	}

	var clamped []string
	clamp := func(field string) { clamped = append(clamped, field) }

	if req.Environment != nil {
		if req.Environment.Valid() && req.Environment.rank() <= resolved.Environment.rank() {
			out.Environment = *req.Environment
		} else {
			clamp("environment")
		}
	}

	if req.MaxPages != nil {
		v, ok := tightenLimit(int64(resolved.MaxPages), int64(*req.MaxPages))
		out.MaxPages = int(v)
		if !ok {
			clamp("max_pages")
		}
	}
	if req.MaxPatches != nil {
		v, ok := tightenLimit(int64(resolved.MaxPatches), int64(*req.MaxPatches))
		out.MaxPatches = int(v)
		if !ok {
			clamp("max_patches")
		}
	}
	if req.TimeoutMs != nil {
		v, ok := tightenLimit(resolved.TimeoutMs, *req.TimeoutMs)
		out.TimeoutMs = v
		if !ok {
			clamp("timeout_ms")
		}
	}

	if req.RequiresApproval != nil {
		out.RequiresApproval = resolved.RequiresApproval || *req.RequiresApproval
		if resolved.RequiresApproval && !*req.RequiresApproval {
			clamp("requires_approval")
		}
	}
	if req.RespectRobots != nil {
		out.RespectRobots = resolved.RespectRobots || *req.RespectRobots
		if resolved.RespectRobots && !*req.RespectRobots {
			clamp("respect_robots")
		}
	}

	if br := req.BlastRadius; br != nil {
		cur := resolved.BlastRadius
		if br.Scope != nil {
			if br.Scope.Valid() && br.Scope.rank() >= cur.Scope.rank() {
				out.BlastRadius.Scope = *br.Scope
			} else {
				clamp("blast_radius.scope")
			}
		}
		if br.MaxAffectedPages != nil {
			if *br.MaxAffectedPages >= cur.MaxAffectedPages {
				out.BlastRadius.MaxAffectedPages = *br.MaxAffectedPages
			} else {
				clamp("blast_radius.max_affected_pages")
			}
		}
		if br.RiskLevel != nil {
			if br.RiskLevel.Valid() && br.RiskLevel.rank() >= cur.RiskLevel.rank() {
				out.BlastRadius.RiskLevel = *br.RiskLevel
			} else {
				clamp("blast_radius.risk_level")
			}
		}
		if br.RollbackRequired != nil {
			out.BlastRadius.RollbackRequired = cur.RollbackRequired || *br.RollbackRequired
			if cur.RollbackRequired && !*br.RollbackRequired {
				clamp("blast_radius.rollback_required")
			}
		}
	}

	if len(req.AllowedDomains) > 0 {
		domains, ok := tightenDomains(resolved.AllowedDomains, req.AllowedDomains)
		out.AllowedDomains = domains
		if !ok {
			clamp("allowed_domains")
		}
	}

	return out, clamped
}

// tightenLimit merges a requested limit into a resolved one. Zero means the
// limit is not enforced, so it is the loosest value.
func tightenLimit(resolved, requested int64) (int64, bool) {
	switch {
	case requested < 0:
		return resolved, false
	case requested == 0:
		return resolved, resolved == 0
	case resolved == 0 || requested <= resolved:
		return requested, true
	default:
		return resolved, false
	}
}

// tightenDomains narrows an allowlist. An empty resolved list allows every
// domain, so any requested list narrows it. Otherwise only requested entries
// already present survive; if none do, the resolved list is kept.
func tightenDomains(resolved, requested []string) ([]string, bool) {
	if len(resolved) == 0 {
		return append([]string(nil), requested...), true
	}

	allowed := make(map[string]bool, len(resolved))
	for _, d := range resolved {
		allowed[d] = true
	}

	var out []string
	honored := true
	for _, d := range requested {
		if allowed[d] {
			out = append(out, d)
		} else {
			honored = false
		}
	}
	if len(out) == 0 {
		return append([]string(nil), resolved...), false
	}
	return out, honored
}
