package policy

import "fmt"

// Names of the limit that stopped an action.
const (
	LimitPages   = "pages"
	LimitPatches = "patches"
	LimitTimeout = "timeout"
)

// EnforceRuntimeLimits decides whether a running action must stop. Limits are
// checked in fixed order: pages, patches, then elapsed time. A zero limit is
// not enforced. It never blocks and has no side effects.
func EnforceRuntimeLimits(p Policy, stats RuntimeStats) LimitCheck {
	if p.MaxPages > 0 && stats.PagesProcessed >= p.MaxPages {
		return stop(LimitPages, fmt.Sprintf("Page limit reached: %d/%d", stats.PagesProcessed, p.MaxPages))
	}
	if p.MaxPatches > 0 && stats.PatchesApplied >= p.MaxPatches {
		return stop(LimitPatches, fmt.Sprintf("Patch limit reached: %d/%d", stats.PatchesApplied, p.MaxPatches))
	}
	if p.TimeoutMs > 0 && stats.ExecutionTimeMs >= p.TimeoutMs {
		return stop(LimitTimeout, fmt.Sprintf("Timeout reached: %dms >= %dms", stats.ExecutionTimeMs, p.TimeoutMs))
	}
	return LimitCheck{WithinLimits: true}
}

func stop(limit, reason string) LimitCheck {
	return LimitCheck{WithinLimits: false, ShouldStop: true, Limit: limit, Reason: reason}
}
