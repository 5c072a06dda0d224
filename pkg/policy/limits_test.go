package policy

import "testing"

func TestEnforceRuntimeLimits(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		stats  RuntimeStats
		want   LimitCheck
	}{
		{
			name:   "page limit reached",
			policy: Policy{MaxPages: 5},
			stats:  RuntimeStats{PagesProcessed: 5},
			want:   LimitCheck{WithinLimits: false, ShouldStop: true, Limit: LimitPages, Reason: "Page limit reached: 5/5"},
		},
		{
			name:   "pages take priority over patches",
			policy: Policy{MaxPages: 5, MaxPatches: 2},
			stats:  RuntimeStats{PagesProcessed: 7, PatchesApplied: 9},
			want:   LimitCheck{ShouldStop: true, Limit: LimitPages, Reason: "Page limit reached: 7/5"},
		},
		{
			name:   "patch limit reached",
			policy: Policy{MaxPages: 5, MaxPatches: 2},
			stats:  RuntimeStats{PagesProcessed: 1, PatchesApplied: 2},
			want:   LimitCheck{ShouldStop: true, Limit: LimitPatches, Reason: "Patch limit reached: 2/2"},
		},
		{
			name:   "timeout reached",
			policy: Policy{TimeoutMs: 300000},
			stats:  RuntimeStats{ExecutionTimeMs: 300000},
			want:   LimitCheck{ShouldStop: true, Limit: LimitTimeout, Reason: "Timeout reached: 300000ms >= 300000ms"},
		},
		{
			name:   "within limits",
			policy: Policy{MaxPages: 5, MaxPatches: 5, TimeoutMs: 1000},
			stats:  RuntimeStats{PagesProcessed: 4, PatchesApplied: 4, ExecutionTimeMs: 999},
			want:   LimitCheck{WithinLimits: true},
		},
		{
			name:   "zero limits are not enforced",
			policy: Policy{},
			stats:  RuntimeStats{PagesProcessed: 1e6, PatchesApplied: 1e6, ExecutionTimeMs: 1e9},
			want:   LimitCheck{WithinLimits: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := EnforceRuntimeLimits(tt.policy, tt.stats); got != tt.want {
				t.Errorf("EnforceRuntimeLimits() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
