package lease

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

// TestRedisClaimer_Integration requires a running Redis.
// We skip if connection fails.
func TestRedisClaimer_Integration(t *testing.T) {
	claimer := NewRedisClaimer("localhost:6379", "", 0)
	defer claimer.Close()

	ctx := context.Background()
	if err := claimer.Ping(ctx); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}

	actionID := "test-" + uuid.NewString()

	l, err := claimer.Claim(ctx, actionID, "worker-a", time.Second)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if l.Owner != "worker-a" || l.ActionID != actionID {
		t.Errorf("lease = %+v", l)
	}

	if _, err := claimer.Claim(ctx, actionID, "worker-a", time.Second); err != nil {
		t.Errorf("re-claim by owner error = %v", err)
	}

	if _, err := claimer.Claim(ctx, actionID, "worker-b", time.Second); !errors.Is(err, ErrHeld) {
		t.Errorf("Claim() by other owner error = %v, want ErrHeld", err)
	}

	if err := claimer.Release(ctx, actionID, "worker-b"); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Release() by other owner error = %v, want ErrNotHeld", err)
	}

	if err := claimer.Release(ctx, actionID, "worker-a"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	if _, err := claimer.Claim(ctx, actionID, "worker-b", 100*time.Millisecond); err != nil {
		t.Fatalf("Claim() after release error = %v", err)
	}

	time.Sleep(250 * time.Millisecond)
	if _, err := claimer.Claim(ctx, actionID, "worker-a", time.Second); err != nil {
		t.Errorf("Claim() after expiry error = %v", err)
	}
	_ = claimer.Release(ctx, actionID, "worker-a")
}
