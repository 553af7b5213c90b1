package quota

import (
	"context"
	"testing"
)

func TestMemoryLedgerUnlimitedByDefault(t *testing.T) {
	ledger := NewMemoryLedger(0)
	_, unlimited, err := ledger.Remaining(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Remaining: %v", err)
	}
	if !unlimited {
		t.Fatalf("zero default limit must mean unbounded")
	}
}

func TestMemoryLedgerCountsDown(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(3)

	remaining, unlimited, _ := ledger.Remaining(ctx, "user-1")
	if unlimited || remaining != 3 {
		t.Fatalf("remaining = %d unlimited=%v, want 3", remaining, unlimited)
	}

	for i := 0; i < 4; i++ {
		if err := ledger.Increment(ctx, "user-1"); err != nil {
			t.Fatalf("Increment: %v", err)
		}
	}
	remaining, _, _ = ledger.Remaining(ctx, "user-1")
	if remaining != 0 {
		t.Fatalf("overdrawn remaining = %d, want clamped to 0", remaining)
	}
	if ledger.Used("user-1") != 4 {
		t.Fatalf("used = %d, want 4", ledger.Used("user-1"))
	}
}

func TestMemoryLedgerPerUserLimit(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger(0)
	ledger.SetLimit("user-1", 2)

	remaining, unlimited, _ := ledger.Remaining(ctx, "user-1")
	if unlimited || remaining != 2 {
		t.Fatalf("user-1 remaining = %d unlimited=%v", remaining, unlimited)
	}
	if _, unlimited, _ := ledger.Remaining(ctx, "user-2"); !unlimited {
		t.Fatalf("user-2 must stay unbounded")
	}
}
