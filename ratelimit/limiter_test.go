package ratelimit

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnrebalance/rebalanced/audit"
)

func TestDispatchBlocksUntilMinTimeBetween(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	l := New(clk)

	if l.Blocked("chan-1") {
		t.Fatalf("expected chan-1 unblocked initially")
	}

	l.Dispatch("chan-1", 10*time.Minute)
	if !l.Blocked("chan-1") {
		t.Fatalf("expected chan-1 blocked immediately after dispatch")
	}

	clk.SetTime(base.Add(11 * time.Minute))
	if l.Blocked("chan-1") {
		t.Fatalf("expected chan-1 unblocked after cooldown elapses")
	}
}

func TestClearRemovesBlock(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	l := New(clk)

	l.Dispatch("chan-1", time.Hour)
	l.Clear("chan-1")

	if l.Blocked("chan-1") {
		t.Fatalf("expected chan-1 unblocked after Clear")
	}
}

func TestActiveBlocksOmitsExpired(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	l := New(clk)

	l.Dispatch("chan-1", 10*time.Minute)
	l.Dispatch("chan-2", time.Minute)

	clk.SetTime(base.Add(5 * time.Minute))

	blocks := l.ActiveBlocks()
	if _, ok := blocks["chan-1"]; !ok {
		t.Fatalf("expected chan-1 to still be an active block")
	}
	if _, ok := blocks["chan-2"]; ok {
		t.Fatalf("expected chan-2's expired block to be omitted")
	}
}

func TestExtendUntilReplacesBlock(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	l := New(clk)

	l.Dispatch("chan-1", time.Minute)
	l.ExtendUntil("chan-1", base.Add(time.Hour))

	clk.SetTime(base.Add(2 * time.Minute))
	if !l.Blocked("chan-1") {
		t.Fatalf("expected chan-1 still blocked under the extended retryAt")
	}
}

// TestCheckRollingTransactionCount is scenario S4: reject once the
// transaction-count ceiling is reached within the window.
func TestCheckRollingTransactionCount(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	store := audit.NewMemStore()

	cfg := RollingConfig{
		Period:                   time.Hour,
		UseRollingLimitsPeriod:   true,
		MaxTransactionsPerPeriod: 2,
		MaxAmountPerPeriod:       big.NewInt(1_000_000),
	}

	store.Add(audit.Entry{PaidBy: "self-ln", Amount: big.NewInt(10), CreatedAt: base})
	store.Add(audit.Entry{PaidBy: "self-ln", Amount: big.NewInt(10), CreatedAt: base})

	verdict, err := CheckRolling(context.Background(), store, clk, "self-ln", big.NewInt(10), cfg)
	if err != nil {
		t.Fatalf("check rolling: %v", err)
	}
	if verdict.Allowed {
		t.Fatalf("expected rejection once transaction count limit reached")
	}
	if verdict.RetryAt.IsZero() {
		t.Fatalf("expected a non-zero retryAt on rejection")
	}
}

// TestCheckRollingAmountCeiling is scenario S4's amount-based counterpart.
func TestCheckRollingAmountCeiling(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	store := audit.NewMemStore()

	cfg := RollingConfig{
		Period:                   time.Hour,
		UseRollingLimitsPeriod:   true,
		MaxTransactionsPerPeriod: 100,
		MaxAmountPerPeriod:       big.NewInt(100),
	}

	store.Add(audit.Entry{PaidBy: "self-ln", Amount: big.NewInt(90), CreatedAt: clk.Now()})

	verdict, err := CheckRolling(context.Background(), store, clk, "self-ln", big.NewInt(50), cfg)
	if err != nil {
		t.Fatalf("check rolling: %v", err)
	}
	if verdict.Allowed {
		t.Fatalf("expected rejection: 90+50 > 100")
	}
}

func TestCheckRollingAllowsUnderLimits(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	store := audit.NewMemStore()

	cfg := RollingConfig{
		Period:                   time.Hour,
		UseRollingLimitsPeriod:   true,
		MaxTransactionsPerPeriod: 10,
		MaxAmountPerPeriod:       big.NewInt(1000),
	}

	verdict, err := CheckRolling(context.Background(), store, clk, "self-ln", big.NewInt(50), cfg)
	if err != nil {
		t.Fatalf("check rolling: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected allowance with empty audit log, got reason %q", verdict.Reason)
	}
}

func TestCheckRollingIgnoresEntriesOutsideWindow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	store := audit.NewMemStore()

	cfg := RollingConfig{
		Period:                   time.Hour,
		UseRollingLimitsPeriod:   true,
		MaxTransactionsPerPeriod: 1,
		MaxAmountPerPeriod:       big.NewInt(1_000_000),
	}

	store.Add(audit.Entry{PaidBy: "self-ln", Amount: big.NewInt(10), CreatedAt: base.Add(-2 * time.Hour)})

	verdict, err := CheckRolling(context.Background(), store, clk, "self-ln", big.NewInt(10), cfg)
	if err != nil {
		t.Fatalf("check rolling: %v", err)
	}
	if !verdict.Allowed {
		t.Fatalf("expected the stale entry to fall outside the rolling window")
	}
}
