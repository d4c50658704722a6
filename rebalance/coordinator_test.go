package rebalance

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnrebalance/rebalanced/audit"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/ratelimit"
)

// TestOnPaymentResultConfirmedClearsBlock is scenario S1's closing half:
// the Rebalance Block is cleared once the responder confirms payment.
func TestOnPaymentResultConfirmedClearsBlock(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	limiter := ratelimit.New(clk)
	limiter.Dispatch("chan-1", time.Hour)

	auditLog := audit.NewMemStore()
	c := NewCoordinator(limiter, auditLog, clk)

	c.OnPaymentResult(&meshwire.PaymentResult{
		ChannelID: "chan-1",
		Tokens:    "40",
		PaidBy:    "bob-ln",
		PaidTo:    "self-ln",
		Confirmed: true,
	})

	if limiter.Blocked("chan-1") {
		t.Fatalf("expected block cleared after confirmed result")
	}

	entries, err := auditLog.Filter(audit.Filter{PaidBy: "bob-ln", Since: time.Unix(0, 0)})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(entries) != 1 || entries[0].State != audit.StateComplete {
		t.Fatalf("expected one complete audit entry, got %+v", entries)
	}
}

// TestOnPaymentResultFailedExtendsBlock is scenario S4's requester-side
// half: a rolling-limit rejection's retryAt extends the Rebalance Block.
func TestOnPaymentResultFailedExtendsBlock(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	limiter := ratelimit.New(clk)
	limiter.Dispatch("chan-1", time.Minute)

	auditLog := audit.NewMemStore()
	c := NewCoordinator(limiter, auditLog, clk)

	retryAt := base.Add(2 * time.Hour)
	c.OnPaymentResult(&meshwire.PaymentResult{
		ChannelID: "chan-1",
		Tokens:    "40",
		PaidBy:    "bob-ln",
		PaidTo:    "self-ln",
		Confirmed: false,
		Reason:    "rolling transaction limit exceeded",
		RetryAt:   retryAt.UnixNano() / int64(time.Millisecond),
	})

	clk.SetTime(base.Add(90 * time.Second))
	if !limiter.Blocked("chan-1") {
		t.Fatalf("expected block extended to retryAt, well past the original 1-minute cooldown")
	}

	entries, err := auditLog.Filter(audit.Filter{PaidBy: "bob-ln", Since: time.Unix(0, 0)})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(entries) != 1 || entries[0].State != audit.StateFailed {
		t.Fatalf("expected one failed audit entry, got %+v", entries)
	}
}

// TestOnPaymentResultFailedWithoutRetryAtLeavesCooldownStanding.
func TestOnPaymentResultFailedWithoutRetryAtLeavesCooldownStanding(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	limiter := ratelimit.New(clk)
	limiter.Dispatch("chan-1", time.Minute)

	c := NewCoordinator(limiter, audit.NewMemStore(), clk)
	c.OnPaymentResult(&meshwire.PaymentResult{
		ChannelID: "chan-1",
		Tokens:    "40",
		Confirmed: false,
	})

	clk.SetTime(base.Add(90 * time.Second))
	if limiter.Blocked("chan-1") {
		t.Fatalf("expected the original 1-minute cooldown to have already expired")
	}
}
