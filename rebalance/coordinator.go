package rebalance

import (
	"math/big"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnrebalance/rebalanced/audit"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/ratelimit"
	"github.com/lnrebalance/rebalanced/rlog"
)

// Coordinator is the Rebalance Coordinator of spec §4.8: the requester-side
// reaction to an inbound paymentResult. It does not retry automatically;
// the next periodic Monitor tick re-evaluates (spec §7).
type Coordinator struct {
	limiter  *ratelimit.Limiter
	auditLog audit.Store
	clock    clock.Clock
}

// NewCoordinator builds a Coordinator over the shared limiter/audit log.
func NewCoordinator(limiter *ratelimit.Limiter, auditLog audit.Store, clk clock.Clock) *Coordinator {
	return &Coordinator{limiter: limiter, auditLog: auditLog, clock: clk}
}

// OnPaymentResult implements spec §4.8 and the round-trip/invariant-5
// interaction with peer churn (scenario S5): even if no live block exists
// for the channel (because the owning peer already disconnected), the
// result is still recorded in the audit log (spec §5 Ordering guarantee).
func (c *Coordinator) OnPaymentResult(msg *meshwire.PaymentResult) {
	amount, ok := new(big.Int).SetString(msg.Tokens, 10)
	if !ok {
		rlog.Reb.Errorf("paymentResult for channel %s has unparseable tokens %q",
			msg.ChannelID, msg.Tokens)
		return
	}

	state := audit.StateFailed
	if msg.Confirmed {
		state = audit.StateComplete
	}

	c.auditLog.Add(audit.Entry{
		PaidBy:    msg.PaidBy,
		PaidTo:    msg.PaidTo,
		ChannelID: msg.ChannelID,
		Amount:    amount,
		Invoice:   msg.Invoice,
		State:     state,
		CreatedAt: c.clock.Now(),
	})

	switch {
	case msg.Confirmed:
		c.limiter.Clear(msg.ChannelID)
	case msg.RetryAt != 0:
		retryAt := time.UnixMilli(msg.RetryAt)
		c.limiter.ExtendUntil(msg.ChannelID, retryAt)
	default:
		// No retryAt: the original cooldown stands untouched.
	}
}
