// Package policy implements the Invoice Acceptance Policy (responder side)
// of spec §4.7: validating an inbound payInvoice against the decoded
// BOLT-11 invoice, the local channel view, and the rate limiter before
// ever calling pay.
package policy

import (
	"context"
	"math/big"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnrebalance/rebalanced/audit"
	"github.com/lnrebalance/rebalanced/channels"
	"github.com/lnrebalance/rebalanced/lnclient"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/ratelimit"
	"github.com/lnrebalance/rebalanced/rlog"
)

// Deps bundles the collaborators the policy needs, mirroring how the
// teacher's rpcserver.go takes a *server and reaches into its fields
// rather than threading a dozen separate arguments.
type Deps struct {
	Client    lnclient.Client
	View      *channels.View
	AuditLog  audit.Store
	Clock     clock.Clock
	SelfLnPub string
	Rolling   ratelimit.RollingConfig
}

const invalidRequest = "invalid request"
const genericPaymentFailure = "payment failed"

// Accept runs the full invoice acceptance policy against an inbound
// payInvoice and returns the paymentResult to reply with. It never returns
// an error: every rejection and every failed collaborator call produces a
// paymentResult with confirmed=false and a reason, per spec §4.7's final
// paragraph ("any exception during decode/pay is caught"). A pay call that
// returns without error but unconfirmed yields confirmed=false with an
// empty reason.
func Accept(ctx context.Context, deps Deps, msg *meshwire.PayInvoice) *meshwire.PaymentResult {
	result := func(confirmed bool, paymentID, reason string, confirmedAt time.Time, retryAt time.Time) *meshwire.PaymentResult {
		pr := &meshwire.PaymentResult{
			Invoice:   msg.Invoice,
			Tokens:    msg.Tokens,
			ChannelID: msg.ChannelID,
			PaidTo:    msg.PaidTo,
			PaidBy:    msg.PaidBy,
			Confirmed: confirmed,
			PaymentID: paymentID,
			Reason:    reason,
		}
		if !confirmedAt.IsZero() {
			pr.ConfirmedAt = confirmedAt.UnixNano() / int64(time.Millisecond)
		}
		if !retryAt.IsZero() {
			pr.RetryAt = retryAt.UnixNano() / int64(time.Millisecond)
		}
		return pr
	}

	decoded, err := deps.Client.DecodePaymentRequest(ctx, msg.Invoice)
	if err != nil {
		rlog.Policy.Errorf("decode invoice failed: %v", err)
		return result(false, "", genericPaymentFailure, time.Time{}, time.Time{})
	}

	tokens, ok := new(big.Int).SetString(msg.Tokens, 10)
	if !ok {
		return result(false, "", invalidRequest, time.Time{}, time.Time{})
	}

	if decoded.Tokens.Cmp(tokens) != 0 {
		rlog.Policy.Debugf("rejecting payInvoice: decoded tokens %s != %s",
			decoded.Tokens, msg.Tokens)
		return result(false, "", invalidRequest, time.Time{}, time.Time{})
	}

	if decoded.Destination != msg.PaidTo {
		rlog.Policy.Debugf("rejecting payInvoice: decoded destination %s != paidTo %s",
			decoded.Destination, msg.PaidTo)
		return result(false, "", invalidRequest, time.Time{}, time.Time{})
	}

	if err := deps.View.Refresh(ctx, deps.Client); err != nil {
		rlog.Policy.Errorf("refresh channel view failed: %v", err)
		return result(false, "", genericPaymentFailure, time.Time{}, time.Time{})
	}

	channel, ok := deps.View.Get(msg.ChannelID)
	if !ok {
		rlog.Policy.Debugf("rejecting payInvoice: unknown channel %s", msg.ChannelID)
		return result(false, "", invalidRequest, time.Time{}, time.Time{})
	}

	if channel.RemotePubKey != msg.PaidTo {
		rlog.Policy.Debugf(
			"rejecting payInvoice: channel %s remote %s != paidTo %s",
			msg.ChannelID, channel.RemotePubKey, msg.PaidTo,
		)
		return result(false, "", invalidRequest, time.Time{}, time.Time{})
	}

	verdict, err := ratelimit.CheckRolling(ctx, deps.AuditLog, deps.Clock, deps.SelfLnPub, tokens, deps.Rolling)
	if err != nil {
		rlog.Policy.Errorf("rolling limit check failed: %v", err)
		return result(false, "", genericPaymentFailure, time.Time{}, time.Time{})
	}
	if !verdict.Allowed {
		deps.AuditLog.Add(audit.Entry{
			PaidBy:    deps.SelfLnPub,
			PaidTo:    msg.PaidTo,
			ChannelID: msg.ChannelID,
			Amount:    tokens,
			Invoice:   msg.Invoice,
			State:     audit.StateFailed,
			CreatedAt: deps.Clock.Now(),
		})
		return result(false, "", verdict.Reason, time.Time{}, verdict.RetryAt)
	}

	payResult, err := deps.Client.Pay(ctx, &lnclient.PayRequest{
		Request:         msg.Invoice,
		OutgoingChannel: msg.ChannelID,
	})
	if err != nil {
		rlog.Policy.Errorf("pay failed: %v", err)
		deps.AuditLog.Add(audit.Entry{
			PaidBy:    deps.SelfLnPub,
			PaidTo:    msg.PaidTo,
			ChannelID: msg.ChannelID,
			Amount:    tokens,
			Invoice:   msg.Invoice,
			State:     audit.StateFailed,
			CreatedAt: deps.Clock.Now(),
		})
		return result(false, "", genericPaymentFailure, time.Time{}, time.Time{})
	}

	state := audit.StateFailed
	if payResult.IsConfirmed {
		state = audit.StateComplete
	}
	deps.AuditLog.Add(audit.Entry{
		PaidBy:    deps.SelfLnPub,
		PaidTo:    msg.PaidTo,
		ChannelID: msg.ChannelID,
		Amount:    tokens,
		Invoice:   msg.Invoice,
		State:     state,
		CreatedAt: deps.Clock.Now(),
	})

	return result(payResult.IsConfirmed, payResult.ID, "", payResult.ConfirmedAt, time.Time{})
}
