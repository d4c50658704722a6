// Package ratelimit implements the two independent gates of spec §4.6:
// per-channel cooldown blocks and per-node rolling transaction/volume
// limits, both driven by lnd/clock so tests control time instead of
// sleeping real seconds.
package ratelimit

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnrebalance/rebalanced/audit"
	"github.com/lnrebalance/rebalanced/rerrors"
	"github.com/lnrebalance/rebalanced/rlog"
)

// Limiter holds the per-channel Rebalance Block table (spec §3/§4.6).
type Limiter struct {
	clock clock.Clock

	mu     sync.Mutex
	blocks map[string]time.Time // channelID -> until
}

// New creates a Limiter with no channels blocked.
func New(clk clock.Clock) *Limiter {
	return &Limiter{clock: clk, blocks: make(map[string]time.Time)}
}

// Blocked reports whether channelID currently has a non-expired Rebalance
// Block (invariant 3: no outbound payInvoice is produced while true).
func (l *Limiter) Blocked(channelID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	until, ok := l.blocks[channelID]
	return ok && until.After(l.clock.Now())
}

// Dispatch inserts a Rebalance Block the moment a rebalance is dispatched,
// before the outbound payInvoice write completes (spec §5: this ordering
// is what prevents two back-to-back ticks from both firing).
func (l *Limiter) Dispatch(channelID string, minTimeBetweenPayments time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks[channelID] = l.clock.Now().Add(minTimeBetweenPayments)
}

// Clear removes channelID's block after a confirmed paymentResult.
func (l *Limiter) Clear(channelID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.blocks, channelID)
}

// ActiveBlocks returns the channelID->until map of every Rebalance Block
// that has not yet expired, for operator introspection (spec §5
// supplemented status feature).
func (l *Limiter) ActiveBlocks() map[string]time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	out := make(map[string]time.Time, len(l.blocks))
	for channelID, until := range l.blocks {
		if until.After(now) {
			out[channelID] = until
		}
	}
	return out
}

// ExtendUntil replaces channelID's block with one expiring at retryAt,
// after a paymentResult carrying confirmed=false and a retryAt (spec
// §4.6). A confirmed=false result with no retryAt leaves the original
// cooldown standing — callers simply do not call ExtendUntil in that case.
func (l *Limiter) ExtendUntil(channelID string, retryAt time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.blocks[channelID] = retryAt
}

// RollingConfig is the per-(alias) rolling-limit configuration of spec §6.
type RollingConfig struct {
	Period                time.Duration
	UseRollingLimitsPeriod bool
	MaxTransactionsPerPeriod int
	MaxAmountPerPeriod    *big.Int
}

// Verdict is the result of a rolling-limit check (spec §4.6/§4.7 step 6).
type Verdict struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

// CheckRolling applies the per-node rolling limits of spec §4.6, evaluated
// by the payer against its own paidBy identity. candidate is the token
// amount of the invoice about to be paid.
func CheckRolling(ctx context.Context, store audit.Store, clk clock.Clock,
	selfPubKey string, candidate *big.Int, cfg RollingConfig) (*Verdict, error) {

	now := clk.Now()

	var since time.Time
	if cfg.UseRollingLimitsPeriod {
		since = now.Add(-cfg.Period)
	} else {
		since = time.Unix(0, (now.UnixNano()/int64(cfg.Period))*int64(cfg.Period))
	}

	entries, err := store.Filter(audit.Filter{PaidBy: selfPubKey, Since: since})
	if err != nil {
		return nil, rerrors.Collaborator(err)
	}

	sum := new(big.Int)
	for _, e := range entries {
		sum.Add(sum, e.Amount)
	}
	sum.Add(sum, candidate)

	retryAt := since.Add(cfg.Period).Add(time.Second)

	if len(entries) >= cfg.MaxTransactionsPerPeriod {
		rlog.Limit.Debugf("rolling limit hit for %s: %d/%d transactions",
			selfPubKey, len(entries), cfg.MaxTransactionsPerPeriod)
		return &Verdict{
			Allowed: false,
			Reason:  reasonTransactions(len(entries), cfg.MaxTransactionsPerPeriod),
			RetryAt: retryAt,
		}, nil
	}

	if sum.Cmp(cfg.MaxAmountPerPeriod) > 0 {
		rlog.Limit.Debugf("rolling limit hit for %s: amount %s exceeds %s",
			selfPubKey, sum.String(), cfg.MaxAmountPerPeriod.String())
		return &Verdict{
			Allowed: false,
			Reason:  reasonAmount(sum, cfg.MaxAmountPerPeriod),
			RetryAt: retryAt,
		}, nil
	}

	return &Verdict{Allowed: true}, nil
}

func reasonTransactions(count, limit int) string {
	return "rolling transaction limit exceeded. Limit is " +
		strconv.Itoa(limit) + ", already made " + strconv.Itoa(count)
}

func reasonAmount(sum, limit *big.Int) string {
	return "rolling amount limit exceeded. Limit is " + limit.String() +
		", requested total " + sum.String()
}
