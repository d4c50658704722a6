// Package audit implements the Audit Transaction log contract of spec §3
// and §6: an append-only log of rebalance attempts, queryable by
// (paidBy, since) for the rolling-window rate limiter.
package audit

import (
	"math/big"
	"time"
)

// State is the lifecycle state of an Audit Transaction (spec §3).
type State string

const (
	// StatePending is set when the requester dispatches a rebalance.
	StatePending State = "pending"

	// StateComplete is set by the responder after a confirmed payment.
	StateComplete State = "complete"

	// StateFailed is set by the responder after a failed payment, or by
	// the requester on a rejected/failed paymentResult.
	StateFailed State = "failed"
)

// Entry is one Audit Transaction. Entries are never mutated once appended
// (spec §3: "historical entries are never mutated") — a later outcome is
// recorded as a new Entry rather than rewriting the pending one, so
// Add-only stores are sufficient to satisfy the contract.
type Entry struct {
	PaidBy    string
	PaidTo    string
	ChannelID string
	Amount    *big.Int
	Invoice   string
	State     State
	CreatedAt time.Time
}

// Filter selects entries for the rolling-limit query of spec §4.6: all
// entries paid by PaidBy with CreatedAt >= Since.
type Filter struct {
	PaidBy string
	Since  time.Time
}

// Store is the audit log contract of spec §6: add(entry); filter(...).
type Store interface {
	Add(entry Entry) error
	Filter(f Filter) ([]Entry, error)
}
