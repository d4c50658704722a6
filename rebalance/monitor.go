// Package rebalance implements the Rebalance Monitor and Rebalance
// Coordinator of spec §4.5 and §4.8: the periodic balance check that
// decides when and how much to request, and the requester-side handling
// of a paymentResult.
package rebalance

import (
	"context"
	"math/big"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lnrebalance/rebalanced/audit"
	"github.com/lnrebalance/rebalanced/channels"
	"github.com/lnrebalance/rebalanced/lnclient"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/ratelimit"
	"github.com/lnrebalance/rebalanced/rerrors"
	"github.com/lnrebalance/rebalanced/rlog"
)

// Sender delivers a signed payInvoice/paymentResult to a mesh peer by its
// stable public key. It is implemented by *mesh.Mesh; rebalance depends
// only on this narrow interface to avoid a mesh<->rebalance import cycle
// (mesh, in turn, depends only on policy/rebalance through the top-level
// wiring, never directly).
type Sender interface {
	Send(peerPubKey string, payload meshwire.Payload) error
}

// ChannelSettings is the per-(alias, channel) tunable set of spec §6.
type ChannelSettings struct {
	BalancePoint       float64
	Deadzone           float64
	MaxTransactionSize *big.Int
	MinTimeBetween     time.Duration
}

// SettingsLookup resolves the tunables for a given watched channel.
type SettingsLookup func(channelID string) ChannelSettings

// Monitor is the Rebalance Monitor of spec §4.5.
type Monitor struct {
	client    lnclient.Client
	view      *channels.View
	ownership *channels.Ownership
	watch     *channels.WatchList
	limiter   *ratelimit.Limiter
	auditLog  audit.Store
	sender    Sender
	settings  SettingsLookup
	selfLnPub string
	clock     clock.Clock

	ticker ticker.Ticker

	quit chan struct{}
}

// NewMonitor builds a Monitor driven by tick, the packaged ticker
// abstraction. Tests call Tick directly instead of waiting refreshRate
// seconds for a real tick.
func NewMonitor(client lnclient.Client, view *channels.View, ownership *channels.Ownership,
	watch *channels.WatchList, limiter *ratelimit.Limiter, auditLog audit.Store,
	sender Sender, settings SettingsLookup, selfLnPub string, clk clock.Clock,
	tick ticker.Ticker) *Monitor {

	return &Monitor{
		client:    client,
		view:      view,
		ownership: ownership,
		watch:     watch,
		limiter:   limiter,
		auditLog:  auditLog,
		sender:    sender,
		settings:  settings,
		selfLnPub: selfLnPub,
		clock:     clk,
		ticker:    tick,
		quit:      make(chan struct{}),
	}
}

// Run drives ticks until Stop is called.
func (m *Monitor) Run() {
	m.ticker.Resume()
	defer m.ticker.Stop()

	for {
		select {
		case <-m.ticker.Ticks():
			if err := m.Tick(context.Background()); err != nil {
				rlog.Reb.Errorf("rebalance tick failed: %v", err)
			}
		case <-m.quit:
			return
		}
	}
}

// Stop halts the monitor loop (spec §5 Cancellation).
func (m *Monitor) Stop() {
	close(m.quit)
}

// Tick runs exactly one iteration of spec §4.5 steps 1-4. A
// CollaboratorError from the refresh aborts the whole tick (spec §7); any
// other per-channel problem is contained and the loop continues.
func (m *Monitor) Tick(ctx context.Context) error {
	if err := m.view.Refresh(ctx, m.client); err != nil {
		return err
	}

	for _, channelID := range channels.Reconcile(m.view, m.ownership, m.watch) {
		rlog.Reb.Infof("Watched channel missing: %s", channelID)
	}

	for _, channelID := range m.watch.All() {
		m.evaluateChannel(ctx, channelID)
	}

	return nil
}

func (m *Monitor) evaluateChannel(ctx context.Context, channelID string) {
	channel, ok := m.view.Get(channelID)
	if !ok {
		// Removed by Reconcile already; nothing left to do this tick.
		return
	}

	if !channel.IsActive {
		return
	}

	settings := m.settings(channelID)
	threshold := clampUnit(settings.BalancePoint - settings.Deadzone)

	total := new(big.Int).Add(channel.LocalBalance, channel.RemoteBalance)
	if total.Sign() == 0 {
		return
	}

	// localFraction = localBalance / capacity, compared via rational
	// arithmetic (spec §9: never collapse to float before the compare).
	localFraction := new(big.Rat).SetFrac(channel.LocalBalance, channel.Capacity)
	thresholdRat := new(big.Rat).SetFloat64(threshold)
	if thresholdRat == nil || localFraction.Cmp(thresholdRat) >= 0 {
		return
	}

	target := new(big.Float).Mul(
		new(big.Float).SetInt(total),
		big.NewFloat(settings.BalancePoint),
	)
	targetInt, _ := target.Int(nil)

	amount := new(big.Int).Sub(targetInt, channel.LocalBalance)
	if amount.Cmp(settings.MaxTransactionSize) > 0 {
		amount = new(big.Int).Set(settings.MaxTransactionSize)
	}
	if amount.Sign() <= 0 {
		return
	}

	if m.limiter.Blocked(channelID) {
		return
	}

	owner, ok := m.ownership.Get(channelID)
	if !ok {
		rlog.Reb.Warnf("no owning peer for watched channel %s", channelID)
		return
	}

	m.dispatch(ctx, channelID, owner.RemotePeer, owner.RemoteLnPubKey, amount, settings)
}

func (m *Monitor) dispatch(ctx context.Context, channelID, peer, remoteLnPub string,
	amount *big.Int, settings ChannelSettings) {

	invoice, err := m.client.CreateInvoice(ctx, &lnclient.InvoiceRequest{
		Description: "rebalance " + channelID,
		ExpiresAt:   m.clock.Now().Add(30 * time.Second),
		Tokens:      amount,
	})
	if err != nil {
		rlog.Reb.Errorf("create invoice failed for channel %s: %v", channelID, rerrors.Collaborator(err))
		return
	}

	// The Rebalance Block must be inserted before the outbound write
	// completes (spec §5), otherwise two back-to-back ticks could both
	// fire for the same channel.
	m.limiter.Dispatch(channelID, settings.MinTimeBetween)

	m.auditLog.Add(audit.Entry{
		PaidBy:    remoteLnPub,
		PaidTo:    m.selfLnPub,
		ChannelID: channelID,
		Amount:    amount,
		Invoice:   invoice.Request,
		State:     audit.StatePending,
		CreatedAt: m.clock.Now(),
	})

	msg := &meshwire.PayInvoice{
		Invoice:   invoice.Request,
		Tokens:    amount.String(),
		ChannelID: channelID,
		PaidTo:    m.selfLnPub,
		PaidBy:    remoteLnPub,
	}

	if err := m.sender.Send(peer, msg); err != nil {
		rlog.Reb.Errorf("send payInvoice for channel %s to peer %s failed: %v",
			channelID, peer, err)
	}
}

func clampUnit(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
