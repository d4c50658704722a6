package rebalance

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lnrebalance/rebalanced/audit"
	"github.com/lnrebalance/rebalanced/channels"
	"github.com/lnrebalance/rebalanced/lnclient"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/ratelimit"
)

type recordingSender struct {
	sent []*meshwire.PayInvoice
}

func (r *recordingSender) Send(peerPubKey string, payload meshwire.Payload) error {
	if p, ok := payload.(*meshwire.PayInvoice); ok {
		r.sent = append(r.sent, p)
	}
	return nil
}

func fixedSettings(s ChannelSettings) SettingsLookup {
	return func(string) ChannelSettings { return s }
}

// setupOwnedChannel builds a view/ownership/watch triple as if bob had
// already greeted us over chan-1, the way mesh.OnMessage's Hello case does
// via channels.DiscoverOnGreeting.
func setupOwnedChannel(client *lnclient.MockClient, local, remote, capacity int64) (*channels.View, *channels.Ownership, *channels.WatchList) {
	client.SetChannels([]*lnclient.Channel{
		{
			ID: "chan-1", RemotePubKey: "bob-ln", IsActive: true,
			LocalBalance: big.NewInt(local), RemoteBalance: big.NewInt(remote),
			Capacity: big.NewInt(capacity),
		},
	})

	view := channels.NewView()
	view.Refresh(context.Background(), client)

	ownership := channels.NewOwnership()
	watch := channels.NewWatchList()
	channels.DiscoverOnGreeting(view, ownership, watch, "bob-mesh", "bob-ln")

	return view, ownership, watch
}

// TestTickDispatchesBelowThreshold is scenario S1: a channel under
// balancePoint-deadzone triggers exactly one payInvoice.
func TestTickDispatchesBelowThreshold(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))

	client := lnclient.NewMockClient("self-ln", "self")
	view, ownership, watch := setupOwnedChannel(client, 10, 90, 100)

	sender := &recordingSender{}
	limiter := ratelimit.New(clk)

	settings := fixedSettings(ChannelSettings{
		BalancePoint:       0.5,
		Deadzone:           0.05,
		MaxTransactionSize: big.NewInt(1000),
		MinTimeBetween:     time.Minute,
	})

	m := NewMonitor(client, view, ownership, watch, limiter, audit.NewMemStore(), sender,
		settings, "self-ln", clk, ticker.New(time.Second))

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected exactly one payInvoice dispatched, got %d", len(sender.sent))
	}
	if !limiter.Blocked("chan-1") {
		t.Fatalf("expected chan-1 blocked immediately after dispatch")
	}
}

// TestTickSkipsWhenAboveThreshold covers the no-op path: a channel already
// at balancePoint never triggers a dispatch.
func TestTickSkipsWhenAboveThreshold(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))

	client := lnclient.NewMockClient("self-ln", "self")
	view, ownership, watch := setupOwnedChannel(client, 50, 50, 100)

	sender := &recordingSender{}
	settings := fixedSettings(ChannelSettings{
		BalancePoint: 0.5, Deadzone: 0.05,
		MaxTransactionSize: big.NewInt(1000), MinTimeBetween: time.Minute,
	})

	m := NewMonitor(client, view, ownership, watch, ratelimit.New(clk), audit.NewMemStore(),
		sender, settings, "self-ln", clk, ticker.New(time.Second))

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no dispatch at exact balance point, got %d", len(sender.sent))
	}
}

// TestTickSkipsWhileBlocked is invariant 3: no payInvoice is produced for a
// channel with a live Rebalance Block, even if it is badly imbalanced.
func TestTickSkipsWhileBlocked(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))

	client := lnclient.NewMockClient("self-ln", "self")
	view, ownership, watch := setupOwnedChannel(client, 10, 90, 100)

	sender := &recordingSender{}
	limiter := ratelimit.New(clk)
	limiter.Dispatch("chan-1", time.Hour)

	settings := fixedSettings(ChannelSettings{
		BalancePoint: 0.5, Deadzone: 0.05,
		MaxTransactionSize: big.NewInt(1000), MinTimeBetween: time.Minute,
	})

	m := NewMonitor(client, view, ownership, watch, limiter, audit.NewMemStore(),
		sender, settings, "self-ln", clk, ticker.New(time.Second))

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no dispatch while blocked, got %d", len(sender.sent))
	}
}

// TestTickCapsAmountAtMaxTransactionSize.
func TestTickCapsAmountAtMaxTransactionSize(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))

	client := lnclient.NewMockClient("self-ln", "self")
	view, ownership, watch := setupOwnedChannel(client, 0, 100, 100)

	sender := &recordingSender{}
	settings := fixedSettings(ChannelSettings{
		BalancePoint: 0.5, Deadzone: 0.05,
		MaxTransactionSize: big.NewInt(10), MinTimeBetween: time.Minute,
	})

	m := NewMonitor(client, view, ownership, watch, ratelimit.New(clk), audit.NewMemStore(),
		sender, settings, "self-ln", clk, ticker.New(time.Second))

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one dispatch, got %d", len(sender.sent))
	}
	if sender.sent[0].Tokens != "10" {
		t.Fatalf("expected amount capped to maxTransactionSize=10, got %s", sender.sent[0].Tokens)
	}
}

// TestReconcileOnTickDropsVanishedChannel covers spec §4.5 step 2 firing
// from inside Tick itself.
func TestReconcileOnTickDropsVanishedChannel(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))

	client := lnclient.NewMockClient("self-ln", "self")
	_, ownership, watch := setupOwnedChannel(client, 10, 90, 100)

	client.SetChannels(nil)

	view := channels.NewView()
	sender := &recordingSender{}
	settings := fixedSettings(ChannelSettings{
		BalancePoint: 0.5, Deadzone: 0.05,
		MaxTransactionSize: big.NewInt(1000), MinTimeBetween: time.Minute,
	})

	m := NewMonitor(client, view, ownership, watch, ratelimit.New(clk), audit.NewMemStore(),
		sender, settings, "self-ln", clk, ticker.New(time.Second))

	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if watch.Contains("chan-1") {
		t.Fatalf("expected chan-1 dropped from the watch list once missing from the view")
	}
	if len(sender.sent) != 0 {
		t.Fatalf("expected no dispatch for a channel no longer in the view")
	}
}
