package rebalanced

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/lnrebalance/rebalanced/audit"
	"github.com/lnrebalance/rebalanced/channels"
	"github.com/lnrebalance/rebalanced/lnclient"
	"github.com/lnrebalance/rebalanced/mesh"
	"github.com/lnrebalance/rebalanced/meshcrypto"
	"github.com/lnrebalance/rebalanced/meshwire"
	"github.com/lnrebalance/rebalanced/policy"
	"github.com/lnrebalance/rebalanced/ratelimit"
	"github.com/lnrebalance/rebalanced/rebalance"
	"github.com/lnrebalance/rebalanced/rerrors"
	"github.com/lnrebalance/rebalanced/rlog"
	"github.com/lnrebalance/rebalanced/statusserver"
	"github.com/lnrebalance/rebalanced/transport"
)

// Daemon wires every collaborator and core component into one running
// process, the way the teacher's server.go assembles htlcswitch, the
// channel router, and the peer pool around a single *server. The wiring
// order here mirrors spec §5's startup sequence and its mirror-image
// shutdown sequence.
type Daemon struct {
	cfg *Config

	client lnclient.Client

	view      *channels.View
	ownership *channels.Ownership
	watch     *channels.WatchList

	auditLog audit.Store
	limiter  *ratelimit.Limiter

	mesh *mesh.Mesh

	coordinator *rebalance.Coordinator
	monitor     *rebalance.Monitor

	statusSrv *statusserver.Server

	clock clock.Clock
}

// New assembles a Daemon from cfg and an already-constructed LN
// collaborator. t is the mesh transport collaborator (a real rendezvous
// implementation in production, transport.NewMemoryRegistry().NewTransport()
// in tests).
func New(cfg *Config, client lnclient.Client, t transport.Transport) (*Daemon, error) {
	clk := clock.NewDefaultClock()

	localPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, rerrors.Config(fmt.Errorf("generating mesh identity key: %w", err))
	}

	info, err := client.GetWalletInfo(context.Background())
	if err != nil {
		return nil, rerrors.Collaborator(err)
	}

	view := channels.NewView()
	ownership := channels.NewOwnership()
	watch := channels.NewWatchList()

	var auditLog audit.Store
	if cfg.AuditDBPath != "" {
		store, err := audit.NewBoltStore(cfg.AuditDBPath)
		if err != nil {
			return nil, rerrors.Config(err)
		}
		auditLog = store
	} else {
		auditLog = audit.NewMemStore()
	}

	limiter := ratelimit.New(clk)

	maxAmountPerPeriod, err := bigIntTokens(cfg.MaxAmountPerPeriod)
	if err != nil {
		return nil, rerrors.Config(err)
	}

	rolling := ratelimit.RollingConfig{
		Period:                   cfg.LimitsPeriod,
		UseRollingLimitsPeriod:   cfg.UseRollingLimitsPeriod,
		MaxTransactionsPerPeriod: cfg.MaxTransactionsPerPeriod,
		MaxAmountPerPeriod:       maxAmountPerPeriod,
	}

	policyDeps := policy.Deps{
		Client:    client,
		View:      view,
		AuditLog:  auditLog,
		Clock:     clk,
		SelfLnPub: info.PublicKey,
		Rolling:   rolling,
	}

	coordinator := rebalance.NewCoordinator(limiter, auditLog, clk)

	identity := mesh.Identity{
		MeshPublicKey: hex.EncodeToString(localPriv.PubKey().SerializeCompressed()),
		LnPublicKey:   info.PublicKey,
		Alias:         cfg.Alias,
	}

	codec := meshcrypto.New([]byte(cfg.ClusterSecret), clk)

	d := &Daemon{
		cfg:         cfg,
		client:      client,
		view:        view,
		ownership:   ownership,
		watch:       watch,
		auditLog:    auditLog,
		limiter:     limiter,
		coordinator: coordinator,
		clock:       clk,
	}

	d.mesh = mesh.New(t, codec, identity, view, ownership, watch,
		func(ctx context.Context, msg *meshwire.PayInvoice) *meshwire.PaymentResult {
			return policy.Accept(ctx, policyDeps, msg)
		},
		func(msg *meshwire.PaymentResult) {
			d.coordinator.OnPaymentResult(msg)
		},
	)

	d.monitor = rebalance.NewMonitor(d.client, d.view, d.ownership, d.watch,
		d.limiter, d.auditLog, d.mesh, d.settingsFor, identity.LnPublicKey, d.clock,
		ticker.New(d.cfg.RefreshRate))

	if d.cfg.DebugListen != "" {
		d.statusSrv = statusserver.New(func() interface{} { return d.Status() })
	}

	return d, nil
}

// settingsFor resolves the per-channel tunables of spec §6, falling back to
// the per-alias defaults when no override exists for channelID.
func (d *Daemon) settingsFor(channelID string) rebalance.ChannelSettings {
	defaults := rebalance.ChannelSettings{
		BalancePoint:       d.cfg.BalancePoint,
		Deadzone:           d.cfg.Deadzone,
		MaxTransactionSize: mustBigInt(d.cfg.MaxTransactionSize),
		MinTimeBetween:     d.cfg.MinTimeBetweenPayments,
	}

	override, ok := d.cfg.ChannelOverrides[channelID]
	if !ok {
		return defaults
	}

	if override.BalancePoint != nil {
		defaults.BalancePoint = *override.BalancePoint
	}
	if override.Deadzone != nil {
		defaults.Deadzone = *override.Deadzone
	}
	if amount, err := parseOverrideAmount(override.MaxTransactionSize, defaults.MaxTransactionSize); err == nil {
		defaults.MaxTransactionSize = amount
	}
	if dur, err := parseOverrideDuration(override.MinTimeBetween, defaults.MinTimeBetween); err == nil {
		defaults.MinTimeBetween = dur
	}

	return defaults
}

func mustBigInt(s string) *big.Int {
	n, err := bigIntTokens(s)
	if err != nil {
		return big.NewInt(0)
	}
	return n
}

// Start joins the rendezvous mesh and begins the rebalance monitor loop
// (spec §5 startup: join rendezvous, then start the monitor).
func (d *Daemon) Start() error {
	if hc, ok := d.client.(*lnclient.HealthChecked); ok {
		if err := hc.Start(); err != nil {
			return rerrors.Collaborator(err)
		}
	}

	if err := d.mesh.Join([]byte(d.cfg.ClusterSecret)); err != nil {
		return err
	}
	rlog.Daemon.Infof("joined mesh rendezvous, alias=%s", d.cfg.Alias)

	if d.statusSrv != nil {
		if err := d.statusSrv.Start(d.cfg.DebugListen); err != nil {
			return rerrors.Config(err)
		}
		rlog.Daemon.Infof("status endpoint listening on %s", d.cfg.DebugListen)
	}

	go d.monitor.Run()
	return nil
}

// Stop shuts down in order: leave rendezvous (which also closes every Peer
// Session), stop the monitor ticker, stop the status endpoint, stop the LN
// collaborator's health probe if it is a *lnclient.HealthChecked, and close
// a durable audit store. The lnclient.Client contract has no disconnect
// call, so the LN collaborator itself is not disconnected.
func (d *Daemon) Stop() error {
	if err := d.mesh.Leave(); err != nil {
		rlog.Daemon.Errorf("leaving mesh: %v", err)
	}

	d.monitor.Stop()

	if d.statusSrv != nil {
		if err := d.statusSrv.Stop(); err != nil {
			rlog.Daemon.Errorf("stopping status endpoint: %v", err)
		}
	}

	if hc, ok := d.client.(*lnclient.HealthChecked); ok {
		if err := hc.Stop(); err != nil {
			rlog.Daemon.Errorf("stopping LN collaborator health check: %v", err)
		}
	}

	if closer, ok := d.auditLog.(*audit.BoltStore); ok {
		if err := closer.Close(); err != nil {
			rlog.Daemon.Errorf("closing audit store: %v", err)
		}
	}

	return nil
}

// Status is the introspection snapshot of spec §5's supplemented status
// surface: what the daemon currently believes about its own mesh and
// channel state.
type Status struct {
	Alias           string               `json:"alias"`
	ActiveSessions  []string             `json:"activeSessions"`
	WatchedChannels []string             `json:"watchedChannels"`
	RebalanceBlocks map[string]time.Time `json:"rebalanceBlocks"`
}

// Status returns a snapshot for the cmd/rebalanced status subcommand,
// served over the status endpoint by statusserver.
func (d *Daemon) Status() Status {
	return Status{
		Alias:           d.cfg.Alias,
		ActiveSessions:  d.mesh.Sessions(),
		WatchedChannels: d.watch.All(),
		RebalanceBlocks: d.limiter.ActiveBlocks(),
	}
}
