package lnclient

import (
	"context"
	"fmt"
	"time"

	"github.com/lightningnetwork/lnd/healthcheck"
	"github.com/lnrebalance/rebalanced/rerrors"
)

// HealthChecked wraps a Client with a periodic liveness probe, using the
// teacher's own healthcheck package the way lnd wraps its chain backend: a
// CollaboratorError surfaced proactively instead of only on the next call
// that happens to touch the dead node.
type HealthChecked struct {
	Client

	monitor *healthcheck.Monitor
}

// NewHealthChecked builds a background monitor that, once Start is called,
// calls GetWalletInfo every interval and reports failures via onFailure.
func NewHealthChecked(client Client, interval, timeout time.Duration,
	onFailure func(error)) *HealthChecked {

	check := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		_, err := client.GetWalletInfo(ctx)
		return err
	}

	obs := healthcheck.NewObservation(
		"lnclient", check, interval, timeout, time.Second, 1,
		func(attempts int) {
			onFailure(rerrors.Collaborator(
				fmt.Errorf("lnclient health check failed after %d attempts", attempts),
			))
		},
	)

	monitor := healthcheck.NewMonitor(&healthcheck.Config{
		Checks: []*healthcheck.Observation{obs},
	})

	return &HealthChecked{Client: client, monitor: monitor}
}

// Start begins the background health probe.
func (h *HealthChecked) Start() error {
	return h.monitor.Start()
}

// Stop halts the background health probe.
func (h *HealthChecked) Stop() error {
	return h.monitor.Stop()
}
