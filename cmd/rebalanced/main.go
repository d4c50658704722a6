// rebalanced is the command-line entrypoint: a "run" command that starts
// the daemon and a "status" command that prints its introspection
// snapshot, the way the teacher's cmd/lncli wraps lnd's RPC surface in
// urfave/cli commands.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btclog"
	"github.com/urfave/cli"

	"github.com/lnrebalance/rebalanced"
	"github.com/lnrebalance/rebalanced/lnclient"
	"github.com/lnrebalance/rebalanced/rlog"
	"github.com/lnrebalance/rebalanced/statusserver"
	"github.com/lnrebalance/rebalanced/transport"
)

const (
	healthCheckInterval = 30 * time.Second
	healthCheckTimeout  = 5 * time.Second
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[rebalanced] %v\n", err)
	os.Exit(1)
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "start the rebalance daemon",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to rebalanced.conf",
		},
		cli.StringFlag{
			Name:  "debuglevel",
			Value: "info",
			Usage: "logging level: trace, debug, info, warn, error, critical, off",
		},
	},
	Action: runDaemon,
}

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "print a snapshot of sessions, watched channels and rebalance blocks from a running daemon",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "path to rebalanced.conf (used only to read debug_listen)",
		},
	},
	Action: printStatus,
}

func printStatus(ctx *cli.Context) error {
	cfg, err := rebalanced.LoadConfig(ctx.String("config"))
	if err != nil {
		return err
	}
	if cfg.DebugListen == "" {
		return fmt.Errorf("debug_listen is unset; the daemon has no status endpoint to query")
	}

	var status rebalanced.Status
	if err := statusserver.Fetch(cfg.DebugListen, &status); err != nil {
		return fmt.Errorf("querying status endpoint at %s: %w", cfg.DebugListen, err)
	}

	fmt.Printf("alias: %s\n", status.Alias)

	fmt.Printf("active sessions (%d):\n", len(status.ActiveSessions))
	for _, peer := range status.ActiveSessions {
		fmt.Printf("  %s\n", peer)
	}

	fmt.Printf("watched channels (%d):\n", len(status.WatchedChannels))
	for _, channelID := range status.WatchedChannels {
		fmt.Printf("  %s\n", channelID)
	}

	fmt.Printf("rebalance blocks (%d):\n", len(status.RebalanceBlocks))
	for channelID, until := range status.RebalanceBlocks {
		fmt.Printf("  %s until %s\n", channelID, until.Format(time.RFC3339))
	}

	return nil
}

func runDaemon(ctx *cli.Context) error {
	level, ok := btclog.LevelFromString(ctx.String("debuglevel"))
	if !ok {
		level = btclog.LevelInfo
	}
	rlog.SetLevel(level)

	cfg, err := rebalanced.LoadConfig(ctx.String("config"))
	if err != nil {
		return err
	}

	// The real LN node collaborator is out of scope (spec §1 Non-goals);
	// operators wire a concrete lnclient.Client of their own. A mock
	// stands in here so the binary is runnable end to end against itself
	// for manual verification. It is wrapped with a periodic liveness
	// probe so a dead node surfaces proactively as a CollaboratorError
	// instead of only on the next call that happens to touch it.
	baseClient := lnclient.NewMockClient(cfg.Alias, cfg.Alias)
	client := lnclient.NewHealthChecked(baseClient, healthCheckInterval, healthCheckTimeout,
		func(err error) {
			rlog.Daemon.Errorf("LN collaborator health check: %v", err)
		})

	registry := transport.NewMemoryRegistry()
	t := registry.NewTransport()

	daemon, err := rebalanced.New(cfg, client, t)
	if err != nil {
		return err
	}

	if err := daemon.Start(); err != nil {
		return err
	}
	rlog.Daemon.Info("rebalanced started")

	sig := make(chan os.Signal, 1)
	waitForShutdownSignal(sig)

	rlog.Daemon.Info("shutting down")
	return daemon.Stop()
}

func main() {
	app := cli.NewApp()
	app.Name = "rebalanced"
	app.Version = "0.1.0"
	app.Usage = "channel-rebalancing daemon for a trusted cluster of Lightning nodes"
	app.Commands = []cli.Command{
		runCommand,
		statusCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
