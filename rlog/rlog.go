// Package rlog wires one btclog.Logger per subsystem, the way lnd's
// top-level log.go wires ltndLog, peerLog, srvrLog, etc. Every
// package-level logger writes to one shared os.Stdout backend;
// cmd/rebalanced sets their level with SetLevel.
package rlog

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
)

var backendLog = btclog.NewBackend(os.Stdout)

// subsystemLoggers mirrors lnd's registration map so a future log-level
// flag could retarget any one of these independently.
var subsystemLoggers = make(map[string]btclog.Logger)

func newLogger(subsystem string) btclog.Logger {
	logger := backendLog.Logger(subsystem)
	subsystemLoggers[subsystem] = logger
	return logger
}

var (
	// Mesh logs peer session and rendezvous events.
	Mesh = newLogger("MESH")

	// Crypto logs signature/freshness rejections (silent to the sender).
	Crypto = newLogger("CRYP")

	// Chan logs channel registry/watch-list/binding events.
	Chan = newLogger("CHAN")

	// Reb logs the rebalance monitor and coordinator.
	Reb = newLogger("REBL")

	// Policy logs invoice acceptance decisions.
	Policy = newLogger("POLI")

	// Limit logs rate limiter decisions.
	Limit = newLogger("RLIM")

	// Audit logs audit log writes.
	Audit = newLogger("AUDT")

	// Daemon logs top-level startup/shutdown.
	Daemon = newLogger("DAEM")
)

// SetLevel sets the level of every registered subsystem logger.
func SetLevel(level btclog.Level) {
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// logClosure defers an expensive string computation (typically a
// spew.Sdump of a wire message) until the logger actually decides to
// format it, so Tracef callers pay nothing when trace logging is off.
type logClosure func() string

func (c logClosure) String() string {
	return c()
}

// newLogClosure wraps c for use as a Tracef/Debugf argument.
func newLogClosure(c func() string) logClosure {
	return logClosure(c)
}

// NewLogClosure is the exported form, for callers outside this package.
func NewLogClosure(c func() string) fmt.Stringer {
	return newLogClosure(c)
}
