package main

import (
	"os"
	"os/signal"
	"syscall"
)

// waitForShutdownSignal blocks until SIGINT or SIGTERM arrives. Signal
// handling has no analogue in the example pack's domain libraries — it's
// OS-boundary plumbing, so the standard library is the right tool here.
func waitForShutdownSignal(sig chan os.Signal) {
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}
