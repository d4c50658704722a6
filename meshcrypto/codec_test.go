package meshcrypto

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lnrebalance/rebalanced/meshwire"
)

func TestVerifyAcceptsOwnSignature(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	codec := New([]byte("s"), clk)

	env, err := codec.Sign("alice-pub", &meshwire.Hello{
		PublicKey: "alice-ln-pub",
		Alias:     "alice",
	})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := codec.Verify("alice-pub", env); err != nil {
		t.Fatalf("expected valid signature, got %v", err)
	}
}

// TestVerifyRejectsWrongSecret is scenario S2: a message signed under a
// different cluster secret must be silently rejected.
func TestVerifyRejectsWrongSecret(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	signer := New([]byte("s-prime"), clk)
	verifier := New([]byte("s"), clk)

	env, err := signer.Sign("alice-pub", &meshwire.Hello{PublicKey: "x", Alias: "y"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := verifier.Verify("alice-pub", env); err == nil {
		t.Fatalf("expected signature mismatch, got nil error")
	}
}

// TestVerifyRejectsStaleTimestamp is scenario S3.
func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	codec := New([]byte("s"), clk)

	env, err := codec.Sign("alice-pub", &meshwire.Hello{PublicKey: "x", Alias: "y"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	clk.SetTime(base.Add(10 * time.Second))
	if err := codec.Verify("alice-pub", env); err == nil {
		t.Fatalf("expected staleness rejection, got nil error")
	}
}

// TestVerifyAcceptsFutureWithinWindow covers the decided open question:
// future-timestamped messages use the same symmetric ±5s window.
func TestVerifyAcceptsFutureWithinWindow(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	clk := clock.NewTestClock(base)
	codec := New([]byte("s"), clk)

	env, err := codec.Sign("alice-pub", &meshwire.Hello{PublicKey: "x", Alias: "y"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	clk.SetTime(base.Add(-4 * time.Second))
	if err := codec.Verify("alice-pub", env); err != nil {
		t.Fatalf("expected acceptance within window, got %v", err)
	}
}

func TestVerifyRejectsTamperedSenderKey(t *testing.T) {
	clk := clock.NewTestClock(time.Unix(1_700_000_000, 0))
	codec := New([]byte("s"), clk)

	env, err := codec.Sign("alice-pub", &meshwire.Hello{PublicKey: "x", Alias: "y"})
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if err := codec.Verify("mallory-pub", env); err == nil {
		t.Fatalf("expected rejection when verifying under a different sender key")
	}
}
