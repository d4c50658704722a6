package meshwire

import (
	"encoding/json"
	"testing"
)

// TestCanonicalIsDeterministic backs the canonical(message) contract of
// spec §4.1: two independently constructed payloads with the same fields
// produce byte-identical canonical forms.
func TestCanonicalIsDeterministic(t *testing.T) {
	a := &PayInvoice{Invoice: "lnbc1", Tokens: "100", ChannelID: "c1", PaidTo: "x", PaidBy: "y"}
	b := &PayInvoice{Invoice: "lnbc1", Tokens: "100", ChannelID: "c1", PaidTo: "x", PaidBy: "y"}

	ca, err := a.Canonical()
	if err != nil {
		t.Fatalf("canonical a: %v", err)
	}
	cb, err := b.Canonical()
	if err != nil {
		t.Fatalf("canonical b: %v", err)
	}

	if string(ca) != string(cb) {
		t.Fatalf("expected identical canonical bytes, got %q vs %q", ca, cb)
	}
}

func TestDecodeRoundTripsEachType(t *testing.T) {
	cases := []Payload{
		&Hello{PublicKey: "pk", Alias: "al"},
		&PayInvoice{Invoice: "lnbc1", Tokens: "10", ChannelID: "c1", PaidTo: "x", PaidBy: "y"},
		&PaymentResult{Invoice: "lnbc1", Tokens: "10", ChannelID: "c1", Confirmed: true},
	}

	for _, want := range cases {
		raw, err := want.Canonical()
		if err != nil {
			t.Fatalf("canonical: %v", err)
		}

		got, err := Decode(want.Type(), json.RawMessage(raw))
		if err != nil {
			t.Fatalf("decode %s: %v", want.Type(), err)
		}
		if got.Type() != want.Type() {
			t.Fatalf("expected type %s, got %s", want.Type(), got.Type())
		}
	}
}

func TestDecodeUnknownTypeErrors(t *testing.T) {
	if _, err := Decode(Type("bogus"), json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected an error decoding an unknown message type")
	}
}

func TestEnvelopeMarshalUnmarshalRoundTrip(t *testing.T) {
	msgType, raw, err := Encode(&Hello{PublicKey: "pk", Alias: "al"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	env := &Envelope{MessageType: msgType, Message: raw, Timestamp: 1700000000000, Signature: "deadbeef"}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	got, err := Unmarshal(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.MessageType != TypeHello || got.Signature != "deadbeef" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}
