// Package meshwire defines the three message payload types of the mesh
// protocol (spec §4.3) and the canonical byte form signed by meshcrypto.
// Modeled on the teacher's lnwire package: one Go type per wire message,
// a MessageType discriminant, and an encode/decode pair, but the envelope
// here is JSON (spec §6's "stable across implementations" wire envelope)
// rather than lnwire's binary TLV framing.
package meshwire

import (
	"encoding/json"
	"fmt"
)

// Type identifies which of the three payloads an envelope carries.
type Type string

const (
	// TypeHello advertises LN identity to a newly connected peer.
	TypeHello Type = "hello"

	// TypePayInvoice asks the recipient to pay a BOLT-11 invoice across a
	// specific shared channel.
	TypePayInvoice Type = "payInvoice"

	// TypePaymentResult reports the outcome of a pay attempt.
	TypePaymentResult Type = "paymentResult"
)

// Payload is implemented by every message type. Canonical returns the exact
// byte sequence that both peers sign over: json.Marshal of the struct in
// its declared field order. Go's encoding/json preserves struct field
// declaration order (it is not alphabetized like map keys would be), so two
// implementations that share this struct definition reproduce identical
// bytes — that is the whole of the "canonical(message)" contract in spec
// §4.1; do not reorder these fields without bumping the protocol.
type Payload interface {
	Type() Type
	Canonical() ([]byte, error)
}

// Hello advertises the sender's LN identity (spec §4.3).
type Hello struct {
	PublicKey string `json:"publicKey"`
	Alias     string `json:"alias"`
}

func (h *Hello) Type() Type { return TypeHello }

func (h *Hello) Canonical() ([]byte, error) {
	return json.Marshal(h)
}

// PayInvoice asks the peer to pay invoice across channelId (spec §4.3).
type PayInvoice struct {
	Invoice   string `json:"invoice"`
	Tokens    string `json:"tokens"`
	ChannelID string `json:"channelId"`
	PaidTo    string `json:"paidTo"`
	PaidBy    string `json:"paidBy"`
}

func (p *PayInvoice) Type() Type { return TypePayInvoice }

func (p *PayInvoice) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// PaymentResult reports the outcome of a requested payment (spec §4.3).
type PaymentResult struct {
	Invoice     string `json:"invoice"`
	Tokens      string `json:"tokens"`
	ChannelID   string `json:"channelId"`
	PaidTo      string `json:"paidTo"`
	PaidBy      string `json:"paidBy"`
	Confirmed   bool   `json:"confirmed"`
	PaymentID   string `json:"paymentId,omitempty"`
	ConfirmedAt int64  `json:"confirmedAt,omitempty"`
	Reason      string `json:"reason,omitempty"`
	RetryAt     int64  `json:"retryAt,omitempty"`
}

func (p *PaymentResult) Type() Type { return TypePaymentResult }

func (p *PaymentResult) Canonical() ([]byte, error) {
	return json.Marshal(p)
}

// Decode parses a raw JSON payload given its declared type. Unknown types
// are reported so the caller can log and drop per spec §4.3.
func Decode(t Type, raw json.RawMessage) (Payload, error) {
	switch t {
	case TypeHello:
		var h Hello
		if err := json.Unmarshal(raw, &h); err != nil {
			return nil, err
		}
		return &h, nil
	case TypePayInvoice:
		var p PayInvoice
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	case TypePaymentResult:
		var p PaymentResult
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		return &p, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
}
