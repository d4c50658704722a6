package meshwire

import (
	"encoding/json"
)

// Envelope is the stable wire envelope of spec §6:
//
//	{ "message": <payload>, "timestamp": <int ms>, "signature": <hex> }
//
// messageType travels alongside so the receiver knows which Payload to
// decode into; it is not itself part of the signed canonical form, which
// covers only the payload (spec §4.1: "canonical(message)").
type Envelope struct {
	MessageType Type            `json:"type"`
	Message     json.RawMessage `json:"message"`
	Timestamp   int64           `json:"timestamp"`
	Signature   string          `json:"signature"`
}

// Marshal serializes the envelope for the wire.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Unmarshal parses an envelope off the wire.
func Unmarshal(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Encode builds the raw message field of an envelope from a typed payload.
func Encode(p Payload) (Type, json.RawMessage, error) {
	raw, err := p.Canonical()
	if err != nil {
		return "", nil, err
	}
	return p.Type(), json.RawMessage(raw), nil
}
