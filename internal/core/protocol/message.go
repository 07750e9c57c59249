package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// MessageType tags the payload carried by an Envelope.
type MessageType string

const (
	// MessagePose carries a PoseFrame from a device publisher.
	MessagePose MessageType = "pose"
	// MessageLost tells the server a device lost tracking; payload is a LostFrame.
	MessageLost MessageType = "lost"
	// MessageReading carries a ReadingFrame to feed subscribers.
	MessageReading MessageType = "reading"
	// MessageFailure carries a FailureFrame to feed subscribers.
	MessageFailure MessageType = "failure"
	// MessageAck acknowledges accepted frames; payload is an AckFrame.
	MessageAck MessageType = "ack"
	// MessageHello opens a QUIC stream; payload is a HelloFrame.
	MessageHello MessageType = "hello"
)

// Envelope is the unit written on every transport.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MaxMessageSize bounds a single encoded envelope.
const MaxMessageSize = 64 * 1024

// JSONCodec encodes envelopes as JSON objects.
type JSONCodec struct{}

// Encode wraps payload in an envelope of the given type.
func (JSONCodec) Encode(typ MessageType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.Wrap(ErrSerializationFailed, err.Error())
	}
	data, err := json.Marshal(Envelope{Type: typ, Payload: raw})
	if err != nil {
		return nil, errors.Wrap(ErrSerializationFailed, err.Error())
	}
	if len(data) > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}
	return data, nil
}

// Decode parses an envelope without interpreting the payload.
func (JSONCodec) Decode(data []byte) (Envelope, error) {
	if len(data) > MaxMessageSize {
		return Envelope{}, ErrMessageTooLarge
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.Wrap(ErrDeserializationFailed, err.Error())
	}
	if env.Type == "" {
		return Envelope{}, errors.Wrap(ErrInvalidMessage, "missing type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
func (e Envelope) DecodePayload(v any) error {
	if len(e.Payload) == 0 {
		return errors.Wrapf(ErrInvalidMessage, "%s message without payload", e.Type)
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return errors.Wrapf(ErrDeserializationFailed, "%s payload: %v", e.Type, err)
	}
	return nil
}
