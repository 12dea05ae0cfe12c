package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Envelope is the {type, payload} unit carried by both transports.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Topic returns the parsed envelope type.
func (e Envelope) Topic() Topic {
	return ParseTopic(e.Type)
}

// Decode reasons reported by DecodeError.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownType = "unknown_type"
)

// DecodeError describes an inbound message that cannot be published.
type DecodeError struct {
	Reason string
	Type   string
	Err    error
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "decode error"
	}
	if e.Reason == ReasonUnknownType {
		return fmt.Sprintf("unknown envelope type %q", e.Type)
	}
	return fmt.Sprintf("malformed envelope: %v", e.Err)
}

func (e *DecodeError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Decode parses one raw envelope and validates its type against the closed
// topic set. A missing payload decodes as an empty JSON object; any other
// non-object payload is malformed.
func Decode(raw []byte) (Envelope, Topic, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, TopicUnknown, &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	topic := env.Topic()
	if topic == TopicUnknown {
		return env, TopicUnknown, &DecodeError{Reason: ReasonUnknownType, Type: env.Type}
	}
	payload := bytes.TrimSpace(env.Payload)
	switch {
	case len(payload) == 0 || bytes.Equal(payload, []byte("null")):
		env.Payload = json.RawMessage(`{}`)
	case payload[0] != '{':
		return env, topic, &DecodeError{Reason: ReasonMalformed, Type: env.Type, Err: errors.New("payload is not an object")}
	}
	return env, topic, nil
}

// DecodeBatch splits a JSON array of envelopes into raw elements, preserving
// array order.
func DecodeBatch(raw []byte) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, &DecodeError{Reason: ReasonMalformed, Err: err}
	}
	return items, nil
}

// Marshal encodes topic and payload as an envelope.
func Marshal(topic Topic, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: topic.String(), Payload: body})
}
