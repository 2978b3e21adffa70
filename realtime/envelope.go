package realtime

import (
	"bytes"
	"encoding/json"
)

// Envelope is the unit exchanged over the stream. Type selects the topic
// subscribers; Payload is opaque to the client and decoded by subscribers.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// DecodePayload unmarshals the payload into a value of type T.
func DecodePayload[T any](payload json.RawMessage) (T, error) {
	var value T
	if len(payload) == 0 {
		return value, NewError(ProtocolError, "empty payload")
	}
	if err := json.Unmarshal(payload, &value); err != nil {
		return value, NewError(ProtocolError, err)
	}
	return value, nil
}

func parseEnvelope(frame []byte) (Envelope, error) {
	var envelope Envelope
	trimmed := bytes.TrimSpace(frame)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return envelope, NewError(ProtocolError, "frame is not a JSON object")
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return envelope, NewError(ProtocolError, err)
	}
	return envelope, nil
}

func encodeEnvelope(topic string, payload interface{}) ([]byte, error) {
	envelope := Envelope{Type: topic}
	switch value := payload.(type) {
	case nil:
	case json.RawMessage:
		if len(value) > 0 {
			if !json.Valid(value) {
				return nil, NewError(ProtocolError, "payload is not valid JSON")
			}
			envelope.Payload = value
		}
	default:
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, NewError(ProtocolError, err)
		}
		envelope.Payload = raw
	}
	return json.Marshal(envelope)
}
