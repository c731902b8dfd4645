package relink

import (
	"encoding/json"
	"time"
)

// Message is the envelope exchanged with the transport, serialized as UTF-8 JSON.
type Message struct {
	// Type names the logical message kind (e.g., "chat.post", "ping").
	Type string `json:"type"`
	// Payload is an opaque JSON value.
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate checks required fields and JSON validity.
func (m Message) Validate() error {
	if m.Type == "" {
		return ErrTypeRequired
	}
	if len(m.Payload) > 0 && !json.Valid(m.Payload) {
		return ErrInvalidPayload
	}

	return nil
}

// Encode serializes the envelope for transmission.
func (m Message) Encode() ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	return json.Marshal(m)
}

// DecodeMessage parses an inbound frame into an envelope.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, ErrInvalidEnvelope
	}
	if m.Type == "" {
		return Message{}, ErrTypeRequired
	}

	return m, nil
}

// QueuedMessage is one unit of outbound work buffered for later delivery.
type QueuedMessage struct {
	ID         ID              `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempts   int             `json:"attempts"`
}

// Envelope returns the wire envelope for the queued message.
func (q QueuedMessage) Envelope() Message {
	return Message{Type: q.Type, Payload: q.Payload}
}
