package relink

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestMessageValidate(t *testing.T) {
	validPayload := json.RawMessage(`{"ok":true}`)

	cases := []struct {
		name string
		msg  Message
		err  error
	}{
		{
			name: "missing type",
			msg:  Message{Payload: validPayload},
			err:  ErrTypeRequired,
		},
		{
			name: "invalid payload",
			msg:  Message{Type: "chat.post", Payload: json.RawMessage(`{`)},
			err:  ErrInvalidPayload,
		},
		{
			name: "valid",
			msg:  Message{Type: "chat.post", Payload: validPayload},
			err:  nil,
		},
		{
			name: "valid without payload",
			msg:  Message{Type: "chat.leave"},
			err:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.msg.Validate()
			if tc.err == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.err != nil && !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}

func TestMessageEncodeDecodeRoundTrip(t *testing.T) {
	msg := Message{Type: "telemetry", Payload: json.RawMessage(`{"v":42}`)}

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}

	decoded, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if decoded.Type != msg.Type {
		t.Fatalf("expected type %q, got %q", msg.Type, decoded.Type)
	}
	if string(decoded.Payload) != string(msg.Payload) {
		t.Fatalf("expected payload %s, got %s", msg.Payload, decoded.Payload)
	}
}

func TestDecodeMessageRejects(t *testing.T) {
	cases := []struct {
		name string
		data string
		err  error
	}{
		{name: "malformed json", data: `{"type":`, err: ErrInvalidEnvelope},
		{name: "not an object", data: `[1,2,3]`, err: ErrInvalidEnvelope},
		{name: "missing type", data: `{"payload":{}}`, err: ErrTypeRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeMessage([]byte(tc.data)); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
		})
	}
}
