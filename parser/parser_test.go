package parser

import (
	"testing"
)

func TestEncodeDecodeOpen(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	p := &Packet{Type: OPEN, Data: &OpenPayload{
		Sid:          "abcdefghij0123456789",
		Upgrades:     []string{"websocket"},
		PingInterval: 25000,
		PingTimeout:  20000,
		MaxPayload:   1000000,
	}}

	frame, err := enc.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame[0] != '0' {
		t.Fatalf("expected OPEN frame to start with '0', got %q", frame)
	}

	got, err := dec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != OPEN {
		t.Fatalf("expected OPEN, got %v", got.Type)
	}
}

func TestEncodeDecodeControlFrames(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	for _, typ := range []Type{CLOSE, PING, PONG} {
		frame, err := enc.Encode(&Packet{Type: typ})
		if err != nil {
			t.Fatalf("Encode(%v): %v", typ, err)
		}
		got, err := dec.Decode(frame)
		if err != nil {
			t.Fatalf("Decode(%q): %v", frame, err)
		}
		if got.Type != typ {
			t.Fatalf("round-trip %v produced %v", typ, got.Type)
		}
	}
}

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	enc := NewEncoder()
	dec := NewDecoder()

	ackId := uint64(7)
	p := &Packet{
		Type:      EVENT,
		Namespace: "/chat",
		Id:        &ackId,
		Data:      []any{"test_event", "hello"},
	}

	frame, err := enc.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `42/chat,7["test_event","hello"]`
	if frame != want {
		t.Fatalf("Encode = %q, want %q", frame, want)
	}

	got, err := dec.Decode(frame)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != EVENT || got.Namespace != "/chat" || got.Id == nil || *got.Id != 7 {
		t.Fatalf("unexpected decode result: %+v", got)
	}
	arr, ok := got.Data.([]any)
	if !ok || len(arr) != 2 || arr[0] != "test_event" || arr[1] != "hello" {
		t.Fatalf("unexpected payload: %+v", got.Data)
	}
}

func TestEncodeDefaultNamespaceOmitted(t *testing.T) {
	enc := NewEncoder()
	p := &Packet{Type: EVENT, Namespace: "/", Data: []any{"ping"}}
	frame, err := enc.Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame != `42["ping"]` {
		t.Fatalf("Encode = %q, want %q", frame, `42["ping"]`)
	}
}

func TestDecodeAckPayload(t *testing.T) {
	dec := NewDecoder()
	got, err := dec.Decode(`43/chat,7[42]`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Type != ACK || got.Namespace != "/chat" || got.Id == nil || *got.Id != 7 {
		t.Fatalf("unexpected decode result: %+v", got)
	}
}

func TestDecodeMalformedFrames(t *testing.T) {
	dec := NewDecoder()
	cases := []string{
		"9",         // unknown engine.io type
		"4",         // missing socket.io type
		"4/chat",    // namespace segment with no type digit
		"42",        // EVENT with missing payload
		`42{"a":1}`, // EVENT payload not an array
		"45",        // unknown socket.io type digit
	}
	for _, c := range cases {
		if _, err := dec.Decode(c); err == nil {
			t.Errorf("Decode(%q) expected error, got none", c)
		}
	}
}

func TestCircularSentinel(t *testing.T) {
	m := map[string]any{"a": 1}
	m["self"] = m

	enc := NewEncoder()
	frame, err := enc.Encode(&Packet{Type: EVENT, Namespace: "/", Data: []any{"loop", m}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !contains(frame, `"[Circular]"`) {
		t.Fatalf("expected circular sentinel in frame, got %q", frame)
	}
}

func TestFunctionValuesStripped(t *testing.T) {
	enc := NewEncoder()
	data := map[string]any{"cb": func() {}, "value": 1}
	frame, err := enc.Encode(&Packet{Type: EVENT, Namespace: "/", Data: []any{"x", data}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if contains(frame, "func") {
		t.Fatalf("expected function value to be stripped, got %q", frame)
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	reg := DefaultRegistry()

	frame, err := reg.EncodeBinary("ping", []byte("hello"))
	if err != nil {
		t.Fatalf("EncodeBinary: %v", err)
	}
	if !IsBinaryFrame(frame) {
		t.Fatalf("expected binary frame to carry magic byte")
	}

	name, payload, err := reg.DecodeBinary(frame)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	if name != "ping" || string(payload) != "hello" {
		t.Fatalf("round-trip mismatch: name=%q payload=%q", name, payload)
	}
}

func TestBinaryUnregisteredFallsBackToText(t *testing.T) {
	reg := DefaultRegistry()
	if _, err := reg.EncodeBinary("not_in_registry", []byte("x")); err == nil {
		t.Fatalf("expected error for unregistered event")
	}
}

func TestBinaryPayloadCapped(t *testing.T) {
	reg := DefaultRegistry()
	big := make([]byte, 256)
	if _, err := reg.EncodeBinary("ping", big); err == nil {
		t.Fatalf("expected error for payload over 255 bytes")
	}
}

func TestBinaryFloatRoundTrip(t *testing.T) {
	reg := DefaultRegistry()
	frame, err := reg.EncodeBinaryFloat32("message", 3.5)
	if err != nil {
		t.Fatalf("EncodeBinaryFloat32: %v", err)
	}
	_, payload, err := reg.DecodeBinary(frame)
	if err != nil {
		t.Fatalf("DecodeBinary: %v", err)
	}
	got, err := DecodeBinaryFloat32(payload)
	if err != nil {
		t.Fatalf("DecodeBinaryFloat32: %v", err)
	}
	if got != 3.5 {
		t.Fatalf("got %v, want 3.5", got)
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
