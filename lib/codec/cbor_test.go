// Copyright 2026 The Rexec Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

func TestMarshalDeterministic(t *testing.T) {
	value := map[string]any{
		"zebra": 1,
		"apple": 2,
		"mango": 3,
	}

	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	second, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Errorf("deterministic encoding produced different bytes:\n%x\n%x", first, second)
	}
}

func TestRoundTrip(t *testing.T) {
	type frame struct {
		Kind    string `cbor:"kind"`
		Payload []byte `cbor:"payload,omitempty"`
		Seq     uint64 `cbor:"seq,omitempty"`
	}

	original := frame{Kind: "result", Payload: []byte("hello"), Seq: 42}

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded frame
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Kind != original.Kind || decoded.Seq != original.Seq {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, original)
	}
	if !bytes.Equal(decoded.Payload, original.Payload) {
		t.Errorf("payload mismatch: got %q, want %q", decoded.Payload, original.Payload)
	}
}

func TestUnknownFieldsIgnored(t *testing.T) {
	sent := map[string]any{
		"kind":   "register",
		"future": "field from a newer client",
	}
	data, err := Marshal(sent)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var decoded struct {
		Kind string `cbor:"kind"`
	}
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal with unknown field: %v", err)
	}
	if decoded.Kind != "register" {
		t.Errorf("Kind = %q, want %q", decoded.Kind, "register")
	}
}

func TestStreamEncoderDecoder(t *testing.T) {
	var buffer bytes.Buffer
	encoder := NewEncoder(&buffer)

	// Multiple frames on one stream, no framing protocol between them.
	for _, kind := range []string{"register", "heartbeat", "ready"} {
		if err := encoder.Encode(map[string]string{"kind": kind}); err != nil {
			t.Fatalf("Encode(%q): %v", kind, err)
		}
	}

	decoder := NewDecoder(&buffer)
	for _, want := range []string{"register", "heartbeat", "ready"} {
		var frame struct {
			Kind string `cbor:"kind"`
		}
		if err := decoder.Decode(&frame); err != nil {
			t.Fatalf("Decode: %v", err)
		}
		if frame.Kind != want {
			t.Errorf("Kind = %q, want %q", frame.Kind, want)
		}
	}
}

func TestRawMessagePassthrough(t *testing.T) {
	original, err := Marshal(map[string]int{"correlation_id": 7})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw RawMessage
	if err := Unmarshal(original, &raw); err != nil {
		t.Fatalf("Unmarshal into RawMessage: %v", err)
	}
	if !bytes.Equal(raw, original) {
		t.Errorf("RawMessage altered bytes:\ngot  %x\nwant %x", raw, original)
	}
}
