// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type handle string

func (h handle) MarshalText() ([]byte, error) { return []byte("h:" + string(h)), nil }

func (h *handle) UnmarshalText(data []byte) error {
	*h = handle(bytes.TrimPrefix(data, []byte("h:")))
	return nil
}

type sample struct {
	Kind   string            `cbor:"kind"`
	Owner  handle            `cbor:"owner"`
	Labels map[string]string `cbor:"labels,omitempty"`
}

func TestMarshalDeterministic(t *testing.T) {
	value := sample{
		Kind:   "text_edit",
		Owner:  "alice",
		Labels: map[string]string{"z": "1", "a": "2", "m": "3"},
	}
	first, err := Marshal(value)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for range 10 {
		again, err := Marshal(value)
		if err != nil {
			t.Fatalf("Marshal: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("Marshal produced different bytes for the same value")
		}
	}
}

func TestTextMarshalerEncodesAsString(t *testing.T) {
	data, err := Marshal(sample{Kind: "nop", Owner: "bob"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Contains(data, []byte("h:bob")) {
		t.Errorf("encoded form %x does not contain the MarshalText output", data)
	}

	var decoded sample
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Owner != "bob" {
		t.Errorf("Owner = %q, want %q", decoded.Owner, "bob")
	}
}

func TestRawMessageDefersDecoding(t *testing.T) {
	inner, err := Marshal(sample{Kind: "inner", Owner: "carol"})
	if err != nil {
		t.Fatalf("Marshal inner: %v", err)
	}
	type wrapper struct {
		Body RawMessage `cbor:"body"`
	}
	data, err := Marshal(wrapper{Body: inner})
	if err != nil {
		t.Fatalf("Marshal wrapper: %v", err)
	}

	var decoded wrapper
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal wrapper: %v", err)
	}
	if !bytes.Equal(decoded.Body, inner) {
		t.Fatalf("Body = %x, want %x", []byte(decoded.Body), inner)
	}
}

func TestUnmarshalInvalidCBOR(t *testing.T) {
	var decoded sample
	if err := Unmarshal([]byte{0xff, 0xfe}, &decoded); err == nil {
		t.Error("Unmarshal accepted invalid CBOR")
	}
}
