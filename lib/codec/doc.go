// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the one CBOR configuration every wire format in
// the module shares.
//
// Activities, transport frames, and handshake messages are all CBOR.
// Encoding is Core Deterministic (RFC 8949 §4.2), so the same activity
// always encodes to the same bytes regardless of which participant
// produced it. Types implementing encoding.TextMarshaler encode as
// text strings, which keeps validated identifiers compact.
//
//	data, err := codec.Marshal(envelope)
//	err = codec.Unmarshal(data, &envelope)
package codec
