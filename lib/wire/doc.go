// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire frames messages on a byte stream.
//
// Every frame is a 10-byte header followed by the payload: 1 byte
// frame type, 1 byte [Compression], 4 bytes payload length and 4 bytes
// uncompressed length, both big-endian. Payloads at or above a
// threshold are compressed with LZ4 or zstd when that makes them
// smaller.
package wire
