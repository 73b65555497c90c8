// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Frame types.
const (
	// FrameActivity carries one activity encoded by the activity codec.
	FrameActivity byte = 0x01

	// FrameHello opens a connection. The payload names the joining
	// participant.
	FrameHello byte = 0x02

	// FrameWelcome accepts a Hello. The payload names the host.
	FrameWelcome byte = 0x03

	// FrameReject refuses a Hello. The payload carries the reason.
	FrameReject byte = 0x04
)

// headerLength is 1 byte type, 1 byte compression, 4 bytes payload
// length and 4 bytes uncompressed length, both big-endian.
const headerLength = 10

// MaxPayloadLength bounds both the compressed and uncompressed size of
// a frame payload.
const MaxPayloadLength = 16 * 1024 * 1024

// DefaultThreshold is the smallest payload worth compressing.
const DefaultThreshold = 512

// Frame is one message on a stream. Payload is always uncompressed.
type Frame struct {
	Type    byte
	Payload []byte
}

// Options controls how frames are written.
type Options struct {
	Compression Compression

	// Threshold is the payload size from which compression is
	// attempted. Zero means DefaultThreshold.
	Threshold int
}

// WriteFrame writes frame to w in a single Write call. Payloads at or
// above the threshold are compressed unless compression would not
// shrink them.
func WriteFrame(w io.Writer, frame Frame, options Options) error {
	if len(frame.Payload) > MaxPayloadLength {
		return fmt.Errorf("wire: payload length %d exceeds maximum %d", len(frame.Payload), MaxPayloadLength)
	}
	threshold := options.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	payload, method := frame.Payload, CompressionNone
	if options.Compression != CompressionNone && len(frame.Payload) >= threshold {
		compressed, err := compress(frame.Payload, options.Compression)
		switch {
		case err == nil:
			payload, method = compressed, options.Compression
		case !errors.Is(err, errIncompressible):
			return fmt.Errorf("wire: %w", err)
		}
	}

	buffer := make([]byte, headerLength+len(payload))
	buffer[0] = frame.Type
	buffer[1] = byte(method)
	binary.BigEndian.PutUint32(buffer[2:6], uint32(len(payload)))
	binary.BigEndian.PutUint32(buffer[6:10], uint32(len(frame.Payload)))
	copy(buffer[headerLength:], payload)
	if _, err := w.Write(buffer); err != nil {
		return fmt.Errorf("wire: write frame: %w", err)
	}
	return nil
}

// ReadFrame reads and decompresses one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var header [headerLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame header: %w", err)
	}
	method := Compression(header[1])
	payloadLength := binary.BigEndian.Uint32(header[2:6])
	rawLength := binary.BigEndian.Uint32(header[6:10])
	if payloadLength > MaxPayloadLength || rawLength > MaxPayloadLength {
		return Frame{}, fmt.Errorf("wire: payload length %d (%d uncompressed) exceeds maximum %d",
			payloadLength, rawLength, MaxPayloadLength)
	}

	payload := make([]byte, payloadLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, fmt.Errorf("wire: read frame payload: %w", err)
	}
	raw, err := decompress(payload, method, int(rawLength))
	if err != nil {
		return Frame{}, fmt.Errorf("wire: frame type 0x%02x: %w", header[0], err)
	}
	return Frame{Type: header[0], Payload: raw}, nil
}
