// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package textop

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrOutOfBounds is returned when an operation addresses bytes outside
// the document.
var ErrOutOfBounds = errors.New("operation out of bounds")

// Op is a single text operation. Positions and lengths are byte
// offsets.
type Op interface {
	// Encode returns the compact string form: "i,<pos>,<text>" or
	// "d,<pos>,<len>".
	Encode() string

	// Apply returns s with the operation applied.
	Apply(s string) (string, error)
}

// Insert inserts Value before byte Pos.
type Insert struct {
	Pos   int
	Value string
}

func (op Insert) Encode() string { return fmt.Sprintf("i,%d,%s", op.Pos, op.Value) }

func (op Insert) Apply(s string) (string, error) {
	if op.Pos < 0 || op.Pos > len(s) {
		return "", fmt.Errorf("insert at %d in %d bytes: %w", op.Pos, len(s), ErrOutOfBounds)
	}
	return s[:op.Pos] + op.Value + s[op.Pos:], nil
}

// Delete removes Len bytes starting at Pos.
type Delete struct {
	Pos int
	Len int
}

func (op Delete) Encode() string { return fmt.Sprintf("d,%d,%d", op.Pos, op.Len) }

func (op Delete) Apply(s string) (string, error) {
	if op.Pos < 0 || op.Len < 0 || op.Pos+op.Len > len(s) {
		return "", fmt.Errorf("delete %d+%d in %d bytes: %w", op.Pos, op.Len, len(s), ErrOutOfBounds)
	}
	return s[:op.Pos] + s[op.Pos+op.Len:], nil
}

// Decode parses the string form produced by Encode.
func Decode(s string) (Op, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) < 3 {
		return nil, fmt.Errorf("malformed op %q", s)
	}
	pos, err := strconv.Atoi(parts[1])
	if err != nil {
		return nil, fmt.Errorf("op %q position: %w", s, err)
	}
	switch parts[0] {
	case "i":
		return Insert{Pos: pos, Value: parts[2]}, nil
	case "d":
		length, err := strconv.Atoi(parts[2])
		if err != nil {
			return nil, fmt.Errorf("op %q length: %w", s, err)
		}
		return Delete{Pos: pos, Len: length}, nil
	default:
		return nil, fmt.Errorf("unknown op type %q", parts[0])
	}
}

// EncodeAll encodes a sequence of operations.
func EncodeAll(ops []Op) []string {
	encoded := make([]string, len(ops))
	for i, op := range ops {
		encoded[i] = op.Encode()
	}
	return encoded
}

// DecodeAll decodes a sequence produced by EncodeAll.
func DecodeAll(encoded []string) ([]Op, error) {
	ops := make([]Op, len(encoded))
	for i, s := range encoded {
		op, err := Decode(s)
		if err != nil {
			return nil, err
		}
		ops[i] = op
	}
	return ops, nil
}

// ApplyAll applies ops to s in order.
func ApplyAll(s string, ops []Op) (string, error) {
	for _, op := range ops {
		var err error
		if s, err = op.Apply(s); err != nil {
			return "", err
		}
	}
	return s, nil
}

// Transform completes the diamond for two operations a and b defined
// on the same document: a' applies after b, b' applies after a, and
// both paths converge. b wins ties between inserts at the same
// position.
func Transform(a, b Op) (Op, Op) {
	switch a := a.(type) {
	case Insert:
		switch b := b.(type) {
		case Insert:
			if b.Pos <= a.Pos {
				return Insert{a.Pos + len(b.Value), a.Value}, b
			}
			return a, Insert{b.Pos + len(a.Value), b.Value}
		case Delete:
			return transformInsertDelete(a, b)
		}
	case Delete:
		switch b := b.(type) {
		case Insert:
			insert, del := transformInsertDelete(b, a)
			return del, insert
		case Delete:
			return transformDeleteDelete(a, b), transformDeleteDelete(b, a)
		}
	}
	panic(fmt.Sprintf("textop: unknown operation pair %T, %T", a, b))
}

func transformInsertDelete(a Insert, b Delete) (Op, Op) {
	switch {
	case a.Pos <= b.Pos:
		return a, Delete{b.Pos + len(a.Value), b.Len}
	case a.Pos >= b.Pos+b.Len:
		return Insert{a.Pos - b.Len, a.Value}, b
	default:
		// The insert lands inside the deleted range: the delete swallows
		// it and the insert collapses.
		return Insert{b.Pos, ""}, Delete{b.Pos, b.Len + len(a.Value)}
	}
}

// transformDeleteDelete returns a rebased onto a document where b has
// already been applied.
func transformDeleteDelete(a, b Delete) Delete {
	aEnd, bEnd := a.Pos+a.Len, b.Pos+b.Len
	overlap := max(0, min(aEnd, bEnd)-max(a.Pos, b.Pos))
	return Delete{Pos: mapThroughDelete(a.Pos, b), Len: a.Len - overlap}
}

func mapThroughDelete(pos int, d Delete) int {
	switch {
	case pos <= d.Pos:
		return pos
	case pos >= d.Pos+d.Len:
		return pos - d.Len
	default:
		return d.Pos
	}
}

// TransformSeq transforms two operation sequences defined on the same
// document. The returned a' applies after b and b' applies after a.
// b takes priority, as in Transform.
func TransformSeq(a, b []Op) ([]Op, []Op) {
	aNew, bNew := make([]Op, len(a)), make([]Op, len(b))
	copy(aNew, a)
	for i, bOp := range b {
		for j, aOp := range aNew {
			aNew[j], bOp = Transform(aOp, bOp)
		}
		bNew[i] = bOp
	}
	return aNew, bNew
}
