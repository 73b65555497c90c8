// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ref

import (
	"errors"
	"fmt"
	"slices"
	"unicode"
)

// ErrInvalidID is returned for identifiers that are empty, too long,
// or contain whitespace or control characters.
var ErrInvalidID = errors.New("invalid identifier")

const maxIDLength = 255

// UserID is the network identity of a participant.
type UserID string

// GroupID is the session-wide identifier of a shared resource group.
type GroupID string

// ParseUserID validates s as a participant identity.
func ParseUserID(s string) (UserID, error) {
	if err := validate(s); err != nil {
		return "", fmt.Errorf("user id %q: %w", s, err)
	}
	return UserID(s), nil
}

// ParseGroupID validates s as a resource group identifier.
func ParseGroupID(s string) (GroupID, error) {
	if err := validate(s); err != nil {
		return "", fmt.Errorf("group id %q: %w", s, err)
	}
	return GroupID(s), nil
}

// Validate reports whether id is well formed.
func (id UserID) Validate() error { return validate(string(id)) }

// Validate reports whether id is well formed.
func (id GroupID) Validate() error { return validate(string(id)) }

func (id UserID) String() string  { return string(id) }
func (id GroupID) String() string { return string(id) }

// MarshalText implements encoding.TextMarshaler.
func (id UserID) MarshalText() ([]byte, error) { return []byte(id), nil }

// UnmarshalText validates the decoded identity so a malformed peer
// cannot introduce an unusable participant.
func (id *UserID) UnmarshalText(data []byte) error {
	parsed, err := ParseUserID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (id GroupID) MarshalText() ([]byte, error) { return []byte(id), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *GroupID) UnmarshalText(data []byte) error {
	parsed, err := ParseGroupID(string(data))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func validate(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidID)
	}
	if len(s) > maxIDLength {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidID, len(s), maxIDLength)
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return fmt.Errorf("%w: contains whitespace or control character", ErrInvalidID)
		}
	}
	return nil
}

// Resource names one shareable unit: a path relative to the root of a
// shared resource group.
type Resource struct {
	Group GroupID `cbor:"group"`
	Path  string  `cbor:"path"`
}

func (r Resource) String() string { return string(r.Group) + ":" + r.Path }

// SortUserIDs returns a sorted copy of ids.
func SortUserIDs(ids []UserID) []UserID {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	return sorted
}

// ContainsUser reports whether id is in ids.
func ContainsUser(ids []UserID, id UserID) bool {
	return slices.Contains(ids, id)
}
