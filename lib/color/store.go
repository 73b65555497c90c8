// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package color

import (
	"context"
	"encoding/hex"
	"maps"
	"slices"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/tandem/lib/ref"
)

// Assignment is a persisted reconciliation result for one participant
// set: the colors chosen and the preferences they were chosen under.
type Assignment struct {
	Colors      map[ref.UserID]int
	Preferences map[ref.UserID]int
}

// Store persists assignments keyed by participant set.
type Store interface {
	// Load returns the last assignment saved under key. ok is false
	// when none exists.
	Load(ctx context.Context, key string) (assignment Assignment, ok bool, err error)

	// Save replaces the assignment stored under key.
	Save(ctx context.Context, key string, assignment Assignment) error
}

// setKeyDomain separates participant-set keys from any other BLAKE3
// keyed hash.
var setKeyDomain = [32]byte{
	't', 'a', 'n', 'd', 'e', 'm', '.', 'c', 'o', 'l', 'o', 'r', '.',
	's', 'e', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// SetKey derives the store key for a participant set. The key does not
// depend on the order of ids.
func SetKey(ids []ref.UserID) string {
	hasher, err := blake3.NewKeyed(setKeyDomain[:])
	if err != nil {
		panic("color: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, id := range ref.SortUserIDs(ids) {
		hasher.Write([]byte(id))
		hasher.Write([]byte{0})
	}
	return hex.EncodeToString(hasher.Sum(nil))
}

// MemoryStore is a Store held in memory.
type MemoryStore struct {
	mu          sync.Mutex
	assignments map[string]Assignment
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[string]Assignment)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	assignment, ok := s.assignments[key]
	if !ok {
		return Assignment{}, false, nil
	}
	return cloneAssignment(assignment), true, nil
}

func (s *MemoryStore) Save(_ context.Context, key string, assignment Assignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[key] = cloneAssignment(assignment)
	return nil
}

// Keys returns the stored keys, sorted.
func (s *MemoryStore) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.assignments))
}

func cloneAssignment(a Assignment) Assignment {
	return Assignment{Colors: maps.Clone(a.Colors), Preferences: maps.Clone(a.Preferences)}
}
