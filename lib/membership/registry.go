// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bureau-foundation/tandem/lib/ref"
)

// ErrAlreadyPresent is returned when adding an identity that is
// already registered.
var ErrAlreadyPresent = errors.New("participant already present")

// Registry maps identities to participants. Reads may run
// concurrently with each other; writes are exclusive.
type Registry struct {
	mu           sync.RWMutex
	participants map[ref.UserID]*Participant
	nextSequence uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{participants: make(map[ref.UserID]*Participant)}
}

// Add inserts p and stamps its join sequence.
func (r *Registry) Add(p *Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.participants[p.id]; exists {
		return fmt.Errorf("%s: %w", p.id, ErrAlreadyPresent)
	}
	r.nextSequence++
	p.mu.Lock()
	p.sequence = r.nextSequence
	p.mu.Unlock()
	r.participants[p.id] = p
	return nil
}

// Remove detaches id and returns the participant that was removed, or
// nil.
func (r *Registry) Remove(id ref.UserID) *Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.participants[id]
	delete(r.participants, id)
	return p
}

// Get returns the participant for id, or nil.
func (r *Registry) Get(id ref.UserID) *Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.participants[id]
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.participants)
}

// All returns every participant in join order.
func (r *Registry) All() []*Participant {
	r.mu.RLock()
	all := make([]*Participant, 0, len(r.participants))
	for _, p := range r.participants {
		all = append(all, p)
	}
	r.mu.RUnlock()
	slices.SortFunc(all, func(a, b *Participant) int {
		return cmp.Compare(a.Sequence(), b.Sequence())
	})
	return all
}

// Others returns every participant except id, in join order.
func (r *Registry) Others(id ref.UserID) []*Participant {
	return slices.DeleteFunc(r.All(), func(p *Participant) bool { return p.id == id })
}

// IDs returns the identities of participants, in the order given.
func IDs(participants []*Participant) []ref.UserID {
	ids := make([]ref.UserID, len(participants))
	for i, p := range participants {
		ids[i] = p.id
	}
	return ids
}
