// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package listeners

import (
	"slices"
	"sync"
)

// List is a copy-on-write set of listeners. Add and Remove replace the
// backing slice, so a Snapshot taken before a change keeps iterating
// the old contents while callers add or remove listeners from inside
// a callback.
type List[T comparable] struct {
	mu    sync.Mutex
	items []T
}

// Add appends item unless it is already present. It reports whether
// the list changed.
func (l *List[T]) Add(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if slices.Contains(l.items, item) {
		return false
	}
	next := make([]T, len(l.items), len(l.items)+1)
	copy(next, l.items)
	l.items = append(next, item)
	return true
}

// Remove deletes item. It reports whether item was present.
func (l *List[T]) Remove(item T) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	i := slices.Index(l.items, item)
	if i < 0 {
		return false
	}
	l.items = slices.Delete(slices.Clone(l.items), i, i+1)
	return true
}

// Snapshot returns the current listeners. The slice must not be
// modified.
func (l *List[T]) Snapshot() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.items
}

// Clear removes every listener and returns the ones removed.
func (l *List[T]) Clear() []T {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := l.items
	l.items = nil
	return items
}

// Len returns the number of listeners.
func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
