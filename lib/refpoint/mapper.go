// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package refpoint

import (
	"errors"
	"fmt"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/tandem/lib/ref"
)

var (
	// ErrRemapped is returned when a handle or id is already bound to
	// something else.
	ErrRemapped = errors.New("resource group already mapped")

	// ErrNested is returned when a handle lies inside, or contains, a
	// handle that is already shared.
	ErrNested = errors.New("resource groups may not nest")
)

// Handle is the local, slash-separated location of a resource group,
// for example the root directory of a project.
type Handle string

// Mapper binds local group handles to session-wide group ids and, on
// the host, tracks which participants can process which groups.
type Mapper struct {
	mu         sync.RWMutex
	idToHandle map[ref.GroupID]Handle
	handleToID map[Handle]ref.GroupID
	userGroups map[ref.UserID]map[ref.GroupID]struct{}
}

// New returns an empty mapper.
func New() *Mapper {
	return &Mapper{
		idToHandle: make(map[ref.GroupID]Handle),
		handleToID: make(map[Handle]ref.GroupID),
		userGroups: make(map[ref.UserID]map[ref.GroupID]struct{}),
	}
}

// Share binds handle to id. Sharing the same pair again is a no-op.
func (m *Mapper) Share(id ref.GroupID, handle Handle) error {
	if err := id.Validate(); err != nil {
		return err
	}
	cleaned := Handle(path.Clean(string(handle)))
	if cleaned == "." || cleaned == "" {
		return fmt.Errorf("empty handle for group %s", id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.handleToID[cleaned]; ok {
		if existing == id {
			return nil
		}
		return fmt.Errorf("handle %s is shared as %s, not %s: %w", cleaned, existing, id, ErrRemapped)
	}
	if existing, ok := m.idToHandle[id]; ok {
		return fmt.Errorf("group %s is bound to %s, not %s: %w", id, existing, cleaned, ErrRemapped)
	}
	for other := range m.handleToID {
		if contains(other, cleaned) || contains(cleaned, other) {
			return fmt.Errorf("handle %s overlaps shared handle %s: %w", cleaned, other, ErrNested)
		}
	}

	m.idToHandle[id] = cleaned
	m.handleToID[cleaned] = id
	return nil
}

// Unshare removes the binding for id and forgets which participants
// had it.
func (m *Mapper) Unshare(id ref.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	handle, ok := m.idToHandle[id]
	if !ok {
		return
	}
	delete(m.idToHandle, id)
	delete(m.handleToID, handle)
	for _, groups := range m.userGroups {
		delete(groups, id)
	}
}

// ID returns the group id bound to handle.
func (m *Mapper) ID(handle Handle) (ref.GroupID, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.handleToID[Handle(path.Clean(string(handle)))]
	return id, ok
}

// Handle returns the local handle bound to id.
func (m *Mapper) Handle(id ref.GroupID) (Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	handle, ok := m.idToHandle[id]
	return handle, ok
}

// IsShared reports whether id is bound.
func (m *Mapper) IsShared(id ref.GroupID) bool {
	_, ok := m.Handle(id)
	return ok
}

// Resolve maps a local file location to the resource it names inside a
// shared group.
func (m *Mapper) Resolve(location string) (ref.Resource, bool) {
	cleaned := path.Clean(location)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for handle, id := range m.handleToID {
		if rel, ok := relative(handle, cleaned); ok {
			return ref.Resource{Group: id, Path: rel}, true
		}
	}
	return ref.Resource{}, false
}

// Groups returns the shared group ids, sorted.
func (m *Mapper) Groups() []ref.GroupID {
	m.mu.RLock()
	ids := make([]ref.GroupID, 0, len(m.idToHandle))
	for id := range m.idToHandle {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// MarkHasAllGroups records that user can process every group currently
// shared. Groups shared later must be marked individually.
func (m *Mapper) MarkHasAllGroups(user ref.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	groups := m.userGroupsLocked(user)
	for id := range m.idToHandle {
		groups[id] = struct{}{}
	}
}

// MarkHasGroup records that user can process id.
func (m *Mapper) MarkHasGroup(user ref.UserID, id ref.GroupID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userGroupsLocked(user)[id] = struct{}{}
}

// UserHasGroup reports whether user is known to process id.
func (m *Mapper) UserHasGroup(user ref.UserID, id ref.GroupID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.userGroups[user][id]
	return ok
}

// UsersWithGroup filters users down to those known to process id,
// preserving order.
func (m *Mapper) UsersWithGroup(users []ref.UserID, id ref.GroupID) []ref.UserID {
	m.mu.RLock()
	defer m.mu.RUnlock()
	filtered := make([]ref.UserID, 0, len(users))
	for _, user := range users {
		if _, ok := m.userGroups[user][id]; ok {
			filtered = append(filtered, user)
		}
	}
	return filtered
}

// RemoveUser forgets every group user had.
func (m *Mapper) RemoveUser(user ref.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userGroups, user)
}

func (m *Mapper) userGroupsLocked(user ref.UserID) map[ref.GroupID]struct{} {
	groups, ok := m.userGroups[user]
	if !ok {
		groups = make(map[ref.GroupID]struct{})
		m.userGroups[user] = groups
	}
	return groups
}

// contains reports whether inner equals or lies below outer.
func contains(outer, inner Handle) bool {
	if outer == inner {
		return true
	}
	if outer == "/" {
		return strings.HasPrefix(string(inner), "/")
	}
	return strings.HasPrefix(string(inner), string(outer)+"/")
}

func relative(root Handle, location string) (string, bool) {
	if !contains(root, Handle(location)) || Handle(location) == root {
		return "", false
	}
	rel := strings.TrimPrefix(location, string(root))
	return strings.TrimPrefix(rel, "/"), true
}
