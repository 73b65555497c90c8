// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package membership

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/tandem/lib/ref"
)

// UnknownColor marks a participant without an assigned or preferred
// color.
const UnknownColor = -1

// Permission controls whether a participant may modify shared
// resources.
type Permission uint8

const (
	// Write allows edits, deletions, and all other activities.
	Write Permission = iota
	// ReadOnly participants observe; the host drops their writes.
	ReadOnly
)

func (p Permission) String() string {
	switch p {
	case Write:
		return "write"
	case ReadOnly:
		return "readonly"
	default:
		return fmt.Sprintf("permission(%d)", uint8(p))
	}
}

// ParsePermission parses the String form.
func ParsePermission(s string) (Permission, error) {
	switch s {
	case "write":
		return Write, nil
	case "readonly":
		return ReadOnly, nil
	default:
		return 0, fmt.Errorf("unknown permission %q", s)
	}
}

// Participant is one member of a session. Identity and host role are
// fixed; everything else is mutated in place and safe for concurrent
// access. A Participant removed from the registry stays valid for
// holders of the pointer.
type Participant struct {
	id   ref.UserID
	host bool

	mu             sync.RWMutex
	permission     Permission
	color          int
	preferredColor int
	inSession      bool
	sequence       uint64
}

// NewParticipant returns a participant with no colors assigned and
// not yet in session.
func NewParticipant(id ref.UserID, host bool, permission Permission) *Participant {
	return &Participant{
		id:             id,
		host:           host,
		permission:     permission,
		color:          UnknownColor,
		preferredColor: UnknownColor,
	}
}

func (p *Participant) ID() ref.UserID { return p.id }
func (p *Participant) IsHost() bool   { return p.host }

func (p *Participant) Permission() Permission {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.permission
}

func (p *Participant) SetPermission(permission Permission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.permission = permission
}

// HasWriteAccess reports whether the participant may modify
// resources.
func (p *Participant) HasWriteAccess() bool { return p.Permission() == Write }

func (p *Participant) Color() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.color
}

func (p *Participant) SetColor(color int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.color = color
}

func (p *Participant) PreferredColor() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.preferredColor
}

func (p *Participant) SetPreferredColor(color int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preferredColor = color
}

// InSession reports whether the participant is currently part of the
// session. It is cleared exactly once, by the leave path.
func (p *Participant) InSession() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.inSession
}

func (p *Participant) SetInSession(inSession bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inSession = inSession
}

// LeaveSession clears the in-session flag and reports whether this
// call was the one that cleared it.
func (p *Participant) LeaveSession() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.inSession
	p.inSession = false
	return was
}

// Sequence is the order in which the participant was added to its
// registry. Lower joined earlier.
func (p *Participant) Sequence() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sequence
}

func (p *Participant) String() string {
	if p.host {
		return string(p.id) + " (host)"
	}
	return string(p.id)
}
