// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/textop"
)

// Activity is an immutable event exchanged between participants. The
// set of implementations is closed: only the types in this package
// satisfy it.
type Activity interface {
	// Source is the participant that produced the activity.
	Source() ref.UserID

	activity()
}

// TextEdit carries text operations against one resource. A client
// sends it with BaseRevision set to the last revision it has seen; the
// host rebroadcasts it with Revision set to the revision it created.
type TextEdit struct {
	Src          ref.UserID
	Resource     ref.Resource
	BaseRevision int
	Revision     int
	Ops          []textop.Op
}

// TextEditAck tells the author of a TextEdit which revision the host
// assigned to it.
type TextEditAck struct {
	Src      ref.UserID   `cbor:"src"`
	Resource ref.Resource `cbor:"resource"`
	Revision int          `cbor:"revision"`
}

// Snapshot carries the full text of a resource at Revision. The host
// sends it to a participant that has just become able to process the
// resource's group.
type Snapshot struct {
	Src      ref.UserID   `cbor:"src"`
	Resource ref.Resource `cbor:"resource"`
	Revision int          `cbor:"revision"`
	Text     string       `cbor:"text"`
}

// EditorActivated reports which resource a participant's editor is
// focused on. A nil Resource means no editor is active.
type EditorActivated struct {
	Src      ref.UserID    `cbor:"src"`
	Resource *ref.Resource `cbor:"resource,omitempty"`
}

// SelectionChange reports a participant's selection inside an open
// resource.
type SelectionChange struct {
	Src      ref.UserID   `cbor:"src"`
	Resource ref.Resource `cbor:"resource"`
	Offset   int          `cbor:"offset"`
	Length   int          `cbor:"length"`
}

// FileDeleted reports that a resource was removed.
type FileDeleted struct {
	Src      ref.UserID   `cbor:"src"`
	Resource ref.Resource `cbor:"resource"`
}

// DeletionAck confirms a FileDeleted was applied.
type DeletionAck struct {
	Src      ref.UserID   `cbor:"src"`
	Resource ref.Resource `cbor:"resource"`
}

// Message is an application message delivered only to Targets.
type Message struct {
	Src     ref.UserID   `cbor:"src"`
	Targets []ref.UserID `cbor:"targets"`
	Topic   string       `cbor:"topic"`
	Body    []byte       `cbor:"body,omitempty"`
}

// ColorChange announces Affected's identity color. Sent by the host it
// is authoritative; sent by any other participant about itself it is a
// request to change its preferred color.
type ColorChange struct {
	Src      ref.UserID `cbor:"src"`
	Affected ref.UserID `cbor:"affected"`
	Color    int        `cbor:"color"`
}

// PermissionChange announces Affected's new permission.
type PermissionChange struct {
	Src        ref.UserID            `cbor:"src"`
	Affected   ref.UserID            `cbor:"affected"`
	Permission membership.Permission `cbor:"permission"`
}

// UserEntry describes one participant in a membership delta.
type UserEntry struct {
	ID             ref.UserID            `cbor:"id"`
	Permission     membership.Permission `cbor:"permission"`
	Color          int                   `cbor:"color"`
	PreferredColor int                   `cbor:"preferred_color"`
}

// UserListDelta tells a participant which members were added and
// removed. Round identifies the synchronization round the receiver
// must acknowledge.
type UserListDelta struct {
	Src     ref.UserID   `cbor:"src"`
	Round   string       `cbor:"round"`
	Added   []UserEntry  `cbor:"added,omitempty"`
	Removed []ref.UserID `cbor:"removed,omitempty"`
}

// UserListAck acknowledges a UserListDelta.
type UserListAck struct {
	Src   ref.UserID `cbor:"src"`
	Round string     `cbor:"round"`
}

// NOP has no effect. It is injected to flush the queuing gate.
type NOP struct {
	Src ref.UserID `cbor:"src"`
}

func (a TextEdit) Source() ref.UserID         { return a.Src }
func (a TextEditAck) Source() ref.UserID      { return a.Src }
func (a Snapshot) Source() ref.UserID         { return a.Src }
func (a EditorActivated) Source() ref.UserID  { return a.Src }
func (a SelectionChange) Source() ref.UserID  { return a.Src }
func (a FileDeleted) Source() ref.UserID      { return a.Src }
func (a DeletionAck) Source() ref.UserID      { return a.Src }
func (a Message) Source() ref.UserID          { return a.Src }
func (a ColorChange) Source() ref.UserID      { return a.Src }
func (a PermissionChange) Source() ref.UserID { return a.Src }
func (a UserListDelta) Source() ref.UserID    { return a.Src }
func (a UserListAck) Source() ref.UserID      { return a.Src }
func (a NOP) Source() ref.UserID              { return a.Src }

func (TextEdit) activity()         {}
func (TextEditAck) activity()      {}
func (Snapshot) activity()         {}
func (EditorActivated) activity()  {}
func (SelectionChange) activity()  {}
func (FileDeleted) activity()      {}
func (DeletionAck) activity()      {}
func (Message) activity()          {}
func (ColorChange) activity()      {}
func (PermissionChange) activity() {}
func (UserListDelta) activity()    {}
func (UserListAck) activity()      {}
func (NOP) activity()              {}
