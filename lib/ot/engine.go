// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ot

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/dispatch"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/textop"
)

var (
	// ErrRevisionOutOfRange is returned for an edit whose base revision
	// the host has never produced.
	ErrRevisionOutOfRange = errors.New("ot: base revision out of range")

	// ErrNotParented is returned for an edit that was not based on the
	// author's latest acknowledged revision.
	ErrNotParented = errors.New("ot: edit was not parented on the host's history")

	// ErrUnexpectedAck is returned for an acknowledgment that arrives
	// while no edit is outstanding.
	ErrUnexpectedAck = errors.New("ot: acknowledgment without an outstanding edit")
)

// Config configures an Engine.
type Config struct {
	// Local is the participant this engine runs for.
	Local ref.UserID

	// Send delivers an edit to the host. The engine calls it when an
	// acknowledgment releases buffered operations. Required for
	// participants that edit.
	Send func(activity.Activity) error

	Logger *slog.Logger
}

// Engine keeps both halves of the edit protocol. The client half holds
// at most one edit in flight per document and buffers later local
// operations until the host acknowledges it. The server half, used
// only on the host, orders edits into a linear history per document
// and rebases late edits over what the author had not seen.
type Engine struct {
	local  ref.UserID
	send   func(activity.Activity) error
	logger *slog.Logger

	mu           sync.Mutex
	clients      map[ref.Resource]*clientDoc
	servers      map[ref.Resource]*serverDoc
	participants []ref.UserID
}

type clientDoc struct {
	revision    int
	outstanding []textop.Op
	buffer      []textop.Op
}

// serverDoc is the host's copy of a document. history holds the
// revisions after base; older ones have been trimmed.
type serverDoc struct {
	text    string
	base    int
	history []revision
	// floors is the lowest revision each participant can still base an
	// edit on: the revision of its last accepted edit, or of the first
	// snapshot it was sent.
	floors map[ref.UserID]int
}

type revision struct {
	author ref.UserID
	ops    []textop.Op
}

func newServerDoc(text string) *serverDoc {
	return &serverDoc{text: text, floors: make(map[ref.UserID]int)}
}

func (d *serverDoc) revision() int {
	return d.base + len(d.history)
}

// trim drops the revisions every one of participants has moved past.
// A participant without a floor keeps the whole history, and so does
// an empty participant list.
func (d *serverDoc) trim(participants []ref.UserID) {
	if len(participants) == 0 {
		return
	}
	low := d.revision()
	for _, id := range participants {
		floor, ok := d.floors[id]
		if !ok {
			return
		}
		low = min(low, floor)
	}
	if drop := low - d.base; drop > 0 {
		d.history = slices.Delete(d.history, 0, drop)
		d.base = low
	}
}

var (
	_ dispatch.Engine             = (*Engine)(nil)
	_ dispatch.ParticipantTracker = (*Engine)(nil)
	_ dispatch.Snapshotter        = (*Engine)(nil)
)

// New returns an engine with no documents.
func New(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	send := config.Send
	if send == nil {
		send = func(activity.Activity) error {
			return errors.New("ot: no send function configured")
		}
	}
	return &Engine{
		local:   config.Local,
		send:    send,
		logger:  logger,
		clients: make(map[ref.Resource]*clientDoc),
		servers: make(map[ref.Resource]*serverDoc),
	}
}

// TransformOutgoing sends a local edit straight through when nothing
// is in flight for its document and buffers it otherwise, returning
// nil. Other activities pass unchanged.
func (e *Engine) TransformOutgoing(a activity.Activity) (activity.Activity, error) {
	edit, ok := a.(activity.TextEdit)
	if !ok {
		return a, nil
	}
	if edit.Src != e.local {
		return nil, fmt.Errorf("ot: outgoing edit from %s on engine for %s", edit.Src, e.local)
	}
	if len(edit.Ops) == 0 {
		return nil, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.clientLocked(edit.Resource)
	if doc.outstanding != nil {
		doc.buffer = append(doc.buffer, edit.Ops...)
		return nil, nil
	}
	doc.outstanding = slices.Clone(edit.Ops)
	return activity.TextEdit{
		Src:          e.local,
		Resource:     edit.Resource,
		BaseRevision: doc.revision,
		Ops:          doc.outstanding,
	}, nil
}

// TransformIncoming rebases an edit from the host over the local
// operations the host has not seen yet. Acknowledgments are consumed
// here and produce nothing to execute.
func (e *Engine) TransformIncoming(a activity.Activity) ([]activity.Activity, error) {
	switch a := a.(type) {
	case activity.TextEdit:
		return e.receiveEdit(a)
	case activity.TextEditAck:
		return nil, e.receiveAck(a)
	case activity.Snapshot:
		e.receiveSnapshot(a)
		return []activity.Activity{a}, nil
	}
	return []activity.Activity{a}, nil
}

func (e *Engine) receiveEdit(edit activity.TextEdit) ([]activity.Activity, error) {
	if edit.Src == e.local {
		return nil, fmt.Errorf("ot: host echoed edit revision %d back to its author", edit.Revision)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.clientLocked(edit.Resource)
	ops := edit.Ops
	if doc.outstanding != nil {
		doc.outstanding, ops = textop.TransformSeq(doc.outstanding, ops)
	}
	if doc.buffer != nil {
		doc.buffer, ops = textop.TransformSeq(doc.buffer, ops)
	}
	doc.revision = edit.Revision
	edit.Ops = ops
	return []activity.Activity{edit}, nil
}

func (e *Engine) receiveAck(ack activity.TextEditAck) error {
	e.mu.Lock()
	doc := e.clientLocked(ack.Resource)
	if doc.outstanding == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s revision %d", ErrUnexpectedAck, ack.Resource, ack.Revision)
	}
	doc.revision = ack.Revision
	doc.outstanding = nil
	if len(doc.buffer) == 0 {
		e.mu.Unlock()
		return nil
	}
	doc.outstanding, doc.buffer = doc.buffer, nil
	next := activity.TextEdit{
		Src:          e.local,
		Resource:     ack.Resource,
		BaseRevision: doc.revision,
		Ops:          doc.outstanding,
	}
	e.mu.Unlock()

	if err := e.send(next); err != nil {
		return fmt.Errorf("ot: sending buffered edit on %s: %w", ack.Resource, err)
	}
	return nil
}

func (e *Engine) receiveSnapshot(snapshot activity.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.clientLocked(snapshot.Resource)
	if doc.outstanding != nil || doc.buffer != nil {
		e.logger.Warn("snapshot discards unacknowledged local edits",
			"resource", snapshot.Resource,
			"outstanding", len(doc.outstanding),
			"buffered", len(doc.buffer),
		)
	}
	*doc = clientDoc{revision: snapshot.Revision}
}

func (e *Engine) clientLocked(resource ref.Resource) *clientDoc {
	doc, ok := e.clients[resource]
	if !ok {
		doc = &clientDoc{}
		e.clients[resource] = doc
	}
	return doc
}

// Revision returns the last host revision the client half has seen
// for resource.
func (e *Engine) Revision(resource ref.Resource) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.clients[resource]; ok {
		return doc.revision
	}
	return 0
}

// Pending returns the number of operations in flight and buffered for
// resource.
func (e *Engine) Pending(resource ref.Resource) (outstanding, buffered int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.clients[resource]; ok {
		return len(doc.outstanding), len(doc.buffer)
	}
	return 0, 0
}

// TransformServerIncoming appends a client edit to the document's
// history. The rebased edit goes to every tracked participant except
// its author, and the author receives an acknowledgment carrying the
// new revision.
//
// Revisions that no tracked participant can base an edit on any more
// are dropped from the history afterwards.
func (e *Engine) TransformServerIncoming(a activity.Activity) ([]dispatch.QueueItem, []activity.Activity, error) {
	edit, ok := a.(activity.TextEdit)
	if !ok {
		return nil, nil, fmt.Errorf("ot: host cannot serialize %s", activity.Kind(a))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	doc := e.serverLocked(edit.Resource)
	if floor, ok := doc.floors[edit.Src]; ok && edit.BaseRevision < floor {
		return nil, nil, fmt.Errorf("%w: %s on %s based on %d, already at %d", ErrNotParented, edit.Src, edit.Resource, edit.BaseRevision, floor)
	}
	if edit.BaseRevision < doc.base || edit.BaseRevision > doc.revision() {
		return nil, nil, fmt.Errorf("%w: %d, history holds %d to %d", ErrRevisionOutOfRange, edit.BaseRevision, doc.base, doc.revision())
	}

	ops := edit.Ops
	for _, past := range doc.history[edit.BaseRevision-doc.base:] {
		if past.author == edit.Src {
			return nil, nil, fmt.Errorf("%w: %s on %s", ErrNotParented, edit.Src, edit.Resource)
		}
		ops, _ = textop.TransformSeq(ops, past.ops)
	}
	text, err := textop.ApplyAll(doc.text, ops)
	if err != nil {
		return nil, nil, fmt.Errorf("ot: applying edit from %s to %s: %w", edit.Src, edit.Resource, err)
	}
	doc.text = text
	doc.history = append(doc.history, revision{author: edit.Src, ops: ops})
	current := doc.revision()
	doc.floors[edit.Src] = current
	doc.trim(e.participants)

	var items []dispatch.QueueItem
	others := slices.DeleteFunc(slices.Clone(e.participants), func(id ref.UserID) bool {
		return id == edit.Src
	})
	if len(others) > 0 {
		items = append(items, dispatch.QueueItem{
			Activity: activity.TextEdit{
				Src:          edit.Src,
				Resource:     edit.Resource,
				BaseRevision: current - 1,
				Revision:     current,
				Ops:          ops,
			},
			Recipients: others,
		})
	}
	items = append(items, dispatch.QueueItem{
		Activity: activity.TextEditAck{
			Src:      e.local,
			Resource: edit.Resource,
			Revision: current,
		},
		Recipients: []ref.UserID{edit.Src},
	})
	return items, nil, nil
}

// Seed sets the initial host content of resource. It reports false
// when the document already exists.
func (e *Engine) Seed(resource ref.Resource, text string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.servers[resource]; ok {
		return false
	}
	e.servers[resource] = newServerDoc(text)
	return true
}

// Text returns the host's content and revision for resource.
func (e *Engine) Text(resource ref.Resource) (string, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.servers[resource]; ok {
		return doc.text, doc.revision()
	}
	return "", 0
}

// Retained returns the oldest revision an edit on resource may still
// be based on and the number of revisions kept after it.
func (e *Engine) Retained(resource ref.Resource) (base, kept int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if doc, ok := e.servers[resource]; ok {
		return doc.base, len(doc.history)
	}
	return 0, 0
}

// Snapshots returns the current content of every host document in
// group, addressed to recipient, in path order. A recipient that has
// not edited a document yet cannot base edits on anything older than
// its snapshot.
func (e *Engine) Snapshots(group ref.GroupID, recipient ref.UserID) []dispatch.QueueItem {
	e.mu.Lock()
	defer e.mu.Unlock()
	var resources []ref.Resource
	for resource := range e.servers {
		if resource.Group == group {
			resources = append(resources, resource)
		}
	}
	slices.SortFunc(resources, func(a, b ref.Resource) int {
		return strings.Compare(a.Path, b.Path)
	})

	items := make([]dispatch.QueueItem, 0, len(resources))
	for _, resource := range resources {
		doc := e.servers[resource]
		if _, ok := doc.floors[recipient]; !ok {
			doc.floors[recipient] = doc.revision()
			doc.trim(e.participants)
		}
		items = append(items, dispatch.QueueItem{
			Activity: activity.Snapshot{
				Src:      e.local,
				Resource: resource,
				Revision: doc.revision(),
				Text:     doc.text,
			},
			Recipients: []ref.UserID{recipient},
		})
	}
	return items
}

func (e *Engine) serverLocked(resource ref.Resource) *serverDoc {
	doc, ok := e.servers[resource]
	if !ok {
		doc = newServerDoc("")
		e.servers[resource] = doc
	}
	return doc
}

// AddParticipant starts including id in edit broadcasts.
func (e *Engine) AddParticipant(id ref.UserID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !slices.Contains(e.participants, id) {
		e.participants = append(e.participants, id)
	}
}

// RemoveParticipant stops including id in edit broadcasts.
func (e *Engine) RemoveParticipant(id ref.UserID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.participants = slices.DeleteFunc(e.participants, func(p ref.UserID) bool { return p == id })
	for _, doc := range e.servers {
		delete(doc.floors, id)
		doc.trim(e.participants)
	}
	e.logger.Debug("participant removed from edit broadcasts", "participant", id)
}
