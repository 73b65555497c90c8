// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"sync"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/textop"
	"github.com/bureau-foundation/tandem/session"
)

// sharedGroup and sharedPath name the document every command edits.
const (
	sharedGroup ref.GroupID = "shared"
	sharedPath              = "notes.txt"
)

var sharedResource = ref.Resource{Group: sharedGroup, Path: sharedPath}

// document is one participant's copy of a shared text. It consumes
// snapshots and edits from the session and applies local edits before
// emitting them.
type document struct {
	resource ref.Resource
	local    ref.UserID

	// onRemoteEdit, when set, runs after another participant's edit is
	// applied.
	onRemoteEdit func(author ref.UserID, text string)

	mu     sync.Mutex
	text   string
	loaded bool
	ready  chan struct{}
}

var _ session.Consumer = (*document)(nil)

func newDocument(resource ref.Resource, local ref.UserID) *document {
	return &document{resource: resource, local: local, ready: make(chan struct{})}
}

// load sets the text and marks the document ready.
func (d *document) load(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.text = text
	if !d.loaded {
		d.loaded = true
		close(d.ready)
	}
}

// Ready is closed once the document holds the session's text.
func (d *document) Ready() <-chan struct{} { return d.ready }

func (d *document) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.text
}

func (d *document) Consume(_ context.Context, a activity.Activity) error {
	switch a := a.(type) {
	case activity.Snapshot:
		if a.Resource == d.resource {
			d.load(a.Text)
		}
	case activity.TextEdit:
		if a.Resource != d.resource {
			return nil
		}
		d.mu.Lock()
		text, err := textop.ApplyAll(d.text, a.Ops)
		if err != nil {
			d.mu.Unlock()
			return err
		}
		d.text = text
		d.mu.Unlock()
		if a.Src != d.local && d.onRemoteEdit != nil {
			d.onRemoteEdit(a.Src, text)
		}
	}
	return nil
}

// edit builds an operation against the current text, applies it to the
// local copy and emits it, with no incoming activity in between.
func (d *document) edit(ctx context.Context, s *session.Session, build func(current string) textop.Op) error {
	var editErr error
	err := s.Do(ctx, func(ctx context.Context) {
		d.mu.Lock()
		op := build(d.text)
		next, err := op.Apply(d.text)
		if err != nil {
			d.mu.Unlock()
			editErr = err
			return
		}
		d.text = next
		d.mu.Unlock()
		editErr = s.Emit(ctx, activity.TextEdit{Src: d.local, Resource: d.resource, Ops: []textop.Op{op}})
	})
	return errors.Join(err, editErr)
}

// appendLine adds line and a newline at the end of the document.
func (d *document) appendLine(ctx context.Context, s *session.Session, line string) error {
	return d.edit(ctx, s, func(current string) textop.Op {
		return textop.Insert{Pos: len(current), Value: line + "\n"}
	})
}
