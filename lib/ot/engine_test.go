// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ot

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/textop"
)

var notes = ref.Resource{Group: "project", Path: "notes.txt"}

// simClient is one participant in an in-process simulation. Links are
// FIFO in both directions, as they are over the transport.
type simClient struct {
	id       ref.UserID
	engine   *Engine
	text     string
	toHost   []activity.Activity
	fromHost []activity.Activity
}

type simulation struct {
	t       *testing.T
	host    *Engine
	clients map[ref.UserID]*simClient
	order   []ref.UserID
}

func newSimulation(t *testing.T, ids ...ref.UserID) *simulation {
	t.Helper()
	sim := &simulation{
		t:       t,
		host:    New(Config{Local: "host"}),
		clients: make(map[ref.UserID]*simClient),
		order:   ids,
	}
	for _, id := range ids {
		client := &simClient{id: id}
		client.engine = New(Config{
			Local: id,
			Send: func(a activity.Activity) error {
				client.toHost = append(client.toHost, a)
				return nil
			},
		})
		sim.clients[id] = client
		sim.host.AddParticipant(id)
	}
	return sim
}

func (s *simulation) edit(id ref.UserID, op textop.Op) {
	s.t.Helper()
	client := s.clients[id]
	text, err := op.Apply(client.text)
	if err != nil {
		s.t.Fatalf("local edit %s on %q: %v", op.Encode(), client.text, err)
	}
	client.text = text
	out, err := client.engine.TransformOutgoing(activity.TextEdit{Src: id, Resource: notes, Ops: []textop.Op{op}})
	if err != nil {
		s.t.Fatalf("TransformOutgoing: %v", err)
	}
	if out != nil {
		client.toHost = append(client.toHost, out)
	}
}

// upload delivers the oldest pending edit from id to the host.
func (s *simulation) upload(id ref.UserID) {
	s.t.Helper()
	client := s.clients[id]
	a := client.toHost[0]
	client.toHost = client.toHost[1:]
	items, local, err := s.host.TransformServerIncoming(a)
	if err != nil {
		s.t.Fatalf("TransformServerIncoming(%s): %v", activity.Describe(a), err)
	}
	if len(local) != 0 {
		s.t.Fatalf("host produced %d local activities, want 0", len(local))
	}
	for _, item := range items {
		for _, recipient := range item.Recipients {
			target := s.clients[recipient]
			target.fromHost = append(target.fromHost, item.Activity)
		}
	}
}

// download delivers the oldest pending host message to id.
func (s *simulation) download(id ref.UserID) {
	s.t.Helper()
	client := s.clients[id]
	a := client.fromHost[0]
	client.fromHost = client.fromHost[1:]
	results, err := client.engine.TransformIncoming(a)
	if err != nil {
		s.t.Fatalf("TransformIncoming(%s) at %s: %v", activity.Describe(a), id, err)
	}
	for _, result := range results {
		edit, ok := result.(activity.TextEdit)
		if !ok {
			continue
		}
		text, err := textop.ApplyAll(client.text, edit.Ops)
		if err != nil {
			s.t.Fatalf("applying host edit at %s: %v", id, err)
		}
		client.text = text
	}
}

func (s *simulation) drain() {
	for {
		moved := false
		for _, id := range s.order {
			client := s.clients[id]
			if len(client.toHost) > 0 {
				s.upload(id)
				moved = true
			}
			if len(client.fromHost) > 0 {
				s.download(id)
				moved = true
			}
		}
		if !moved {
			return
		}
	}
}

func (s *simulation) requireConverged() {
	s.t.Helper()
	want, _ := s.host.Text(notes)
	for _, id := range s.order {
		if got := s.clients[id].text; got != want {
			s.t.Errorf("%s text = %q, host has %q", id, got, want)
		}
		if outstanding, buffered := s.clients[id].engine.Pending(notes); outstanding != 0 || buffered != 0 {
			s.t.Errorf("%s pending = %d/%d after drain", id, outstanding, buffered)
		}
	}
}

func TestConcurrentInsertsAtSamePosition(t *testing.T) {
	sim := newSimulation(t, "alice", "bob")
	sim.edit("alice", textop.Insert{Pos: 0, Value: "A"})
	sim.edit("bob", textop.Insert{Pos: 0, Value: "B"})

	sim.upload("alice")
	sim.upload("bob")
	sim.drain()

	sim.requireConverged()
	if text, revision := sim.host.Text(notes); text != "AB" || revision != 2 {
		t.Errorf("host = %q at %d, want %q at 2", text, revision, "AB")
	}
}

func TestBufferedEditsSentOnAck(t *testing.T) {
	sim := newSimulation(t, "alice", "bob")
	sim.edit("alice", textop.Insert{Pos: 0, Value: "one"})
	sim.edit("alice", textop.Insert{Pos: 3, Value: " two"})
	sim.edit("alice", textop.Insert{Pos: 7, Value: " three"})

	alice := sim.clients["alice"]
	if len(alice.toHost) != 1 {
		t.Fatalf("alice sent %d edits before ack, want 1", len(alice.toHost))
	}
	if outstanding, buffered := alice.engine.Pending(notes); outstanding != 1 || buffered != 2 {
		t.Fatalf("pending = %d/%d, want 1/2", outstanding, buffered)
	}

	sim.upload("alice")
	sim.download("alice")
	if len(alice.toHost) != 1 {
		t.Fatalf("alice sent %d edits after ack, want the buffered one", len(alice.toHost))
	}
	edit := alice.toHost[0].(activity.TextEdit)
	if edit.BaseRevision != 1 || len(edit.Ops) != 2 {
		t.Errorf("buffered edit base %d with %d ops, want base 1 with 2 ops", edit.BaseRevision, len(edit.Ops))
	}

	sim.drain()
	sim.requireConverged()
	if text, _ := sim.host.Text(notes); text != "one two three" {
		t.Errorf("host text = %q", text)
	}
}

func TestHostRebasesOverUnseenRevisions(t *testing.T) {
	sim := newSimulation(t, "alice", "bob")
	sim.host.Seed(notes, "Hello world")
	sim.clients["alice"].text = "Hello world"
	sim.clients["bob"].text = "Hello world"

	sim.edit("alice", textop.Delete{Pos: 5, Len: 6})
	sim.edit("bob", textop.Insert{Pos: 11, Value: "!"})
	sim.edit("bob", textop.Insert{Pos: 0, Value: ">> "})

	sim.upload("alice")
	sim.upload("bob")
	sim.drain()

	sim.requireConverged()
	if text, _ := sim.host.Text(notes); text != ">> Hello!" {
		t.Errorf("host text = %q, want %q", text, ">> Hello!")
	}
}

func TestRandomEditsConverge(t *testing.T) {
	for seed := uint64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprint(seed), func(t *testing.T) {
			random := rand.New(rand.NewPCG(seed, seed*7919))
			sim := newSimulation(t, "alice", "bob", "carol")
			for step := 0; step < 300; step++ {
				id := sim.order[random.IntN(len(sim.order))]
				client := sim.clients[id]
				switch random.IntN(3) {
				case 0:
					sim.edit(id, randomOp(random, client.text))
				case 1:
					if len(client.toHost) > 0 {
						sim.upload(id)
					}
				case 2:
					if len(client.fromHost) > 0 {
						sim.download(id)
					}
				}
			}
			sim.drain()
			sim.requireConverged()
		})
	}
}

func randomOp(random *rand.Rand, text string) textop.Op {
	if len(text) > 0 && random.IntN(3) == 0 {
		pos := random.IntN(len(text))
		return textop.Delete{Pos: pos, Len: 1 + random.IntN(min(4, len(text)-pos))}
	}
	letters := "abcdefgh"
	start := random.IntN(len(letters))
	return textop.Insert{Pos: random.IntN(len(text) + 1), Value: letters[start : start+1+random.IntN(len(letters)-start)]}
}

func TestServerRejectsBadRevisions(t *testing.T) {
	host := New(Config{Local: "host"})
	host.AddParticipant("alice")

	_, _, err := host.TransformServerIncoming(activity.TextEdit{
		Src: "alice", Resource: notes, BaseRevision: 3,
		Ops: []textop.Op{textop.Insert{Pos: 0, Value: "x"}},
	})
	if !errors.Is(err, ErrRevisionOutOfRange) {
		t.Errorf("future base revision: err = %v, want ErrRevisionOutOfRange", err)
	}

	edit := activity.TextEdit{Src: "alice", Resource: notes, Ops: []textop.Op{textop.Insert{Pos: 0, Value: "x"}}}
	if _, _, err := host.TransformServerIncoming(edit); err != nil {
		t.Fatalf("first edit: %v", err)
	}
	if _, _, err := host.TransformServerIncoming(edit); !errors.Is(err, ErrNotParented) {
		t.Errorf("edit over own unseen revision: err = %v, want ErrNotParented", err)
	}

	_, _, err = host.TransformServerIncoming(activity.TextEdit{
		Src: "alice", Resource: notes, BaseRevision: 1,
		Ops: []textop.Op{textop.Delete{Pos: 0, Len: 5}},
	})
	if !errors.Is(err, textop.ErrOutOfBounds) {
		t.Errorf("out of range delete: err = %v, want ErrOutOfBounds", err)
	}
	if text, revision := host.Text(notes); text != "x" || revision != 1 {
		t.Errorf("host = %q at %d after rejected edits, want %q at 1", text, revision, "x")
	}
}

func TestServerTrimsHistoryEveryoneHasPassed(t *testing.T) {
	host := New(Config{Local: "host"})
	host.AddParticipant("alice")
	host.AddParticipant("bob")
	insert := func(src ref.UserID, base int, value string) error {
		_, _, err := host.TransformServerIncoming(activity.TextEdit{
			Src: src, Resource: notes, BaseRevision: base,
			Ops: []textop.Op{textop.Insert{Pos: 0, Value: value}},
		})
		return err
	}

	if err := insert("alice", 0, "a"); err != nil {
		t.Fatalf("alice at 0: %v", err)
	}
	if base, kept := host.Retained(notes); base != 0 || kept != 1 {
		t.Errorf("retained = %d+%d while bob has not edited, want 0+1", base, kept)
	}

	if err := insert("bob", 0, "b"); err != nil {
		t.Fatalf("bob at 0: %v", err)
	}
	if base, kept := host.Retained(notes); base != 1 || kept != 1 {
		t.Errorf("retained = %d+%d, want 1+1", base, kept)
	}
	if err := insert("alice", 0, "stale"); !errors.Is(err, ErrNotParented) {
		t.Errorf("alice behind her own edit: err = %v, want ErrNotParented", err)
	}
	if err := insert("carol", 0, "c"); !errors.Is(err, ErrRevisionOutOfRange) {
		t.Errorf("edit on a trimmed revision: err = %v, want ErrRevisionOutOfRange", err)
	}

	if err := insert("alice", 1, "a"); err != nil {
		t.Fatalf("alice at 1: %v", err)
	}
	if base, kept := host.Retained(notes); base != 2 || kept != 1 {
		t.Errorf("retained = %d+%d, want 2+1", base, kept)
	}
	if text, revision := host.Text(notes); len(text) != 3 || revision != 3 {
		t.Errorf("host = %q at %d, want three characters at 3", text, revision)
	}

	host.AddParticipant("dave")
	if err := insert("bob", 2, "b"); err != nil {
		t.Fatalf("bob at 2: %v", err)
	}
	if base, _ := host.Retained(notes); base != 2 {
		t.Errorf("base = %d while dave has no snapshot, want 2", base)
	}
	host.Snapshots("project", "dave")
	if base, kept := host.Retained(notes); base != 3 || kept != 1 {
		t.Errorf("retained = %d+%d after dave's snapshot, want 3+1", base, kept)
	}
	host.RemoveParticipant("alice")
	if base, kept := host.Retained(notes); base != 4 || kept != 0 {
		t.Errorf("retained = %d+%d after alice left, want 4+0", base, kept)
	}
}

func TestServerRoutesEditAndAck(t *testing.T) {
	host := New(Config{Local: "host"})
	for _, id := range []ref.UserID{"host", "alice", "bob"} {
		host.AddParticipant(id)
	}
	host.RemoveParticipant("bob")

	items, _, err := host.TransformServerIncoming(activity.TextEdit{
		Src: "alice", Resource: notes, Ops: []textop.Op{textop.Insert{Pos: 0, Value: "x"}},
	})
	if err != nil {
		t.Fatalf("TransformServerIncoming: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2", len(items))
	}
	broadcast, ok := items[0].Activity.(activity.TextEdit)
	if !ok || broadcast.Revision != 1 || fmt.Sprint(items[0].Recipients) != "[host]" {
		t.Errorf("broadcast = %#v to %v, want revision 1 to [host]", items[0].Activity, items[0].Recipients)
	}
	ack, ok := items[1].Activity.(activity.TextEditAck)
	if !ok || ack.Revision != 1 || ack.Src != "host" || fmt.Sprint(items[1].Recipients) != "[alice]" {
		t.Errorf("ack = %#v to %v, want revision 1 from host to [alice]", items[1].Activity, items[1].Recipients)
	}

	if _, _, err := host.TransformServerIncoming(activity.NOP{Src: "alice"}); err == nil {
		t.Error("TransformServerIncoming(NOP) succeeded, want error")
	}
}

func TestUnexpectedAck(t *testing.T) {
	client := New(Config{Local: "alice"})
	_, err := client.TransformIncoming(activity.TextEditAck{Src: "host", Resource: notes, Revision: 1})
	if !errors.Is(err, ErrUnexpectedAck) {
		t.Errorf("err = %v, want ErrUnexpectedAck", err)
	}
}

func TestSnapshotResetsClient(t *testing.T) {
	host := New(Config{Local: "host"})
	host.Seed(notes, "seeded")
	host.Seed(ref.Resource{Group: "project", Path: "a.txt"}, "first")
	host.Seed(ref.Resource{Group: "other", Path: "b.txt"}, "elsewhere")
	if host.Seed(notes, "again") {
		t.Error("second Seed reported success")
	}

	items := host.Snapshots("project", "dave")
	if len(items) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(items))
	}
	first := items[0].Activity.(activity.Snapshot)
	if first.Resource.Path != "a.txt" || first.Text != "first" {
		t.Errorf("first snapshot = %+v, want a.txt", first)
	}

	client := New(Config{Local: "dave"})
	if _, err := client.TransformOutgoing(activity.TextEdit{Src: "dave", Resource: notes, Ops: []textop.Op{textop.Insert{Pos: 0, Value: "lost"}}}); err != nil {
		t.Fatalf("TransformOutgoing: %v", err)
	}
	snapshot := activity.Snapshot{Src: "host", Resource: notes, Revision: 7, Text: "seeded"}
	results, err := client.TransformIncoming(snapshot)
	if err != nil {
		t.Fatalf("TransformIncoming: %v", err)
	}
	if len(results) != 1 || results[0] != activity.Activity(snapshot) {
		t.Errorf("results = %v, want the snapshot", results)
	}
	if got := client.Revision(notes); got != 7 {
		t.Errorf("Revision = %d, want 7", got)
	}
	if outstanding, buffered := client.Pending(notes); outstanding != 0 || buffered != 0 {
		t.Errorf("pending = %d/%d after snapshot, want 0/0", outstanding, buffered)
	}
}

func TestOutgoingPassesOtherActivities(t *testing.T) {
	client := New(Config{Local: "alice"})
	selection := activity.SelectionChange{Src: "alice", Resource: notes, Offset: 1}
	out, err := client.TransformOutgoing(selection)
	if err != nil || out != activity.Activity(selection) {
		t.Errorf("TransformOutgoing = %v, %v; want selection unchanged", out, err)
	}
	if _, err := client.TransformOutgoing(activity.TextEdit{Src: "bob", Resource: notes}); err == nil {
		t.Error("TransformOutgoing accepted an edit from another participant")
	}
}
