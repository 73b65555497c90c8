// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/clock"
	"github.com/bureau-foundation/tandem/lib/dispatch"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/testutil"
	"github.com/bureau-foundation/tandem/lib/textop"
	"github.com/bureau-foundation/tandem/transport"
)

const (
	hostID      ref.UserID = "host"
	syncTimeout            = time.Second
	waitTimeout            = 10 * time.Second
)

var notes = ref.Resource{Group: "g1", Path: "notes.txt"}

// document is a consumer holding the text of every resource it has
// seen, plus every activity it was handed.
type document struct {
	mu    sync.Mutex
	texts map[ref.Resource]string
	log   []activity.Activity
}

func newDocument() *document {
	return &document{texts: make(map[ref.Resource]string)}
}

func (d *document) Consume(_ context.Context, a activity.Activity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.log = append(d.log, a)
	switch a := a.(type) {
	case activity.Snapshot:
		d.texts[a.Resource] = a.Text
	case activity.TextEdit:
		text, err := textop.ApplyAll(d.texts[a.Resource], a.Ops)
		if err != nil {
			return err
		}
		d.texts[a.Resource] = text
	}
	return nil
}

func (d *document) text(resource ref.Resource) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	text, ok := d.texts[resource]
	return text, ok
}

func (d *document) set(resource ref.Resource, text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.texts[resource] = text
}

func (d *document) scoped() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, a := range d.log {
		if resource, ok := activity.ResourceOf(a); ok && resource != nil {
			out = append(out, activity.Kind(a)+" "+string(a.Source()))
		}
	}
	return out
}

func (d *document) received(kind string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.ContainsFunc(d.log, func(a activity.Activity) bool { return activity.Kind(a) == kind })
}

// recorder is a Listener that records membership events as strings.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(event string, p *membership.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event+" "+string(p.ID()))
}

func (r *recorder) ParticipantJoined(p *membership.Participant) { r.record("joined", p) }
func (r *recorder) ParticipantLeft(p *membership.Participant)   { r.record("left", p) }
func (r *recorder) PermissionChanged(p *membership.Participant) { r.record("permission", p) }
func (r *recorder) ColorChanged(p *membership.Participant)      { r.record("color", p) }

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, recorded := range r.events {
		if recorded == event {
			n++
		}
	}
	return n
}

type member struct {
	id       ref.UserID
	session  *Session
	endpoint *transport.Endpoint
	doc      *document
	events   *recorder
	muted    atomic.Bool
}

type network struct {
	hub   *transport.Hub
	clock *clock.FakeClock
}

func newNetwork() *network {
	return &network{
		hub:   transport.NewHub(nil),
		clock: clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
}

// join creates and starts a session for id. preferred is its preferred
// color.
func (n *network) join(t *testing.T, id ref.UserID, preferred int, mode dispatch.Mode) *member {
	t.Helper()
	endpoint, err := n.hub.Endpoint(id)
	if err != nil {
		t.Fatalf("Endpoint(%s): %v", id, err)
	}
	s, err := New(Config{
		Local:          id,
		Host:           hostID,
		PreferredColor: preferred,
		Transport:      endpoint,
		Mode:           mode,
		Clock:          n.clock,
		SyncTimeout:    syncTimeout,
		StrictColors:   true,
	})
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	m := &member{id: id, session: s, endpoint: endpoint, doc: newDocument(), events: &recorder{}}
	s.RegisterConsumer(m.doc)
	s.AddListener(m.events)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start(%s): %v", id, err)
	}
	endpoint.Handle(func(from ref.UserID, a activity.Activity) {
		if m.muted.Load() {
			return
		}
		s.Receive(from, a)
	})
	t.Cleanup(func() {
		_ = s.Stop()
		endpoint.Shutdown()
	})
	return m
}

func (n *network) host(t *testing.T, mode dispatch.Mode) *member {
	t.Helper()
	h := n.join(t, hostID, 1, mode)
	if err := h.session.ShareGroup("g1", "/work/g1"); err != nil {
		t.Fatalf("ShareGroup: %v", err)
	}
	return h
}

// admit adds guest on the host and gives it every shared group.
func (h *member) admit(t *testing.T, guest *member, preferred int) {
	t.Helper()
	p := membership.NewParticipant(guest.id, false, membership.Write)
	p.SetPreferredColor(preferred)
	ctx := context.Background()
	if err := h.session.AddParticipant(ctx, p); err != nil {
		t.Fatalf("AddParticipant(%s): %v", guest.id, err)
	}
	if err := h.session.MarkHasAllGroups(ctx, guest.id); err != nil {
		t.Fatalf("MarkHasAllGroups(%s): %v", guest.id, err)
	}
}

// insert inserts value at a random position of the member's copy of
// resource and emits the edit.
func (m *member) insert(t *testing.T, random *rand.Rand, resource ref.Resource, value string) {
	t.Helper()
	err := m.session.Do(context.Background(), func(ctx context.Context) {
		m.doc.mu.Lock()
		current := m.doc.texts[resource]
		op := textop.Insert{Pos: random.IntN(len(current) + 1), Value: value}
		m.doc.texts[resource], _ = op.Apply(current)
		m.doc.mu.Unlock()
		edit := activity.TextEdit{Src: m.id, Resource: resource, Ops: []textop.Op{op}}
		if err := m.session.Emit(ctx, edit); err != nil {
			t.Errorf("Emit(%s): %v", m.id, err)
		}
	})
	if err != nil {
		t.Errorf("Do(%s): %v", m.id, err)
	}
}

func TestLifecycle(t *testing.T) {
	hub := transport.NewHub(nil)
	endpoint, err := hub.Endpoint(hostID)
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	defer endpoint.Shutdown()
	s, err := New(Config{Local: hostID, Host: hostID, Transport: endpoint})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop before Start = %v, want ErrInvalidState", err)
	}
	if err := s.Emit(context.Background(), activity.NOP{Src: hostID}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Emit before Start = %v, want ErrInvalidState", err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != Started {
		t.Errorf("State = %s, want started", s.State())
	}
	if err := s.Start(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Start = %v, want ErrInvalidState", err)
	}
	if !s.Local().InSession() || s.Host() != s.Local() || !s.IsHost() {
		t.Errorf("host session does not own the host participant")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Stop = %v, want ErrInvalidState", err)
	}
	if err := s.Emit(context.Background(), activity.NOP{Src: hostID}); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Emit after Stop = %v, want ErrInvalidState", err)
	}
}

func TestNewRequiresIdentitiesAndTransport(t *testing.T) {
	_, err := New(Config{Local: "bad id"})
	if err == nil {
		t.Fatal("New accepted an invalid config")
	}
	if !errors.Is(err, ref.ErrInvalidID) {
		t.Errorf("New err = %v, want ErrInvalidID among the causes", err)
	}
}

func TestJoinSynchronizesMembership(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	bob := n.join(t, "bob", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)
	h.admit(t, bob, membership.UnknownColor)

	if got := membership.IDs(h.session.Participants()); !slices.Equal(got, []ref.UserID{hostID, "alice", "bob"}) {
		t.Errorf("host participants = %v", got)
	}
	// A successful join means alice acknowledged bob's arrival.
	if alice.session.Participant("bob") == nil {
		t.Error("alice does not know bob after his join")
	}
	if h.events.count("joined alice") != 1 || alice.events.count("joined bob") != 1 {
		t.Errorf("join events: host %v, alice %v", h.events.events, alice.events.events)
	}
	if !h.session.UserHasGroup("bob", "g1") {
		t.Error("bob was not marked as able to process g1")
	}

	err := h.session.AddParticipant(context.Background(), membership.NewParticipant("alice", false, membership.Write))
	if !errors.Is(err, membership.ErrAlreadyPresent) {
		t.Errorf("duplicate join = %v, want ErrAlreadyPresent", err)
	}
}

func TestJoinRollsBackOnSynchronizationTimeout(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	bob := n.join(t, "bob", membership.UnknownColor, dispatch.ModeQueued)
	carol := n.join(t, "carol", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)
	h.admit(t, bob, membership.UnknownColor)
	bob.muted.Store(true)

	done := make(chan error, 1)
	go func() {
		done <- h.session.AddParticipant(context.Background(), membership.NewParticipant(carol.id, false, membership.Write))
	}()
	n.clock.WaitForTimers(1)
	n.clock.Advance(syncTimeout)
	err := testutil.RequireReceive(t, done, waitTimeout, "join result")

	var timeout *JoinTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("join err = %v, want *JoinTimeoutError", err)
	}
	if timeout.Participant != "carol" || !slices.Equal(timeout.NotResponding, []ref.UserID{"bob"}) {
		t.Errorf("timeout = %+v, want carol blocked by [bob]", timeout)
	}
	if h.session.Participant("carol") != nil {
		t.Error("host kept carol after the rollback")
	}
	if h.events.count("joined carol") != 0 {
		t.Error("listeners were told about a rolled back join")
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		return alice.session.Participant("carol") == nil
	}, "alice never dropped carol")
}

func TestRemovingSilentParticipantReleasesPendingJoin(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	bob := n.join(t, "bob", membership.UnknownColor, dispatch.ModeQueued)
	carol := n.join(t, "carol", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)
	h.admit(t, bob, membership.UnknownColor)
	bob.muted.Store(true)
	ctx := context.Background()

	joined := make(chan error, 1)
	go func() {
		joined <- h.session.AddParticipant(ctx, membership.NewParticipant(carol.id, false, membership.Write))
	}()
	n.clock.WaitForTimers(1)

	removed := make(chan error, 1)
	go func() { removed <- h.session.RemoveParticipant(ctx, "bob") }()

	// The clock never advances: only bob's departure can end the round.
	if err := testutil.RequireReceive(t, joined, waitTimeout, "join result"); err != nil {
		t.Fatalf("AddParticipant(carol) = %v, want success once bob left", err)
	}
	if err := testutil.RequireReceive(t, removed, waitTimeout, "remove result"); err != nil {
		t.Fatalf("RemoveParticipant(bob): %v", err)
	}
	if h.session.Participant("bob") != nil {
		t.Error("host still lists bob")
	}
	if h.session.Participant("carol") == nil {
		t.Error("host dropped carol")
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		return alice.session.Participant("carol") != nil && alice.session.Participant("bob") == nil
	}, "alice never saw carol join and bob leave")
}

func TestRemoveParticipantIsIdempotent(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	bob := n.join(t, "bob", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)
	h.admit(t, bob, membership.UnknownColor)
	ctx := context.Background()

	removed := h.session.Participant("bob")
	for range 2 {
		if err := h.session.RemoveParticipant(ctx, "bob"); err != nil {
			t.Fatalf("RemoveParticipant: %v", err)
		}
	}
	if removed.InSession() {
		t.Error("removed participant still in session")
	}
	if got := h.events.count("left bob"); got != 1 {
		t.Errorf("host saw bob leave %d times, want 1", got)
	}
	if h.session.UserHasGroup("bob", "g1") {
		t.Error("mapper still tracks bob")
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		return alice.session.Participant("bob") == nil
	}, "alice never dropped bob")
	if got := alice.events.count("left bob"); got != 1 {
		t.Errorf("alice saw bob leave %d times, want 1", got)
	}

	if err := h.session.RemoveParticipant(ctx, hostID); !errors.Is(err, ErrProtectedParticipant) {
		t.Errorf("removing the host = %v, want ErrProtectedParticipant", err)
	}
}

func TestHostOnlyOperations(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)
	ctx := context.Background()

	if err := alice.session.Kick(ctx, hostID); !errors.Is(err, ErrNotHost) {
		t.Errorf("Kick = %v, want ErrNotHost", err)
	}
	if err := alice.session.ChangePermission(ctx, "alice", membership.ReadOnly); !errors.Is(err, ErrNotHost) {
		t.Errorf("ChangePermission = %v, want ErrNotHost", err)
	}
	if err := alice.session.MarkHasAllGroups(ctx, "alice"); !errors.Is(err, ErrNotHost) {
		t.Errorf("MarkHasAllGroups = %v, want ErrNotHost", err)
	}
	if err := h.session.ChangePermission(ctx, "nobody", membership.ReadOnly); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("ChangePermission(nobody) = %v, want ErrUnknownParticipant", err)
	}
	if err := alice.session.Emit(ctx, activity.NOP{Src: hostID}); err == nil {
		t.Error("Emit accepted an activity from another participant")
	}
}

func TestKickRemovesParticipant(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)

	if err := h.session.Kick(context.Background(), "alice"); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	if h.session.Participant("alice") != nil {
		t.Error("kicked participant is still a member")
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		return !alice.session.Local().InSession()
	}, "alice never learned she was removed")
}

func TestControlActivitiesNeverReachConsumers(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)

	h.session.Receive("alice", activity.UserListDelta{Src: "alice", Round: "stray"})
	h.session.Receive("alice", activity.Message{Src: "alice", Targets: []ref.UserID{hostID}, Topic: "after"})
	alice.session.Receive(hostID, activity.UserListAck{Src: hostID, Round: "stray"})
	alice.session.Receive(hostID, activity.Message{Src: hostID, Targets: []ref.UserID{"alice"}, Topic: "after"})

	testutil.Eventually(t, waitTimeout, func() bool {
		return h.doc.received("message") && alice.doc.received("message")
	}, "messages sent after the control activities never arrived")
	if h.doc.received("user_list_delta") {
		t.Error("host consumer saw a user list delta")
	}
	if alice.doc.received("user_list_ack") {
		t.Error("participant consumer saw a user list acknowledgment")
	}
	if alice.session.Participant("alice") == nil {
		t.Error("stray acknowledgment changed alice's membership")
	}
}

func TestQueuingHoldsActivitiesUntilDisabled(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	bob := n.join(t, "bob", membership.UnknownColor, dispatch.ModeQueued)
	carol := n.join(t, "carol", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, bob, membership.UnknownColor)
	h.admit(t, carol, membership.UnknownColor)
	ctx := context.Background()

	bob.session.EnableQueuing("g1")
	selection := activity.SelectionChange{Src: "carol", Resource: notes, Offset: 4, Length: 2}
	if err := carol.session.Emit(ctx, selection); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	marker := activity.Message{Src: "carol", Targets: []ref.UserID{"bob"}, Topic: "marker"}
	if err := carol.session.Emit(ctx, marker); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	// The marker follows the selection through the host, so once bob
	// has executed it the selection has reached his gate.
	testutil.Eventually(t, waitTimeout, func() bool { return bob.doc.received("message") }, "marker")
	if got := bob.doc.scoped(); len(got) != 0 {
		t.Fatalf("bob executed %v while g1 was queued", got)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		return slices.Contains(h.doc.scoped(), "selection_change carol")
	}, "host never executed the selection")

	if err := bob.session.DisableQueuing(ctx, "g1"); err != nil {
		t.Fatalf("DisableQueuing: %v", err)
	}
	testutil.Eventually(t, waitTimeout, func() bool { return len(bob.doc.scoped()) == 2 }, "flush")
	want := []string{"editor-activated carol", "selection_change carol"}
	if got := bob.doc.scoped(); !slices.Equal(got, want) {
		t.Errorf("bob executed %v, want %v", got, want)
	}
}

func TestColorsReconciledAcrossSession(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	bob := n.join(t, "bob", 2, dispatch.ModeQueued)
	carol := n.join(t, "carol", 2, dispatch.ModeQueued)
	h.admit(t, bob, 2)
	h.admit(t, carol, 2)

	hostColor := h.session.Local().Color()
	bobColor := h.session.Participant("bob").Color()
	carolColor := h.session.Participant("carol").Color()
	if hostColor != 1 || bobColor != 2 {
		t.Errorf("colors host=%d bob=%d, want 1 and 2", hostColor, bobColor)
	}
	if carolColor == 1 || carolColor == 2 || carolColor < 0 {
		t.Errorf("carol color = %d, want a free color", carolColor)
	}

	testutil.Eventually(t, waitTimeout, func() bool {
		return carol.session.Local().Color() == carolColor &&
			carol.session.Participant("bob").Color() == 2 &&
			carol.session.Participant(hostID).Color() == 1 &&
			bob.session.Participant("carol").Color() == carolColor
	}, "guests never agreed with the host on colors")

	if err := bob.session.ChangeColor(context.Background(), 7); err != nil {
		t.Fatalf("ChangeColor: %v", err)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		return h.session.Participant("bob").Color() == 7 && bob.session.Local().Color() == 7
	}, "color request was not applied")
	if bob.events.count("color bob") == 0 {
		t.Error("bob's listener was not told about his color")
	}
}

func TestPermissionChangeStopsWrites(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	bob := n.join(t, "bob", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)
	h.admit(t, bob, membership.UnknownColor)
	ctx := context.Background()

	if err := h.session.ChangePermission(ctx, "alice", membership.ReadOnly); err != nil {
		t.Fatalf("ChangePermission: %v", err)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		return alice.session.Local().Permission() == membership.ReadOnly &&
			bob.session.Participant("alice").Permission() == membership.ReadOnly
	}, "permission change never arrived")

	if err := alice.session.Emit(ctx, activity.FileDeleted{Src: "alice", Resource: notes}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := alice.session.Emit(ctx, activity.Message{Src: "alice", Targets: []ref.UserID{"bob"}, Topic: "after"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	testutil.Eventually(t, waitTimeout, func() bool { return bob.doc.received("message") }, "message")
	if bob.doc.received("file_deleted") {
		t.Error("a write from a read-only participant reached bob")
	}
}

func TestConcurrentEditsConverge(t *testing.T) {
	for _, mode := range []dispatch.Mode{dispatch.ModeQueued, dispatch.ModeInline} {
		t.Run(mode.String(), func(t *testing.T) {
			n := newNetwork()
			h := n.host(t, mode)
			h.session.Documents().Seed(notes, "shared notes")
			h.doc.set(notes, "shared notes")

			guests := []*member{
				n.join(t, "alice", membership.UnknownColor, mode),
				n.join(t, "bob", membership.UnknownColor, mode),
			}
			for _, guest := range guests {
				h.admit(t, guest, membership.UnknownColor)
				testutil.Eventually(t, waitTimeout, func() bool {
					_, ok := guest.doc.text(notes)
					return ok
				}, "snapshot for "+string(guest.id))
			}

			everyone := append([]*member{h}, guests...)
			var editors sync.WaitGroup
			for i, m := range everyone {
				editors.Add(1)
				go func() {
					defer editors.Done()
					random := rand.New(rand.NewPCG(uint64(i), 7))
					for edit := range 15 {
						m.insert(t, random, notes, fmt.Sprintf("<%s%d>", m.id, edit))
					}
				}()
			}
			editors.Wait()

			testutil.Eventually(t, waitTimeout, func() bool {
				want, _ := h.session.Documents().Text(notes)
				for _, m := range everyone {
					outstanding, buffered := m.session.Documents().Pending(notes)
					if outstanding != 0 || buffered != 0 {
						return false
					}
					if got, _ := m.doc.text(notes); got != want {
						return false
					}
				}
				return true
			}, "documents never converged")

			text, revision := h.session.Documents().Text(notes)
			if revision == 0 || len(text) <= len("shared notes") {
				t.Errorf("host document = %q at revision %d", text, revision)
			}
		})
	}
}

func TestLateJoinerReceivesCurrentDocument(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)
	h.session.Documents().Seed(notes, "")
	h.doc.set(notes, "")
	alice := n.join(t, "alice", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, alice, membership.UnknownColor)
	testutil.Eventually(t, waitTimeout, func() bool {
		_, ok := alice.doc.text(notes)
		return ok
	}, "alice snapshot")

	random := rand.New(rand.NewPCG(1, 2))
	for _, word := range []string{"one ", "two ", "three "} {
		alice.insert(t, random, notes, word)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		outstanding, buffered := alice.session.Documents().Pending(notes)
		hostText, _ := h.session.Documents().Text(notes)
		aliceText, _ := alice.doc.text(notes)
		return outstanding == 0 && buffered == 0 && hostText == aliceText
	}, "host never applied alice's edits")

	bob := n.join(t, "bob", membership.UnknownColor, dispatch.ModeQueued)
	h.admit(t, bob, membership.UnknownColor)
	want, _ := h.session.Documents().Text(notes)
	if len(want) != len("one two three ") {
		t.Errorf("host document = %q, want the three words", want)
	}
	testutil.Eventually(t, waitTimeout, func() bool {
		got, _ := bob.doc.text(notes)
		return got == want
	}, "bob never received the current document")
	_, revision := h.session.Documents().Text(notes)
	if got := bob.session.Documents().Revision(notes); got != revision {
		t.Errorf("bob revision = %d, want %d", got, revision)
	}
}

type producer struct {
	emitter Emitter
	unbound int
}

func (p *producer) Bind(emitter Emitter) { p.emitter = emitter }
func (p *producer) Unbind()              { p.emitter = nil; p.unbound++ }

func TestProducersAreBoundUntilStop(t *testing.T) {
	n := newNetwork()
	h := n.host(t, dispatch.ModeQueued)

	first, second := &producer{}, &producer{}
	h.session.RegisterProducer(first)
	h.session.RegisterProducer(second)
	h.session.RegisterProducer(first)
	if first.emitter == nil || second.emitter == nil {
		t.Fatal("registered producers were not bound")
	}
	if err := first.emitter.Emit(context.Background(), activity.NOP{Src: hostID}); err != nil {
		t.Errorf("Emit through producer: %v", err)
	}

	h.session.UnregisterProducer(first)
	if first.emitter != nil || first.unbound != 1 {
		t.Errorf("unregistered producer: emitter %v, unbound %d", first.emitter, first.unbound)
	}
	if err := h.session.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if second.unbound != 1 {
		t.Errorf("Stop unbound the remaining producer %d times, want 1", second.unbound)
	}
	if h.session.State() != Stopped {
		t.Errorf("State = %s, want stopped", h.session.State())
	}
}
