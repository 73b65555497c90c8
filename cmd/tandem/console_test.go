// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/testutil"
	"github.com/bureau-foundation/tandem/session"
	"github.com/bureau-foundation/tandem/transport"
)

// hostConsole starts a host session alone on an in-memory hub.
func hostConsole(t *testing.T) (*console, *bytes.Buffer) {
	t.Helper()
	id := ref.UserID(testutil.UniqueID("host"))
	hub := transport.NewHub(nil)
	endpoint, err := hub.Endpoint(id)
	if err != nil {
		t.Fatal(err)
	}
	s, err := session.New(session.Config{
		Local:          id,
		Host:           id,
		PreferredColor: membership.UnknownColor,
		Transport:      endpoint,
	})
	if err != nil {
		t.Fatal(err)
	}
	doc := newDocument(sharedResource, id)
	s.RegisterConsumer(doc)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		s.Stop()
		endpoint.Shutdown()
	})
	endpoint.Handle(s.Receive)
	if err := s.ShareGroup(sharedGroup, "/shared"); err != nil {
		t.Fatal(err)
	}
	s.Documents().Seed(sharedResource, "")
	doc.load("")

	var out bytes.Buffer
	return &console{session: s, doc: doc, roster: &rosterPrinter{session: s, out: &out}, out: &out}, &out
}

func TestConsoleAppendsLines(t *testing.T) {
	c, _ := hostConsole(t)
	err := c.run(context.Background(), strings.NewReader("first\nsecond\n/quit\nignored\n"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := c.doc.Text(); got != "first\nsecond\n" {
		t.Errorf("document = %q", got)
	}
}

func TestConsoleCommands(t *testing.T) {
	c, out := hostConsole(t)
	ctx := context.Background()

	if err := c.handle(ctx, "/who"); err != nil {
		t.Errorf("/who: %v", err)
	}
	if !strings.Contains(out.String(), "participants (1)") {
		t.Errorf("/who output = %q", out.String())
	}
	if err := c.handle(ctx, "/quit"); !errors.Is(err, errQuit) {
		t.Errorf("/quit = %v, want errQuit", err)
	}

	for _, line := range []string{"/color", "/color blue", "/color -2", "/kick", "/bogus"} {
		if err := c.handle(ctx, line); err == nil {
			t.Errorf("%s succeeded", line)
		}
	}
	self := string(c.session.Local().ID())
	if err := c.handle(ctx, "/readonly "+self); err == nil {
		t.Error("host revoked its own write access")
	}
	if err := c.handle(ctx, "/kick "+self); !errors.Is(err, session.ErrProtectedParticipant) {
		t.Errorf("/kick self = %v, want ErrProtectedParticipant", err)
	}
}
