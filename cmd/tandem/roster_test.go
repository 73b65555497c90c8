// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bureau-foundation/tandem/lib/colorstore"
	"github.com/bureau-foundation/tandem/lib/membership"
)

func TestRenderRoster(t *testing.T) {
	host := membership.NewParticipant("alice", true, membership.Write)
	host.SetColor(3)
	reader := membership.NewParticipant("bob", false, membership.ReadOnly)

	out := renderRoster([]*membership.Participant{host, reader}, "alice")
	lines := strings.Split(out, "\n")
	if len(lines) != 3 {
		t.Fatalf("roster has %d lines, want 3:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "participants (2)") {
		t.Errorf("header = %q", lines[0])
	}
	for _, want := range []string{"alice", "color 3", "host, you, write"} {
		if !strings.Contains(lines[1], want) {
			t.Errorf("host line %q missing %q", lines[1], want)
		}
	}
	for _, want := range []string{"bob", "color -", "readonly"} {
		if !strings.Contains(lines[2], want) {
			t.Errorf("reader line %q missing %q", lines[2], want)
		}
	}
}

func TestPrintColors(t *testing.T) {
	var empty bytes.Buffer
	printColors(&empty, nil)
	if !strings.Contains(empty.String(), "no stored assignments") {
		t.Errorf("empty output = %q", empty.String())
	}

	var out bytes.Buffer
	printColors(&out, []colorstore.Row{
		{SetKey: "0123456789abcdef", Participant: "alice", Color: 0, Preferred: 0},
		{SetKey: "0123456789abcdef", Participant: "bob", Color: 1, Preferred: -1},
	})
	text := out.String()
	if strings.Contains(text, "0123456789abcdef") || !strings.Contains(text, "0123456789ab") {
		t.Errorf("set key not shortened:\n%s", text)
	}
	if !strings.Contains(text, "bob") || !strings.Contains(text, "PREFERRED") {
		t.Errorf("output missing rows:\n%s", text)
	}
}
