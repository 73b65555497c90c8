// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/session"
)

// palette maps color indices to terminal colors. Indices beyond the
// palette wrap around.
var palette = []lipgloss.Color{
	"#e06c75", "#98c379", "#e5c07b", "#61afef", "#c678dd",
	"#56b6c2", "#d19a66", "#be5046", "#7ec699", "#f08d49",
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)
)

func colorStyle(index int) lipgloss.Style {
	if index < 0 {
		return dimStyle
	}
	return lipgloss.NewStyle().Foreground(palette[index%len(palette)])
}

// renderRoster lays out participants one per line with their color
// swatch, role and permission.
func renderRoster(participants []*membership.Participant, local ref.UserID) string {
	width := 0
	for _, p := range participants {
		width = max(width, lipgloss.Width(string(p.ID())))
	}

	lines := []string{headerStyle.Render(fmt.Sprintf("participants (%d)", len(participants)))}
	for _, p := range participants {
		var tags []string
		if p.IsHost() {
			tags = append(tags, "host")
		}
		if p.ID() == local {
			tags = append(tags, "you")
		}
		tags = append(tags, p.Permission().String())

		swatch := colorStyle(p.Color()).Render("●")
		name := colorStyle(p.Color()).Width(width).Render(string(p.ID()))
		lines = append(lines, fmt.Sprintf("  %s %s  %s  %s",
			swatch, name, colorLabel(p.Color()), dimStyle.Render(strings.Join(tags, ", "))))
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func colorLabel(index int) string {
	if index < 0 {
		return "color -"
	}
	return fmt.Sprintf("color %d", index)
}

// rosterPrinter is a session listener that reports membership events
// and reprints the roster.
type rosterPrinter struct {
	session *session.Session
	out     io.Writer
	mu      sync.Mutex
}

var _ session.Listener = (*rosterPrinter)(nil)

func (r *rosterPrinter) ParticipantJoined(p *membership.Participant) { r.report(p, "joined") }
func (r *rosterPrinter) ParticipantLeft(p *membership.Participant)   { r.report(p, "left") }

func (r *rosterPrinter) PermissionChanged(p *membership.Participant) {
	r.report(p, "is now "+p.Permission().String())
}

func (r *rosterPrinter) ColorChanged(p *membership.Participant) {
	r.report(p, "changed to "+colorLabel(p.Color()))
}

func (r *rosterPrinter) report(p *membership.Participant, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, "%s %s\n", colorStyle(p.Color()).Render(string(p.ID())), event)
	r.print()
}

func (r *rosterPrinter) print() {
	fmt.Fprintln(r.out, renderRoster(r.session.Participants(), r.session.Local().ID()))
}
