// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package color

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
)

// Notifier delivers a color change to recipients. The engine calls it
// after releasing its lock.
type Notifier func(ctx context.Context, recipients []ref.UserID, change activity.ColorChange)

// Config configures an Engine.
type Config struct {
	// Local is the identity of the participant running the engine.
	Local ref.UserID

	// Host selects authoritative reconciliation. A non-host engine
	// only mirrors what the host announces.
	Host bool

	// Store persists assignments per participant set. Nil uses a
	// MemoryStore.
	Store Store

	// Notify sends ColorChange activities to non-host participants.
	Notify Notifier

	// Strict panics when a committed assignment violates uniqueness.
	// Otherwise the violation is logged.
	Strict bool

	Logger *slog.Logger
}

// Engine reconciles identity colors so that every participant holds a
// distinct color and, where possible, its preferred one.
type Engine struct {
	local  ref.UserID
	host   bool
	store  Store
	notify Notifier
	strict bool
	logger *slog.Logger

	mu   sync.Mutex
	pool *Pool
}

// NewEngine returns an Engine with an empty pool.
func NewEngine(config Config) *Engine {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	store := config.Store
	if store == nil {
		store = NewMemoryStore()
	}
	notify := config.Notify
	if notify == nil {
		notify = func(context.Context, []ref.UserID, activity.ColorChange) {}
	}
	return &Engine{
		local:  config.Local,
		host:   config.Host,
		store:  store,
		notify: notify,
		strict: config.Strict,
		logger: logger,
		pool:   NewPool(),
	}
}

// Reassign reconciles colors after a membership change. participants
// is the current membership; changed is the participant that joined
// (joined true) or left (joined false). changed may be nil for a plain
// recomputation. Only the host reassigns; on other participants the
// call releases a departing color and returns.
func (e *Engine) Reassign(ctx context.Context, participants []*membership.Participant, changed *membership.Participant, joined bool) error {
	if !e.host {
		if changed != nil && !joined {
			e.Release(changed.Color())
		}
		return nil
	}

	notifications, recipients, err := e.reassign(ctx, participants, changed, joined)
	if err != nil {
		return err
	}
	for _, change := range notifications {
		e.notify(ctx, recipients, change)
	}
	return nil
}

// Recompute reconciles colors for an unchanged membership, typically
// after a participant changed its preferred color.
func (e *Engine) Recompute(ctx context.Context, participants []*membership.Participant) error {
	return e.Reassign(ctx, participants, nil, false)
}

func (e *Engine) reassign(ctx context.Context, participants []*membership.Participant, changed *membership.Participant, joined bool) ([]activity.ColorChange, []ref.UserID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	working := make([]*membership.Participant, 0, len(participants)+1)
	for _, p := range participants {
		if changed != nil && p.ID() == changed.ID() {
			continue
		}
		working = append(working, p)
	}
	for _, p := range working {
		e.pool.Release(p.Color())
	}
	if changed != nil {
		if joined {
			working = append(working, changed)
		} else {
			e.pool.Release(changed.Color())
		}
	}
	if len(working) == 0 {
		return nil, nil, nil
	}

	preferences := make(map[ref.UserID]int, len(working))
	for _, p := range working {
		preferences[p.ID()] = p.PreferredColor()
	}

	assignment, source := e.choose(ctx, working, preferences)

	var notifications []activity.ColorChange
	var recipients []ref.UserID
	for _, p := range working {
		color := assignment[p.ID()]
		e.pool.Add(color)
		if p.Color() != color {
			p.SetColor(color)
			notifications = append(notifications, activity.ColorChange{Src: e.local, Affected: p.ID(), Color: color})
		}
		if !p.IsHost() {
			recipients = append(recipients, p.ID())
		}
	}

	ids := membership.IDs(working)
	if source != "stored" {
		key := SetKey(ids)
		if err := e.store.Save(ctx, key, Assignment{Colors: assignment, Preferences: preferences}); err != nil {
			e.logger.Warn("persisting color assignment failed", "participants", len(ids), "error", err)
		}
	}

	if err := checkUnique(assignment); err != nil {
		if e.strict {
			panic("color: " + err.Error())
		}
		e.logger.Error("color assignment invariant violated", "error", err)
	}

	e.logger.Debug("colors reconciled",
		"participants", len(working),
		"source", source,
		"changed", len(notifications),
	)
	return notifications, recipients, nil
}

// choose returns the assignment for working and which step produced
// it. Must hold e.mu.
func (e *Engine) choose(ctx context.Context, working []*membership.Participant, preferences map[ref.UserID]int) (map[ref.UserID]int, string) {
	if isOptimal(preferences, preferences) {
		return maps.Clone(preferences), "preferred"
	}

	stored, ok, err := e.store.Load(ctx, SetKey(membership.IDs(working)))
	if err != nil {
		e.logger.Warn("loading color assignment failed", "error", err)
	}
	if ok && e.storedAcceptable(working, stored, preferences) {
		return maps.Clone(stored.Colors), "stored"
	}

	return e.autoAssign(working, preferences), "assigned"
}

func (e *Engine) storedAcceptable(working []*membership.Participant, stored Assignment, preferences map[ref.UserID]int) bool {
	hasUnknown := false
	for _, p := range working {
		preferred, ok := stored.Preferences[p.ID()]
		if !ok || preferred != preferences[p.ID()] {
			return false
		}
		if _, ok := stored.Colors[p.ID()]; !ok {
			return false
		}
		if preferences[p.ID()] == membership.UnknownColor {
			hasUnknown = true
		}
	}
	if len(stored.Colors) != len(working) || checkUnique(stored.Colors) != nil {
		return false
	}
	return hasUnknown || isOptimal(stored.Colors, preferences)
}

// autoAssign keeps every candidate color that is still free and gives
// everyone else the lowest free color. Participants already holding
// their preferred color go first, then the remaining known
// preferences, then unknown preferences, each in join order.
func (e *Engine) autoAssign(working []*membership.Participant, preferences map[ref.UserID]int) map[ref.UserID]int {
	rank := func(p *membership.Participant) int {
		preferred := preferences[p.ID()]
		switch {
		case preferred == membership.UnknownColor:
			return 2
		case p.Color() == preferred:
			return 0
		default:
			return 1
		}
	}
	ordered := slices.Clone(working)
	slices.SortStableFunc(ordered, func(a, b *membership.Participant) int {
		if c := cmp.Compare(rank(a), rank(b)); c != 0 {
			return c
		}
		return cmp.Compare(a.Sequence(), b.Sequence())
	})

	taken := NewPool()
	for color, count := range e.pool.Snapshot() {
		for range count {
			taken.Add(color)
		}
	}
	assignment := make(map[ref.UserID]int, len(working))
	for _, p := range ordered {
		color := preferences[p.ID()]
		if color == membership.UnknownColor || taken.InUse(color) {
			color = taken.LowestFree()
		}
		taken.Add(color)
		assignment[p.ID()] = color
	}
	return assignment
}

// Adopt applies a color announced by the host: the participant's old
// color is released and the new one held.
func (e *Engine) Adopt(p *membership.Participant, color int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool.Release(p.Color())
	e.pool.Add(color)
	p.SetColor(color)
}

// Release drops one hold on color.
func (e *Engine) Release(color int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pool.Release(color)
}

// InUse reports whether color is currently held.
func (e *Engine) InUse(color int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.InUse(color)
}

// isOptimal reports whether every participant holds its known
// preferred color and no two share one.
func isOptimal(assignment, preferences map[ref.UserID]int) bool {
	for id, preferred := range preferences {
		if preferred == membership.UnknownColor || assignment[id] != preferred {
			return false
		}
	}
	return checkUnique(assignment) == nil
}

var errDuplicateColor = errors.New("duplicate color")

func checkUnique(assignment map[ref.UserID]int) error {
	holders := make(map[int]ref.UserID, len(assignment))
	for id, color := range assignment {
		if color < 0 {
			return fmt.Errorf("%s has no color", id)
		}
		if other, ok := holders[color]; ok {
			return fmt.Errorf("%w %d held by %s and %s", errDuplicateColor, color, other, id)
		}
		holders[color] = id
	}
	return nil
}
