// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package queuing

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
)

// Gate holds back activities for resource groups that are not yet
// ready to execute them, for example while a group's contents are
// still being transferred.
//
// Each group has a counter. A group appears with counter 1 on its first
// Enable; further Enables increment and Disables decrement down to 0.
// Activities for a group with a non-zero counter are buffered. The
// next Process call after a counter reaches 0 emits the buffered
// activities ahead of the new ones and forgets the group.
type Gate struct {
	mu     sync.Mutex
	gates  map[ref.GroupID]int
	queues map[ref.GroupID][]activity.Activity
	logger *slog.Logger
}

// New returns a gate with no groups registered.
func New(logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Gate{
		gates:  make(map[ref.GroupID]int),
		queues: make(map[ref.GroupID][]activity.Activity),
		logger: logger,
	}
}

// Enable starts or deepens queuing for group.
func (g *Gate) Enable(group ref.GroupID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if count, ok := g.gates[group]; ok {
		g.gates[group] = count + 1
		return
	}
	g.gates[group] = 1
	g.logger.Debug("queuing enabled", "group", group)
}

// Disable releases one level of queuing for group. The buffered
// activities are emitted by the next Process call once the counter
// reaches 0.
func (g *Gate) Disable(group ref.GroupID) {
	g.mu.Lock()
	defer g.mu.Unlock()
	count, ok := g.gates[group]
	if !ok || count == 0 {
		return
	}
	g.gates[group] = count - 1
	if count == 1 {
		g.logger.Debug("queuing released", "group", group, "buffered", len(g.queues[group]))
	}
}

// Gated reports whether activities for group are currently buffered.
func (g *Gate) Gated(group ref.GroupID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.gates[group] > 0
}

// Pending returns the number of activities buffered for group.
func (g *Gate) Pending(group ref.GroupID) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queues[group])
}

// Process flushes every released group and then routes activities,
// returning the list to execute now. Flushed activities come first, in
// their original order, with an EditorActivated synthesized ahead of
// the first OT-bearing or editor-state activity of each (resource,
// source) pair that lacks one.
func (g *Gate) Process(activities []activity.Activity) []activity.Activity {
	g.mu.Lock()
	defer g.mu.Unlock()

	var released []ref.GroupID
	for group, count := range g.gates {
		if count == 0 {
			released = append(released, group)
		}
	}
	slices.Sort(released)

	var ready []activity.Activity
	for _, group := range released {
		queued := g.queues[group]
		delete(g.gates, group)
		delete(g.queues, group)
		if len(queued) == 0 {
			continue
		}
		g.logger.Debug("flushing queued activities", "group", group, "count", len(queued))
		ready = append(ready, withActivations(queued)...)
	}

	for _, a := range activities {
		group, gated := g.groupOf(a)
		if gated {
			g.queues[group] = append(g.queues[group], a)
			continue
		}
		ready = append(ready, a)
	}
	return ready
}

// groupOf returns the gated group a belongs to, if any. Must hold g.mu.
func (g *Gate) groupOf(a activity.Activity) (ref.GroupID, bool) {
	resource, scoped := activity.ResourceOf(a)
	if !scoped {
		return "", false
	}
	if resource == nil {
		if !activity.AllowsNilResource(a) {
			g.logger.Warn("passing activity without a resource", "activity", activity.Describe(a))
		}
		return "", false
	}
	if _, ok := g.gates[resource.Group]; !ok {
		return "", false
	}
	return resource.Group, true
}

type activationKey struct {
	resource ref.Resource
	source   ref.UserID
}

func withActivations(queued []activity.Activity) []activity.Activity {
	seen := make(map[activationKey]struct{})
	out := make([]activity.Activity, 0, len(queued))
	for _, a := range queued {
		if activity.IsOTBearing(a) || activity.IsEditorState(a) {
			if resource, _ := activity.ResourceOf(a); resource != nil {
				key := activationKey{resource: *resource, source: a.Source()}
				if _, done := seen[key]; !done {
					seen[key] = struct{}{}
					if _, isActivation := a.(activity.EditorActivated); !isActivation {
						activated := *resource
						out = append(out, activity.EditorActivated{Src: a.Source(), Resource: &activated})
					}
				}
			}
		}
		out = append(out, a)
	}
	return out
}
