// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
)

// Hub is an in-process network. Every activity is encoded with the
// activity codec on send and decoded on delivery, so participants never
// share memory through it. Links can be cut to inject faults.
type Hub struct {
	logger *slog.Logger

	mu        sync.Mutex
	endpoints map[ref.UserID]*Endpoint
	severed   map[[2]ref.UserID]bool
}

// NewHub returns an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		logger:    logger,
		endpoints: make(map[ref.UserID]*Endpoint),
		severed:   make(map[[2]ref.UserID]bool),
	}
}

// Endpoint attaches participant id to the hub. Activities sent to id
// queue up until Handle is called. Reattaching a participant whose
// previous endpoint was shut down restores its links.
func (h *Hub) Endpoint(id ref.UserID) (*Endpoint, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, exists := h.endpoints[id]; exists {
		return nil, fmt.Errorf("transport: %s is already attached to the hub", id)
	}
	for pair := range h.severed {
		if pair[0] == id || pair[1] == id {
			delete(h.severed, pair)
		}
	}
	endpoint := &Endpoint{
		hub:   h,
		id:    id,
		inbox: newMailbox[delivery](),
		done:  make(chan struct{}),
	}
	h.endpoints[id] = endpoint
	return endpoint, nil
}

// Disconnect cuts the link between a and b in both directions.
// Activities already queued are still delivered.
func (h *Hub) Disconnect(a, b ref.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.severed[linkKey(a, b)] = true
	h.logger.Debug("hub link severed", "a", a, "b", b)
}

// Reconnect restores a link cut by Disconnect or Close.
func (h *Hub) Reconnect(a, b ref.UserID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.severed, linkKey(a, b))
}

func (h *Hub) route(from, to ref.UserID) (*Endpoint, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	endpoint, ok := h.endpoints[to]
	if !ok {
		return nil, ErrUnknownRecipient
	}
	if from != to && h.severed[linkKey(from, to)] {
		return nil, ErrDisconnected
	}
	return endpoint, nil
}

func linkKey(a, b ref.UserID) [2]ref.UserID {
	if b < a {
		a, b = b, a
	}
	return [2]ref.UserID{a, b}
}

type delivery struct {
	from    ref.UserID
	payload []byte
}

// Endpoint is one participant's attachment to a Hub.
type Endpoint struct {
	hub   *Hub
	id    ref.UserID
	inbox *mailbox[delivery]

	handleOnce sync.Once
	done       chan struct{}
}

var _ Transport = (*Endpoint)(nil)

// ID returns the participant this endpoint belongs to.
func (e *Endpoint) ID() ref.UserID { return e.id }

// Handle starts delivering queued and future activities to handler on
// a dedicated goroutine, in arrival order. Only the first call has an
// effect.
func (e *Endpoint) Handle(handler Handler) {
	e.handleOnce.Do(func() {
		go func() {
			defer close(e.done)
			for {
				next, ok := e.inbox.pop()
				if !ok {
					return
				}
				a, err := activity.Unmarshal(next.payload)
				if err != nil {
					e.hub.logger.Error("dropping undecodable activity", "from", next.from, "to", e.id, "error", err)
					continue
				}
				handler(next.from, a)
			}
		}()
	})
}

// Send encodes a once and queues it for every recipient.
func (e *Endpoint) Send(_ context.Context, recipients []ref.UserID, a activity.Activity) error {
	payload, err := activity.Marshal(a)
	if err != nil {
		return fmt.Errorf("transport: encoding %s: %w", activity.Kind(a), err)
	}
	failed := make(map[ref.UserID]error)
	for _, to := range recipients {
		target, err := e.hub.route(e.id, to)
		if err != nil {
			failed[to] = err
			continue
		}
		if !target.inbox.push(delivery{from: e.id, payload: payload}) {
			failed[to] = ErrDisconnected
		}
	}
	return sendResult(failed)
}

// Close cuts the link between this endpoint and id.
func (e *Endpoint) Close(id ref.UserID) error {
	e.hub.Disconnect(e.id, id)
	return nil
}

// Shutdown detaches the endpoint from the hub and stops delivery.
// Activities not yet delivered are discarded.
func (e *Endpoint) Shutdown() {
	e.hub.mu.Lock()
	if e.hub.endpoints[e.id] == e {
		delete(e.hub.endpoints, e.id)
	}
	e.hub.mu.Unlock()
	e.inbox.close()
}
