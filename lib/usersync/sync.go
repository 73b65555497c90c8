// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package usersync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/clock"
	"github.com/bureau-foundation/tandem/lib/ref"
)

// DefaultTimeout bounds how long Synchronize waits for
// acknowledgments.
const DefaultTimeout = 5 * time.Second

// Sender delivers an activity to a set of participants.
type Sender interface {
	Send(ctx context.Context, recipients []ref.UserID, a activity.Activity) error
}

// Config configures a Synchronizer.
type Config struct {
	Local   ref.UserID
	Sender  Sender
	Clock   clock.Clock
	Timeout time.Duration
	Logger  *slog.Logger
}

// Synchronizer runs the membership synchronization protocol. On the
// host, Synchronize broadcasts a UserListDelta and collects
// UserListAcks. On every participant, Apply handles a received delta
// and acknowledges it.
type Synchronizer struct {
	local   ref.UserID
	sender  Sender
	clock   clock.Clock
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	rounds map[string]*round
}

type round struct {
	pending map[ref.UserID]struct{}
	wake    chan struct{}
}

func (r *round) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// New returns a Synchronizer. Sender is required.
func New(config Config) (*Synchronizer, error) {
	if config.Sender == nil {
		return nil, errors.New("usersync: Sender is required")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{
		local:   config.Local,
		sender:  config.Sender,
		clock:   config.Clock,
		timeout: config.Timeout,
		logger:  config.Logger,
		rounds:  make(map[string]*round),
	}, nil
}

// Synchronize sends delta to every remote and waits until each has
// acknowledged, has departed, or the timeout expires. It returns the
// remotes that never acknowledged, sorted, including those the delta
// could not be sent to. The error is non-nil only when ctx ends first.
//
// Synchronize blocks. It must not run on a goroutine that delivers
// incoming activities, or the acknowledgments it waits for will never
// arrive.
func (s *Synchronizer) Synchronize(ctx context.Context, delta activity.UserListDelta, remotes []ref.UserID) ([]ref.UserID, error) {
	delta.Src = s.local
	delta.Round = ulid.Make().String()

	targets := s.targets(remotes)
	if len(targets) == 0 {
		return nil, nil
	}

	current := &round{
		pending: make(map[ref.UserID]struct{}, len(targets)),
		wake:    make(chan struct{}, 1),
	}
	for _, id := range targets {
		current.pending[id] = struct{}{}
	}
	s.mu.Lock()
	s.rounds[delta.Round] = current
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.rounds, delta.Round)
		s.mu.Unlock()
	}()

	var failed []ref.UserID
	for _, id := range targets {
		if err := s.sender.Send(ctx, []ref.UserID{id}, delta); err != nil {
			s.logger.Warn("sending user list delta failed",
				"round", delta.Round,
				"participant", id,
				"error", err,
			)
			failed = append(failed, id)
			s.mu.Lock()
			delete(current.pending, id)
			s.mu.Unlock()
		}
	}

	timer := s.clock.NewTimer(s.timeout)
	defer timer.Stop()
wait:
	for {
		s.mu.Lock()
		remaining := len(current.pending)
		s.mu.Unlock()
		if remaining == 0 {
			break
		}
		select {
		case <-current.wake:
		case <-timer.C:
			break wait
		case <-ctx.Done():
			return nil, fmt.Errorf("usersync: round %s: %w", delta.Round, ctx.Err())
		}
	}

	s.mu.Lock()
	nonResponders := failed
	for id := range current.pending {
		nonResponders = append(nonResponders, id)
	}
	s.mu.Unlock()
	slices.Sort(nonResponders)
	if len(nonResponders) > 0 {
		s.logger.Warn("user list synchronization incomplete",
			"round", delta.Round,
			"not_responding", nonResponders,
		)
	}
	return nonResponders, nil
}

// Announce sends delta to remotes without waiting for
// acknowledgments. Acknowledgments that come back are ignored.
func (s *Synchronizer) Announce(ctx context.Context, delta activity.UserListDelta, remotes []ref.UserID) error {
	delta.Src = s.local
	delta.Round = ulid.Make().String()
	targets := s.targets(remotes)
	if len(targets) == 0 {
		return nil
	}
	if err := s.sender.Send(ctx, targets, delta); err != nil {
		return fmt.Errorf("usersync: announcing round %s: %w", delta.Round, err)
	}
	return nil
}

// targets returns remotes sorted, deduplicated and without the local
// participant.
func (s *Synchronizer) targets(remotes []ref.UserID) []ref.UserID {
	targets := slices.Clone(remotes)
	slices.Sort(targets)
	targets = slices.Compact(targets)
	return slices.DeleteFunc(targets, func(id ref.UserID) bool { return id == s.local })
}

// Acknowledge records that from has applied the delta of round.
func (s *Synchronizer) Acknowledge(from ref.UserID, roundID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.rounds[roundID]
	if !ok {
		s.logger.Debug("acknowledgment for finished round", "round", roundID, "participant", from)
		return
	}
	delete(current.pending, from)
	current.signal()
}

// Departed stops every running round from waiting for id.
func (s *Synchronizer) Departed(id ref.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, current := range s.rounds {
		if _, ok := current.pending[id]; ok {
			delete(current.pending, id)
			current.signal()
		}
	}
}

// Apply hands a received delta to apply and acknowledges it to the
// sender. The acknowledgment is sent even when apply fails so that the
// host does not roll back a join over a local problem.
func (s *Synchronizer) Apply(ctx context.Context, delta activity.UserListDelta, apply func(activity.UserListDelta) error) error {
	applyErr := apply(delta)
	if applyErr != nil {
		applyErr = fmt.Errorf("usersync: applying round %s: %w", delta.Round, applyErr)
	}
	ack := activity.UserListAck{Src: s.local, Round: delta.Round}
	if err := s.sender.Send(ctx, []ref.UserID{delta.Src}, ack); err != nil {
		return errors.Join(applyErr, fmt.Errorf("usersync: acknowledging round %s: %w", delta.Round, err))
	}
	return applyErr
}
