// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/dispatch"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/transport"
)

// Emit sends locally produced activities through the pipeline. Every
// activity must come from the local participant.
func (s *Session) Emit(ctx context.Context, activities ...activity.Activity) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	for _, a := range activities {
		if a.Source() != s.local {
			return fmt.Errorf("session: %s from %s emitted on session for %s", activity.Kind(a), a.Source(), s.local)
		}
	}
	return s.pipeline.HandleOutgoing(ctx, activities)
}

// Receive is the transport handler. from is the peer the transport
// received a from. Membership control is handled here; the host routes
// everything else and other participants pass it to the pipeline.
//
// Receive never waits for membership changes, so acknowledgments keep
// flowing while a join is being synchronized.
func (s *Session) Receive(from ref.UserID, a activity.Activity) {
	if state := s.State(); state != Started {
		s.logger.Debug("dropping activity received while not started", "from", from, "state", state)
		return
	}
	ctx := context.Background()
	if s.isHost {
		s.receiveAsHost(ctx, from, a)
		return
	}
	if from != s.host {
		s.logger.Warn("dropping activity from a participant other than the host",
			"from", from,
			"activity", activity.Describe(a),
		)
		return
	}

	if activity.IsControl(a) {
		s.receiveControl(ctx, from, a)
		return
	}
	if err := s.pipeline.HandleIncoming(ctx, []activity.Activity{a}); err != nil {
		s.logger.Warn("incoming activity not accepted", "activity", activity.Describe(a), "error", err)
	}
}

// receiveControl handles the membership synchronization protocol,
// which never enters the pipeline.
func (s *Session) receiveControl(ctx context.Context, from ref.UserID, a activity.Activity) {
	switch a := a.(type) {
	case activity.UserListAck:
		if !s.isHost {
			s.logger.Debug("ignoring acknowledgment sent to a participant", "round", a.Round)
			return
		}
		s.sync.Acknowledge(from, a.Round)
	case activity.UserListDelta:
		if s.isHost {
			s.logger.Warn("dropping user list delta sent to the host", "from", from)
			return
		}
		if err := s.sync.Apply(ctx, a, func(delta activity.UserListDelta) error {
			return s.applyDelta(ctx, delta)
		}); err != nil {
			s.logger.Warn("applying user list delta", "round", a.Round, "error", err)
		}
	}
}

func (s *Session) receiveAsHost(ctx context.Context, from ref.UserID, a activity.Activity) {
	if a.Source() != from {
		s.logger.Warn("dropping activity with a forged source",
			"from", from,
			"activity", activity.Describe(a),
		)
		return
	}
	if activity.IsControl(a) {
		s.receiveControl(ctx, from, a)
		return
	}
	local := from == s.local

	switch a := a.(type) {
	case activity.PermissionChange:
		if !local {
			s.logger.Warn("dropping permission change from a participant", "from", from)
			return
		}
		s.route(ctx, a)
	case activity.ColorChange:
		if !local {
			err := s.control.Submit(func(ctx context.Context) { s.handleColorRequest(ctx, a) })
			if err != nil {
				s.logger.Debug("color request not scheduled", "from", from, "error", err)
			}
			return
		}
		s.route(ctx, a)
	default:
		s.route(ctx, a)
	}
}

// route directs activities that reached the host and delivers the
// result before the next call may route.
func (s *Session) route(ctx context.Context, activities ...activity.Activity) {
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	s.deliver(ctx, s.pipeline.DirectServerActivities(activities))
}

// deliver sends routed items to their remote recipients and passes
// whatever is addressed to the host itself into the local pipeline.
// Must hold routeMu.
func (s *Session) deliver(ctx context.Context, result dispatch.TransformationResult) {
	var local []activity.Activity
	for _, item := range result.Items {
		remote := make([]ref.UserID, 0, len(item.Recipients))
		for _, id := range item.Recipients {
			if id == s.local {
				local = append(local, item.Activity)
				continue
			}
			remote = append(remote, id)
		}
		s.send(ctx, remote, item.Activity)
	}
	local = append(local, result.Local...)
	if len(local) == 0 {
		return
	}
	if err := s.pipeline.HandleIncoming(ctx, local); err != nil {
		s.logger.Warn("routed activities not accepted locally", "activities", len(local), "error", err)
	}
}

// send delivers a to recipients, logging any participant that could
// not be reached.
func (s *Session) send(ctx context.Context, recipients []ref.UserID, a activity.Activity) {
	if len(recipients) == 0 {
		return
	}
	err := s.transport.Send(ctx, recipients, a)
	if err == nil {
		return
	}
	var sendErr *transport.SendError
	if errors.As(err, &sendErr) {
		for id, cause := range sendErr.Failed {
			s.logger.Warn("participant not reachable",
				"recipient", id,
				"activity", activity.Describe(a),
				"error", cause,
			)
		}
		return
	}
	s.logger.Warn("sending activity failed", "activity", activity.Describe(a), "error", err)
}

// execute is the pipeline's execution callback. Announcements from the
// host update local state before consumers see them.
func (s *Session) execute(ctx context.Context, a activity.Activity) error {
	if !s.isHost {
		switch a := a.(type) {
		case activity.ColorChange:
			s.applyColor(a)
		case activity.PermissionChange:
			s.applyPermission(a)
		}
	}
	var errs []error
	for _, consumer := range s.consumers.Snapshot() {
		if err := consumer.Consume(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
