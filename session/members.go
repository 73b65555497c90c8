// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ref"
)

// AddParticipant admits p to the session. On the host the new
// membership is synchronized with every participant, including p; if
// any of them fails to acknowledge before the timeout the join is
// rolled back and a *JoinTimeoutError is returned. Colors are
// reconciled after a successful join.
//
// AddParticipant blocks for up to the synchronization timeout and must
// not be called from a transport delivery goroutine.
func (s *Session) AddParticipant(ctx context.Context, p *membership.Participant) error {
	if err := p.ID().Validate(); err != nil {
		return fmt.Errorf("session: joining participant: %w", err)
	}
	if p.IsHost() {
		return fmt.Errorf("session: %s cannot join with the host role", p.ID())
	}
	if err := s.requireStarted(); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.admitLocked(p); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.isHost {
		if err := s.synchronizeJoinLocked(ctx, p); err != nil {
			s.mu.Unlock()
			return err
		}
		if err := s.colors.Reassign(ctx, s.registry.All(), p, true); err != nil {
			s.logger.Warn("reconciling colors after join failed", "joined", p.ID(), "error", err)
		}
	}
	s.mu.Unlock()

	s.logger.Info("participant joined", "joined", p.ID(), "permission", p.Permission())
	for _, listener := range s.listeners.Snapshot() {
		listener.ParticipantJoined(p)
	}
	s.flushColorChanges()
	return nil
}

func (s *Session) admitLocked(p *membership.Participant) error {
	p.SetInSession(true)
	if err := s.registry.Add(p); err != nil {
		p.SetInSession(false)
		return fmt.Errorf("session: adding participant: %w", err)
	}
	return nil
}

func (s *Session) synchronizeJoinLocked(ctx context.Context, p *membership.Participant) error {
	s.pipeline.RegisterParticipant(p.ID())

	delta := activity.UserListDelta{Added: entries(s.registry.All())}
	remotes := membership.IDs(s.registry.Others(s.local))
	notResponding, err := s.sync.Synchronize(ctx, delta, remotes)
	if err == nil && len(notResponding) == 0 {
		return nil
	}
	if err == nil {
		err = &JoinTimeoutError{Participant: p.ID(), NotResponding: notResponding}
	}

	s.logger.Warn("rolling back join", "joined", p.ID(), "error", err)
	s.pipeline.UnregisterParticipant(p.ID())
	s.registry.Remove(p.ID())
	s.mapper.RemoveUser(p.ID())
	p.LeaveSession()

	removal := activity.UserListDelta{Removed: []ref.UserID{p.ID()}}
	others := membership.IDs(s.registry.Others(s.local))
	if announceErr := s.sync.Announce(context.WithoutCancel(ctx), removal, append(others, p.ID())); announceErr != nil {
		s.logger.Debug("announcing rolled back join failed", "joined", p.ID(), "error", announceErr)
	}
	if closeErr := s.transport.Close(p.ID()); closeErr != nil {
		s.logger.Debug("closing link after rollback failed", "joined", p.ID(), "error", closeErr)
	}
	return err
}

// RemoveParticipant takes id out of the session. Removing a participant
// that is unknown or already left only logs a warning. On the host the
// remaining participants are told, failures to acknowledge are logged,
// and the link to id is closed. A join that is waiting for id to
// acknowledge stops waiting as soon as RemoveParticipant is called.
func (s *Session) RemoveParticipant(ctx context.Context, id ref.UserID) error {
	if id == s.local || id == s.host {
		return fmt.Errorf("%w: %s", ErrProtectedParticipant, id)
	}
	if err := s.requireStarted(); err != nil {
		return err
	}

	// A join may hold mu while its round waits for id to acknowledge.
	// Releasing id from running rounds first lets that join finish.
	if s.registry.Get(id) != nil {
		s.sync.Departed(id)
	}

	s.mu.Lock()
	p := s.registry.Get(id)
	if p == nil || !p.LeaveSession() {
		s.mu.Unlock()
		s.logger.Warn("ignoring removal of participant not in session", "removed", id)
		return nil
	}
	s.detachLocked(ctx, p)
	if s.isHost {
		delta := activity.UserListDelta{Removed: []ref.UserID{id}}
		notResponding, err := s.sync.Synchronize(ctx, delta, membership.IDs(s.registry.Others(s.local)))
		if err != nil || len(notResponding) > 0 {
			s.logger.Warn("membership synchronization after leave incomplete",
				"removed", id,
				"not_responding", notResponding,
				"error", err,
			)
		}
		if err := s.colors.Reassign(ctx, s.registry.All(), p, false); err != nil {
			s.logger.Warn("reconciling colors after leave failed", "removed", id, "error", err)
		}
		if err := s.sync.Announce(ctx, delta, []ref.UserID{id}); err != nil {
			s.logger.Debug("telling removed participant failed", "removed", id, "error", err)
		}
		if err := s.transport.Close(id); err != nil {
			s.logger.Debug("closing link failed", "removed", id, "error", err)
		}
	}
	s.mu.Unlock()

	s.logger.Info("participant left", "removed", id)
	for _, listener := range s.listeners.Snapshot() {
		listener.ParticipantLeft(p)
	}
	s.flushColorChanges()
	return nil
}

// detachLocked removes p, whose in-session flag is already cleared,
// from every component that tracks members.
func (s *Session) detachLocked(ctx context.Context, p *membership.Participant) {
	s.registry.Remove(p.ID())
	s.pipeline.UnregisterParticipant(p.ID())
	s.mapper.RemoveUser(p.ID())
	s.sync.Departed(p.ID())
	if !s.isHost {
		if err := s.colors.Reassign(ctx, s.registry.All(), p, false); err != nil {
			s.logger.Debug("releasing color failed", "removed", p.ID(), "error", err)
		}
	}
}

// Kick removes a participant on the host's initiative.
func (s *Session) Kick(ctx context.Context, id ref.UserID) error {
	if !s.isHost {
		return ErrNotHost
	}
	s.logger.Info("kicking participant", "kicked", id)
	return s.RemoveParticipant(ctx, id)
}

// ChangePermission sets id's permission and announces it to every
// other participant.
func (s *Session) ChangePermission(ctx context.Context, id ref.UserID, permission membership.Permission) error {
	if !s.isHost {
		return ErrNotHost
	}
	if err := s.requireStarted(); err != nil {
		return err
	}
	if id == s.host {
		return errors.New("session: the host's permission is fixed")
	}

	s.mu.Lock()
	p := s.registry.Get(id)
	if p == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, id)
	}
	p.SetPermission(permission)
	change := activity.PermissionChange{Src: s.local, Affected: id, Permission: permission}
	s.send(ctx, membership.IDs(s.registry.Others(s.local)), change)
	s.mu.Unlock()

	s.logger.Info("permission changed", "affected", id, "permission", permission)
	for _, listener := range s.listeners.Snapshot() {
		listener.PermissionChanged(p)
	}
	return nil
}

// ChangeColor sets the local participant's preferred color. The host
// reconciles immediately; other participants ask the host to.
func (s *Session) ChangeColor(ctx context.Context, preferred int) error {
	if err := s.requireStarted(); err != nil {
		return err
	}
	if preferred < membership.UnknownColor {
		return fmt.Errorf("session: invalid color %d", preferred)
	}
	if !s.isHost {
		s.localParticipant.SetPreferredColor(preferred)
		request := activity.ColorChange{Src: s.local, Affected: s.local, Color: preferred}
		if err := s.transport.Send(ctx, []ref.UserID{s.host}, request); err != nil {
			return fmt.Errorf("session: requesting color %d: %w", preferred, err)
		}
		return nil
	}
	return s.recolor(ctx, s.localParticipant, preferred)
}

func (s *Session) recolor(ctx context.Context, p *membership.Participant, preferred int) error {
	defer s.flushColorChanges()
	s.mu.Lock()
	defer s.mu.Unlock()
	if !p.InSession() {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, p.ID())
	}
	p.SetPreferredColor(preferred)
	if err := s.colors.Recompute(ctx, s.registry.All()); err != nil {
		return fmt.Errorf("session: reconciling colors: %w", err)
	}
	return nil
}

// handleColorRequest runs on the control executor.
func (s *Session) handleColorRequest(ctx context.Context, request activity.ColorChange) {
	if request.Affected != request.Src {
		s.logger.Warn("dropping color request for another participant",
			"from", request.Src,
			"affected", request.Affected,
		)
		return
	}
	p := s.registry.Get(request.Src)
	if p == nil {
		s.logger.Warn("dropping color request from unknown participant", "from", request.Src)
		return
	}
	if err := s.recolor(ctx, p, request.Color); err != nil {
		s.logger.Warn("color request failed", "from", request.Src, "color", request.Color, "error", err)
	}
}

// notifyColor is the color engine's notifier. The engine only runs
// under mu, so listeners are told later by flushColorChanges.
func (s *Session) notifyColor(ctx context.Context, recipients []ref.UserID, change activity.ColorChange) {
	if len(recipients) > 0 {
		s.send(ctx, recipients, change)
	}
	if p := s.registry.Get(change.Affected); p != nil {
		s.recolored = append(s.recolored, p)
	}
}

// flushColorChanges tells listeners about colors assigned since the
// last flush. Must not hold mu.
func (s *Session) flushColorChanges() {
	s.mu.Lock()
	recolored := s.recolored
	s.recolored = nil
	s.mu.Unlock()
	for _, listener := range s.listeners.Snapshot() {
		for _, p := range recolored {
			listener.ColorChanged(p)
		}
	}
}

// applyDelta applies a membership delta from the host.
func (s *Session) applyDelta(ctx context.Context, delta activity.UserListDelta) error {
	var joined, left []*membership.Participant
	var errs []error

	s.mu.Lock()
	for _, entry := range delta.Added {
		if existing := s.registry.Get(entry.ID); existing != nil {
			if !existing.IsHost() {
				existing.SetPermission(entry.Permission)
			}
			if entry.Color != existing.Color() {
				s.colors.Adopt(existing, entry.Color)
			}
			continue
		}
		p := membership.NewParticipant(entry.ID, false, entry.Permission)
		p.SetPreferredColor(entry.PreferredColor)
		if err := s.admitLocked(p); err != nil {
			errs = append(errs, err)
			continue
		}
		s.colors.Adopt(p, entry.Color)
		joined = append(joined, p)
	}
	for _, id := range delta.Removed {
		if id == s.host {
			errs = append(errs, fmt.Errorf("%w: %s", ErrProtectedParticipant, id))
			continue
		}
		p := s.registry.Get(id)
		if p == nil || !p.LeaveSession() {
			continue
		}
		if id == s.local {
			s.logger.Warn("host removed the local participant from the session")
		}
		s.detachLocked(ctx, p)
		left = append(left, p)
	}
	s.mu.Unlock()

	for _, listener := range s.listeners.Snapshot() {
		for _, p := range joined {
			listener.ParticipantJoined(p)
		}
		for _, p := range left {
			listener.ParticipantLeft(p)
		}
	}
	return errors.Join(errs...)
}

// applyColor adopts a color announced by the host.
func (s *Session) applyColor(change activity.ColorChange) {
	p := s.registry.Get(change.Affected)
	if p == nil {
		s.logger.Debug("color change for unknown participant", "affected", change.Affected)
		return
	}
	s.colors.Adopt(p, change.Color)
	for _, listener := range s.listeners.Snapshot() {
		listener.ColorChanged(p)
	}
}

// applyPermission applies a permission announced by the host.
func (s *Session) applyPermission(change activity.PermissionChange) {
	p := s.registry.Get(change.Affected)
	if p == nil {
		s.logger.Debug("permission change for unknown participant", "affected", change.Affected)
		return
	}
	p.SetPermission(change.Permission)
	for _, listener := range s.listeners.Snapshot() {
		listener.PermissionChanged(p)
	}
}

func entries(participants []*membership.Participant) []activity.UserEntry {
	out := make([]activity.UserEntry, len(participants))
	for i, p := range participants {
		out[i] = activity.UserEntry{
			ID:             p.ID(),
			Permission:     p.Permission(),
			Color:          p.Color(),
			PreferredColor: p.PreferredColor(),
		}
	}
	return out
}
