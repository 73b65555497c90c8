// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/clock"
	"github.com/bureau-foundation/tandem/lib/color"
	"github.com/bureau-foundation/tandem/lib/dispatch"
	"github.com/bureau-foundation/tandem/lib/listeners"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/ot"
	"github.com/bureau-foundation/tandem/lib/queuing"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/refpoint"
	"github.com/bureau-foundation/tandem/lib/usersync"
	"github.com/bureau-foundation/tandem/transport"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in
	// the session's current lifecycle state.
	ErrInvalidState = errors.New("session: invalid lifecycle state")

	// ErrNotHost is returned by host-only operations on other
	// participants.
	ErrNotHost = errors.New("session: operation requires the host")

	// ErrUnknownParticipant is returned for an identity that is not a
	// member of the session.
	ErrUnknownParticipant = errors.New("session: unknown participant")

	// ErrProtectedParticipant is returned when removing the local
	// participant or the host.
	ErrProtectedParticipant = errors.New("session: the local participant and the host cannot be removed")
)

// JoinTimeoutError reports a join that was rolled back because some
// participants never acknowledged the new membership.
type JoinTimeoutError struct {
	Participant   ref.UserID
	NotResponding []ref.UserID
}

func (e *JoinTimeoutError) Error() string {
	names := make([]string, len(e.NotResponding))
	for i, id := range e.NotResponding {
		names[i] = id.String()
	}
	return fmt.Sprintf("session: join of %s rolled back, no acknowledgment from %s",
		e.Participant, strings.Join(names, ", "))
}

// State is a session lifecycle state. Transitions only move forward.
type State int

const (
	NotStarted State = iota
	Starting
	Started
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Starting:
		return "starting"
	case Started:
		return "started"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Consumer applies activities that reached the local participant.
// Consume runs on the session's serial executor, one activity at a
// time, in session order.
type Consumer interface {
	Consume(ctx context.Context, a activity.Activity) error
}

// Emitter accepts locally produced activities.
type Emitter interface {
	Emit(ctx context.Context, activities ...activity.Activity) error
}

// Producer generates local activities. Bind hands it the emitter to
// use until Unbind.
type Producer interface {
	Bind(emitter Emitter)
	Unbind()
}

// Listener observes membership changes. Methods run after the change
// is applied, outside the session's locks.
type Listener interface {
	ParticipantJoined(p *membership.Participant)
	ParticipantLeft(p *membership.Participant)
	PermissionChanged(p *membership.Participant)
	ColorChanged(p *membership.Participant)
}

// Config configures a Session.
type Config struct {
	// Local is this participant. Host is the session host; a session
	// with Local == Host runs the host role.
	Local ref.UserID
	Host  ref.UserID

	// PreferredColor is the local participant's preferred identity
	// color, or membership.UnknownColor.
	PreferredColor int

	// Transport reaches the other participants. Required.
	Transport transport.Transport

	Mode          dispatch.Mode
	QueueCapacity int

	// ColorStore persists color assignments on the host. Nil keeps
	// them in memory.
	ColorStore   color.Store
	StrictColors bool

	Clock       clock.Clock
	SyncTimeout time.Duration

	Logger *slog.Logger
}

// Session is one participant's view of a co-editing session.
type Session struct {
	local     ref.UserID
	host      ref.UserID
	isHost    bool
	transport transport.Transport
	logger    *slog.Logger

	registry *membership.Registry
	mapper   *refpoint.Mapper
	gate     *queuing.Gate
	serial   *dispatch.Serial
	engine   *ot.Engine
	colors   *color.Engine
	sync     *usersync.Synchronizer
	pipeline *dispatch.Pipeline

	// control runs host-side handling of color requests, which must
	// wait for mu without stalling the transport's delivery goroutine.
	control *dispatch.Serial

	localParticipant *membership.Participant
	hostParticipant  *membership.Participant

	stateMu sync.Mutex
	state   State

	// mu serializes membership, permission and color changes.
	mu        sync.Mutex
	recolored []*membership.Participant

	// routeMu keeps host routing and delivery in engine order.
	routeMu sync.Mutex

	producers listeners.List[Producer]
	consumers listeners.List[Consumer]
	listeners listeners.List[Listener]
}

var _ Emitter = (*Session)(nil)

// New builds a session in the NotStarted state.
func New(config Config) (*Session, error) {
	var errs []error
	if err := config.Local.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: local identity: %w", err))
	}
	if err := config.Host.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: host identity: %w", err))
	}
	if config.Transport == nil {
		errs = append(errs, errors.New("session: Transport is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("participant", config.Local)
	if config.Clock == nil {
		config.Clock = clock.Real()
	}

	s := &Session{
		local:     config.Local,
		host:      config.Host,
		isHost:    config.Local == config.Host,
		transport: config.Transport,
		logger:    logger,
		registry:  membership.NewRegistry(),
		mapper:    refpoint.New(),
		gate:      queuing.New(logger.With("component", "queuing")),
		serial:    dispatch.NewSerial(logger.With("component", "serial")),
		control:   dispatch.NewSerial(logger.With("component", "control")),
	}

	s.localParticipant = membership.NewParticipant(s.local, s.isHost, membership.Write)
	s.localParticipant.SetPreferredColor(config.PreferredColor)
	if s.isHost {
		s.hostParticipant = s.localParticipant
	} else {
		s.hostParticipant = membership.NewParticipant(s.host, true, membership.Write)
	}

	s.engine = ot.New(ot.Config{
		Local: s.local,
		Send: func(a activity.Activity) error {
			return s.transport.Send(context.Background(), []ref.UserID{s.host}, a)
		},
		Logger: logger.With("component", "ot"),
	})
	s.colors = color.NewEngine(color.Config{
		Local:  s.local,
		Host:   s.isHost,
		Store:  config.ColorStore,
		Notify: s.notifyColor,
		Strict: config.StrictColors,
		Logger: logger.With("component", "color"),
	})

	synchronizer, err := usersync.New(usersync.Config{
		Local:   s.local,
		Sender:  s.transport,
		Clock:   config.Clock,
		Timeout: config.SyncTimeout,
		Logger:  logger.With("component", "usersync"),
	})
	if err != nil {
		return nil, err
	}
	s.sync = synchronizer

	pipeline, err := dispatch.New(dispatch.Config{
		Local:         s.local,
		Host:          s.host,
		Engine:        s.engine,
		Sender:        s.transport,
		Exec:          s.execute,
		Registry:      s.registry,
		Mapper:        s.mapper,
		Gate:          s.gate,
		Serial:        s.serial,
		Mode:          config.Mode,
		QueueCapacity: config.QueueCapacity,
		Logger:        logger.With("component", "dispatch"),
	})
	if err != nil {
		return nil, err
	}
	s.pipeline = pipeline
	return s, nil
}

func (s *Session) transition(from, to State) error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state != from {
		return fmt.Errorf("%w: cannot move from %s to %s", ErrInvalidState, s.state, to)
	}
	s.state = to
	s.logger.Debug("session state changed", "state", to)
	return nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) requireStarted() error {
	if state := s.State(); state != Started {
		return fmt.Errorf("%w: session is %s", ErrInvalidState, state)
	}
	return nil
}

// Start registers the local participant, and the host when this is not
// the host, and starts the dispatch worker. Start may only be called
// once.
func (s *Session) Start(ctx context.Context) error {
	if err := s.transition(NotStarted, Starting); err != nil {
		return err
	}

	s.mu.Lock()
	s.localParticipant.SetInSession(true)
	if err := s.registry.Add(s.localParticipant); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("session: registering local participant: %w", err)
	}
	if s.isHost {
		s.pipeline.RegisterParticipant(s.local)
		s.mapper.MarkHasAllGroups(s.local)
	} else {
		s.hostParticipant.SetInSession(true)
		if err := s.registry.Add(s.hostParticipant); err != nil {
			s.mu.Unlock()
			return fmt.Errorf("session: registering host: %w", err)
		}
	}
	if s.isHost {
		if err := s.colors.Reassign(ctx, s.registry.All(), s.localParticipant, true); err != nil {
			s.logger.Warn("assigning host color failed", "error", err)
		}
	}
	s.mu.Unlock()
	s.flushColorChanges()

	s.pipeline.Start()

	if err := s.transition(Starting, Started); err != nil {
		return err
	}
	s.logger.Info("session started", "host", s.host, "is_host", s.isHost)
	return nil
}

// Stop tears the session down: the dispatch worker and executors stop,
// producers are unbound, and the links to every remote participant are
// closed. Stop may only be called once, after Start.
func (s *Session) Stop() error {
	if err := s.transition(Started, Stopping); err != nil {
		return err
	}

	for _, producer := range s.producers.Clear() {
		producer.Unbind()
	}
	s.pipeline.Stop()
	s.control.Stop()
	s.serial.Stop()

	s.mu.Lock()
	for _, p := range s.registry.Others(s.local) {
		if err := s.transport.Close(p.ID()); err != nil {
			s.logger.Debug("closing link failed", "peer", p.ID(), "error", err)
		}
	}
	s.localParticipant.LeaveSession()
	s.mu.Unlock()

	s.consumers.Clear()
	s.listeners.Clear()
	if err := s.transition(Stopping, Stopped); err != nil {
		return err
	}
	s.logger.Info("session stopped")
	return nil
}

// Local returns the local participant.
func (s *Session) Local() *membership.Participant { return s.localParticipant }

// Host returns the host participant.
func (s *Session) Host() *membership.Participant { return s.hostParticipant }

// IsHost reports whether the local participant is the host.
func (s *Session) IsHost() bool { return s.isHost }

// Participants returns the current members in join order.
func (s *Session) Participants() []*membership.Participant { return s.registry.All() }

// Participant returns the member with id, or nil.
func (s *Session) Participant(id ref.UserID) *membership.Participant { return s.registry.Get(id) }

// Documents returns the session's OT engine. On the host it holds the
// authoritative text of every document.
func (s *Session) Documents() *ot.Engine { return s.engine }

// ShareGroup maps a local handle to a session-wide group id. The host
// can process every group it shares.
func (s *Session) ShareGroup(id ref.GroupID, handle refpoint.Handle) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("session: sharing group: %w", err)
	}
	if err := s.mapper.Share(id, handle); err != nil {
		return fmt.Errorf("session: sharing %s: %w", id, err)
	}
	if s.isHost {
		s.mapper.MarkHasGroup(s.local, id)
	}
	return nil
}

// UnshareGroup forgets group id.
func (s *Session) UnshareGroup(id ref.GroupID) { s.mapper.Unshare(id) }

// IsShared reports whether group id is shared.
func (s *Session) IsShared(id ref.GroupID) bool { return s.mapper.IsShared(id) }

// GroupID returns the group id shared under handle.
func (s *Session) GroupID(handle refpoint.Handle) (ref.GroupID, bool) { return s.mapper.ID(handle) }

// Resolve maps a local location inside a shared handle to a resource.
func (s *Session) Resolve(location string) (ref.Resource, bool) { return s.mapper.Resolve(location) }

// UserHasGroup reports whether the host considers user able to process
// group id.
func (s *Session) UserHasGroup(user ref.UserID, id ref.GroupID) bool {
	return s.mapper.UserHasGroup(user, id)
}

// MarkHasAllGroups records on the host that user can process every
// shared group, and sends it the current documents of each.
func (s *Session) MarkHasAllGroups(ctx context.Context, user ref.UserID) error {
	if !s.isHost {
		return ErrNotHost
	}
	if s.registry.Get(user) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, user)
	}
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	s.mapper.MarkHasAllGroups(user)
	for _, group := range s.mapper.Groups() {
		s.deliver(ctx, dispatch.TransformationResult{Items: s.pipeline.Snapshots(group, user)})
	}
	return nil
}

// MarkHasGroup records on the host that user can process group id, and
// sends it the group's current documents.
func (s *Session) MarkHasGroup(ctx context.Context, user ref.UserID, id ref.GroupID) error {
	if !s.isHost {
		return ErrNotHost
	}
	if s.registry.Get(user) == nil {
		return fmt.Errorf("%w: %s", ErrUnknownParticipant, user)
	}
	s.routeMu.Lock()
	defer s.routeMu.Unlock()
	s.mapper.MarkHasGroup(user, id)
	s.deliver(ctx, dispatch.TransformationResult{Items: s.pipeline.Snapshots(id, user)})
	return nil
}

// EnableQueuing starts holding back incoming activities for group id.
// Calls nest.
func (s *Session) EnableQueuing(id ref.GroupID) { s.gate.Enable(id) }

// DisableQueuing undoes one EnableQueuing. When the last hold is gone
// the held activities are released through the pipeline. A consumer
// calling it from Consume must pass the context Consume received.
func (s *Session) DisableQueuing(ctx context.Context, id ref.GroupID) error {
	s.gate.Disable(id)
	if s.State() != Started {
		return nil
	}
	return s.pipeline.HandleIncoming(ctx, []activity.Activity{activity.NOP{Src: s.local}})
}

// RegisterProducer binds producer to the session.
func (s *Session) RegisterProducer(producer Producer) {
	if s.producers.Add(producer) {
		producer.Bind(s)
	}
}

// UnregisterProducer unbinds producer.
func (s *Session) UnregisterProducer(producer Producer) {
	if s.producers.Remove(producer) {
		producer.Unbind()
	}
}

func (s *Session) RegisterConsumer(consumer Consumer)   { s.consumers.Add(consumer) }
func (s *Session) UnregisterConsumer(consumer Consumer) { s.consumers.Remove(consumer) }
func (s *Session) AddListener(listener Listener)        { s.listeners.Add(listener) }
func (s *Session) RemoveListener(listener Listener)     { s.listeners.Remove(listener) }

// Do runs fn on the session's serial executor, the goroutine that also
// hands incoming activities to consumers. A producer applies a local
// change and emits it inside fn so that no incoming activity is
// executed in between.
func (s *Session) Do(ctx context.Context, fn func(ctx context.Context)) error {
	return s.serial.RunNow(ctx, fn)
}
