// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/membership"
	"github.com/bureau-foundation/tandem/lib/queuing"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/refpoint"
)

// Mode selects how incoming activities reach the executor.
type Mode int

const (
	// ModeQueued hands released batches to a worker goroutine, which
	// merges whatever has accumulated before executing.
	ModeQueued Mode = iota

	// ModeInline executes released batches on the caller's goroutine
	// before HandleIncoming returns.
	ModeInline
)

func (m Mode) String() string {
	switch m {
	case ModeQueued:
		return "queued"
	case ModeInline:
		return "inline"
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode parses "queued" or "inline".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "queued":
		return ModeQueued, nil
	case "inline":
		return ModeInline, nil
	}
	return 0, fmt.Errorf("dispatch: unknown mode %q (want queued or inline)", s)
}

// Sender delivers an activity to a set of participants.
type Sender interface {
	Send(ctx context.Context, recipients []ref.UserID, a activity.Activity) error
}

// defaultQueueCapacity is the queue size used when
// Config.QueueCapacity is not set.
const defaultQueueCapacity = 256

// ExecFunc applies an activity to local state, usually by handing it
// to the registered consumers.
type ExecFunc func(ctx context.Context, a activity.Activity) error

// Config wires a Pipeline. Every field except Mode, QueueCapacity and
// Logger is required.
type Config struct {
	Local ref.UserID
	Host  ref.UserID

	Engine   Engine
	Sender   Sender
	Exec     ExecFunc
	Registry *membership.Registry
	Mapper   *refpoint.Mapper
	Gate     *queuing.Gate
	Serial   *Serial

	Mode Mode

	// QueueCapacity bounds the number of released batches waiting for
	// the worker in ModeQueued. Defaults to 256.
	QueueCapacity int

	Logger *slog.Logger
}

// Pipeline moves activities between the local editor, the transport
// and the OT engine.
type Pipeline struct {
	local    ref.UserID
	host     ref.UserID
	engine   Engine
	sender   Sender
	exec     ExecFunc
	registry *membership.Registry
	mapper   *refpoint.Mapper
	gate     *queuing.Gate
	serial   *Serial
	mode     Mode
	logger   *slog.Logger

	// mu keeps gate output and queue order identical.
	mu    sync.Mutex
	queue chan []activity.Activity

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	worker    sync.WaitGroup
}

// New validates config and returns a pipeline. Call Start before
// handing it incoming activities in ModeQueued.
func New(config Config) (*Pipeline, error) {
	var missing []error
	require := func(ok bool, name string) {
		if !ok {
			missing = append(missing, fmt.Errorf("dispatch: %s is required", name))
		}
	}
	require(config.Local != "", "Local")
	require(config.Host != "", "Host")
	require(config.Engine != nil, "Engine")
	require(config.Sender != nil, "Sender")
	require(config.Exec != nil, "Exec")
	require(config.Registry != nil, "Registry")
	require(config.Mapper != nil, "Mapper")
	require(config.Gate != nil, "Gate")
	require(config.Serial != nil, "Serial")
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}

	capacity := config.QueueCapacity
	if capacity <= 0 {
		capacity = defaultQueueCapacity
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{
		local:    config.Local,
		host:     config.Host,
		engine:   config.Engine,
		sender:   config.Sender,
		exec:     config.Exec,
		registry: config.Registry,
		mapper:   config.Mapper,
		gate:     config.Gate,
		serial:   config.Serial,
		mode:     config.Mode,
		logger:   logger,
		queue:    make(chan []activity.Activity, capacity),
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the worker for ModeQueued. It is a no-op in
// ModeInline and on repeated calls.
func (p *Pipeline) Start() {
	if p.mode != ModeQueued {
		return
	}
	p.startOnce.Do(func() {
		p.worker.Add(1)
		go p.work()
	})
}

// Stop halts the worker. Batches still queued are discarded.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.worker.Wait()
}

func (p *Pipeline) work() {
	defer p.worker.Done()
	ctx := context.Background()
	for {
		select {
		case <-p.stop:
			return
		case batch := <-p.queue:
			pending := batch
		drain:
			for {
				select {
				case more := <-p.queue:
					pending = append(pending, more...)
				default:
					break drain
				}
			}
			if err := p.process(ctx, pending); err != nil {
				p.logger.Warn("incoming batch not executed", "activities", len(pending), "error", err)
			}
		}
	}
}

// HandleOutgoing transforms locally produced activities and sends them
// to the host. Activities the engine buffers are sent by the engine
// once the host acknowledges the edit in flight.
func (p *Pipeline) HandleOutgoing(ctx context.Context, activities []activity.Activity) error {
	var errs []error
	err := p.serial.RunNow(ctx, func(ctx context.Context) {
		for _, a := range activities {
			out, err := p.engine.TransformOutgoing(a)
			if err != nil {
				errs = append(errs, fmt.Errorf("transforming %s: %w", activity.Describe(a), err))
				continue
			}
			if out == nil {
				continue
			}
			if err := p.sender.Send(ctx, []ref.UserID{p.host}, out); err != nil {
				errs = append(errs, fmt.Errorf("sending %s: %w", activity.Describe(out), err))
			}
		}
	})
	if err != nil {
		return err
	}
	return errors.Join(errs...)
}

// HandleIncoming passes activities received from the host through the
// queuing gate and executes whatever it releases.
//
// In queued mode a caller running on the executor, such as a consumer
// passing the context it was given, has the released activities
// executed before it returns, ahead of batches still in the queue.
func (p *Pipeline) HandleIncoming(ctx context.Context, activities []activity.Activity) error {
	select {
	case <-p.stop:
		return ErrStopped
	default:
	}

	if p.mode == ModeInline {
		p.mu.Lock()
		ready := p.gate.Process(activities)
		p.mu.Unlock()
		if len(ready) == 0 {
			return nil
		}
		return p.process(ctx, ready)
	}

	p.mu.Lock()
	ready := p.gate.Process(activities)
	if len(ready) == 0 {
		p.mu.Unlock()
		return nil
	}
	if p.serial.Inside(ctx) {
		// The worker is blocked on the task that called us and cannot
		// drain the queue.
		p.mu.Unlock()
		return p.process(ctx, ready)
	}
	defer p.mu.Unlock()
	select {
	case p.queue <- ready:
		return nil
	case <-p.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) process(ctx context.Context, activities []activity.Activity) error {
	optimized := activity.Optimize(activities)
	if len(optimized) == 0 {
		return nil
	}
	return p.serial.RunNow(ctx, func(ctx context.Context) {
		for _, a := range optimized {
			p.executeIncoming(ctx, a)
		}
	})
}

func (p *Pipeline) executeIncoming(ctx context.Context, a activity.Activity) {
	source := p.registry.Get(a.Source())
	if source == nil || !source.InSession() {
		p.logger.Warn("dropping activity from participant not in session", "activity", activity.Describe(a))
		return
	}
	results, err := p.engine.TransformIncoming(a)
	if err != nil {
		p.logger.Error("transforming incoming activity", "activity", activity.Describe(a), "error", err)
		return
	}
	for _, result := range results {
		p.execute(ctx, result)
	}
}

func (p *Pipeline) execute(ctx context.Context, a activity.Activity) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("activity execution panicked", "activity", activity.Describe(a), "panic", r)
		}
	}()
	if err := p.exec(ctx, a); err != nil {
		p.logger.Error("executing activity", "activity", activity.Describe(a), "error", err)
	}
}

// DirectServerActivities decides where each activity received by the
// host goes. Activities from participants the host does not know and
// writes from read-only participants are dropped. OT-bearing
// activities are serialized by the engine. Targeted activities go to
// their targets. Everything else is broadcast to every participant
// except its source, or executed locally when the host is alone. A
// resource-scoped activity only reaches participants that have the
// resource's group.
//
// Only the host calls this, and the caller must serialize calls so
// that deliveries leave in the order the engine numbered them.
func (p *Pipeline) DirectServerActivities(activities []activity.Activity) TransformationResult {
	var result TransformationResult
	for _, a := range activities {
		source := p.registry.Get(a.Source())
		if source == nil {
			p.logger.Warn("dropping activity from unknown participant", "activity", activity.Describe(a))
			continue
		}
		if activity.IsWrite(a) && !source.HasWriteAccess() {
			p.logger.Warn("dropping write from read-only participant", "activity", activity.Describe(a))
			continue
		}

		if activity.IsOTBearing(a) {
			items, local, err := p.engine.TransformServerIncoming(a)
			if err != nil {
				p.logger.Error("serializing activity", "activity", activity.Describe(a), "error", err)
				continue
			}
			result.Items = append(result.Items, items...)
			result.Local = append(result.Local, local...)
			continue
		}

		if targets, ok := activity.Targets(a); ok {
			recipients := make([]ref.UserID, 0, len(targets))
			for _, target := range targets {
				switch {
				case target == a.Source():
				case p.registry.Get(target) == nil:
					p.logger.Warn("dropping unknown target", "activity", activity.Describe(a), "target", target)
				default:
					recipients = append(recipients, target)
				}
			}
			result.Items = append(result.Items, QueueItem{Activity: a, Recipients: recipients})
			continue
		}

		if len(p.registry.Others(p.local)) > 0 {
			others := membership.IDs(p.registry.Others(a.Source()))
			result.Items = append(result.Items, QueueItem{Activity: a, Recipients: others})
		} else if a.Source() != p.local {
			result.Local = append(result.Local, a)
		}
	}

	result.Items = p.narrow(result.Items)
	return result
}

// narrow restricts resource-scoped items to participants that have the
// resource's group and drops items left without recipients. A scoped
// activity without a resource reaches everyone only when its variant
// allows a nil resource.
func (p *Pipeline) narrow(items []QueueItem) []QueueItem {
	narrowed := items[:0]
	for _, item := range items {
		resource, scoped := activity.ResourceOf(item.Activity)
		switch {
		case !scoped:
		case resource != nil:
			item.Recipients = p.mapper.UsersWithGroup(item.Recipients, resource.Group)
		case !activity.AllowsNilResource(item.Activity):
			p.logger.Warn("dropping activity without a resource", "activity", activity.Describe(item.Activity))
			item.Recipients = nil
		}
		if len(item.Recipients) == 0 {
			continue
		}
		narrowed = append(narrowed, item)
	}
	return slices.Clip(narrowed)
}

// RegisterParticipant makes id known to the engine's server half.
func (p *Pipeline) RegisterParticipant(id ref.UserID) {
	if tracker, ok := p.engine.(ParticipantTracker); ok {
		tracker.AddParticipant(id)
	}
}

// UnregisterParticipant removes id from the engine's server half.
func (p *Pipeline) UnregisterParticipant(id ref.UserID) {
	if tracker, ok := p.engine.(ParticipantTracker); ok {
		tracker.RemoveParticipant(id)
	}
}

// Snapshots returns the documents of group addressed to recipient,
// when the engine can produce them.
func (p *Pipeline) Snapshots(group ref.GroupID, recipient ref.UserID) []QueueItem {
	if snapshotter, ok := p.engine.(Snapshotter); ok {
		return snapshotter.Snapshots(group, recipient)
	}
	return nil
}
