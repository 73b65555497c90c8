// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrStopped is returned when work is handed to a stopped executor.
var ErrStopped = errors.New("dispatch: executor stopped")

// Serial runs tasks one at a time on a single goroutine, in submission
// order. All mutations of editor-facing state go through it.
//
// RunNow is re-entrant: a task that calls RunNow on the same executor
// with the context it was given runs the nested function immediately
// instead of deadlocking. The nested function therefore runs ahead of
// any task submitted earlier by another goroutine.
type Serial struct {
	tasks  chan task
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

type task struct {
	ctx context.Context
	fn  func(context.Context)
}

type serialKey struct{}

// NewSerial starts an executor. Stop releases its goroutine.
func NewSerial(logger *slog.Logger) *Serial {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Serial{
		tasks:  make(chan task, 256),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		logger: logger,
	}
	go s.run()
	return s
}

func (s *Serial) run() {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case t := <-s.tasks:
			s.execute(t)
		}
	}
}

func (s *Serial) execute(t task) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("serial task panicked", "panic", r)
		}
	}()
	t.fn(t.ctx)
}

// Submit queues fn and returns without waiting for it.
func (s *Serial) Submit(fn func(context.Context)) error {
	return s.enqueue(context.Background(), task{
		ctx: context.WithValue(context.Background(), serialKey{}, s),
		fn:  fn,
	})
}

// RunNow runs fn on the executor and waits for it to return. When ctx
// was handed out by this executor, fn runs inline on the calling
// goroutine. If ctx is cancelled while fn is still queued, RunNow
// returns ctx.Err() and fn runs later anyway.
func (s *Serial) RunNow(ctx context.Context, fn func(context.Context)) error {
	if s.Inside(ctx) {
		fn(ctx)
		return nil
	}
	finished := make(chan struct{})
	err := s.enqueue(ctx, task{
		ctx: context.WithValue(ctx, serialKey{}, s),
		fn: func(ctx context.Context) {
			defer close(finished)
			fn(ctx)
		},
	})
	if err != nil {
		return err
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrStopped
	}
}

// Inside reports whether ctx belongs to a task running on s.
func (s *Serial) Inside(ctx context.Context) bool {
	owner, _ := ctx.Value(serialKey{}).(*Serial)
	return owner == s
}

func (s *Serial) enqueue(ctx context.Context, t task) error {
	select {
	case <-s.stop:
		return ErrStopped
	default:
	}
	select {
	case s.tasks <- t:
		return nil
	case <-s.stop:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop finishes the task in progress, discards queued tasks and waits
// for the executor goroutine to exit. Stop is safe to call more than
// once but must not be called from a task.
func (s *Serial) Stop() {
	s.once.Do(func() { close(s.stop) })
	<-s.done
}
