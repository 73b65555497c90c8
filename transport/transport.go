// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
)

var (
	// ErrUnknownRecipient is returned for a recipient the transport has
	// no link to.
	ErrUnknownRecipient = errors.New("transport: unknown recipient")

	// ErrDisconnected is returned for a recipient whose link has been
	// closed.
	ErrDisconnected = errors.New("transport: disconnected")
)

// Transport delivers activities between participants. Delivery to each
// recipient is ordered: activities sent to the same recipient arrive
// in the order Send was called. Send does not wait for delivery.
type Transport interface {
	// Send delivers a to every recipient, including the local
	// participant when it is listed. Per-recipient failures are
	// reported together in a *SendError; recipients that did not fail
	// still receive a.
	Send(ctx context.Context, recipients []ref.UserID, a activity.Activity) error

	// Close tears down the link to id.
	Close(id ref.UserID) error
}

// Handler receives activities. from is the participant on the other end
// of the link, which for relayed activities is the host rather than the
// activity's source. Handlers run on a transport goroutine and must not
// block on further input from the same link.
type Handler func(from ref.UserID, a activity.Activity)

// SendError reports the recipients a Send could not reach.
type SendError struct {
	Failed map[ref.UserID]error
}

func (e *SendError) Error() string {
	ids := make([]ref.UserID, 0, len(e.Failed))
	for id := range e.Failed {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%s: %v", id, e.Failed[id])
	}
	return "transport: send failed for " + strings.Join(parts, "; ")
}

// Unwrap exposes the per-recipient errors to errors.Is and errors.As.
func (e *SendError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed))
	for _, err := range e.Failed {
		errs = append(errs, err)
	}
	return errs
}

// sendResult builds the error Send returns from per-recipient failures.
func sendResult(failed map[ref.UserID]error) error {
	if len(failed) == 0 {
		return nil
	}
	return &SendError{Failed: failed}
}
