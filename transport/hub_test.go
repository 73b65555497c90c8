// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/testutil"
)

type received struct {
	from     ref.UserID
	activity activity.Activity
}

func collect(buffer int) (Handler, chan received) {
	deliveries := make(chan received, buffer)
	return func(from ref.UserID, a activity.Activity) {
		deliveries <- received{from: from, activity: a}
	}, deliveries
}

func attach(t *testing.T, hub *Hub, id ref.UserID) (*Endpoint, chan received) {
	t.Helper()
	endpoint, err := hub.Endpoint(id)
	if err != nil {
		t.Fatalf("Endpoint(%s): %v", id, err)
	}
	handler, deliveries := collect(64)
	endpoint.Handle(handler)
	t.Cleanup(endpoint.Shutdown)
	return endpoint, deliveries
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub(nil)
	alice, _ := attach(t, hub, "alice")
	_, bob := attach(t, hub, "bob")

	ctx := context.Background()
	for i := range 20 {
		if err := alice.Send(ctx, []ref.UserID{"bob"}, activity.SelectionChange{Src: "alice", Offset: i}); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	for i := range 20 {
		got := testutil.RequireReceive(t, bob, 5*time.Second, "delivery")
		if got.from != "alice" || got.activity.(activity.SelectionChange).Offset != i {
			t.Fatalf("delivery %d = %+v from %s", i, got.activity, got.from)
		}
	}
}

func TestHubLoopback(t *testing.T) {
	hub := NewHub(nil)
	host, deliveries := attach(t, hub, "host")

	if err := host.Send(context.Background(), []ref.UserID{"host"}, activity.NOP{Src: "host"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	got := testutil.RequireReceive(t, deliveries, 5*time.Second, "loopback delivery")
	if got.from != "host" {
		t.Errorf("from = %s, want host", got.from)
	}
}

func TestHubPartialFailure(t *testing.T) {
	hub := NewHub(nil)
	host, _ := attach(t, hub, "host")
	_, alice := attach(t, hub, "alice")
	attach(t, hub, "bob")
	hub.Disconnect("host", "bob")

	err := host.Send(context.Background(), []ref.UserID{"alice", "bob", "carol"}, activity.NOP{Src: "host"})
	var sendErr *SendError
	if !errors.As(err, &sendErr) {
		t.Fatalf("Send err = %v, want *SendError", err)
	}
	if !errors.Is(sendErr.Failed["bob"], ErrDisconnected) || !errors.Is(sendErr.Failed["carol"], ErrUnknownRecipient) {
		t.Errorf("failures = %v", sendErr.Failed)
	}
	if _, failed := sendErr.Failed["alice"]; failed {
		t.Error("alice reported as failed")
	}
	if !errors.Is(err, ErrUnknownRecipient) {
		t.Error("errors.Is does not see through SendError")
	}
	testutil.RequireReceive(t, alice, 5*time.Second, "delivery to reachable recipient")

	hub.Reconnect("host", "bob")
	if err := host.Send(context.Background(), []ref.UserID{"bob"}, activity.NOP{Src: "host"}); err != nil {
		t.Errorf("Send after Reconnect: %v", err)
	}
}

func TestHubEndpointLifecycle(t *testing.T) {
	hub := NewHub(nil)
	first, err := hub.Endpoint("alice")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	if _, err := hub.Endpoint("alice"); err == nil {
		t.Error("second Endpoint for the same participant succeeded")
	}
	if _, err := hub.Endpoint("not valid"); err == nil {
		t.Error("Endpoint accepted an invalid identifier")
	}

	host, _ := attach(t, hub, "host")
	if err := host.Close("alice"); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := host.Send(context.Background(), []ref.UserID{"alice"}, activity.NOP{Src: "host"}); !errors.Is(err, ErrDisconnected) {
		t.Errorf("Send after Close: err = %v, want ErrDisconnected", err)
	}

	first.Shutdown()
	_, deliveries := attach(t, hub, "alice")
	if err := host.Send(context.Background(), []ref.UserID{"alice"}, activity.NOP{Src: "host"}); err != nil {
		t.Fatalf("Send to reattached participant: %v", err)
	}
	testutil.RequireReceive(t, deliveries, 5*time.Second, "delivery after reattach")
}

func TestHubQueuesUntilHandled(t *testing.T) {
	hub := NewHub(nil)
	host, _ := attach(t, hub, "host")
	late, err := hub.Endpoint("late")
	if err != nil {
		t.Fatalf("Endpoint: %v", err)
	}
	defer late.Shutdown()

	if err := host.Send(context.Background(), []ref.UserID{"late"}, activity.NOP{Src: "host"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	handler, deliveries := collect(1)
	late.Handle(handler)
	testutil.RequireReceive(t, deliveries, 5*time.Second, "queued delivery")
}
