// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"testing"

	"github.com/bureau-foundation/tandem/lib/activity"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/textop"
)

func TestDocumentConsume(t *testing.T) {
	doc := newDocument(sharedResource, "alice")
	var remote []ref.UserID
	doc.onRemoteEdit = func(author ref.UserID, _ string) { remote = append(remote, author) }
	ctx := context.Background()

	other := ref.Resource{Group: sharedGroup, Path: "other.txt"}
	if err := doc.Consume(ctx, activity.Snapshot{Src: "host", Resource: other, Text: "x"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-doc.Ready():
		t.Fatal("ready after a snapshot of another resource")
	default:
	}

	if err := doc.Consume(ctx, activity.Snapshot{Src: "host", Resource: sharedResource, Text: "ac"}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-doc.Ready():
	default:
		t.Fatal("not ready after the snapshot")
	}

	edit := activity.TextEdit{Src: "bob", Resource: sharedResource, Ops: []textop.Op{textop.Insert{Pos: 1, Value: "b"}}}
	if err := doc.Consume(ctx, edit); err != nil {
		t.Fatal(err)
	}
	if got := doc.Text(); got != "abc" {
		t.Errorf("text = %q, want abc", got)
	}
	if len(remote) != 1 || remote[0] != "bob" {
		t.Errorf("remote edits reported = %v, want [bob]", remote)
	}

	bad := activity.TextEdit{Src: "bob", Resource: sharedResource, Ops: []textop.Op{textop.Delete{Pos: 2, Len: 5}}}
	if err := doc.Consume(ctx, bad); err == nil {
		t.Error("out-of-range delete applied")
	}
	if got := doc.Text(); got != "abc" {
		t.Errorf("text after failed edit = %q, want abc", got)
	}
}
