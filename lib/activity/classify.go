// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"fmt"

	"github.com/bureau-foundation/tandem/lib/ref"
)

// Kind returns the stable wire name of a's variant.
func Kind(a Activity) string {
	switch a.(type) {
	case TextEdit:
		return "text_edit"
	case TextEditAck:
		return "text_edit_ack"
	case Snapshot:
		return "snapshot"
	case EditorActivated:
		return "editor_activated"
	case SelectionChange:
		return "selection_change"
	case FileDeleted:
		return "file_deleted"
	case DeletionAck:
		return "deletion_ack"
	case Message:
		return "message"
	case ColorChange:
		return "color_change"
	case PermissionChange:
		return "permission_change"
	case UserListDelta:
		return "user_list_delta"
	case UserListAck:
		return "user_list_ack"
	case NOP:
		return "nop"
	}
	panic(fmt.Sprintf("activity: unknown variant %T", a))
}

// ResourceOf returns the resource a refers to. scoped reports whether
// the variant is resource-scoped at all; a scoped activity with a nil
// resource is only possible for variants where AllowsNilResource holds.
func ResourceOf(a Activity) (resource *ref.Resource, scoped bool) {
	switch a := a.(type) {
	case TextEdit:
		return &a.Resource, true
	case TextEditAck:
		return &a.Resource, true
	case Snapshot:
		return &a.Resource, true
	case EditorActivated:
		return a.Resource, true
	case SelectionChange:
		return &a.Resource, true
	case FileDeleted:
		return &a.Resource, true
	case DeletionAck:
		return &a.Resource, true
	case Message, ColorChange, PermissionChange, UserListDelta, UserListAck, NOP:
		return nil, false
	}
	panic(fmt.Sprintf("activity: unknown variant %T", a))
}

// AllowsNilResource reports whether a nil resource is meaningful for
// a's variant. Only EditorActivated qualifies: it means "no editor
// active" and is delivered to everyone regardless of group membership.
func AllowsNilResource(a Activity) bool {
	_, ok := a.(EditorActivated)
	return ok
}

// IsOTBearing reports whether a must pass through the OT engine.
func IsOTBearing(a Activity) bool {
	switch a.(type) {
	case TextEdit, TextEditAck, Snapshot:
		return true
	}
	return false
}

// IsEditorState reports whether a describes editor focus or selection.
// Such activities only make sense after the matching EditorActivated.
func IsEditorState(a Activity) bool {
	switch a.(type) {
	case EditorActivated, SelectionChange:
		return true
	}
	return false
}

// IsWrite reports whether a modifies a shared resource.
func IsWrite(a Activity) bool {
	switch a.(type) {
	case TextEdit, FileDeleted:
		return true
	}
	return false
}

// IsControl reports whether a belongs to the membership
// synchronization protocol and bypasses the dispatch pipeline.
func IsControl(a Activity) bool {
	switch a.(type) {
	case UserListDelta, UserListAck:
		return true
	}
	return false
}

// Targets returns the explicit recipients of a targeted activity.
func Targets(a Activity) ([]ref.UserID, bool) {
	if message, ok := a.(Message); ok {
		return message.Targets, true
	}
	return nil, false
}

// Describe returns a short human-readable summary for logs.
func Describe(a Activity) string {
	resource, scoped := ResourceOf(a)
	if scoped && resource != nil {
		return fmt.Sprintf("%s from %s on %s", Kind(a), a.Source(), resource)
	}
	return fmt.Sprintf("%s from %s", Kind(a), a.Source())
}
