// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package activity

import (
	"fmt"

	"github.com/bureau-foundation/tandem/lib/codec"
	"github.com/bureau-foundation/tandem/lib/ref"
	"github.com/bureau-foundation/tandem/lib/textop"
)

type envelope struct {
	Kind string           `cbor:"kind"`
	Body codec.RawMessage `cbor:"body"`
}

// textEditWire is TextEdit with its operations in string form.
type textEditWire struct {
	Src          ref.UserID   `cbor:"src"`
	Resource     ref.Resource `cbor:"resource"`
	BaseRevision int          `cbor:"base_revision"`
	Revision     int          `cbor:"revision"`
	Ops          []string     `cbor:"ops"`
}

// Marshal encodes a as a CBOR envelope naming its variant.
func Marshal(a Activity) ([]byte, error) {
	var body any = a
	if edit, ok := a.(TextEdit); ok {
		body = textEditWire{
			Src:          edit.Src,
			Resource:     edit.Resource,
			BaseRevision: edit.BaseRevision,
			Revision:     edit.Revision,
			Ops:          textop.EncodeAll(edit.Ops),
		}
	}
	encoded, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", Kind(a), err)
	}
	return codec.Marshal(envelope{Kind: Kind(a), Body: encoded})
}

// Unmarshal decodes an envelope produced by Marshal. Identifiers are
// validated during decoding.
func Unmarshal(data []byte) (Activity, error) {
	var env envelope
	if err := codec.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding activity envelope: %w", err)
	}

	switch env.Kind {
	case "text_edit":
		var wire textEditWire
		if err := decodeBody(env, &wire); err != nil {
			return nil, err
		}
		ops, err := textop.DecodeAll(wire.Ops)
		if err != nil {
			return nil, fmt.Errorf("decoding text_edit ops: %w", err)
		}
		return TextEdit{
			Src:          wire.Src,
			Resource:     wire.Resource,
			BaseRevision: wire.BaseRevision,
			Revision:     wire.Revision,
			Ops:          ops,
		}, nil
	case "text_edit_ack":
		return decodeAs[TextEditAck](env)
	case "snapshot":
		return decodeAs[Snapshot](env)
	case "editor_activated":
		return decodeAs[EditorActivated](env)
	case "selection_change":
		return decodeAs[SelectionChange](env)
	case "file_deleted":
		return decodeAs[FileDeleted](env)
	case "deletion_ack":
		return decodeAs[DeletionAck](env)
	case "message":
		return decodeAs[Message](env)
	case "color_change":
		return decodeAs[ColorChange](env)
	case "permission_change":
		return decodeAs[PermissionChange](env)
	case "user_list_delta":
		return decodeAs[UserListDelta](env)
	case "user_list_ack":
		return decodeAs[UserListAck](env)
	case "nop":
		return decodeAs[NOP](env)
	}
	return nil, fmt.Errorf("unknown activity kind %q", env.Kind)
}

func decodeAs[A Activity](env envelope) (Activity, error) {
	var decoded A
	if err := decodeBody(env, &decoded); err != nil {
		return nil, err
	}
	return decoded, nil
}

func decodeBody(env envelope, target any) error {
	if err := codec.Unmarshal(env.Body, target); err != nil {
		return fmt.Errorf("decoding %s: %w", env.Kind, err)
	}
	return nil
}
