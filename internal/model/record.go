package model

import (
	"bytes"
	"encoding/json"
	"io"
	"time"
)

// EntityKind identifies the type of a record. The set is closed; see keys.Kinds.
type EntityKind string

const (
	KindAddress    EntityKind = "address"
	KindUser       EntityKind = "user"
	KindCustomer   EntityKind = "customer"
	KindProduct    EntityKind = "product"
	KindStore      EntityKind = "store"
	KindCart       EntityKind = "cart"
	KindLineItem   EntityKind = "lineitem"
	KindOrder      EntityKind = "order"
	KindVariant    EntityKind = "variant"
	KindPrice      EntityKind = "price"
	KindCategory   EntityKind = "category"
	KindCollection EntityKind = "collection"
)

// Payload is an opaque structured record value. Fields a mutator does not
// know about are carried through untouched.
type Payload map[string]any

// Clone returns a deep copy of the payload so mutators never share state
// with the snapshot they were given.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	return cloneValue(map[string]any(p)).(map[string]any)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Payload:
		return Payload(cloneValue(map[string]any(t)).(map[string]any))
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// Record is the canonical, versioned unit of synchronized state.
type Record struct {
	Key        string     `json:"key"`
	Kind       EntityKind `json:"kind"`
	Version    int64      `json:"version"`
	Payload    Payload    `json:"payload,omitempty"`
	SpaceID    string     `json:"space_id"`
	SubspaceID string     `json:"subspace_id,omitempty"`

	// ChangeVersion is the space-wide sequence number of the write that
	// produced this version. Pull cursors are expressed in change versions.
	ChangeVersion int64 `json:"change_version"`

	// Deleted marks a tombstone. Tombstones keep their version so a
	// re-create continues the key's sequence.
	Deleted   bool      `json:"deleted,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Payload = r.Payload.Clone()
	return &c
}

// MarshalPayload encodes a payload for storage.
func MarshalPayload(p Payload) ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}
	return json.Marshal(p)
}

// UnmarshalPayload decodes a stored payload.
func UnmarshalPayload(data []byte) (Payload, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var p Payload
	if err := DecodeJSON(data, &p); err != nil {
		return nil, err
	}
	return p, nil
}

// DecodeJSON unmarshals data keeping numbers as json.Number, so integers
// beyond 2^53 survive inside payloads.
func DecodeJSON(data []byte, v any) error {
	return DecodeJSONFrom(bytes.NewReader(data), v)
}

// DecodeJSONFrom is DecodeJSON over a reader.
func DecodeJSONFrom(r io.Reader, v any) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec.Decode(v)
}
