// Package keys allocates and parses prefix-typed, sortable record keys.
//
// A key has the form <prefix>_<filterID>_<suffix> or <prefix>_<suffix>.
// The prefix names the entity kind, the optional filter id scopes the key to
// an owning entity (so "all line items of a cart" is a prefix scan), and the
// suffix is a UUIDv7 rendered as 32 lowercase hex digits, which sorts in
// creation order.
package keys

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
	"github.com/google/uuid"
)

const (
	separator = "_"
	suffixLen = 32
)

// Kinds is the closed set of entity prefixes.
var Kinds = map[model.EntityKind]struct{}{
	model.KindAddress:    {},
	model.KindUser:       {},
	model.KindCustomer:   {},
	model.KindProduct:    {},
	model.KindStore:      {},
	model.KindCart:       {},
	model.KindLineItem:   {},
	model.KindOrder:      {},
	model.KindVariant:    {},
	model.KindPrice:      {},
	model.KindCategory:   {},
	model.KindCollection: {},
}

// ValidKind reports whether kind belongs to the closed prefix enumeration.
func ValidKind(kind model.EntityKind) bool {
	_, ok := Kinds[kind]
	return ok
}

// Allocate returns a new globally unique key for kind. filterID may be empty.
func Allocate(kind model.EntityKind, filterID string) (string, error) {
	if !ValidKind(kind) {
		return "", errors.InvalidKind(string(kind))
	}
	if filterID != "" && strings.ContainsAny(filterID, " \t\n/") {
		return "", errors.InvalidArgument(fmt.Sprintf("filter id %q contains illegal characters", filterID), nil)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return "", errors.InternalError("failed to generate key suffix", err)
	}
	suffix := hex.EncodeToString(id[:])

	if filterID == "" {
		return string(kind) + separator + suffix, nil
	}
	return string(kind) + separator + filterID + separator + suffix, nil
}

// MustAllocate is Allocate for statically known kinds.
func MustAllocate(kind model.EntityKind, filterID string) string {
	key, err := Allocate(kind, filterID)
	if err != nil {
		panic(err)
	}
	return key
}

// Parsed holds the components of a key.
type Parsed struct {
	Kind     model.EntityKind
	FilterID string
	Suffix   string
}

// Parse splits a key into its components.
func Parse(key string) (Parsed, error) {
	first := strings.Index(key, separator)
	last := strings.LastIndex(key, separator)
	if first <= 0 || last == len(key)-1 {
		return Parsed{}, errors.InvalidArgument(fmt.Sprintf("malformed key %q", key), nil)
	}

	kind := model.EntityKind(key[:first])
	if !ValidKind(kind) {
		return Parsed{}, errors.InvalidKind(string(kind))
	}

	suffix := key[last+1:]
	if len(suffix) != suffixLen {
		return Parsed{}, errors.InvalidArgument(fmt.Sprintf("malformed key suffix in %q", key), nil)
	}
	if _, err := hex.DecodeString(suffix); err != nil {
		return Parsed{}, errors.InvalidArgument(fmt.Sprintf("malformed key suffix in %q", key), err)
	}

	p := Parsed{Kind: kind, Suffix: suffix}
	if last > first {
		p.FilterID = key[first+1 : last]
	}
	return p, nil
}

// KindOf returns the entity kind encoded in key.
func KindOf(key string) (model.EntityKind, error) {
	p, err := Parse(key)
	if err != nil {
		return "", err
	}
	return p.Kind, nil
}

// FilterPrefix returns the prefix shared by every key of kind under filterID.
func FilterPrefix(kind model.EntityKind, filterID string) string {
	if filterID == "" {
		return string(kind) + separator
	}
	return string(kind) + separator + filterID + separator
}
