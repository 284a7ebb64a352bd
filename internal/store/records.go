package store

import (
	"time"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/keys"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/scope"
)

// visible applies the scope check every read goes through.
func visible(token model.ScopeToken, key string, r *model.Record) error {
	if r == nil {
		return errors.NotFound(key)
	}
	if !scope.Authorize(token, r) {
		return errors.ScopeViolation(key, token.SpaceID)
	}
	return nil
}

// preparePut validates a put against the current row of the key and returns
// the record to write. ChangeVersion is left for the caller to assign.
func preparePut(token model.ScopeToken, w Write, existing *model.Record, expected int64, now time.Time) (*model.Record, error) {
	kind, err := keys.KindOf(w.Key)
	if err != nil {
		return nil, err
	}
	if token.IsZero() {
		return nil, errors.ScopeViolation(w.Key, "")
	}

	if existing == nil {
		if expected != 0 {
			return nil, errors.VersionConflict(w.Key, expected, 0)
		}
		if !scope.CanWriteSubspace(token, w.SubspaceID) {
			return nil, errors.ScopeViolation(w.Key, token.SpaceID)
		}
		return &model.Record{
			Key:        w.Key,
			Kind:       kind,
			Version:    1,
			Payload:    w.Payload.Clone(),
			SpaceID:    token.SpaceID,
			SubspaceID: w.SubspaceID,
			UpdatedAt:  now,
		}, nil
	}

	if !scope.Authorize(token, existing) {
		return nil, errors.ScopeViolation(w.Key, token.SpaceID)
	}
	if existing.Version != expected {
		return nil, errors.VersionConflict(w.Key, expected, existing.Version)
	}

	subspace := existing.SubspaceID
	if w.SubspaceID != "" && w.SubspaceID != subspace {
		if !existing.Deleted {
			return nil, errors.InvalidArgument("record "+w.Key+" cannot move to another subspace", nil)
		}
		if !scope.CanWriteSubspace(token, w.SubspaceID) {
			return nil, errors.ScopeViolation(w.Key, token.SpaceID)
		}
		subspace = w.SubspaceID
	}

	return &model.Record{
		Key:        w.Key,
		Kind:       kind,
		Version:    existing.Version + 1,
		Payload:    w.Payload.Clone(),
		SpaceID:    existing.SpaceID,
		SubspaceID: subspace,
		UpdatedAt:  now,
	}, nil
}

// prepareDelete returns the tombstone replacing existing.
func prepareDelete(token model.ScopeToken, key string, existing *model.Record, expected int64, now time.Time) (*model.Record, error) {
	if err := visible(token, key, existing); err != nil {
		return nil, err
	}
	if existing.Deleted {
		return nil, errors.NotFound(key)
	}
	if existing.Version != expected {
		return nil, errors.VersionConflict(key, expected, existing.Version)
	}
	return &model.Record{
		Key:        key,
		Kind:       existing.Kind,
		Version:    existing.Version + 1,
		SpaceID:    existing.SpaceID,
		SubspaceID: existing.SubspaceID,
		Deleted:    true,
		UpdatedAt:  now,
	}, nil
}
