// Package scope assigns client groups to a space and a set of subspaces and
// authorizes record access against that binding.
package scope

import (
	"sort"
	"sync"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
	"go.uber.org/zap"
)

// RebindListener is told when a client group's bound scope changes. Callers
// treat it as a flush signal for data cached under the old scope.
type RebindListener func(old, current model.ScopeToken)

// Partitioner tracks the active binding of every client group.
type Partitioner struct {
	mu        sync.Mutex
	bindings  map[string]model.ScopeToken
	listeners []RebindListener
	logger    *zap.Logger
}

// NewPartitioner creates a new partitioner
func NewPartitioner(logger *zap.Logger) *Partitioner {
	return &Partitioner{
		bindings: make(map[string]model.ScopeToken),
		logger:   logger,
	}
}

// OnRebind registers a listener for scope changes.
func (p *Partitioner) OnRebind(l RebindListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Bind binds clientGroupID to spaceID and subspaceIDs and returns the token
// every store and reconciler call requires. Binding the same scope again
// returns the current token; a different subspace set bumps the epoch. A
// client group never moves to another space or user.
func (p *Partitioner) Bind(clientGroupID, spaceID string, subspaceIDs []string) (model.ScopeToken, error) {
	return p.bind(clientGroupID, model.Session{SpaceID: spaceID}, subspaceIDs)
}

// BindSession binds using the identity supplied by the authentication collaborator.
func (p *Partitioner) BindSession(clientGroupID string, session model.Session, subspaceIDs []string) (model.ScopeToken, error) {
	return p.bind(clientGroupID, session, subspaceIDs)
}

// Rebind changes the active subspaces of an existing binding.
func (p *Partitioner) Rebind(token model.ScopeToken, subspaceIDs []string) (model.ScopeToken, error) {
	return p.bind(token.ClientGroupID, model.Session{UserID: token.UserID, SpaceID: token.SpaceID}, subspaceIDs)
}

func (p *Partitioner) bind(clientGroupID string, session model.Session, subspaceIDs []string) (model.ScopeToken, error) {
	if clientGroupID == "" {
		return model.ScopeToken{}, errors.InvalidArgument("client group id is required", nil)
	}
	if session.SpaceID == "" {
		return model.ScopeToken{}, errors.InvalidArgument("space id is required", nil)
	}

	token := model.ScopeToken{
		ClientGroupID: clientGroupID,
		UserID:        session.UserID,
		SpaceID:       session.SpaceID,
		SubspaceIDs:   normalize(subspaceIDs),
		Epoch:         1,
	}

	p.mu.Lock()
	old, existed := p.bindings[clientGroupID]
	if existed && sameScope(old, token) {
		p.mu.Unlock()
		return old, nil
	}
	if existed && (old.SpaceID != token.SpaceID || old.UserID != token.UserID) {
		p.mu.Unlock()
		p.logger.Warn("Client group claimed by another identity",
			zap.Bool("security", true),
			zap.String("client_group_id", clientGroupID),
			zap.String("bound_space_id", old.SpaceID),
			zap.String("bound_user_id", old.UserID),
			zap.String("space_id", token.SpaceID),
			zap.String("user_id", token.UserID))
		return model.ScopeToken{}, errors.ScopeViolation("", token.SpaceID).
			WithDetail("client_group_id", clientGroupID)
	}
	if existed {
		token.Epoch = old.Epoch + 1
	}
	p.bindings[clientGroupID] = token
	listeners := append([]RebindListener(nil), p.listeners...)
	p.mu.Unlock()

	if existed {
		p.logger.Info("Client group rebound",
			zap.String("client_group_id", clientGroupID),
			zap.String("space_id", token.SpaceID),
			zap.Strings("old_subspaces", old.SubspaceIDs),
			zap.Strings("subspaces", token.SubspaceIDs),
			zap.Uint64("epoch", token.Epoch))
		for _, l := range listeners {
			l(old, token)
		}
	}

	return token, nil
}

// Current returns the active binding of a client group.
func (p *Partitioner) Current(clientGroupID string) (model.ScopeToken, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	t, ok := p.bindings[clientGroupID]
	return t, ok
}

// Authorize reports whether record is visible under token.
func Authorize(token model.ScopeToken, record *model.Record) bool {
	if record == nil || token.IsZero() {
		return false
	}
	if record.SpaceID != token.SpaceID {
		return false
	}
	return record.SubspaceID == "" || token.HasSubspace(record.SubspaceID)
}

// Authorize reports whether record is visible under token.
func (p *Partitioner) Authorize(token model.ScopeToken, record *model.Record) bool {
	return Authorize(token, record)
}

// Check is Authorize returning a ScopeViolation error, logged as a
// potential security issue.
func (p *Partitioner) Check(token model.ScopeToken, record *model.Record) error {
	if Authorize(token, record) {
		return nil
	}
	key := ""
	if record != nil {
		key = record.Key
	}
	p.logger.Warn("Scope violation",
		zap.Bool("security", true),
		zap.String("client_group_id", token.ClientGroupID),
		zap.String("user_id", token.UserID),
		zap.String("space_id", token.SpaceID),
		zap.String("key", key))
	return errors.ScopeViolation(key, token.SpaceID)
}

// CanWriteSubspace reports whether a record may be created in subspaceID.
func CanWriteSubspace(token model.ScopeToken, subspaceID string) bool {
	return subspaceID == "" || token.HasSubspace(subspaceID)
}

func normalize(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, dup := set[id]; dup {
			continue
		}
		set[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func sameScope(a, b model.ScopeToken) bool {
	if a.SpaceID != b.SpaceID || a.UserID != b.UserID || len(a.SubspaceIDs) != len(b.SubspaceIDs) {
		return false
	}
	for i := range a.SubspaceIDs {
		if a.SubspaceIDs[i] != b.SubspaceIDs[i] {
			return false
		}
	}
	return true
}
