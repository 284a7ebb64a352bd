package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Session is the pre-validated identity supplied by the authentication
// collaborator. The sync engine never checks credentials itself.
type Session struct {
	UserID  string
	SpaceID string
}

// ScopeToken binds a client group to one space and a set of subspaces.
// Every record store and reconciler call requires one.
type ScopeToken struct {
	ClientGroupID string   `json:"client_group_id"`
	UserID        string   `json:"user_id,omitempty"`
	SpaceID       string   `json:"space_id"`
	SubspaceIDs   []string `json:"subspace_ids,omitempty"`
	// Epoch increases on every rebind of the client group.
	Epoch uint64 `json:"epoch"`
}

// HasSubspace reports whether the token is bound to subspaceID.
// SubspaceIDs is kept sorted by the partitioner.
func (t ScopeToken) HasSubspace(subspaceID string) bool {
	for _, id := range t.SubspaceIDs {
		if id == subspaceID {
			return true
		}
	}
	return false
}

// Namespace identifies the scope for cache keys. Rebinding changes it.
// Components are length-prefixed so distinct scopes never share a namespace
// and no namespace is a prefix of another one's keys.
func (t ScopeToken) Namespace() string {
	var b strings.Builder
	writeField(&b, t.SpaceID)
	for _, id := range t.SubspaceIDs {
		writeField(&b, id)
	}
	fmt.Fprintf(&b, "@%d", t.Epoch)
	return b.String()
}

// LedgerID keys the mutation ledger of the client group within its space.
func (t ScopeToken) LedgerID() string {
	var b strings.Builder
	writeField(&b, t.SpaceID)
	writeField(&b, t.ClientGroupID)
	return b.String()
}

func writeField(b *strings.Builder, s string) {
	b.WriteString(strconv.Itoa(len(s)))
	b.WriteByte(':')
	b.WriteString(s)
}

// IsZero reports whether the token was never bound.
func (t ScopeToken) IsZero() bool {
	return t.SpaceID == ""
}
