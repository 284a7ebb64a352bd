package model

import (
	"sort"
	"time"
)

// Args are the arguments passed to a mutator.
type Args map[string]any

// Mutation is a single named mutator invocation issued by a client.
type Mutation struct {
	ClientMutationID int64  `json:"client_mutation_id"`
	MutatorName      string `json:"mutator_name"`
	Args             Args   `json:"args,omitempty"`
	SpaceID          string `json:"space_id"`

	// Key is the record the mutator targets; SubspaceID scopes it when the
	// mutation creates the record.
	Key        string `json:"key"`
	SubspaceID string `json:"subspace_id,omitempty"`

	// ExpectedVersion is set for version-guarded mutators: the server
	// rejects the mutation when the authoritative version differs.
	ExpectedVersion *int64 `json:"expected_version,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// SortMutations orders mutations by client mutation id.
func SortMutations(ms []Mutation) {
	sort.SliceStable(ms, func(i, j int) bool {
		return ms[i].ClientMutationID < ms[j].ClientMutationID
	})
}

// OutcomeStatus describes how the server disposed of a mutation.
type OutcomeStatus string

const (
	OutcomeAccepted OutcomeStatus = "accepted"
	OutcomeRejected OutcomeStatus = "rejected"
	// OutcomeSkipped is returned for mutations the server did not look at
	// (a gap in the client's sequence). They stay queued on the client.
	OutcomeSkipped OutcomeStatus = "skipped"
)

// Outcome is the server's verdict on one mutation.
type Outcome struct {
	ClientMutationID int64         `json:"client_mutation_id"`
	Key              string        `json:"key"`
	Status           OutcomeStatus `json:"status"`
	Code             string        `json:"code,omitempty"`
	Reason           string        `json:"reason,omitempty"`
	Version          int64         `json:"version,omitempty"`
	Record           *Record       `json:"record,omitempty"`
	ProcessedAt      time.Time     `json:"processed_at"`
}

// Final reports whether the outcome retires the mutation from the client queue.
func (o Outcome) Final() bool {
	return o.Status == OutcomeAccepted || o.Status == OutcomeRejected
}

// PushRequest is the body of POST /sync/push.
type PushRequest struct {
	ClientGroupID string     `json:"client_group_id"`
	SpaceID       string     `json:"space_id"`
	SubspaceIDs   []string   `json:"subspace_ids,omitempty"`
	Mutations     []Mutation `json:"mutations"`
}

// PushResponse is the body returned by POST /sync/push.
type PushResponse struct {
	Outcomes []Outcome `json:"outcomes"`
}

// PullRequest carries the query of GET /sync/pull.
type PullRequest struct {
	ClientGroupID string   `json:"client_group_id"`
	SpaceID       string   `json:"space_id"`
	SubspaceIDs   []string `json:"subspace_ids,omitempty"`
	SinceVersion  int64    `json:"since_version"`
	Limit         int      `json:"limit,omitempty"`
}

// PullResponse is the body returned by GET /sync/pull.
type PullResponse struct {
	Records         []*Record `json:"records"`
	NewSinceVersion int64     `json:"new_since_version"`
	LastMutationID  int64     `json:"last_mutation_id"`
	More            bool      `json:"more,omitempty"`
}
