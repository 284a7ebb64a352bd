package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/metrics"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/scope"
	"github.com/devrev/storesync/internal/store"
)

// PullService serves the records of a scope that changed after a cursor.
type PullService struct {
	records      store.RecordStore
	ledger       store.MutationLedger
	partitioner  *scope.Partitioner
	defaultLimit int
	maxLimit     int
	metrics      *metrics.Metrics
	logger       *zap.Logger
}

// NewPullService creates a new pull service
func NewPullService(
	records store.RecordStore,
	ledger store.MutationLedger,
	partitioner *scope.Partitioner,
	defaultLimit, maxLimit int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *PullService {
	if maxLimit <= 0 {
		maxLimit = 1000
	}
	if defaultLimit <= 0 || defaultLimit > maxLimit {
		defaultLimit = maxLimit
	}
	return &PullService{
		records:      records,
		ledger:       ledger,
		partitioner:  partitioner,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
		metrics:      m,
		logger:       logger,
	}
}

// Pull returns records with a change version above req.SinceVersion, oldest
// change first, and the cursor to pass next time. More is set when the page
// was cut at the limit.
//
// LastMutationID is read before the records are listed. The reconciler
// writes a record before it commits the mutation's outcome, so every
// accepted mutation up to LastMutationID is reflected once the client has
// pulled to the end.
func (s *PullService) Pull(ctx context.Context, session model.Session, req model.PullRequest) (*model.PullResponse, error) {
	if req.SinceVersion < 0 {
		return nil, errors.InvalidArgument("since_version must not be negative", nil)
	}

	token, err := bindRequest(s.partitioner, session, req.ClientGroupID, req.SpaceID, req.SubspaceIDs)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeScopeViolation {
			s.metrics.RecordScopeViolation("pull")
			s.logger.Warn("Pull refused outside bound scope",
				zap.Bool("security", true),
				zap.String("client_group_id", req.ClientGroupID),
				zap.String("user_id", session.UserID),
				zap.String("session_space_id", session.SpaceID),
				zap.String("space_id", req.SpaceID))
		}
		return nil, err
	}

	return s.PullScope(ctx, token, req.SinceVersion, req.Limit)
}

// PullScope is Pull for an already bound token.
func (s *PullService) PullScope(ctx context.Context, token model.ScopeToken, sinceVersion int64, limit int) (*model.PullResponse, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	lastMutationID, err := s.ledger.LastMutationID(ctx, token.LedgerID())
	if err != nil {
		return nil, errors.Unavailable("failed to read mutation ledger", err)
	}

	records, err := s.records.ListSince(ctx, token, sinceVersion, limit+1)
	if err != nil {
		return nil, err
	}

	resp := &model.PullResponse{
		Records:         records,
		NewSinceVersion: sinceVersion,
		LastMutationID:  lastMutationID,
	}
	if len(records) > limit {
		resp.Records = records[:limit]
		resp.More = true
	}
	if n := len(resp.Records); n > 0 {
		resp.NewSinceVersion = resp.Records[n-1].ChangeVersion
	}

	s.metrics.RecordPull(len(resp.Records))
	s.logger.Debug("Pull served",
		zap.String("client_group_id", token.ClientGroupID),
		zap.String("space_id", token.SpaceID),
		zap.Int64("since_version", sinceVersion),
		zap.Int64("new_since_version", resp.NewSinceVersion),
		zap.Int("records", len(resp.Records)),
		zap.Bool("more", resp.More))

	return resp, nil
}
