package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/keys"
	"github.com/devrev/storesync/internal/metrics"
	"github.com/devrev/storesync/internal/model"
	"github.com/devrev/storesync/internal/mutator"
	"github.com/devrev/storesync/internal/scope"
	"github.com/devrev/storesync/internal/store"
)

// ReconcilerService authoritatively re-applies client mutations against the
// record store.
//
// Batches of one client group are processed one at a time and in client
// mutation id order. The ledger makes a re-sent mutation return its first
// outcome instead of applying twice.
type ReconcilerService struct {
	records     store.RecordStore
	ledger      store.MutationLedger
	registry    *mutator.Registry
	partitioner *scope.Partitioner
	maxRetries  int
	groups      *groupLocks
	metrics     *metrics.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// NewReconcilerService creates a new reconciler service
func NewReconcilerService(
	records store.RecordStore,
	ledger store.MutationLedger,
	registry *mutator.Registry,
	partitioner *scope.Partitioner,
	maxRetries int,
	m *metrics.Metrics,
	logger *zap.Logger,
) *ReconcilerService {
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &ReconcilerService{
		records:     records,
		ledger:      ledger,
		registry:    registry,
		partitioner: partitioner,
		maxRetries:  maxRetries,
		groups:      newGroupLocks(),
		metrics:     m,
		logger:      logger,
		now:         time.Now,
	}
}

// Push binds the request's client group to its scope and reconciles the batch.
func (s *ReconcilerService) Push(ctx context.Context, session model.Session, req model.PushRequest) (*model.PushResponse, error) {
	token, err := bindRequest(s.partitioner, session, req.ClientGroupID, req.SpaceID, req.SubspaceIDs)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeScopeViolation {
			s.metrics.RecordScopeViolation("push")
			s.logger.Warn("Push refused outside bound scope",
				zap.Bool("security", true),
				zap.String("client_group_id", req.ClientGroupID),
				zap.String("user_id", session.UserID),
				zap.String("session_space_id", session.SpaceID),
				zap.String("space_id", req.SpaceID))
		}
		return nil, err
	}

	s.metrics.RecordBatch(len(req.Mutations))

	outcomes, err := s.Reconcile(ctx, token, req.Mutations)
	if err != nil {
		return nil, err
	}
	return &model.PushResponse{Outcomes: outcomes}, nil
}

// Reconcile processes mutations for the token's client group and returns one
// outcome per mutation looked at. A gap in the id sequence stops the batch;
// the mutations from the gap on come back as skipped.
//
// An infrastructure failure aborts the batch with an error. Mutations already
// committed to the ledger stay committed and come back as duplicates when
// the client re-sends them.
func (s *ReconcilerService) Reconcile(ctx context.Context, token model.ScopeToken, mutations []model.Mutation) ([]model.Outcome, error) {
	if token.IsZero() || token.ClientGroupID == "" {
		return nil, errors.InvalidArgument("reconcile requires a bound scope token", nil)
	}

	batch := append([]model.Mutation(nil), mutations...)
	model.SortMutations(batch)

	release := s.groups.lock(token.LedgerID())
	defer release()

	last, err := s.ledger.LastMutationID(ctx, token.LedgerID())
	if err != nil {
		return nil, errors.Unavailable("failed to read mutation ledger", err)
	}

	outcomes := make([]model.Outcome, 0, len(batch))
	for i, m := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if m.ClientMutationID <= last {
			outcomes = append(outcomes, s.duplicate(ctx, token, m))
			continue
		}

		if m.ClientMutationID != last+1 {
			s.logger.Warn("Mutation sequence gap",
				zap.String("client_group_id", token.ClientGroupID),
				zap.Int64("last_mutation_id", last),
				zap.Int64("client_mutation_id", m.ClientMutationID))
			gap := errors.OutOfOrder(token.ClientGroupID, last+1, m.ClientMutationID)
			for _, rest := range batch[i:] {
				outcomes = append(outcomes, s.outcome(rest, model.OutcomeSkipped, gap, nil))
			}
			break
		}

		outcome, err := s.apply(ctx, token, m)
		if err != nil {
			return nil, err
		}
		if err := s.ledger.Commit(ctx, token.LedgerID(), outcome); err != nil {
			return nil, errors.Unavailable("failed to commit mutation outcome", err)
		}
		last = m.ClientMutationID

		s.metrics.RecordMutation(m.MutatorName, string(outcome.Status), outcome.Code)
		outcomes = append(outcomes, outcome)
	}

	return outcomes, nil
}

func (s *ReconcilerService) duplicate(ctx context.Context, token model.ScopeToken, m model.Mutation) model.Outcome {
	stored, err := s.ledger.Get(ctx, token.LedgerID(), m.ClientMutationID)
	if err == nil {
		s.logger.Debug("Duplicate mutation, returning recorded outcome",
			zap.String("client_group_id", token.ClientGroupID),
			zap.Int64("client_mutation_id", m.ClientMutationID))
		out := *stored
		if out.Record != nil && !scope.Authorize(token, out.Record) {
			// Recorded under a wider subspace set than the current binding.
			out.Record = nil
		}
		return out
	}
	if !stderrors.Is(err, store.ErrNotFound) {
		s.logger.Warn("Failed to read recorded outcome",
			zap.String("client_group_id", token.ClientGroupID),
			zap.Int64("client_mutation_id", m.ClientMutationID),
			zap.Error(err))
	}
	// The outcome aged out of the ledger. The mutation was processed, so it
	// is not rejected; the client learns the resulting state from its next
	// pull.
	return s.outcome(m, model.OutcomeAccepted, errors.DuplicateMutation(token.ClientGroupID, m.ClientMutationID), nil)
}

// apply runs one mutation against the authoritative payload, retrying the
// compare-and-swap up to maxRetries times. Only infrastructure failures are
// returned as errors; everything else is an outcome.
func (s *ReconcilerService) apply(ctx context.Context, token model.ScopeToken, m model.Mutation) (model.Outcome, error) {
	if m.SpaceID != "" && m.SpaceID != token.SpaceID {
		return s.reject(token, m, errors.ScopeViolation(m.Key, token.SpaceID), nil), nil
	}
	if _, err := keys.Parse(m.Key); err != nil {
		return s.reject(token, m, err, nil), nil
	}
	if !s.registry.Has(m.MutatorName) {
		return s.reject(token, m, errors.UnknownMutator(m.MutatorName), nil), nil
	}
	guarded := s.registry.Guarded(m.MutatorName)

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			s.metrics.RecordConflictRetry(m.MutatorName)
		}

		current, err := s.records.Lookup(ctx, token, m.Key)
		if err != nil && errors.GetCode(err) != errors.ErrCodeNotFound {
			if rejectable(err) {
				return s.reject(token, m, err, nil), nil
			}
			return model.Outcome{}, fmt.Errorf("failed to read %s: %w", m.Key, err)
		}

		var (
			base    int64
			payload model.Payload
		)
		if current != nil {
			base = current.Version
			if !current.Deleted {
				payload = current.Payload
			}
		}

		if guarded && m.ExpectedVersion != nil && *m.ExpectedVersion != base {
			cause := errors.VersionConflict(m.Key, *m.ExpectedVersion, base)
			return s.reject(token, m, errors.Conflict(m.Key, attempt+1, cause), current), nil
		}

		next, err := s.registry.Apply(m.MutatorName, payload, m.Args)
		if err != nil {
			return s.reject(token, m, err, current), nil
		}

		var written *model.Record
		switch {
		case next != nil:
			written, err = s.records.Put(ctx, token, store.Write{Key: m.Key, SubspaceID: m.SubspaceID, Payload: next}, base)
		case payload != nil:
			written, err = s.records.Delete(ctx, token, m.Key, base)
		default:
			// Nothing to delete.
			return s.outcome(m, model.OutcomeAccepted, nil, current), nil
		}

		if err == nil {
			s.logger.Debug("Mutation applied",
				zap.String("client_group_id", token.ClientGroupID),
				zap.Int64("client_mutation_id", m.ClientMutationID),
				zap.String("mutator", m.MutatorName),
				zap.String("key", m.Key),
				zap.Int64("version", written.Version))
			return s.outcome(m, model.OutcomeAccepted, nil, written), nil
		}

		if errors.GetCode(err) == errors.ErrCodeVersionConflict {
			lastErr = err
			continue
		}
		if rejectable(err) {
			return s.reject(token, m, err, nil), nil
		}
		return model.Outcome{}, fmt.Errorf("failed to write %s: %w", m.Key, err)
	}

	s.logger.Info("Mutation lost compare-and-swap retries",
		zap.String("client_group_id", token.ClientGroupID),
		zap.Int64("client_mutation_id", m.ClientMutationID),
		zap.String("key", m.Key),
		zap.Int("attempts", s.maxRetries+1))
	return s.reject(token, m, errors.Conflict(m.Key, s.maxRetries+1, lastErr), nil), nil
}

// rejectable reports whether err is the mutation's fault rather than the
// server's.
func rejectable(err error) bool {
	switch errors.GetCode(err) {
	case errors.ErrCodeInvalidArgument,
		errors.ErrCodeInvalidKind,
		errors.ErrCodeNotFound,
		errors.ErrCodeScopeViolation,
		errors.ErrCodeMutationError,
		errors.ErrCodeUnknownMutator,
		errors.ErrCodeConflict:
		return true
	default:
		return false
	}
}

func (s *ReconcilerService) reject(token model.ScopeToken, m model.Mutation, err error, current *model.Record) model.Outcome {
	if errors.GetCode(err) == errors.ErrCodeScopeViolation {
		s.metrics.RecordScopeViolation("push")
		s.logger.Warn("Mutation outside bound scope",
			zap.Bool("security", true),
			zap.String("client_group_id", token.ClientGroupID),
			zap.String("user_id", token.UserID),
			zap.String("space_id", token.SpaceID),
			zap.String("key", m.Key),
			zap.Int64("client_mutation_id", m.ClientMutationID))
		current = nil
	} else {
		s.logger.Debug("Mutation rejected",
			zap.String("client_group_id", token.ClientGroupID),
			zap.Int64("client_mutation_id", m.ClientMutationID),
			zap.String("mutator", m.MutatorName),
			zap.Error(err))
	}
	if current != nil && current.Deleted {
		current = nil
	}
	return s.outcome(m, model.OutcomeRejected, err, current)
}

func (s *ReconcilerService) outcome(m model.Mutation, status model.OutcomeStatus, err error, record *model.Record) model.Outcome {
	o := model.Outcome{
		ClientMutationID: m.ClientMutationID,
		Key:              m.Key,
		Status:           status,
		Record:           record,
		ProcessedAt:      s.now().UTC(),
	}
	if record != nil {
		o.Version = record.Version
	}
	if err != nil {
		o.Code = string(errors.GetCode(err))
		o.Reason = err.Error()
	}
	return o
}

// bindRequest resolves the space of a sync request against the session and
// binds the client group.
func bindRequest(p *scope.Partitioner, session model.Session, clientGroupID, spaceID string, subspaceIDs []string) (model.ScopeToken, error) {
	if spaceID == "" {
		spaceID = session.SpaceID
	}
	if session.SpaceID != "" && spaceID != session.SpaceID {
		return model.ScopeToken{}, errors.ScopeViolation("", spaceID)
	}
	return p.BindSession(clientGroupID, model.Session{UserID: session.UserID, SpaceID: spaceID}, subspaceIDs)
}
