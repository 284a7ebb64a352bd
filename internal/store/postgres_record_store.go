package store

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/devrev/storesync/internal/errors"
	"github.com/devrev/storesync/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

const recordColumns = `key, kind, space_id, subspace_id, version, change_version, payload, deleted, updated_at`

// PostgresRecordStore implements RecordStore for PostgreSQL.
//
// The row of a space in the spaces table is its change sequence. A write
// bumps it inside the write's transaction, so concurrent writers to one
// space commit in change version order.
type PostgresRecordStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresRecordStore connects to PostgreSQL and applies the schema.
func NewPostgresRecordStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresRecordStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(context.Background(), schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return NewPostgresRecordStoreFromPool(pool, logger), nil
}

// NewPostgresRecordStoreFromPool wraps an existing pool.
func NewPostgresRecordStoreFromPool(pool *pgxpool.Pool, logger *zap.Logger) *PostgresRecordStore {
	return &PostgresRecordStore{
		pool:   pool,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.Record, error) {
	var (
		r       model.Record
		kind    string
		payload []byte
	)
	if err := row.Scan(
		&r.Key,
		&kind,
		&r.SpaceID,
		&r.SubspaceID,
		&r.Version,
		&r.ChangeVersion,
		&payload,
		&r.Deleted,
		&r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Kind = model.EntityKind(kind)

	p, err := model.UnmarshalPayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload of %s: %w", r.Key, err)
	}
	r.Payload = p
	return &r, nil
}

func (s *PostgresRecordStore) selectKey(ctx context.Context, q pgx.Row) (*model.Record, error) {
	r, err := scanRecord(q)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Unavailable("failed to read record", err)
	}
	return r, nil
}

// Get returns a live record.
func (s *PostgresRecordStore) Get(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error) {
	r, err := s.Lookup(ctx, token, key)
	if err != nil {
		return nil, err
	}
	if r.Deleted {
		return nil, errors.NotFound(key)
	}
	return r, nil
}

// Lookup returns a record or tombstone.
func (s *PostgresRecordStore) Lookup(ctx context.Context, token model.ScopeToken, key string) (*model.Record, error) {
	query := `SELECT ` + recordColumns + ` FROM records WHERE key = $1`

	r, err := s.selectKey(ctx, s.pool.QueryRow(ctx, query, key))
	if err != nil {
		return nil, err
	}
	if err := visible(token, key, r); err != nil {
		return nil, err
	}
	return r, nil
}

// Put writes a record version if expectedVersion matches.
func (s *PostgresRecordStore) Put(ctx context.Context, token model.ScopeToken, w Write, expectedVersion int64) (*model.Record, error) {
	return s.write(ctx, w.Key, expectedVersion, func(existing *model.Record, now time.Time) (*model.Record, error) {
		return preparePut(token, w, existing, expectedVersion, now)
	})
}

// Delete replaces a live record with a tombstone if expectedVersion matches.
func (s *PostgresRecordStore) Delete(ctx context.Context, token model.ScopeToken, key string, expectedVersion int64) (*model.Record, error) {
	return s.write(ctx, key, expectedVersion, func(existing *model.Record, now time.Time) (*model.Record, error) {
		return prepareDelete(token, key, existing, expectedVersion, now)
	})
}

func (s *PostgresRecordStore) write(
	ctx context.Context,
	key string,
	expectedVersion int64,
	prepare func(existing *model.Record, now time.Time) (*model.Record, error),
) (*model.Record, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Unavailable("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	existing, err := s.selectKey(ctx, tx.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM records WHERE key = $1 FOR UPDATE`, key))
	if err != nil {
		return nil, err
	}

	next, err := prepare(existing, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO spaces (space_id, version) VALUES ($1, 1)
		ON CONFLICT (space_id) DO UPDATE SET version = spaces.version + 1
		RETURNING version
	`, next.SpaceID).Scan(&next.ChangeVersion)
	if err != nil {
		return nil, errors.Unavailable("failed to advance change version", err)
	}

	payload, err := model.MarshalPayload(next.Payload)
	if err != nil {
		return nil, errors.InvalidArgument("payload is not serializable", err)
	}

	if existing == nil {
		result, err := tx.Exec(ctx, `
			INSERT INTO records (`+recordColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (key) DO NOTHING
		`, next.Key, string(next.Kind), next.SpaceID, next.SubspaceID, next.Version,
			next.ChangeVersion, payload, next.Deleted, next.UpdatedAt)
		if err != nil {
			return nil, errors.Unavailable("failed to insert record", err)
		}
		if result.RowsAffected() == 0 {
			// Created concurrently by another writer.
			return nil, errors.VersionConflict(key, expectedVersion, 1)
		}
	} else {
		result, err := tx.Exec(ctx, `
			UPDATE records
			SET subspace_id = $2, version = $3, change_version = $4, payload = $5, deleted = $6, updated_at = $7
			WHERE key = $1 AND version = $8
		`, next.Key, next.SubspaceID, next.Version, next.ChangeVersion, payload,
			next.Deleted, next.UpdatedAt, expectedVersion)
		if err != nil {
			return nil, errors.Unavailable("failed to update record", err)
		}
		if result.RowsAffected() == 0 {
			return nil, errors.VersionConflict(key, expectedVersion, existing.Version)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Unavailable("failed to commit write", err)
	}

	s.logger.Debug("Record written",
		zap.String("key", next.Key),
		zap.Int64("version", next.Version),
		zap.Int64("change_version", next.ChangeVersion),
		zap.Bool("deleted", next.Deleted))

	return next, nil
}

// ListSince returns changes of the token's scope after sinceVersion.
func (s *PostgresRecordStore) ListSince(ctx context.Context, token model.ScopeToken, sinceVersion int64, limit int) ([]*model.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE space_id = $1 AND change_version > $2
		  AND (subspace_id = '' OR subspace_id = ANY($3))
		ORDER BY change_version ASC, key ASC
	`
	args := []any{token.SpaceID, sinceVersion, subspaceArg(token)}
	if limit > 0 {
		query += " LIMIT $4"
		args = append(args, limit)
	}
	return s.query(ctx, query, args...)
}

// ListPrefix returns live records of the token's scope under prefix.
func (s *PostgresRecordStore) ListPrefix(ctx context.Context, token model.ScopeToken, prefix string) ([]*model.Record, error) {
	query := `
		SELECT ` + recordColumns + `
		FROM records
		WHERE space_id = $1 AND starts_with(key, $2) AND NOT deleted
		  AND (subspace_id = '' OR subspace_id = ANY($3))
		ORDER BY key ASC
	`
	return s.query(ctx, query, token.SpaceID, prefix, subspaceArg(token))
}

func (s *PostgresRecordStore) query(ctx context.Context, query string, args ...any) ([]*model.Record, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Unavailable("failed to list records", err)
	}
	defer rows.Close()

	records := make([]*model.Record, 0)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func subspaceArg(token model.ScopeToken) []string {
	if token.SubspaceIDs == nil {
		return []string{}
	}
	return token.SubspaceIDs
}

// Ping checks the database connection
func (s *PostgresRecordStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the connection pool
func (s *PostgresRecordStore) Close() {
	s.pool.Close()
}
