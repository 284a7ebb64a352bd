package client

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strconv"

	_ "modernc.org/sqlite"

	"github.com/devrev/storesync/internal/model"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

const (
	metaClientGroupID  = "client_group_id"
	metaCursor         = "cursor"
	metaLastMutationID = "last_mutation_id"
	metaSubspaceIDs    = "subspace_ids"
)

// SQLiteStore is a LocalStore backed by a SQLite file, so queued mutations
// and confirmed records survive a restart.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore creates or opens the store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: SQLite has a single writer, and ":memory:" databases
	// are per connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Load reads the persisted client state.
func (s *SQLiteStore) Load(ctx context.Context) (*State, error) {
	st := &State{Watermarks: make(map[string]int64)}

	meta, err := s.meta(ctx)
	if err != nil {
		return nil, err
	}
	st.ClientGroupID = meta[metaClientGroupID]
	if st.Cursor, err = parseMetaInt(meta, metaCursor); err != nil {
		return nil, err
	}
	if st.LastMutationID, err = parseMetaInt(meta, metaLastMutationID); err != nil {
		return nil, err
	}
	if raw, ok := meta[metaSubspaceIDs]; ok {
		if err := json.Unmarshal([]byte(raw), &st.SubspaceIDs); err != nil {
			return nil, fmt.Errorf("failed to decode subspace ids: %w", err)
		}
	}

	if err := s.each(ctx, `SELECT body FROM records ORDER BY key`, func(body []byte) error {
		var r model.Record
		if err := model.DecodeJSON(body, &r); err != nil {
			return fmt.Errorf("failed to decode record: %w", err)
		}
		st.Records = append(st.Records, &r)
		return nil
	}); err != nil {
		return nil, err
	}

	if err := s.each(ctx, `SELECT body FROM mutations ORDER BY client_mutation_id`, func(body []byte) error {
		var m model.Mutation
		if err := model.DecodeJSON(body, &m); err != nil {
			return fmt.Errorf("failed to decode mutation: %w", err)
		}
		st.Queue = append(st.Queue, m)
		return nil
	}); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key, version FROM watermarks`)
	if err != nil {
		return nil, fmt.Errorf("failed to read watermarks: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			key     string
			version int64
		)
		if err := rows.Scan(&key, &version); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		st.Watermarks[key] = version
	}
	return st, rows.Err()
}

func (s *SQLiteStore) meta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, fmt.Errorf("failed to read meta: %w", err)
	}
	defer rows.Close()

	meta := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("failed to scan meta: %w", err)
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func (s *SQLiteStore) each(ctx context.Context, query string, fn func(body []byte) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return fmt.Errorf("failed to scan row: %w", err)
		}
		if err := fn(body); err != nil {
			return err
		}
	}
	return rows.Err()
}

func parseMetaInt(meta map[string]string, key string) (int64, error) {
	raw, ok := meta[key]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s %q: %w", key, raw, err)
	}
	return n, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func setMeta(ctx context.Context, db execer, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// SetClientGroupID persists the client group id.
func (s *SQLiteStore) SetClientGroupID(ctx context.Context, id string) error {
	return setMeta(ctx, s.db, metaClientGroupID, id)
}

// Enqueue appends a mutation to the durable queue.
func (s *SQLiteStore) Enqueue(ctx context.Context, m model.Mutation) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode mutation: %w", err)
	}

	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mutations (client_mutation_id, body, created_at) VALUES (?, ?, ?)
			ON CONFLICT (client_mutation_id) DO NOTHING
		`, m.ClientMutationID, body, m.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("failed to enqueue mutation: %w", err)
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT (key) DO UPDATE SET value = excluded.value
			WHERE CAST(excluded.value AS INTEGER) > CAST(meta.value AS INTEGER)
		`, metaLastMutationID, strconv.FormatInt(m.ClientMutationID, 10))
		if err != nil {
			return fmt.Errorf("failed to record last mutation id: %w", err)
		}
		return nil
	})
}

// Ack removes mutations from the queue.
func (s *SQLiteStore) Ack(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if _, err := tx.ExecContext(ctx, `DELETE FROM mutations WHERE client_mutation_id = ?`, id); err != nil {
				return fmt.Errorf("failed to ack mutation %d: %w", id, err)
			}
		}
		return nil
	})
}

// ApplyPull stores confirmed records and the new cursor in one transaction.
func (s *SQLiteStore) ApplyPull(ctx context.Context, records []*model.Record, cursor int64) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, r := range records {
			var seen int64
			err := tx.QueryRowContext(ctx, `SELECT version FROM watermarks WHERE key = ?`, r.Key).Scan(&seen)
			if err != nil && !stderrors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("failed to read watermark: %w", err)
			}
			if r.Version < seen {
				continue
			}

			if _, err := tx.ExecContext(ctx, `
				INSERT INTO watermarks (key, version) VALUES (?, ?)
				ON CONFLICT (key) DO UPDATE SET version = excluded.version
			`, r.Key, r.Version); err != nil {
				return fmt.Errorf("failed to write watermark: %w", err)
			}

			if r.Deleted {
				if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, r.Key); err != nil {
					return fmt.Errorf("failed to delete record: %w", err)
				}
				continue
			}

			body, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("failed to encode record: %w", err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO records (key, body) VALUES (?, ?)
				ON CONFLICT (key) DO UPDATE SET body = excluded.body
			`, r.Key, body); err != nil {
				return fmt.Errorf("failed to write record: %w", err)
			}
		}
		return setMeta(ctx, tx, metaCursor, strconv.FormatInt(cursor, 10))
	})
}

// ResetScope stores a new subspace set, drops records and rewinds the cursor.
func (s *SQLiteStore) ResetScope(ctx context.Context, subspaceIDs []string, drop []string) error {
	raw, err := json.Marshal(subspaceIDs)
	if err != nil {
		return fmt.Errorf("failed to encode subspace ids: %w", err)
	}
	return s.tx(ctx, func(tx *sql.Tx) error {
		for _, k := range drop {
			if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE key = ?`, k); err != nil {
				return fmt.Errorf("failed to drop record: %w", err)
			}
		}
		if err := setMeta(ctx, tx, metaSubspaceIDs, string(raw)); err != nil {
			return err
		}
		return setMeta(ctx, tx, metaCursor, "0")
	})
}

func (s *SQLiteStore) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
