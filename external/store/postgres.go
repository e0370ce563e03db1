package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Masterminds/squirrel"
	"github.com/foxseedlab/circles/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	documentsTable = "documents"
	maxTxAttempts  = 8
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps every document as a JSONB row keyed by path.
// Transactions run SERIALIZABLE and are retried on serialization
// failures.
type PostgresStore struct {
	pool *pgxpool.Pool
	sb   squirrel.StatementBuilderType
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		sb:   squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path string) (*store.Document, error) {
	return s.get(ctx, s.pool, path)
}

func (s *PostgresStore) Set(ctx context.Context, path string, fields store.Fields) error {
	return s.set(ctx, s.pool, path, fields)
}

func (s *PostgresStore) Update(ctx context.Context, path string, fields store.Fields) error {
	return s.update(ctx, s.pool, path, fields)
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	return s.deletePaths(ctx, s.pool, []string{path})
}

func (s *PostgresStore) Increment(ctx context.Context, path, field string, delta int64) error {
	return s.increment(ctx, s.pool, path, field, delta)
}

func (s *PostgresStore) BatchDelete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return s.deletePaths(ctx, s.pool, paths)
}

func (s *PostgresStore) Query(ctx context.Context, q store.Query) ([]store.Document, error) {
	sql, args, err := s.buildQuery(q)
	if err != nil {
		return nil, fmt.Errorf("failed to build document query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []store.Document
	for rows.Next() {
		var (
			path    string
			raw     []byte
			version int64
		)
		if err := rows.Scan(&path, &raw, &version); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		data, err := decodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("document %s is corrupt: %w", path, err)
		}
		docs = append(docs, store.Document{Path: path, Data: data, Version: version})
	}
	return docs, rows.Err()
}

func (s *PostgresStore) RunTransaction(ctx context.Context, fn func(tx store.Tx) error) error {
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err := s.runOnce(ctx, fn)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		slog.Debug("document transaction conflict; retrying", "attempt", attempt, "error", err)
	}
	return store.ErrTxConflict
}

func (s *PostgresStore) runOnce(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(&pgTx{ctx: ctx, store: s, tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// isRetryable matches serialization failures, deadlocks, and the unique
// violation two racing inserts of one path produce.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

type pgTx struct {
	ctx   context.Context
	store *PostgresStore
	tx    pgx.Tx
}

func (t *pgTx) Get(path string) (*store.Document, error) {
	return t.store.get(t.ctx, t.tx, path)
}

func (t *pgTx) Set(path string, fields store.Fields) error {
	return t.store.set(t.ctx, t.tx, path, fields)
}

func (t *pgTx) Update(path string, fields store.Fields) error {
	return t.store.update(t.ctx, t.tx, path, fields)
}

func (t *pgTx) Delete(path string) error {
	return t.store.deletePaths(t.ctx, t.tx, []string{path})
}

func (t *pgTx) Increment(path, field string, delta int64) error {
	return t.store.increment(t.ctx, t.tx, path, field, delta)
}

func (s *PostgresStore) get(ctx context.Context, q querier, path string) (*store.Document, error) {
	sql, args, err := s.sb.Select("data", "version").
		From(documentsTable).
		Where(squirrel.Eq{"path": path}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build get document query: %w", err)
	}
	var (
		raw     []byte
		version int64
	)
	if err := q.QueryRow(ctx, sql, args...).Scan(&raw, &version); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get %s: %w", path, err)
	}
	data, err := decodeFields(raw)
	if err != nil {
		return nil, fmt.Errorf("document %s is corrupt: %w", path, err)
	}
	return &store.Document{Path: path, Data: data, Version: version}, nil
}

func (s *PostgresStore) set(ctx context.Context, q querier, path string, fields store.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	sql, args, err := s.sb.Insert(documentsTable).
		Columns("path", "collection", "id", "data").
		Values(path, store.Collection(path), store.Base(path), string(raw)).
		Suffix("ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, version = documents.version + 1, updated_at = NOW()").
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build set document query: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// update merges fields into the stored body. JSON null is kept and reads
// back as an unset field.
func (s *PostgresStore) update(ctx context.Context, q querier, path string, fields store.Fields) error {
	raw, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	sql, args, err := s.sb.Update(documentsTable).
		Set("data", squirrel.Expr("data || ?::jsonb", string(raw))).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"path": path}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update document query: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s: %w", path, store.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) increment(ctx context.Context, q querier, path, field string, delta int64) error {
	sql, args, err := s.sb.Update(documentsTable).
		Set("data", squirrel.Expr(
			"jsonb_set(data, ARRAY[?]::text[], to_jsonb(COALESCE((data->>?)::numeric, 0) + ?::numeric))",
			field, field, delta)).
		Set("version", squirrel.Expr("version + 1")).
		Set("updated_at", squirrel.Expr("NOW()")).
		Where(squirrel.Eq{"path": path}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build increment query: %w", err)
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("failed to increment %s.%s: %w", path, field, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("increment %s: %w", path, store.ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) deletePaths(ctx context.Context, q querier, paths []string) error {
	sql, args, err := s.sb.Delete(documentsTable).
		Where(squirrel.Eq{"path": paths}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build delete query: %w", err)
	}
	if _, err := q.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("failed to delete %d documents: %w", len(paths), err)
	}
	return nil
}

// buildQuery translates equality filters into JSONB containment and
// orders numerically on the requested field with id as tie-break.
func (s *PostgresStore) buildQuery(q store.Query) (string, []any, error) {
	b := s.sb.Select("path", "data", "version").
		From(documentsTable).
		Where(squirrel.Eq{"collection": q.Collection})
	for _, f := range q.Filters {
		raw, err := json.Marshal(map[string]any{f.Field: f.Value})
		if err != nil {
			return "", nil, fmt.Errorf("filter on %s: %w", f.Field, err)
		}
		b = b.Where("data @> ?::jsonb", string(raw))
	}
	if q.OrderBy != "" {
		if q.StartAfter != nil {
			b = b.Where("(COALESCE((data->>?)::numeric, 0), id) > (?::numeric, ?)", q.OrderBy, q.StartAfter.Value, q.StartAfter.ID)
		}
		b = b.OrderByClause("COALESCE((data->>?)::numeric, 0) ASC, id ASC", q.OrderBy)
	} else {
		if q.StartAfter != nil {
			b = b.Where(squirrel.Gt{"id": q.StartAfter.ID})
		}
		b = b.OrderBy("id ASC")
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}
	return b.ToSql()
}

func decodeFields(raw []byte) (store.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var data store.Fields
	if err := dec.Decode(&data); err != nil {
		return nil, err
	}
	if data == nil {
		data = store.Fields{}
	}
	return data, nil
}
