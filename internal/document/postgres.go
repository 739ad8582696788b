package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*(\.[a-z_][a-z0-9_]*)?$`)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresStore persists documents as JSONB rows, one row per job.
type PostgresStore struct {
	db    querier
	table string
}

// NewPostgresStore wraps an existing pool. table may be schema-qualified.
func NewPostgresStore(pool *pgxpool.Pool, table string) (*PostgresStore, error) {
	return newPostgresStore(pool, table)
}

func newPostgresStore(db querier, table string) (*PostgresStore, error) {
	if table == "" {
		table = "job_documents"
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid document table name %q", table)
	}
	return &PostgresStore{db: db, table: table}, nil
}

// EnsureSchema creates the document table when it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	content    JSONB NOT NULL DEFAULT '{}'::jsonb,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`, s.table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

func (s *PostgresStore) Load(ctx context.Context, id string) (Document, error) {
	var (
		status            string
		content, metadata []byte
		updatedAt         time.Time
	)
	row := s.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT status, content, metadata, updated_at FROM %s WHERE id = $1`, s.table), id)
	if err := row.Scan(&status, &content, &metadata, &updatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Document{}, ErrNotFound
		}
		return Document{}, fmt.Errorf("load document %s: %w", id, err)
	}

	doc := New(id)
	doc.Status = Status(status)
	doc.UpdatedAt = updatedAt
	if len(content) > 0 {
		if err := json.Unmarshal(content, &doc.Content); err != nil {
			return Document{}, fmt.Errorf("decode content for %s: %w", id, err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &doc.Metadata); err != nil {
			return Document{}, fmt.Errorf("decode metadata for %s: %w", id, err)
		}
	}
	return doc, nil
}

func (s *PostgresStore) Save(ctx context.Context, doc Document) error {
	content, err := json.Marshal(doc.Content)
	if err != nil {
		return fmt.Errorf("encode content for %s: %w", doc.ID, err)
	}
	metadata, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata for %s: %w", doc.ID, err)
	}
	_, err = s.db.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (id, status, content, metadata, updated_at)
VALUES ($1, $2, $3, $4, now())
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	content = EXCLUDED.content,
	metadata = EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at`, s.table),
		doc.ID, string(doc.Status), content, metadata)
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// ListByStatus returns ids of documents in the given statuses, oldest
// first, up to limit (0 = unlimited).
func (s *PostgresStore) ListByStatus(ctx context.Context, statuses []Status, limit int) ([]string, error) {
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query := fmt.Sprintf(`SELECT id FROM %s WHERE status = ANY($1) ORDER BY updated_at, id`, s.table)
	args := []any{names}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan document id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return ids, nil
}
