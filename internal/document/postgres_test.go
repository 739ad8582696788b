package document

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *[]byte:
			*p = r.values[i].([]byte)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

type fakeQuerier struct {
	execSQL  string
	execArgs []any
	row      fakeRow
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = sql
	f.execArgs = args
	return pgconn.CommandTag{}, nil
}

func (f *fakeQuerier) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func TestPostgresStoreRejectsBadTableName(t *testing.T) {
	if _, err := newPostgresStore(&fakeQuerier{}, "docs; DROP TABLE x"); err == nil {
		t.Fatal("expected invalid table name error")
	}
	if _, err := newPostgresStore(&fakeQuerier{}, "production.job_documents"); err != nil {
		t.Fatalf("schema-qualified name rejected: %v", err)
	}
}

func TestPostgresStoreSaveUpserts(t *testing.T) {
	q := &fakeQuerier{}
	store, err := newPostgresStore(q, "")
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	doc := New("job-9").Apply(SetContent(SlotScript, json.RawMessage(`{"text":"x"}`)))
	if err := store.Save(context.Background(), doc); err != nil {
		t.Fatalf("save: %v", err)
	}

	if !strings.Contains(q.execSQL, "ON CONFLICT (id) DO UPDATE") || !strings.Contains(q.execSQL, "job_documents") {
		t.Fatalf("unexpected upsert sql: %s", q.execSQL)
	}
	if q.execArgs[0] != "job-9" || q.execArgs[1] != "queued" {
		t.Fatalf("unexpected args: %v", q.execArgs[:2])
	}
	if !strings.Contains(string(q.execArgs[2].([]byte)), `"script"`) {
		t.Fatalf("content not encoded: %s", q.execArgs[2])
	}
}

func TestPostgresStoreLoad(t *testing.T) {
	now := time.Now()
	q := &fakeQuerier{row: fakeRow{values: []any{
		"completed",
		[]byte(`{"script":{"text":"x"}}`),
		[]byte(`{"fallbackTier":"Secondary"}`),
		now,
	}}}
	store, _ := newPostgresStore(q, "")

	doc, err := store.Load(context.Background(), "job-9")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if doc.Status != StatusCompleted {
		t.Fatalf("unexpected status %s", doc.Status)
	}
	if tier, _ := doc.Meta(MetaFallbackTier); string(tier) != `"Secondary"` {
		t.Fatalf("unexpected tier %s", tier)
	}
}

func TestPostgresStoreLoadMissing(t *testing.T) {
	store, _ := newPostgresStore(&fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}, "")
	if _, err := store.Load(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
