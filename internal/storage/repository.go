// Package storage persists the session ledger in SQLite. It is the durable
// Store behind the ledger service; every operation is a single atomic row
// mutation, so no multi-statement transactions are needed.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"noleggio/internal/core"
	"noleggio/internal/ledger"

	_ "modernc.org/sqlite"
)

// timeLayout is the canonical timestamp encoding. UTC, no offset suffix, so
// string order matches time order and SQLite's date() applies directly.
const timeLayout = "2006-01-02 15:04:05"

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

var _ ledger.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Append inserts one row exactly as given; the store assigns the id.
func (r *SQLiteRepository) Append(ctx context.Context, s core.Session) (int64, error) {
	id, err := r.queries.CreateSession(ctx, toCreateParams(s))
	if err != nil {
		return 0, ledger.NewStoreError("append", err)
	}

	slog.InfoContext(ctx, "Session saved to SQLite",
		"id", id,
		"category", s.Category,
		"instance", s.Instance,
		"total_cost_cents", s.TotalCost.Cents)

	return id, nil
}

// DeleteByID removes at most one row. SQLite reports success for a missing
// id, which is exactly the idempotent contract callers rely on.
func (r *SQLiteRepository) DeleteByID(ctx context.Context, id int64) error {
	if err := r.queries.DeleteSession(ctx, id); err != nil {
		return ledger.NewStoreError("delete by id", err)
	}
	return nil
}

// DeleteByCategoryInstance removes every row of the pair.
func (r *SQLiteRepository) DeleteByCategoryInstance(ctx context.Context, category, instance string) error {
	if err := r.queries.DeleteSessionsByPair(ctx, category, instance); err != nil {
		return ledger.NewStoreError("delete by pair", err)
	}
	return nil
}

func (r *SQLiteRepository) ActiveSessions(ctx context.Context) ([]core.Session, error) {
	rows, err := r.queries.ActiveSessions(ctx)
	if err != nil {
		return nil, ledger.NewStoreError("active sessions", err)
	}
	return fromRows(rows)
}

func (r *SQLiteRepository) Report(ctx context.Context, w core.Window, f ledger.Filter) ([]core.Session, error) {
	rows, err := r.queries.ReportSessions(ctx, ReportSessionsParams{
		StartDate:    w.Start.String(),
		EndDate:      w.End.String(),
		CategoryName: nullString(f.Category),
		InstanceName: nullString(f.Instance),
	})
	if err != nil {
		return nil, ledger.NewStoreError("report", err)
	}
	return fromRows(rows)
}

func (r *SQLiteRepository) Categories(ctx context.Context) ([]string, error) {
	out, err := r.queries.DistinctCategories(ctx)
	if err != nil {
		return nil, ledger.NewStoreError("distinct categories", err)
	}
	return out, nil
}

func (r *SQLiteRepository) Instances(ctx context.Context) ([]string, error) {
	out, err := r.queries.DistinctInstances(ctx)
	if err != nil {
		return nil, ledger.NewStoreError("distinct instances", err)
	}
	return out, nil
}

func (r *SQLiteRepository) CategoryInstancePairs(ctx context.Context) ([]core.CategoryInstance, error) {
	pairs, err := r.queries.DistinctPairs(ctx)
	if err != nil {
		return nil, ledger.NewStoreError("distinct pairs", err)
	}
	out := make([]core.CategoryInstance, len(pairs))
	for i, p := range pairs {
		out[i] = core.CategoryInstance{Category: p.CategoryName, Instance: p.InstanceName}
	}
	return out, nil
}

// GetSession fetches a single row by id for the export worker.
func (r *SQLiteRepository) GetSession(ctx context.Context, id int64) (core.Session, error) {
	row, err := r.queries.GetSession(ctx, id)
	if err != nil {
		return core.Session{}, ledger.NewStoreError("get session", err)
	}
	return fromRow(row)
}

// PendingExportSessions returns closed rows not yet exported, oldest first.
func (r *SQLiteRepository) PendingExportSessions(ctx context.Context, limit int) ([]core.Session, error) {
	rows, err := r.queries.PendingSyncSessions(ctx, int64(limit))
	if err != nil {
		return nil, ledger.NewStoreError("pending export", err)
	}
	return fromRows(rows)
}

func (r *SQLiteRepository) MarkSynced(ctx context.Context, id int64) error {
	if err := r.queries.MarkSessionSynced(ctx, id); err != nil {
		return ledger.NewStoreError("mark synced", err)
	}
	return nil
}

func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64) error {
	if err := r.queries.MarkSessionSyncError(ctx, id); err != nil {
		return ledger.NewStoreError("mark sync error", err)
	}
	slog.WarnContext(ctx, "Session marked with sync error", "id", id)
	return nil
}

func toCreateParams(s core.Session) CreateSessionParams {
	p := CreateSessionParams{
		CategoryName:   s.Category,
		InstanceName:   s.Instance,
		RateCents:      s.RatePerHour.Cents,
		TotalCostCents: s.TotalCost.Cents,
		StartTime:      s.StartTime.UTC().Format(timeLayout),
	}
	if s.ElapsedSeconds != nil {
		p.ElapsedSeconds = sql.NullInt64{Int64: *s.ElapsedSeconds, Valid: true}
	}
	if s.EndTime != nil {
		p.EndTime = sql.NullString{String: s.EndTime.UTC().Format(timeLayout), Valid: true}
	}
	return p
}

func fromRow(row Session) (core.Session, error) {
	start, err := time.ParseInLocation(timeLayout, row.StartTime, time.UTC)
	if err != nil {
		return core.Session{}, fmt.Errorf("parse start time %q: %w", row.StartTime, err)
	}

	s := core.Session{
		ID:          row.ID,
		Category:    row.CategoryName,
		Instance:    row.InstanceName,
		RatePerHour: core.Money{Cents: row.RateCents},
		TotalCost:   core.Money{Cents: row.TotalCostCents},
		StartTime:   start,
	}
	if row.ElapsedSeconds.Valid {
		v := row.ElapsedSeconds.Int64
		s.ElapsedSeconds = &v
	}
	if row.EndTime.Valid {
		end, err := time.ParseInLocation(timeLayout, row.EndTime.String, time.UTC)
		if err != nil {
			return core.Session{}, fmt.Errorf("parse end time %q: %w", row.EndTime.String, err)
		}
		s.EndTime = &end
	}
	return s, nil
}

func fromRows(rows []Session) ([]core.Session, error) {
	out := make([]core.Session, len(rows))
	for i, row := range rows {
		s, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out[i] = s
	}
	return out, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
