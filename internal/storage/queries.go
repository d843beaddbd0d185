package storage

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB / *sql.Tx the queries need.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

// Session is the raw ledger row. Money columns are cents; timestamps are
// "2006-01-02 15:04:05" UTC strings so lexicographic and chronological
// order agree and SQLite's date() applies cleanly.
type Session struct {
	ID             int64
	CategoryName   string
	InstanceName   string
	RateCents      int64
	ElapsedSeconds sql.NullInt64
	TotalCostCents int64
	StartTime      string
	EndTime        sql.NullString
	Synced         int64
	SyncError      int64
	CreatedAt      string
}

type CategoryInstancePair struct {
	CategoryName string
	InstanceName string
}

const sessionColumns = `id, category_name, instance_name, rate_cents, elapsed_seconds,
total_cost_cents, start_time, end_time, synced, sync_error, created_at`

type CreateSessionParams struct {
	CategoryName   string
	InstanceName   string
	RateCents      int64
	ElapsedSeconds sql.NullInt64
	TotalCostCents int64
	StartTime      string
	EndTime        sql.NullString
}

const createSession = `
INSERT INTO sessions (category_name, instance_name, rate_cents, elapsed_seconds,
    total_cost_cents, start_time, end_time)
VALUES (?, ?, ?, ?, ?, ?, ?)
`

func (q *Queries) CreateSession(ctx context.Context, arg CreateSessionParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, createSession,
		arg.CategoryName,
		arg.InstanceName,
		arg.RateCents,
		arg.ElapsedSeconds,
		arg.TotalCostCents,
		arg.StartTime,
		arg.EndTime,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const getSession = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

func (q *Queries) GetSession(ctx context.Context, id int64) (Session, error) {
	row := q.db.QueryRowContext(ctx, getSession, id)
	return scanSession(row)
}

const deleteSession = `DELETE FROM sessions WHERE id = ?`

func (q *Queries) DeleteSession(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, deleteSession, id)
	return err
}

const deleteSessionsByPair = `DELETE FROM sessions WHERE category_name = ? AND instance_name = ?`

func (q *Queries) DeleteSessionsByPair(ctx context.Context, category, instance string) error {
	_, err := q.db.ExecContext(ctx, deleteSessionsByPair, category, instance)
	return err
}

// activeSessions picks, per distinct instance name, the open row with the
// latest start time (latest id on equal starts). Grouping is by instance
// name alone: an instance name is a cross-category key for the active view.
const activeSessions = `
SELECT ` + sessionColumns + `
FROM sessions g1
WHERE g1.total_cost_cents = 0
  AND g1.id = (
      SELECT g2.id
      FROM sessions g2
      WHERE g2.instance_name = g1.instance_name
        AND g2.total_cost_cents = 0
      ORDER BY g2.start_time DESC, g2.id DESC
      LIMIT 1)
ORDER BY g1.category_name, g1.instance_name, g1.id
`

func (q *Queries) ActiveSessions(ctx context.Context) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, activeSessions)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

type ReportSessionsParams struct {
	StartDate    string // inclusive, YYYY-MM-DD
	EndDate      string // inclusive, YYYY-MM-DD
	CategoryName sql.NullString
	InstanceName sql.NullString
}

// reportSessions keeps the ledger's historical contract: completed rows
// only, window membership on the date portion of start_time, NULL filters
// match everything.
const reportSessions = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE total_cost_cents > 0
  AND date(start_time) >= ?1
  AND date(start_time) <= ?2
  AND (?3 IS NULL OR category_name = ?3)
  AND (?4 IS NULL OR instance_name = ?4)
ORDER BY category_name, instance_name, id
`

func (q *Queries) ReportSessions(ctx context.Context, arg ReportSessionsParams) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, reportSessions,
		arg.StartDate, arg.EndDate, arg.CategoryName, arg.InstanceName)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

const distinctCategories = `SELECT DISTINCT category_name FROM sessions`

func (q *Queries) DistinctCategories(ctx context.Context) ([]string, error) {
	return q.queryStrings(ctx, distinctCategories)
}

const distinctInstances = `SELECT DISTINCT instance_name FROM sessions`

func (q *Queries) DistinctInstances(ctx context.Context) ([]string, error) {
	return q.queryStrings(ctx, distinctInstances)
}

const distinctPairs = `SELECT DISTINCT category_name, instance_name FROM sessions`

func (q *Queries) DistinctPairs(ctx context.Context) ([]CategoryInstancePair, error) {
	rows, err := q.db.QueryContext(ctx, distinctPairs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategoryInstancePair
	for rows.Next() {
		var p CategoryInstancePair
		if err := rows.Scan(&p.CategoryName, &p.InstanceName); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// pendingSyncSessions feeds the export worker's backstop: closed rows the
// spreadsheet has not seen yet, oldest first.
const pendingSyncSessions = `
SELECT ` + sessionColumns + `
FROM sessions
WHERE total_cost_cents > 0 AND synced = 0 AND sync_error = 0
ORDER BY id
LIMIT ?
`

func (q *Queries) PendingSyncSessions(ctx context.Context, limit int64) ([]Session, error) {
	rows, err := q.db.QueryContext(ctx, pendingSyncSessions, limit)
	if err != nil {
		return nil, err
	}
	return scanSessions(rows)
}

const markSessionSynced = `UPDATE sessions SET synced = 1, sync_error = 0 WHERE id = ?`

func (q *Queries) MarkSessionSynced(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, markSessionSynced, id)
	return err
}

const markSessionSyncError = `UPDATE sessions SET sync_error = 1 WHERE id = ?`

func (q *Queries) MarkSessionSyncError(ctx context.Context, id int64) error {
	_, err := q.db.ExecContext(ctx, markSessionSyncError, id)
	return err
}

func (q *Queries) queryStrings(ctx context.Context, query string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSessionInto(s *Session, row rowScanner) error {
	return row.Scan(
		&s.ID,
		&s.CategoryName,
		&s.InstanceName,
		&s.RateCents,
		&s.ElapsedSeconds,
		&s.TotalCostCents,
		&s.StartTime,
		&s.EndTime,
		&s.Synced,
		&s.SyncError,
		&s.CreatedAt,
	)
}

func scanSession(row rowScanner) (Session, error) {
	var s Session
	err := scanSessionInto(&s, row)
	return s, err
}

func scanSessions(rows *sql.Rows) ([]Session, error) {
	defer rows.Close()
	var out []Session
	for rows.Next() {
		var s Session
		if err := scanSessionInto(&s, rows); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
