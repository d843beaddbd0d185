package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"noleggio/internal/core"
	"noleggio/internal/ledger"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func openRow(category, instance string, start time.Time) core.Session {
	return core.Session{
		Category:    category,
		Instance:    instance,
		RatePerHour: core.Money{Cents: 500},
		StartTime:   start,
	}
}

func closedRow(category, instance string, start time.Time, elapsed, costCents int64) core.Session {
	end := start.Add(time.Duration(elapsed) * time.Second)
	return core.Session{
		Category:       category,
		Instance:       instance,
		RatePerHour:    core.Money{Cents: 500},
		ElapsedSeconds: &elapsed,
		TotalCost:      core.Money{Cents: costCents},
		StartTime:      start,
		EndTime:        &end,
	}
}

func mustAppend(t *testing.T, repo *SQLiteRepository, s core.Session) int64 {
	t.Helper()
	id, err := repo.Append(context.Background(), s)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return id
}

func TestAppendAndGetRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	id := mustAppend(t, repo, closedRow("PC", "Seat1", start, 3600, 500))
	if id == 0 {
		t.Fatalf("expected a store-assigned id")
	}

	got, err := repo.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Category != "PC" || got.Instance != "Seat1" {
		t.Fatalf("unexpected row %+v", got)
	}
	if !got.StartTime.Equal(start) {
		t.Fatalf("start time round-trip: expected %v, got %v", start, got.StartTime)
	}
	if got.ElapsedSeconds == nil || *got.ElapsedSeconds != 3600 {
		t.Fatalf("elapsed round-trip failed: %+v", got.ElapsedSeconds)
	}
	if got.EndTime == nil || !got.EndTime.Equal(start.Add(time.Hour)) {
		t.Fatalf("end time round-trip failed: %+v", got.EndTime)
	}
	if got.Status() != core.StatusClosed {
		t.Fatalf("expected closed, got %v", got.Status())
	}
}

func TestAppendOpenRowNullables(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	id := mustAppend(t, repo, openRow("PC", "Seat1", start))

	got, err := repo.GetSession(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ElapsedSeconds != nil || got.EndTime != nil {
		t.Fatalf("open row must have nil elapsed and end time: %+v", got)
	}
	if got.Status() != core.StatusOpen {
		t.Fatalf("expected open, got %v", got.Status())
	}
}

func TestActiveSessionsQuery(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	early := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

	mustAppend(t, repo, openRow("PC", "Seat1", early))
	mustAppend(t, repo, closedRow("PC", "Seat1", early, 3600, 500))
	// Same instance name in another category, more recent start.
	lateID := mustAppend(t, repo, openRow("Console", "Seat1", late))
	mustAppend(t, repo, openRow("PC", "Seat2", early))

	active, err := repo.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 rows (one per instance name), got %d", len(active))
	}
	if active[0].ID != lateID {
		t.Fatalf("Seat1 must resolve to the most recent open row, got %+v", active[0])
	}
	if active[1].Category != "PC" || active[1].Instance != "Seat2" {
		t.Fatalf("unexpected second row %+v", active[1])
	}
}

func TestActiveSessionsTieBreaksOnID(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mustAppend(t, repo, openRow("PC", "Seat1", start))
	second := mustAppend(t, repo, openRow("PC", "Seat1", start))

	active, err := repo.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].ID != second {
		t.Fatalf("equal starts must resolve to the later insert, got %+v", active)
	}
}

func TestReportWindowAndFilters(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	inWindow := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	outWindow := time.Date(2024, 3, 11, 0, 1, 0, 0, time.UTC)

	mustAppend(t, repo, closedRow("PC", "Seat2", inWindow, 3600, 500))
	mustAppend(t, repo, closedRow("Console", "Pad1", inWindow, 1800, 250))
	mustAppend(t, repo, closedRow("PC", "Seat1", outWindow, 3600, 500))
	mustAppend(t, repo, openRow("PC", "Seat3", inWindow))

	w := core.CustomWindow(core.NewDate(2024, 3, 10), core.NewDate(2024, 3, 10))

	all, err := repo.Report(ctx, w, ledger.Filter{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 rows in window, got %d", len(all))
	}
	// Ordered by category then instance.
	if all[0].Category != "Console" || all[1].Category != "PC" {
		t.Fatalf("unexpected ordering: %+v", all)
	}
	for _, r := range all {
		if r.TotalCost.Cents == 0 {
			t.Fatalf("report leaked an open row: %+v", r)
		}
	}

	cat := "PC"
	filtered, err := repo.Report(ctx, w, ledger.Filter{Category: &cat})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Instance != "Seat2" {
		t.Fatalf("expected only PC/Seat2, got %+v", filtered)
	}

	inst := "Pad1"
	filtered, err = repo.Report(ctx, w, ledger.Filter{Instance: &inst})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(filtered) != 1 || filtered[0].Category != "Console" {
		t.Fatalf("expected only Console/Pad1, got %+v", filtered)
	}
}

func TestReportInvertedWindowIsEmpty(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	mustAppend(t, repo, closedRow("PC", "Seat1", day, 3600, 500))

	w := core.CustomWindow(core.NewDate(2024, 3, 20), core.NewDate(2024, 3, 1))
	rows, err := repo.Report(ctx, w, ledger.Filter{})
	if err != nil {
		t.Fatalf("inverted window must not error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("inverted window must be empty, got %d rows", len(rows))
	}
}

func TestDeleteByIDIsIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	id := mustAppend(t, repo, closedRow("PC", "Seat1", day, 3600, 500))

	if err := repo.DeleteByID(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	// Second delete of the same id still succeeds.
	if err := repo.DeleteByID(ctx, id); err != nil {
		t.Fatalf("repeat delete: %v", err)
	}
	if err := repo.DeleteByID(ctx, 424242); err != nil {
		t.Fatalf("delete of unknown id: %v", err)
	}
}

func TestDeleteByPairRemovesAllRows(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	mustAppend(t, repo, openRow("PC", "Seat1", day))
	mustAppend(t, repo, closedRow("PC", "Seat1", day, 3600, 500))
	mustAppend(t, repo, closedRow("PC", "Seat2", day, 3600, 500))

	if err := repo.DeleteByCategoryInstance(ctx, "PC", "Seat1"); err != nil {
		t.Fatalf("delete pair: %v", err)
	}

	insts, err := repo.Instances(ctx)
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	if len(insts) != 1 || insts[0] != "Seat2" {
		t.Fatalf("expected only Seat2 left, got %v", insts)
	}
}

func TestCatalogProjections(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	mustAppend(t, repo, openRow("PC", "Seat1", day))
	mustAppend(t, repo, closedRow("PC", "Seat1", day, 3600, 500))
	mustAppend(t, repo, closedRow("Console", "Pad1", day, 1800, 250))

	cats, err := repo.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %v", cats)
	}

	pairs, err := repo.CategoryInstancePairs(ctx)
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 distinct pairs, got %v", pairs)
	}
}

func TestPendingExportLifecycle(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	mustAppend(t, repo, openRow("PC", "Seat1", day)) // never exportable
	first := mustAppend(t, repo, closedRow("PC", "Seat1", day, 3600, 500))
	second := mustAppend(t, repo, closedRow("PC", "Seat2", day, 1800, 250))

	pending, err := repo.PendingExportSessions(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != first {
		t.Fatalf("expected both closed rows oldest first, got %+v", pending)
	}

	if err := repo.MarkSynced(ctx, first); err != nil {
		t.Fatalf("mark synced: %v", err)
	}
	if err := repo.MarkSyncError(ctx, second); err != nil {
		t.Fatalf("mark sync error: %v", err)
	}

	pending, err = repo.PendingExportSessions(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending rows, got %+v", pending)
	}
}
