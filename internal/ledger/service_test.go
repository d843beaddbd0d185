package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"noleggio/internal/core"
	"noleggio/internal/ledger"
	"noleggio/internal/ledger/memory"
)

type stubPublisher struct {
	syncs   []int64
	deletes []int64
	fail    bool
}

func (p *stubPublisher) PublishSessionSync(_ context.Context, id int64) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.syncs = append(p.syncs, id)
	return nil
}

func (p *stubPublisher) PublishSessionDelete(_ context.Context, id int64) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.deletes = append(p.deletes, id)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func openSession(category, instance string, start time.Time) core.Session {
	return core.Session{
		Category:    category,
		Instance:    instance,
		RatePerHour: core.Money{Cents: 500},
		StartTime:   start,
	}
}

func closedSession(category, instance string, start time.Time, elapsed int64, costCents int64) core.Session {
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

func strptr(s string) *string { return &s }

func TestOpenThenCloseLifecycle(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := ledger.NewService(memory.New(), nil).WithClock(fixedClock(now))

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := svc.SaveSession(ctx, openSession("PC", "Seat1", start)); err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := svc.SaveSession(ctx, closedSession("PC", "Seat1", start, 3600, 500)); err != nil {
		t.Fatalf("close: %v", err)
	}

	// The open row is still the active one: only cost==0 rows qualify.
	active, err := svc.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].Status() != core.StatusOpen {
		t.Fatalf("expected the single open row, got %+v", active)
	}

	// The daily report sees only the closed row.
	rows, err := svc.Report(ctx, core.Daily, ledger.Filter{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 || rows[0].Status() != core.StatusClosed {
		t.Fatalf("expected the single closed row, got %+v", rows)
	}
	if rows[0].TotalCost.Cents != 500 {
		t.Fatalf("expected 500 cents, got %d", rows[0].TotalCost.Cents)
	}
}

func TestSaveSessionRejectsInvalid(t *testing.T) {
	svc := ledger.NewService(memory.New(), nil)
	_, err := svc.SaveSession(context.Background(), core.Session{Instance: "Seat1"})
	if !errors.Is(err, core.ErrEmptyCategory) {
		t.Fatalf("expected ErrEmptyCategory, got %v", err)
	}
}

func TestActiveSessionsOnePerInstance(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New(), nil)

	early := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	late := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)
	if _, err := svc.SaveSession(ctx, openSession("PC", "Seat1", early)); err != nil {
		t.Fatalf("save: %v", err)
	}
	// Same instance name under a different category: instance names are a
	// cross-category key for the active view.
	if _, err := svc.SaveSession(ctx, openSession("Console", "Seat1", late)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.SaveSession(ctx, openSession("PC", "Seat2", early)); err != nil {
		t.Fatalf("save: %v", err)
	}

	active, err := svc.ActiveSessions(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected one row per instance name, got %d", len(active))
	}
	// Ordered by category then instance: Console/Seat1 before PC/Seat2.
	if active[0].Category != "Console" || !active[0].StartTime.Equal(late) {
		t.Fatalf("expected the globally most recent open row for Seat1, got %+v", active[0])
	}
	if active[1].Category != "PC" || active[1].Instance != "Seat2" {
		t.Fatalf("unexpected second row %+v", active[1])
	}
}

func TestReportFiltersAndOrdering(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	svc := ledger.NewService(memory.New(), nil).WithClock(fixedClock(now))

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	seed := []core.Session{
		closedSession("PC", "Seat2", day, 3600, 500),
		closedSession("Console", "Pad1", day, 1800, 250),
		closedSession("PC", "Seat1", day, 7200, 1000),
		openSession("PC", "Seat3", day),
	}
	for _, s := range seed {
		if _, err := svc.SaveSession(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	all, err := svc.Report(ctx, core.Monthly, ledger.Filter{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 closed rows, got %d", len(all))
	}
	for _, r := range all {
		if r.TotalCost.Cents == 0 {
			t.Fatalf("report leaked an open row: %+v", r)
		}
	}
	want := []string{"Console/Pad1", "PC/Seat1", "PC/Seat2"}
	for i, r := range all {
		if got := r.Category + "/" + r.Instance; got != want[i] {
			t.Fatalf("row %d: expected %s, got %s", i, want[i], got)
		}
	}

	// A category filter returns a subset of the unfiltered report.
	pcOnly, err := svc.Report(ctx, core.Monthly, ledger.Filter{Category: strptr("PC")})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(pcOnly) != 2 {
		t.Fatalf("expected 2 PC rows, got %d", len(pcOnly))
	}
	if len(pcOnly) > len(all) {
		t.Fatalf("filtered report larger than the wildcard one")
	}

	both, err := svc.Report(ctx, core.Monthly,
		ledger.Filter{Category: strptr("PC"), Instance: strptr("Seat1")})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(both) != 1 || both[0].Instance != "Seat1" {
		t.Fatalf("expected the single Seat1 row, got %+v", both)
	}
}

func TestDailyWindowBoundaries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	svc := ledger.NewService(memory.New(), nil).WithClock(fixedClock(now))

	sameDay := time.Date(2024, 3, 10, 0, 5, 0, 0, time.UTC)
	nextDay := time.Date(2024, 3, 11, 0, 5, 0, 0, time.UTC)
	if _, err := svc.SaveSession(ctx, closedSession("PC", "Seat1", sameDay, 60, 100)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.SaveSession(ctx, closedSession("PC", "Seat1", nextDay, 60, 100)); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows, err := svc.Report(ctx, core.Daily, ledger.Filter{})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 || !rows[0].StartTime.Equal(sameDay) {
		t.Fatalf("expected only the same-day row, got %+v", rows)
	}
}

func TestCustomRangeInvertedIsEmpty(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New(), nil)
	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	if _, err := svc.SaveSession(ctx, closedSession("PC", "Seat1", day, 60, 100)); err != nil {
		t.Fatalf("save: %v", err)
	}

	rows, err := svc.ReportRange(ctx,
		core.NewDate(2024, 3, 20), core.NewDate(2024, 3, 1), ledger.Filter{})
	if err != nil {
		t.Fatalf("inverted range must not error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("inverted range must be empty, got %d rows", len(rows))
	}
}

func TestAveragePopulations(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New(), nil)

	march := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	april := time.Date(2024, 4, 5, 10, 0, 0, 0, time.UTC)
	lastYear := time.Date(2023, 6, 5, 10, 0, 0, 0, time.UTC)
	for _, s := range []core.Session{
		closedSession("PC", "Seat1", march, 3600, 500),
		closedSession("PC", "Seat1", april, 3600, 700),
		closedSession("PC", "Seat1", lastYear, 3600, 900),
	} {
		if _, err := svc.SaveSession(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	rows, err := svc.MonthlyAveragePopulation(ctx, "2024-03", ledger.Filter{})
	if err != nil {
		t.Fatalf("monthly: %v", err)
	}
	if len(rows) != 1 || rows[0].TotalCost.Cents != 500 {
		t.Fatalf("expected the March row, got %+v", rows)
	}

	rows, err = svc.YearlyAveragePopulation(ctx, "2024", ledger.Filter{})
	if err != nil {
		t.Fatalf("yearly: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected both 2024 rows, got %d", len(rows))
	}

	if _, err := svc.MonthlyAveragePopulation(ctx, "bad", ledger.Filter{}); err == nil {
		t.Fatalf("expected error for bad month token")
	}
}

func TestDeleteSemantics(t *testing.T) {
	ctx := context.Background()
	pub := &stubPublisher{}
	svc := ledger.NewService(memory.New(), pub)

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	id, err := svc.SaveSession(ctx, closedSession("PC", "Seat1", day, 60, 100))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := svc.SaveSession(ctx, closedSession("Console", "Pad1", day, 60, 100)); err != nil {
		t.Fatalf("save: %v", err)
	}

	// Deleting a non-existent id succeeds.
	if err := svc.DeleteByID(ctx, 9999); err != nil {
		t.Fatalf("idempotent delete failed: %v", err)
	}

	if err := svc.DeleteByID(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := svc.DeleteByCategoryInstance(ctx, "Console", "Pad1"); err != nil {
		t.Fatalf("delete pair: %v", err)
	}

	// Catalog projections no longer see the deleted rows.
	cats, err := svc.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 0 {
		t.Fatalf("expected empty catalog after deletes, got %v", cats)
	}
}

func TestCatalogProjections(t *testing.T) {
	ctx := context.Background()
	svc := ledger.NewService(memory.New(), nil)

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	for _, s := range []core.Session{
		openSession("PC", "Seat1", day),
		closedSession("PC", "Seat1", day, 60, 100),
		closedSession("Console", "Pad1", day, 60, 100),
	} {
		if _, err := svc.SaveSession(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	cats, err := svc.Categories(ctx)
	if err != nil {
		t.Fatalf("categories: %v", err)
	}
	if len(cats) != 2 {
		t.Fatalf("expected 2 categories, got %v", cats)
	}
	insts, err := svc.Instances(ctx)
	if err != nil {
		t.Fatalf("instances: %v", err)
	}
	if len(insts) != 2 {
		t.Fatalf("expected 2 instances, got %v", insts)
	}
	pairs, err := svc.CategoryInstancePairs(ctx)
	if err != nil {
		t.Fatalf("pairs: %v", err)
	}
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %v", pairs)
	}
}

func TestEventPublishing(t *testing.T) {
	ctx := context.Background()
	pub := &stubPublisher{}
	svc := ledger.NewService(memory.New(), pub)

	day := time.Date(2024, 3, 10, 10, 0, 0, 0, time.UTC)
	if _, err := svc.SaveSession(ctx, openSession("PC", "Seat1", day)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(pub.syncs) != 0 {
		t.Fatalf("opening rows must not publish sync messages")
	}

	id, err := svc.SaveSession(ctx, closedSession("PC", "Seat1", day, 60, 100))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(pub.syncs) != 1 || pub.syncs[0] != id {
		t.Fatalf("expected sync publish for %d, got %v", id, pub.syncs)
	}

	if err := svc.DeleteByID(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(pub.deletes) != 1 || pub.deletes[0] != id {
		t.Fatalf("expected delete publish for %d, got %v", id, pub.deletes)
	}

	// A broken broker never fails the operation itself.
	pub.fail = true
	if _, err := svc.SaveSession(ctx, closedSession("PC", "Seat1", day, 60, 100)); err != nil {
		t.Fatalf("publish failure must not fail the save: %v", err)
	}
}
