package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"noleggio/internal/core"
)

// Service orchestrates session lifecycle and reporting over a Store, and
// publishes mutation events for the export worker. The reference clock is
// injectable so period windows are deterministic under test.
type Service struct {
	store  Store
	events EventPublisher
	now    func() time.Time
}

func NewService(store Store, events EventPublisher) *Service {
	return &Service{
		store:  store,
		events: events,
		now:    time.Now,
	}
}

// WithClock overrides the reference "now" used to resolve report windows.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SaveSession inserts one session event: either the opening row of a rental
// (zero cost, no end time) or the closing row carrying the final elapsed
// time and cost. A close is always a second insert for the same logical
// session, never an update of the opening row.
func (s *Service) SaveSession(ctx context.Context, sess core.Session) (int64, error) {
	if err := sess.Validate(); err != nil {
		return 0, fmt.Errorf("validate session: %w", err)
	}

	id, err := s.store.Append(ctx, sess)
	if err != nil {
		return 0, fmt.Errorf("append session: %w", err)
	}

	slog.InfoContext(ctx, "Session saved",
		"id", id,
		"category", sess.Category,
		"instance", sess.Instance,
		"status", sess.Status(),
		"total_cost_cents", sess.TotalCost.Cents)

	// Only closed rows are exportable; opening rows stay local.
	if sess.Status() == core.StatusClosed {
		s.publishSync(ctx, id)
	}

	return id, nil
}

// DeleteByID removes at most one row. A missing id succeeds.
func (s *Service) DeleteByID(ctx context.Context, id int64) error {
	if err := s.store.DeleteByID(ctx, id); err != nil {
		return fmt.Errorf("delete session %d: %w", id, err)
	}
	s.publishDelete(ctx, id)
	return nil
}

// DeleteByCategoryInstance removes every row of the pair, open and closed
// alike. Note this also forgets the pair from the catalog projections.
func (s *Service) DeleteByCategoryInstance(ctx context.Context, category, instance string) error {
	if err := s.store.DeleteByCategoryInstance(ctx, category, instance); err != nil {
		return fmt.Errorf("delete sessions %s/%s: %w", category, instance, err)
	}
	slog.InfoContext(ctx, "Sessions deleted by pair", "category", category, "instance", instance)
	return nil
}

// ActiveSessions returns the currently-open view: per distinct instance
// name, the open row with the latest start time. Grouping is by instance
// name alone, so an instance name is effectively a cross-category key here;
// two categories sharing a name resolve to the single most recent open row.
func (s *Service) ActiveSessions(ctx context.Context) ([]core.Session, error) {
	return s.store.ActiveSessions(ctx)
}

// Report returns the completed sessions whose start date falls in the
// window of the given period relative to the service clock.
func (s *Service) Report(ctx context.Context, p core.Period, f Filter) ([]core.Session, error) {
	w, err := core.ResolveWindow(p, s.now())
	if err != nil {
		return nil, err
	}
	return s.store.Report(ctx, w, f)
}

// ReportRange returns completed sessions for an explicit inclusive date
// range. An inverted range yields an empty report, not an error.
func (s *Service) ReportRange(ctx context.Context, start, end core.Date, f Filter) ([]core.Session, error) {
	return s.store.Report(ctx, core.CustomWindow(start, end), f)
}

// MonthlyAveragePopulation returns the completed sessions of an explicit
// "YYYY-MM" month. The engine's contract stops at row selection; callers
// that average do so over the returned rows (the HTTP layer averages the
// total cost).
func (s *Service) MonthlyAveragePopulation(ctx context.Context, month string, f Filter) ([]core.Session, error) {
	w, err := core.MonthWindow(month)
	if err != nil {
		return nil, err
	}
	return s.store.Report(ctx, w, f)
}

// YearlyAveragePopulation is MonthlyAveragePopulation for a "YYYY" token.
func (s *Service) YearlyAveragePopulation(ctx context.Context, year string, f Filter) ([]core.Session, error) {
	w, err := core.YearWindow(year)
	if err != nil {
		return nil, err
	}
	return s.store.Report(ctx, w, f)
}

// Categories lists every distinct category ever recorded, open or closed.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	return s.store.Categories(ctx)
}

// Instances lists every distinct instance name ever recorded.
func (s *Service) Instances(ctx context.Context) ([]string, error) {
	return s.store.Instances(ctx)
}

// CategoryInstancePairs lists every distinct (category, instance) pair.
func (s *Service) CategoryInstancePairs(ctx context.Context) ([]core.CategoryInstance, error) {
	return s.store.CategoryInstancePairs(ctx)
}

func (s *Service) publishSync(ctx context.Context, id int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSessionSync(ctx, id); err != nil {
		// The row is saved locally; the worker's periodic backstop
		// picks up what the queue missed.
		slog.ErrorContext(ctx, "Failed to publish session sync message", "id", id, "error", err)
	}
}

func (s *Service) publishDelete(ctx context.Context, id int64) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishSessionDelete(ctx, id); err != nil {
		slog.ErrorContext(ctx, "Failed to publish session delete message", "id", id, "error", err)
	}
}
