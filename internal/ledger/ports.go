package ledger

import (
	"context"

	"noleggio/internal/core"
)

// Filter narrows a report to one category and/or one instance. A nil field
// is a wildcard, never a literal empty-string comparison.
type Filter struct {
	Category *string
	Instance *string
}

// Ports for the session ledger store.
type (
	SessionAppender interface {
		// Append inserts one row exactly as given and returns the
		// store-assigned id. Business invariants are the caller's
		// concern; the store only persists.
		Append(ctx context.Context, s core.Session) (int64, error)
	}

	SessionDeleter interface {
		// DeleteByID removes at most one row. Deleting a missing id
		// is not an error.
		DeleteByID(ctx context.Context, id int64) error
		// DeleteByCategoryInstance removes every row of the pair.
		DeleteByCategoryInstance(ctx context.Context, category, instance string) error
	}

	ActiveLister interface {
		// ActiveSessions returns, per distinct instance name, the open
		// row (zero cost) with the latest start time, ordered by
		// category, instance, id.
		ActiveSessions(ctx context.Context) ([]core.Session, error)
	}

	ReportReader interface {
		// Report returns completed rows (cost > 0) whose start date
		// falls inside the window, honoring the filter, ordered by
		// category, instance, id.
		Report(ctx context.Context, w core.Window, f Filter) ([]core.Session, error)
	}

	CatalogReader interface {
		Categories(ctx context.Context) ([]string, error)
		Instances(ctx context.Context) ([]string, error)
		CategoryInstancePairs(ctx context.Context) ([]core.CategoryInstance, error)
	}

	// Store is the full ledger contract the service operates on.
	Store interface {
		SessionAppender
		SessionDeleter
		ActiveLister
		ReportReader
		CatalogReader
	}
)

// EventPublisher notifies downstream consumers (the export worker) about
// ledger mutations. Publishing is best-effort from the service's point of
// view: failures are logged, never surfaced to the caller.
type EventPublisher interface {
	PublishSessionSync(ctx context.Context, id int64) error
	PublishSessionDelete(ctx context.Context, id int64) error
}
