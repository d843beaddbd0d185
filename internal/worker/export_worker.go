// Package worker moves closed sessions from the local ledger to the
// external revenue book. Queue messages drive the fast path; a periodic
// sweep of unexported rows backstops lost messages.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"noleggio/internal/amqp"
	"noleggio/internal/core"
	"noleggio/internal/export"
)

// Ledger is the slice of the repository the worker needs.
type Ledger interface {
	GetSession(ctx context.Context, id int64) (core.Session, error)
	PendingExportSessions(ctx context.Context, limit int) ([]core.Session, error)
	MarkSynced(ctx context.Context, id int64) error
	MarkSyncError(ctx context.Context, id int64) error
}

type ExportWorker struct {
	ledger    Ledger
	writer    export.SessionWriter
	batchSize int
}

func NewExportWorker(ledger Ledger, writer export.SessionWriter, batchSize int) *ExportWorker {
	return &ExportWorker{
		ledger:    ledger,
		writer:    writer,
		batchSize: batchSize,
	}
}

// HandleSyncMessage exports the session named by one queue message.
// Returning an error nacks the message back onto the queue.
func (w *ExportWorker) HandleSyncMessage(ctx context.Context, msg *amqp.SessionSyncMessage) error {
	slog.InfoContext(ctx, "Processing sync message", "id", msg.ID)

	s, err := w.ledger.GetSession(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("get session from ledger: %w", err)
	}
	return w.exportSession(ctx, s)
}

// HandleDeleteMessage acknowledges a ledger deletion. The revenue book is
// append-only, so nothing is removed from the sheet; the notice is logged
// for the audit trail.
func (w *ExportWorker) HandleDeleteMessage(ctx context.Context, msg *amqp.SessionDeleteMessage) error {
	slog.InfoContext(ctx, "Session deleted from ledger, sheet row kept", "id", msg.ID)
	return nil
}

// ProcessPendingExports sweeps unexported closed rows, at most batchSize per
// call. A row that fails to export is marked so it is not retried forever.
func (w *ExportWorker) ProcessPendingExports(ctx context.Context) error {
	pending, err := w.ledger.PendingExportSessions(ctx, w.batchSize)
	if err != nil {
		return fmt.Errorf("get pending sessions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Processing pending exports", "count", len(pending))

	for _, s := range pending {
		if err := w.exportSession(ctx, s); err != nil {
			slog.ErrorContext(ctx, "Failed to export pending session",
				"id", s.ID, "error", err)
			if markErr := w.ledger.MarkSyncError(ctx, s.ID); markErr != nil {
				slog.ErrorContext(ctx, "Failed to mark sync error",
					"id", s.ID, "error", markErr)
			}
		}
	}
	return nil
}

// StartupExportCheck runs one pending sweep at boot to catch messages lost
// while the worker was down.
func (w *ExportWorker) StartupExportCheck(ctx context.Context) error {
	slog.InfoContext(ctx, "Running startup export check")
	return w.ProcessPendingExports(ctx)
}

func (w *ExportWorker) exportSession(ctx context.Context, s core.Session) error {
	if s.Status() != core.StatusClosed {
		slog.WarnContext(ctx, "Skipping export of open session", "id", s.ID)
		return nil
	}

	ref, err := w.writer.Append(ctx, s)
	if err != nil {
		return fmt.Errorf("append to sheet: %w", err)
	}
	if err := w.ledger.MarkSynced(ctx, s.ID); err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}

	slog.InfoContext(ctx, "Session exported",
		"id", s.ID,
		"category", s.Category,
		"instance", s.Instance,
		"sheets_ref", ref)
	return nil
}
