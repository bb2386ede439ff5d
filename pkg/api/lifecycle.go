package api

import (
	"context"
	"time"

	"github.com/ethpandaops/reportoor/pkg/provider"
	"github.com/ethpandaops/reportoor/pkg/store"
)

// completeRun applies the completion transition shared by status polls
// and webhook ingestion: set the report, stamp completion, append the
// initial history entry, and archive if configured.
//
// The transition is idempotent. A duplicate completion notification
// with the same report text leaves the record untouched and appends no
// second history entry.
func (s *server) completeRun(
	ctx context.Context, run *store.Run, report string,
) error {
	if run.Status == store.StatusCompleted && run.Report == report {
		return nil
	}

	now := time.Now().UTC()

	run.Status = store.StatusCompleted
	run.Report = report
	run.CompletedAt = &now

	if run.ProviderStatus == "" {
		run.ProviderStatus = provider.ProviderStatusCompleted
	}

	if err := s.store.PutRun(ctx, run); err != nil {
		s.log.WithError(err).
			WithField("run_id", run.RunID).
			Error("Failed to persist completion")

		return err
	}

	entry := &store.HistoryEntry{
		RunID:     run.RunID,
		Timestamp: now,
		Report:    report,
	}

	if err := s.store.AppendHistory(ctx, entry); err != nil {
		s.log.WithError(err).
			WithField("run_id", run.RunID).
			Error("Failed to append completion history")
	}

	if s.archiver != nil {
		if err := s.archiver.Put(ctx, run.RunID, report); err != nil {
			// Archival is best-effort; the run is already durable.
			s.log.WithError(err).
				WithField("run_id", run.RunID).
				Warn("Report archival failed")
		}
	}

	s.log.WithField("run_id", run.RunID).Info("Run completed")

	return nil
}
