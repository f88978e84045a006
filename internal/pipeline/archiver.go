// Package pipeline runs the keeper's background housekeeping jobs.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/keeperbot/internal/domain"
)

// Archiver periodically copies aged audit records to cold storage.
type Archiver struct {
	blobArchiver  domain.Archiver
	retentionDays int
	interval      time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// NewArchiver creates an Archiver. Each run exports the interval-long
// window that ended retentionDays ago.
func NewArchiver(blobArchiver domain.Archiver, retentionDays int, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		blobArchiver:  blobArchiver,
		retentionDays: retentionDays,
		interval:      interval,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "archiver")),
	}
}

// Cutoff is the end of the window the next run exports. It is aligned to
// the interval so restarts do not shift the windows.
func (a *Archiver) Cutoff() time.Time {
	return a.now().UTC().Truncate(a.interval).Add(-time.Duration(a.retentionDays) * 24 * time.Hour)
}

// Run executes a single archive pass over rollovers, arbitrages and the
// audit log. A failure in one kind does not stop the others.
func (a *Archiver) Run(ctx context.Context) error {
	cutoff := a.Cutoff()
	a.logger.InfoContext(ctx, "starting archive run",
		slog.Time("cutoff", cutoff),
		slog.Int("retention_days", a.retentionDays),
	)

	jobs := []struct {
		kind string
		fn   func(context.Context, time.Time) (int64, error)
	}{
		{"rollovers", a.blobArchiver.ArchiveRollovers},
		{"arbitrages", a.blobArchiver.ArchiveArbitrages},
		{"audit", a.blobArchiver.ArchiveAudit},
	}

	var errs []error
	for _, job := range jobs {
		n, err := job.fn(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("archiving %s before %v: %w", job.kind, cutoff, err))
			continue
		}
		a.logger.InfoContext(ctx, "archived", slog.String("kind", job.kind), slog.Int64("count", n))
	}
	return errors.Join(errs...)
}

// RunLoop archives once per interval until ctx is cancelled.
func (a *Archiver) RunLoop(ctx context.Context) error {
	a.logger.InfoContext(ctx, "archiver started", slog.Duration("interval", a.interval))
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		if err := a.Run(ctx); err != nil {
			a.logger.ErrorContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return nil
		case <-ticker.C:
		}
	}
}
