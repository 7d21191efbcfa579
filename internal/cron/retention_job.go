package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultPruneBatch      = 500
	maxPruneBatchesPerRun  = 20
)

type publishedPruner interface {
	DeletePublishedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

// RetentionJobParams configure the outbox housekeeping sweep. DLQ is
// optional; without it dead letters are kept forever.
type RetentionJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Outbox          publishedPruner
	DLQ             deadLetterPruner
	OutboxRetention time.Duration
	DLQRetention    time.Duration
	BatchSize       int
}

// prune is one table the sweep trims.
type prune struct {
	table  string
	keep   time.Duration
	delete func(tx *gorm.DB, cutoff time.Time, limit int) (int64, error)
}

type retentionJob struct {
	logg   *logger.Logger
	db     txRunner
	prunes []prune
	batch  int
	now    func() time.Time
}

func NewRetentionJob(params RetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &retentionJob{
		logg:  params.Logger,
		db:    params.DB,
		batch: positiveOr(params.BatchSize, defaultPruneBatch),
		now:   time.Now,
		prunes: []prune{{
			table:  "outbox_events",
			keep:   positiveOr(params.OutboxRetention, defaultOutboxRetention),
			delete: params.Outbox.DeletePublishedBefore,
		}},
	}
	if params.DLQ != nil {
		job.prunes = append(job.prunes, prune{
			table:  "outbox_dlq",
			keep:   positiveOr(params.DLQRetention, defaultDLQRetention),
			delete: params.DLQ.DeleteFailedBefore,
		})
	}
	return job, nil
}

func (j *retentionJob) Name() string { return "outbox-retention" }

// Run trims every table independently; one failing does not stop the other.
func (j *retentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var errs error
	for _, p := range j.prunes {
		cutoff := now.Add(-p.keep)
		deleted, err := j.drain(ctx, p, cutoff)
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"table":        p.table,
			"cutoff":       cutoff,
			"rows_deleted": deleted,
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("prune %s: %w", p.table, err))
			j.logg.Error(logCtx, "retention sweep failed", err)
			continue
		}
		j.logg.Info(logCtx, "retention sweep complete")
	}
	return errs
}

// drain deletes in batches of j.batch, one transaction each, until a short
// batch shows the backlog is gone or the per-run cap is hit.
func (j *retentionJob) drain(ctx context.Context, p prune, cutoff time.Time) (int64, error) {
	var total int64
	for range maxPruneBatchesPerRun {
		var n int64
		err := j.db.WithTx(ctx, func(tx *gorm.DB) (err error) {
			n, err = p.delete(tx, cutoff, j.batch)
			return err
		})
		if err != nil {
			return total, err
		}
		total += n
		if n < int64(j.batch) {
			break
		}
	}
	return total, nil
}
