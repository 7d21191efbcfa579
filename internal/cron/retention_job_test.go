package cron

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	dbpkg "github.com/bnd-apparel/storefront-backend/pkg/db"
	"github.com/bnd-apparel/storefront-backend/pkg/db/dbtest"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
	"github.com/bnd-apparel/storefront-backend/pkg/logger"
	"github.com/bnd-apparel/storefront-backend/pkg/outbox"
)

func seedOutboxRow(t *testing.T, db *gorm.DB, publishedAt *time.Time) models.OutboxEvent {
	t.Helper()
	row := models.OutboxEvent{
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{}`),
		PublishedAt:   publishedAt,
	}
	require.NoError(t, db.Create(&row).Error)
	return row
}

func TestRetentionJobPrunesOutboxAndDeadLetters(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time { at := now.Add(-d); return &at }

	var stale []uuid.UUID
	for range 3 {
		stale = append(stale, seedOutboxRow(t, db, ago(40*24*time.Hour)).ID)
	}
	recent := seedOutboxRow(t, db, ago(time.Hour))
	unpublished := seedOutboxRow(t, db, nil)

	oldLetter := recent.DeadLetter(enums.OutboxDLQReasonMaxAttempts, nil, *ago(100 * 24 * time.Hour))
	newLetter := unpublished.DeadLetter(enums.OutboxDLQReasonNonRetryable, nil, *ago(24 * time.Hour))
	require.NoError(t, db.Create(&oldLetter).Error)
	require.NoError(t, db.Create(&newLetter).Error)

	job, err := NewRetentionJob(RetentionJobParams{
		Logger:    logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:        dbpkg.NewFromGorm(db),
		Outbox:    outbox.NewRepository(db),
		DLQ:       outbox.NewDLQRepository(db),
		BatchSize: 2,
	})
	require.NoError(t, err)
	job.(*retentionJob).now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))

	var left []uuid.UUID
	require.NoError(t, db.Model(&models.OutboxEvent{}).Pluck("id", &left).Error)
	assert.ElementsMatch(t, []uuid.UUID{recent.ID, unpublished.ID}, left)

	var letters []uuid.UUID
	require.NoError(t, db.Model(&models.OutboxDLQ{}).Pluck("event_id", &letters).Error)
	assert.Equal(t, []uuid.UUID{unpublished.ID}, letters)
}

type pruneCall struct {
	cutoff time.Time
	limit  int
}

type scriptedPruner struct {
	results []int64
	err     error
	calls   []pruneCall
}

func (p *scriptedPruner) next(cutoff time.Time, limit int) (int64, error) {
	p.calls = append(p.calls, pruneCall{cutoff: cutoff, limit: limit})
	if p.err != nil {
		return 0, p.err
	}
	if len(p.results) == 0 {
		return 0, nil
	}
	n := p.results[0]
	p.results = p.results[1:]
	return n, nil
}

func (p *scriptedPruner) DeletePublishedBefore(_ *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	return p.next(cutoff, limit)
}

func (p *scriptedPruner) DeleteFailedBefore(_ *gorm.DB, cutoff time.Time, limit int) (int64, error) {
	return p.next(cutoff, limit)
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

func TestRetentionJobDefaultsAndBatchCap(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	full := make([]int64, maxPruneBatchesPerRun+5)
	for i := range full {
		full[i] = defaultPruneBatch
	}
	pub := &scriptedPruner{results: full}
	dlq := &scriptedPruner{results: []int64{3}}

	job, err := NewRetentionJob(RetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:     passthroughTx{},
		Outbox: pub,
		DLQ:    dlq,
	})
	require.NoError(t, err)
	job.(*retentionJob).now = func() time.Time { return now }
	require.NoError(t, job.Run(context.Background()))

	require.Len(t, pub.calls, maxPruneBatchesPerRun)
	assert.Equal(t, now.Add(-defaultOutboxRetention), pub.calls[0].cutoff)
	assert.Equal(t, defaultPruneBatch, pub.calls[0].limit)
	require.Len(t, dlq.calls, 1)
	assert.Equal(t, now.Add(-defaultDLQRetention), dlq.calls[0].cutoff)
}

func TestRetentionJobKeepsGoingAfterFailure(t *testing.T) {
	boom := errors.New("disk full")
	pub := &scriptedPruner{err: boom}
	dlq := &scriptedPruner{}

	job, err := NewRetentionJob(RetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:     passthroughTx{},
		Outbox: pub,
		DLQ:    dlq,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "prune outbox_events")
	assert.Len(t, dlq.calls, 1)
}

func TestNewRetentionJobRequiresOutbox(t *testing.T) {
	_, err := NewRetentionJob(RetentionJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test"}),
		DB:     passthroughTx{},
	})
	assert.EqualError(t, err, "outbox repository required")
}
