package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/db/dbtest"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/enums"
)

func orderEvent(orderID uuid.UUID, eventType enums.OutboxEventType) DomainEvent {
	return DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregateOrder,
		AggregateID:   orderID,
		Source:        &SourceRef{Source: "callback"},
		Data:          map[string]string{"order_id": orderID.String()},
	}
}

func TestEmitWritesEnvelope(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, orderEvent(orderID, enums.EventOrderCreated))
	}))

	rows, err := repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, orderID, rows[0].AggregateID)

	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(rows[0].Payload, &envelope))
	assert.Equal(t, CurrentVersion, envelope.Version)
	assert.NotEmpty(t, envelope.EventID)
	require.NotNil(t, envelope.Source)
	assert.Equal(t, "callback", envelope.Source.Source)
	assert.JSONEq(t, `{"order_id":"`+orderID.String()+`"}`, string(envelope.Data))
}

func TestEmitRequiresTransaction(t *testing.T) {
	svc := NewService(NewRepository(dbtest.OpenSQLite(t)), nil)
	assert.Error(t, svc.Emit(context.Background(), nil, orderEvent(uuid.New(), enums.EventOrderPaid)))
}

func TestEmitRejectsMalformedEvents(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	svc := NewService(NewRepository(db), nil)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, orderEvent(uuid.Nil, enums.EventOrderPaid))
	})
	assert.Error(t, err)
	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, orderEvent(uuid.New(), enums.OutboxEventType("order_shipped")))
	})
	assert.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestEmitIfNotExistsQueuesOnce(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)
	orderID := uuid.New()

	for i := 0; i < 3; i++ {
		require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
			return svc.EmitIfNotExists(context.Background(), tx, orderEvent(orderID, enums.EventOrderPaid))
		}))
	}

	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", orderID).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestPublishBookkeeping(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	first, second := uuid.New(), uuid.New()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		if err := svc.Emit(context.Background(), tx, orderEvent(first, enums.EventOrderCreated)); err != nil {
			return err
		}
		return svc.Emit(context.Background(), tx, orderEvent(second, enums.EventOrderCreated))
	}))

	var batch []models.OutboxEvent
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		batch, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		if err != nil {
			return err
		}
		for _, row := range batch {
			if row.AggregateID == first {
				if err := repo.MarkPublishedTx(tx, row.ID); err != nil {
					return err
				}
				continue
			}
			if err := repo.MarkFailedTx(tx, row.ID, errors.New("pubsub unavailable")); err != nil {
				return err
			}
		}
		return nil
	}))
	require.Len(t, batch, 2)

	remaining, err := repo.FetchUnpublished(10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, second, remaining[0].AggregateID)
	assert.Equal(t, 1, remaining[0].AttemptCount)
	require.NotNil(t, remaining[0].LastError)
	assert.Equal(t, "pubsub unavailable", *remaining[0].LastError)

	// Rows at the attempt ceiling are no longer offered to the publisher.
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 1)
		if err != nil {
			return err
		}
		assert.Empty(t, rows)
		return nil
	}))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return repo.MarkTerminalTx(tx, remaining[0].ID, errors.New("gave up"))
	}))
	remaining, err = repo.FetchUnpublished(10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestDeletePublishedBefore(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	repo := NewRepository(db)
	svc := NewService(repo, nil)

	old, fresh, unpublished := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		for _, id := range []uuid.UUID{old, fresh, unpublished} {
			if err := svc.Emit(context.Background(), tx, orderEvent(id, enums.EventOrderCreated)); err != nil {
				return err
			}
		}
		return nil
	}))

	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", old).Update("published_at", now.Add(-48*time.Hour)).Error)
	require.NoError(t, db.Model(&models.OutboxEvent{}).Where("aggregate_id = ?", fresh).Update("published_at", now).Error)

	var deleted int64
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		var err error
		deleted, err = repo.DeletePublishedBefore(tx, now.Add(-24*time.Hour), 100)
		return err
	}))
	assert.EqualValues(t, 1, deleted)

	var ids []uuid.UUID
	require.NoError(t, db.Model(&models.OutboxEvent{}).Order("created_at").Pluck("aggregate_id", &ids).Error)
	assert.ElementsMatch(t, []uuid.UUID{fresh, unpublished}, ids)
}

func TestDLQRepositoryDeadLettersEvent(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	dlq := NewDLQRepository(db)
	event := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventOrderPaid,
		AggregateType: enums.AggregateOrder,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"order_id":"x"}`),
		AttemptCount:  10,
	}
	cause := errors.New(strings.Repeat("x", maxLastErrorLen+50))

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return dlq.DeadLetterTx(tx, event, enums.OutboxDLQReasonMaxAttempts, cause)
	}))
	require.Error(t, db.Transaction(func(tx *gorm.DB) error {
		return dlq.DeadLetterTx(tx, event, enums.OutboxDLQErrorReason("gave_up"), cause)
	}))

	row, err := dlq.FindByEventID(context.Background(), event.ID)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, row.ErrorReason)
	assert.Equal(t, 10, row.AttemptCount)
	require.NotNil(t, row.ErrorMessage)
	assert.Len(t, *row.ErrorMessage, maxLastErrorLen)

	missing, err := dlq.FindByEventID(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Nil(t, missing)
}
