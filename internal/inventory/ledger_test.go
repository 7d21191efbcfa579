package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/db/dbtest"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

func TestCheckAvailable(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	ledger := NewLedger(db)
	variant := dbtest.SeedVariant(t, db, "29.90", 7)

	qty, err := ledger.CheckAvailable(context.Background(), variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, qty)

	_, err = ledger.CheckAvailable(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestCheckAvailableBatch(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	ledger := NewLedger(db)
	plenty := dbtest.SeedVariant(t, db, "29.90", 10)
	scarce := dbtest.SeedVariant(t, db, "19.90", 1)
	missing := uuid.New()

	checks, err := ledger.CheckAvailableBatch(context.Background(), []Line{
		{VariantID: plenty.ID, Quantity: 3},
		{VariantID: scarce.ID, Quantity: 2},
		{VariantID: missing, Quantity: 1},
	})
	require.NoError(t, err)
	require.Len(t, checks, 3)

	assert.True(t, checks[0].InStock)
	assert.Equal(t, 10, checks[0].Available)

	assert.False(t, checks[1].InStock)
	assert.Equal(t, 1, checks[1].Available)
	assert.Equal(t, "Only 1 items available", checks[1].Message)

	assert.False(t, checks[2].InStock)
	assert.Equal(t, "Product not found", checks[2].Message)
}

func TestLockAndVerifyReportsShortfallWithoutMutation(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	ledger := NewLedger(db)
	ok := dbtest.SeedVariant(t, db, "29.90", 5)
	short := dbtest.SeedVariant(t, db, "29.90", 2)

	var results []LineResult
	err := db.Transaction(func(tx *gorm.DB) error {
		var err error
		results, err = ledger.LockAndVerify(context.Background(), tx, []Line{
			{VariantID: ok.ID, Quantity: 5},
			{VariantID: short.ID, Quantity: 3},
		})
		return err
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())

	details, isLines := typed.Details().([]LineResult)
	require.True(t, isLines)
	require.Len(t, details, 1)
	assert.Equal(t, short.ID, details[0].VariantID)
	assert.Equal(t, 1, details[0].Shortfall)
	assert.Equal(t, 2, details[0].Available)

	require.Len(t, results, 2)
	assert.True(t, results[0].Valid)
	assert.False(t, results[1].Valid)

	assert.Equal(t, 5, dbtest.Stock(t, db, ok.ID))
	assert.Equal(t, 2, dbtest.Stock(t, db, short.ID))
}

func TestLockAndVerifyRequiresTransaction(t *testing.T) {
	ledger := NewLedger(dbtest.OpenSQLite(t))
	_, err := ledger.LockAndVerify(context.Background(), nil, nil)
	assert.Error(t, err)
}

func TestReserveAndDeduct(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	ledger := NewLedger(db)
	variant := dbtest.SeedVariant(t, db, "29.90", 5)
	ctx := context.Background()

	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.ReserveAndDeduct(ctx, tx, variant.ID, 3)
	}))
	assert.Equal(t, 2, dbtest.Stock(t, db, variant.ID))

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.ReserveAndDeduct(ctx, tx, variant.ID, 3)
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeInsufficientStock))
	assert.Equal(t, 2, dbtest.Stock(t, db, variant.ID))

	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.ReserveAndDeduct(ctx, tx, uuid.New(), 1)
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))

	err = db.Transaction(func(tx *gorm.DB) error {
		return ledger.ReserveAndDeduct(ctx, tx, variant.ID, 0)
	})
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeValidation))
}

func TestReserveAndDeductMultiLineIsAllOrNothing(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	ledger := NewLedger(db)
	first := dbtest.SeedVariant(t, db, "29.90", 4)
	second := dbtest.SeedVariant(t, db, "29.90", 1)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		for _, line := range SortLines([]Line{{VariantID: first.ID, Quantity: 2}, {VariantID: second.ID, Quantity: 2}}) {
			if err := ledger.ReserveAndDeduct(ctx, tx, line.VariantID, line.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	require.Error(t, err)
	assert.Equal(t, 4, dbtest.Stock(t, db, first.ID))
	assert.Equal(t, 1, dbtest.Stock(t, db, second.ID))
}

func TestConcurrentDeductNeverOversells(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	ledger := NewLedger(db)
	variant := dbtest.SeedVariant(t, db, "29.90", 5)
	runConcurrentDeductions(t, db, ledger, variant.ID)
}

func TestConcurrentDeductNeverOversellsPostgres(t *testing.T) {
	db := dbtest.OpenPostgres(t)
	ledger := NewLedger(db)
	variant := dbtest.SeedVariant(t, db, "29.90", 5)
	runConcurrentDeductions(t, db, ledger, variant.ID)
}

func runConcurrentDeductions(t *testing.T, db *gorm.DB, ledger *Ledger, variantID uuid.UUID) {
	t.Helper()
	const buyers = 6

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				return ledger.ReserveAndDeduct(context.Background(), tx, variantID, 3)
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 2, dbtest.Stock(t, db, variantID))
}

func TestSortLinesIsStableCopy(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	in := []Line{{VariantID: a, Quantity: 1}, {VariantID: b, Quantity: 2}}

	out := SortLines(in)
	assert.Equal(t, b, out[0].VariantID)
	assert.Equal(t, a, in[0].VariantID, "input must not be reordered")
}
