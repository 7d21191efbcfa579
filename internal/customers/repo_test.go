package customers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/db/dbtest"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

func strPtr(v string) *string { return &v }

func TestUpsertReturnsSameIdentityForEmail(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	registry := NewRegistry(db)
	ctx := context.Background()

	first, err := registry.Upsert(ctx, nil, Contact{
		Name:     "Aina",
		Email:    "Aina@Example.com ",
		Phone:    "0111",
		Postcode: strPtr("50000"),
	})
	require.NoError(t, err)

	second, err := registry.Upsert(ctx, nil, Contact{
		Name:    "Aina Binti Ali",
		Email:   "aina@example.com",
		Phone:   "0222",
		Address: strPtr("12 Jalan Bukit"),
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	var count int64
	require.NoError(t, db.Model(&models.Customer{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	stored, err := registry.FindByID(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, "Aina Binti Ali", stored.Name)
	assert.Equal(t, "0222", stored.Phone)
	assert.Equal(t, "aina@example.com", stored.Email)
	require.NotNil(t, stored.Address)
	assert.Equal(t, "12 Jalan Bukit", *stored.Address)
	assert.Nil(t, stored.Postcode, "latest submission overwrites mutable fields")
}

func TestUpsertParticipatesInTransaction(t *testing.T) {
	db := dbtest.OpenSQLite(t)
	registry := NewRegistry(db)
	ctx := context.Background()

	err := db.Transaction(func(tx *gorm.DB) error {
		if _, err := registry.Upsert(ctx, tx, Contact{Name: "Rolled", Email: "rolled@example.com", Phone: "1"}); err != nil {
			return err
		}
		return gorm.ErrInvalidTransaction
	})
	require.Error(t, err)

	_, err = registry.FindByEmail(ctx, "rolled@example.com")
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
}

func TestUpsertValidatesContact(t *testing.T) {
	registry := NewRegistry(dbtest.OpenSQLite(t))

	_, err := registry.Upsert(context.Background(), nil, Contact{Name: " ", Email: "not-an-email", Phone: ""})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	assert.Contains(t, details, "name")
	assert.Contains(t, details, "email")
	assert.Contains(t, details, "phone")
}
