package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

type ctxKey struct{}

func openMemory(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	require.NoError(t, err)
	return conn
}

func TestConnPrefersTransactionAndCarriesContext(t *testing.T) {
	db := openMemory(t)
	base := NewBase(db)
	ctx := context.WithValue(context.Background(), ctxKey{}, "checkout")

	assert.Same(t, ctx, base.DB(ctx).Statement.Context)
	assert.Same(t, db, base.Conn(nil, nil))

	tx := db.Begin()
	t.Cleanup(func() { tx.Rollback() })
	got := base.Conn(ctx, tx)
	assert.Equal(t, tx.Statement.ConnPool, got.Statement.ConnPool)
	assert.Same(t, ctx, got.Statement.Context)
}

func TestLoadError(t *testing.T) {
	err := LoadError(gorm.ErrRecordNotFound, "customer")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeNotFound))
	assert.Equal(t, "customer not found", pkgerrors.As(err).Message())

	cause := errors.New("connection reset")
	err = LoadError(cause, "variant")
	assert.True(t, pkgerrors.Is(err, pkgerrors.CodeDependency))
	assert.ErrorIs(t, err, cause)
}
