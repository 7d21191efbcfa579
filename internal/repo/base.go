// Package repo holds what every storefront repository shares: picking the
// connection a query runs on and mapping lookup failures to API errors.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// Base is embedded by repositories. Methods that join a caller's unit of
// work take the tx and resolve it through Conn.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB is the pool connection scoped to ctx.
func (b Base) DB(ctx context.Context) *gorm.DB {
	return b.Conn(ctx, nil)
}

// Conn returns tx when the caller is inside a transaction, otherwise the
// pool connection. Either way queries carry ctx.
func (b Base) Conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	conn := b.db
	if tx != nil {
		conn = tx
	}
	if ctx == nil {
		return conn
	}
	return conn.WithContext(ctx)
}

// LoadError classifies a failed single-row lookup of entity: a missing row
// is NOT_FOUND, anything else is a dependency failure.
func LoadError(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+entity)
}
