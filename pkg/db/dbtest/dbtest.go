// Package dbtest opens throwaway databases for repository and service tests.
package dbtest

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	"github.com/bnd-apparel/storefront-backend/pkg/migrate"
)

// EnvPostgresDSN enables the Postgres-backed locking tests.
const EnvPostgresDSN = "BND_TEST_DB_DSN"

// OpenSQLite returns an isolated in-memory database with every model migrated.
func OpenSQLite(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:bnd_%s?mode=memory&cache=shared&_foreign_keys=1", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), gormConfig())
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	// A single connection serialises transactions the way row locks would.
	sqlDB.SetMaxOpenConns(1)
	if err := conn.AutoMigrate(models.All()...); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// OpenPostgres connects to BND_TEST_DB_DSN and applies the goose migrations.
// The test is skipped when the variable is unset.
func OpenPostgres(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(EnvPostgresDSN)
	if dsn == "" {
		t.Skipf("%s is not set", EnvPostgresDSN)
	}
	conn, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	if err := migrate.Apply(context.Background(), sqlDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

// SQLite compares timestamps as text, so every write uses UTC.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	}
}

// SeedVariant creates a product with one variant holding stock units.
func SeedVariant(t testing.TB, db *gorm.DB, price string, stock int) *models.ProductVariant {
	t.Helper()
	product := &models.Product{
		Name:      "Blank Tee " + uuid.NewString()[:8],
		Category:  "tees",
		BasePrice: decimal.RequireFromString(price),
	}
	if err := db.Create(product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	variant := &models.ProductVariant{
		ProductID:     product.ID,
		Size:          "M",
		Color:         "Black",
		StockQuantity: stock,
	}
	if err := db.Create(variant).Error; err != nil {
		t.Fatalf("seed variant: %v", err)
	}
	variant.Product = product
	return variant
}

// SeedCustomer inserts a customer with a unique email.
func SeedCustomer(t testing.TB, db *gorm.DB) *models.Customer {
	t.Helper()
	customer := &models.Customer{
		Name:  "Aina Test",
		Email: fmt.Sprintf("buyer_%s@example.com", uuid.NewString()),
		Phone: "0123456789",
	}
	if err := db.Create(customer).Error; err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

// Stock reads the current stock_quantity of a variant.
func Stock(t testing.TB, db *gorm.DB, variantID uuid.UUID) int {
	t.Helper()
	var variant models.ProductVariant
	if err := db.First(&variant, "id = ?", variantID).Error; err != nil {
		t.Fatalf("load variant: %v", err)
	}
	return variant.StockQuantity
}
