// Package inventory owns per-variant stock. Every mutation happens inside a
// caller-provided transaction while holding the variant row lock.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bnd-apparel/storefront-backend/internal/repo"
	dbpkg "github.com/bnd-apparel/storefront-backend/pkg/db"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// Line is a requested quantity of one variant.
type Line struct {
	VariantID uuid.UUID
	Quantity  int
}

// LineResult is the outcome of verifying one line against stored stock.
type LineResult struct {
	VariantID uuid.UUID `json:"variantId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	Valid     bool      `json:"valid"`
	Shortfall int       `json:"shortfall,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// StockCheck is the advisory availability of one line, read without locks.
type StockCheck struct {
	VariantID uuid.UUID `json:"variantId"`
	Requested int       `json:"requested"`
	Available int       `json:"available"`
	InStock   bool      `json:"inStock"`
	Message   string    `json:"message,omitempty"`
}

// Ledger reads and decrements variant stock.
type Ledger struct {
	repo.Base
}

// NewLedger binds a Ledger to the variant table in db.
func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{Base: repo.NewBase(db)}
}

// CheckAvailable returns the current stock of a variant. The value is advisory
// and must never drive a commit decision.
func (l *Ledger) CheckAvailable(ctx context.Context, variantID uuid.UUID) (int, error) {
	var variant models.ProductVariant
	err := l.DB(ctx).Select("id", "stock_quantity").First(&variant, "id = ?", variantID).Error
	if err != nil {
		return 0, repo.LoadError(err, "variant")
	}
	return variant.StockQuantity, nil
}

// CheckAvailableBatch reports advisory availability for every line with a single read.
func (l *Ledger) CheckAvailableBatch(ctx context.Context, lines []Line) ([]StockCheck, error) {
	stock, err := l.loadStock(l.DB(ctx), variantIDs(lines), false)
	if err != nil {
		return nil, err
	}
	checks := make([]StockCheck, 0, len(lines))
	for _, line := range lines {
		check := StockCheck{VariantID: line.VariantID, Requested: line.Quantity}
		available, ok := stock[line.VariantID]
		switch {
		case !ok:
			check.Message = "Product not found"
		case available >= line.Quantity:
			check.Available = available
			check.InStock = true
		default:
			check.Available = available
			check.Message = fmt.Sprintf("Only %d items available", available)
		}
		checks = append(checks, check)
	}
	return checks, nil
}

// LockAndVerify locks every requested variant row (ascending id order) and
// compares the stored stock with the request without mutating it. When any
// line falls short the per-line results are returned together with an
// INSUFFICIENT_STOCK error carrying the same results as details.
func (l *Ledger) LockAndVerify(ctx context.Context, tx *gorm.DB, lines []Line) ([]LineResult, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	stock, err := l.loadStock(l.Conn(ctx, tx), variantIDs(lines), true)
	if err != nil {
		return nil, err
	}

	results := make([]LineResult, 0, len(lines))
	short := false
	for _, line := range lines {
		result := verifyLine(line, stock)
		if !result.Valid {
			short = true
		}
		results = append(results, result)
	}
	if short {
		return results, pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock for one or more items").WithDetails(shortfalls(results))
	}
	return results, nil
}

// ReserveAndDeduct locks the variant row and decrements it by quantity, or
// fails with INSUFFICIENT_STOCK without mutating anything.
func (l *Ledger) ReserveAndDeduct(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, quantity int) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if quantity <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive")
	}
	conn := l.Conn(ctx, tx)

	var variant models.ProductVariant
	err := dbpkg.ForUpdate(conn).Select("id", "stock_quantity").First(&variant, "id = ?", variantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "variant not found")
		}
		return lockError(err, "lock variant")
	}

	line := Line{VariantID: variantID, Quantity: quantity}
	if variant.StockQuantity < quantity {
		result := verifyLine(line, map[uuid.UUID]int{variantID: variant.StockQuantity})
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock").WithDetails(shortfalls([]LineResult{result}))
	}

	res := conn.Model(&models.ProductVariant{}).
		Where("id = ? AND stock_quantity >= ?", variantID, quantity).
		Update("stock_quantity", gorm.Expr("stock_quantity - ?", quantity))
	if res.Error != nil {
		if dbpkg.IsCheckViolation(res.Error) {
			return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "deduct variant stock")
	}
	if res.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeInsufficientStock, "insufficient stock")
	}
	return nil
}

// SortLines orders lines by variant id so concurrent transactions acquire
// variant locks in the same sequence.
func SortLines(lines []Line) []Line {
	sorted := append([]Line(nil), lines...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].VariantID.String() < sorted[j].VariantID.String()
	})
	return sorted
}

func (l *Ledger) loadStock(conn *gorm.DB, ids []uuid.UUID, lock bool) (map[uuid.UUID]int, error) {
	stock := make(map[uuid.UUID]int, len(ids))
	if len(ids) == 0 {
		return stock, nil
	}
	query := conn.Model(&models.ProductVariant{}).Select("id", "stock_quantity").Where("id IN ?", ids).Order("id ASC")
	if lock {
		query = dbpkg.ForUpdate(query)
	}
	var rows []models.ProductVariant
	if err := query.Find(&rows).Error; err != nil {
		if lock {
			return nil, lockError(err, "lock variants")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read variant stock")
	}
	for _, row := range rows {
		stock[row.ID] = row.StockQuantity
	}
	return stock, nil
}

func verifyLine(line Line, stock map[uuid.UUID]int) LineResult {
	result := LineResult{VariantID: line.VariantID, Requested: line.Quantity}
	available, ok := stock[line.VariantID]
	if !ok {
		result.Shortfall = line.Quantity
		result.Message = "Product not found"
		return result
	}
	result.Available = available
	if available >= line.Quantity {
		result.Valid = true
		return result
	}
	result.Shortfall = line.Quantity - available
	result.Message = fmt.Sprintf("Only %d items available", available)
	return result
}

func shortfalls(results []LineResult) []LineResult {
	out := make([]LineResult, 0, len(results))
	for _, r := range results {
		if !r.Valid {
			out = append(out, r)
		}
	}
	return out
}

func variantIDs(lines []Line) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(lines))
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.VariantID]; ok {
			continue
		}
		seen[line.VariantID] = struct{}{}
		ids = append(ids, line.VariantID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func lockError(err error, msg string) error {
	if dbpkg.IsLockTimeout(err) {
		return pkgerrors.Wrap(pkgerrors.CodeConflict, err, msg+": lock timeout")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, msg)
}
