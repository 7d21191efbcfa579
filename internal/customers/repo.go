package customers

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/bnd-apparel/storefront-backend/internal/repo"
	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// Registry resolves submitted contacts to a single customer identity per email.
type Registry struct {
	repo.Base
}

// NewRegistry constructs a registry bound to the provided GORM DB.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{Base: repo.NewBase(db)}
}

// Upsert returns the id of the customer owning contact.Email, creating the row
// on first sight and overwriting name, phone, address and postcode otherwise.
// Pass the checkout transaction as tx so the customer and its order commit together.
func (r *Registry) Upsert(ctx context.Context, tx *gorm.DB, contact Contact) (uuid.UUID, error) {
	contact = contact.Normalize()
	if err := contact.Validate(); err != nil {
		return uuid.Nil, err
	}

	conn := r.Conn(ctx, tx)
	row := contact.toModel()
	err := conn.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "email"}},
		DoUpdates: clause.Assignments(map[string]any{
			"name":       contact.Name,
			"phone":      contact.Phone,
			"address":    contact.Address,
			"postcode":   contact.Postcode,
			"updated_at": time.Now().UTC(),
		}),
	}).Create(row).Error
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert customer")
	}

	// On conflict the generated id was discarded; the stored row is authoritative.
	var stored models.Customer
	if err := conn.Select("id").Where("email = ?", contact.Email).First(&stored).Error; err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("reload customer %s", contact.Email))
	}
	return stored.ID, nil
}

// FindByID loads a customer by id.
func (r *Registry) FindByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.DB(ctx).First(&customer, "id = ?", id).Error; err != nil {
		return nil, repo.LoadError(err, "customer")
	}
	return &customer, nil
}

// FindByEmail loads a customer by normalized email.
func (r *Registry) FindByEmail(ctx context.Context, email string) (*models.Customer, error) {
	email = Contact{Email: email}.Normalize().Email
	var customer models.Customer
	if err := r.DB(ctx).Where("email = ?", email).First(&customer).Error; err != nil {
		return nil, repo.LoadError(err, "customer")
	}
	return &customer, nil
}
