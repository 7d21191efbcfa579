package customers

import (
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/bnd-apparel/storefront-backend/pkg/db/models"
	pkgerrors "github.com/bnd-apparel/storefront-backend/pkg/errors"
)

// Contact is the customer data submitted with a checkout.
type Contact struct {
	Name     string
	Email    string
	Phone    string
	Address  *string
	Postcode *string
}

// Normalize trims every field and lower-cases the email so it can serve as
// the natural key.
func (c Contact) Normalize() Contact {
	out := Contact{
		Name:     strings.TrimSpace(c.Name),
		Email:    strings.ToLower(strings.TrimSpace(c.Email)),
		Phone:    strings.TrimSpace(c.Phone),
		Address:  trimOptional(c.Address),
		Postcode: trimOptional(c.Postcode),
	}
	return out
}

// Validate reports missing or malformed contact fields.
func (c Contact) Validate() error {
	details := map[string]string{}
	if c.Name == "" {
		details["name"] = "is required"
	}
	if c.Email == "" {
		details["email"] = "is required"
	} else if _, err := mail.ParseAddress(c.Email); err != nil {
		details["email"] = "must be a valid email"
	}
	if c.Phone == "" {
		details["phone"] = "is required"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer contact is incomplete").WithDetails(details)
	}
	return nil
}

func (c Contact) toModel() *models.Customer {
	return &models.Customer{
		Name:     c.Name,
		Email:    c.Email,
		Phone:    c.Phone,
		Address:  c.Address,
		Postcode: c.Postcode,
	}
}

// CustomerDTO is the public view of a customer record.
type CustomerDTO struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	Address  *string   `json:"address,omitempty"`
	Postcode *string   `json:"postcode,omitempty"`
}

func FromModel(c *models.Customer) *CustomerDTO {
	if c == nil {
		return nil
	}
	return &CustomerDTO{
		ID:       c.ID,
		Name:     c.Name,
		Email:    c.Email,
		Phone:    c.Phone,
		Address:  c.Address,
		Postcode: c.Postcode,
	}
}

func trimOptional(v *string) *string {
	if v == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*v)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
