package domain

import (
	"time"

	"github.com/google/uuid"
)

// ProductStatus is the sale state of a listing
type ProductStatus string

const (
	ProductAvailable ProductStatus = "available"
	ProductSold      ProductStatus = "sold"
)

// Valid reports whether s is a known product status.
func (s ProductStatus) Valid() bool {
	return s == ProductAvailable || s == ProductSold
}

// Product represents a second-hand listing.
//
// SellerVerification is a denormalized copy of the seller's flag used by
// listing filters; the user record is authoritative. Status sold implies at
// least one booking for the product carries status sold.
type Product struct {
	ID                 uuid.UUID     `json:"id" db:"id"`
	SellerEmail        string        `json:"seller_email" db:"seller_email"`
	SellerName         string        `json:"seller_name" db:"seller_name"`
	SellerVerification bool          `json:"seller_verification" db:"seller_verification"`
	CategoryID         uuid.UUID     `json:"category_id" db:"category_id"`
	Name               string        `json:"name" db:"name"`
	Description        string        `json:"description" db:"description"`
	ImageURL           string        `json:"image_url" db:"image_url"`
	Location           string        `json:"location" db:"location"`
	Condition          string        `json:"condition" db:"condition"`
	Phone              string        `json:"phone" db:"phone"`
	OriginalPrice      float64       `json:"original_price" db:"original_price"`
	ResalePrice        float64       `json:"resale_price" db:"resale_price"`
	YearsOfUse         int           `json:"years_of_use" db:"years_of_use"`
	Status             ProductStatus `json:"status" db:"status"`
	Advertised         bool          `json:"advertised" db:"advertised"`
	Reported           bool          `json:"reported" db:"reported"`
	BuyerEmail         *string       `json:"buyer_email,omitempty" db:"buyer_email"`
	CreatedAt          time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at" db:"updated_at"`
}

// Available reports whether the product can still be booked.
func (p *Product) Available() bool {
	return p.Status == ProductAvailable
}

// Category represents a product category
type Category struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ParseID parses a document identifier, reporting a ValidationError for the named field.
func ParseID(field, raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, NewValidationError(field, "is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, NewValidationError(field, "is not a valid identifier")
	}
	return id, nil
}
