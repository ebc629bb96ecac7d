package domain

import (
	"time"

	"github.com/google/uuid"
)

// BookingStatus is the state of an offer on a product
type BookingStatus string

const (
	BookingPending BookingStatus = "pending"
	BookingSold    BookingStatus = "sold"
)

// Valid reports whether s is a known booking status.
func (s BookingStatus) Valid() bool {
	return s == BookingPending || s == BookingSold
}

// Booking is a buyer's offer on a product. Several bookings may reference the
// same product until the sale is finalized. ProductID is not a foreign key;
// it stays valid only because product deletion cascades to bookings.
type Booking struct {
	ID              uuid.UUID     `json:"id" db:"id"`
	ProductID       uuid.UUID     `json:"product_id" db:"product_id"`
	ProductName     string        `json:"product_name" db:"product_name"`
	BuyerEmail      string        `json:"buyer_email" db:"buyer_email"`
	BuyerName       string        `json:"buyer_name" db:"buyer_name"`
	Phone           string        `json:"phone" db:"phone"`
	MeetingLocation string        `json:"meeting_location" db:"meeting_location"`
	ItemPrice       float64       `json:"item_price" db:"item_price"`
	Status          BookingStatus `json:"status" db:"status"`
	Payment         bool          `json:"payment" db:"payment"`
	TransactionID   *string       `json:"transaction_id,omitempty" db:"transaction_id"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at" db:"updated_at"`
}
