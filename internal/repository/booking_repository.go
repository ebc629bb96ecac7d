package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"oldruby-market/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrBookingNotFound = fmt.Errorf("booking %w", domain.ErrNotFound)
)

// BookingFilter selects bookings by equality on every non-nil field
type BookingFilter struct {
	ID         *uuid.UUID
	ProductID  *uuid.UUID
	BuyerEmail *string
	Status     *domain.BookingStatus
	Payment    *bool
}

// BookingByID addresses a single booking by key
func BookingByID(id uuid.UUID) BookingFilter {
	return BookingFilter{ID: &id}
}

// BookingsForProduct selects every booking referencing a product
func BookingsForProduct(productID uuid.UUID) BookingFilter {
	return BookingFilter{ProductID: &productID}
}

func (f BookingFilter) predicates() []predicate {
	var preds []predicate
	if f.ID != nil {
		preds = append(preds, predicate{"id", *f.ID})
	}
	if f.ProductID != nil {
		preds = append(preds, predicate{"product_id", *f.ProductID})
	}
	if f.BuyerEmail != nil {
		preds = append(preds, predicate{"buyer_email", *f.BuyerEmail})
	}
	if f.Status != nil {
		preds = append(preds, predicate{"status", string(*f.Status)})
	}
	if f.Payment != nil {
		preds = append(preds, predicate{"payment", *f.Payment})
	}
	return preds
}

// BookingPatch sets every non-nil field
type BookingPatch struct {
	Status        *domain.BookingStatus
	Payment       *bool
	TransactionID *string
}

func (p BookingPatch) assignments() []assignment {
	var assigns []assignment
	if p.Status != nil {
		assigns = append(assigns, assignment{"status", string(*p.Status)})
	}
	if p.Payment != nil {
		assigns = append(assigns, assignment{"payment", *p.Payment})
	}
	if p.TransactionID != nil {
		assigns = append(assigns, assignment{"transaction_id", *p.TransactionID})
	}
	return assigns
}

// BookingRepository defines the interface for booking data access
type BookingRepository interface {
	Collection[domain.Booking, BookingFilter, BookingPatch]
	Create(ctx context.Context, booking *domain.Booking) error
}

type bookingRepository struct {
	db *sql.DB
}

// NewBookingRepository creates a new instance of BookingRepository
func NewBookingRepository(db *sql.DB) BookingRepository {
	return &bookingRepository{db: db}
}

const bookingColumns = `id, product_id, product_name, buyer_email, buyer_name, phone, meeting_location,
	item_price, status, payment, transaction_id, created_at, updated_at`

func scanBooking(row rowScanner) (*domain.Booking, error) {
	booking := &domain.Booking{}
	err := row.Scan(
		&booking.ID,
		&booking.ProductID,
		&booking.ProductName,
		&booking.BuyerEmail,
		&booking.BuyerName,
		&booking.Phone,
		&booking.MeetingLocation,
		&booking.ItemPrice,
		&booking.Status,
		&booking.Payment,
		&booking.TransactionID,
		&booking.CreatedAt,
		&booking.UpdatedAt,
	)
	return booking, err
}

// Create inserts a new booking. The store assigns the id when none is set.
func (r *bookingRepository) Create(ctx context.Context, booking *domain.Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	now := time.Now().UTC()
	if booking.CreatedAt.IsZero() {
		booking.CreatedAt = now
	}
	booking.UpdatedAt = now

	query := `
		INSERT INTO bookings (` + bookingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		booking.ID,
		booking.ProductID,
		booking.ProductName,
		booking.BuyerEmail,
		booking.BuyerName,
		booking.Phone,
		booking.MeetingLocation,
		booking.ItemPrice,
		string(booking.Status),
		booking.Payment,
		booking.TransactionID,
		booking.CreatedAt,
		booking.UpdatedAt,
	)
	if err != nil {
		return storeError("create booking", err)
	}

	return nil
}

// GetOne retrieves the first booking matching the filter
func (r *bookingRepository) GetOne(ctx context.Context, filter BookingFilter) (*domain.Booking, error) {
	whereClause, args := buildWhere(filter.predicates(), 0)
	query := fmt.Sprintf("SELECT %s FROM bookings %s LIMIT 1", bookingColumns, whereClause)

	booking, err := scanBooking(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBookingNotFound
		}
		return nil, storeError("find booking", err)
	}

	return booking, nil
}

// GetMany retrieves every booking matching the filter, newest first
func (r *bookingRepository) GetMany(ctx context.Context, filter BookingFilter) ([]*domain.Booking, error) {
	whereClause, args := buildWhere(filter.predicates(), 0)
	query := fmt.Sprintf("SELECT %s FROM bookings %s ORDER BY created_at DESC", bookingColumns, whereClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list bookings", err)
	}
	defer rows.Close()

	bookings := []*domain.Booking{}
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, storeError("scan booking", err)
		}
		bookings = append(bookings, booking)
	}

	if err = rows.Err(); err != nil {
		return nil, storeError("iterate bookings", err)
	}

	return bookings, nil
}

// UpdateOneStrict patches the booking addressed by id without ever creating one
func (r *bookingRepository) UpdateOneStrict(ctx context.Context, filter BookingFilter, patch BookingPatch) (UpdateResult, error) {
	if filter.ID == nil {
		return UpdateResult{}, ErrKeyRequired
	}
	return updateRows(ctx, r.db, "update booking", "bookings", patch.assignments(), filter.predicates())
}

// UpdateMany patches every booking matching a non-empty filter
func (r *bookingRepository) UpdateMany(ctx context.Context, filter BookingFilter, patch BookingPatch) (UpdateResult, error) {
	return updateRows(ctx, r.db, "update bookings", "bookings", patch.assignments(), filter.predicates())
}

// DeleteOne removes the booking addressed by id
func (r *bookingRepository) DeleteOne(ctx context.Context, filter BookingFilter) (DeleteResult, error) {
	if filter.ID == nil {
		return DeleteResult{}, ErrKeyRequired
	}
	return deleteRows(ctx, r.db, "delete booking", "bookings", filter.predicates())
}

// DeleteMany removes every booking matching a non-empty filter
func (r *bookingRepository) DeleteMany(ctx context.Context, filter BookingFilter) (DeleteResult, error) {
	return deleteRows(ctx, r.db, "delete bookings", "bookings", filter.predicates())
}

