package service

import (
	"context"
	"errors"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/repository"

	"github.com/google/uuid"
)

// QueryService serves read-only views over the collections. Every list
// returns an empty slice when nothing matches.
type QueryService interface {
	ProductsByCategory(ctx context.Context, categoryID string) ([]*domain.Product, error)
	ProductsBySeller(ctx context.Context, email string) ([]*domain.Product, error)
	UsersByRole(ctx context.Context, role domain.Role) ([]*domain.User, error)
	ReportedProducts(ctx context.Context) ([]*domain.Product, error)
	AdvertisedProducts(ctx context.Context) ([]*domain.Product, error)
	BookingsByBuyer(ctx context.Context, email string) ([]*domain.Booking, error)
	Booking(ctx context.Context, bookingID string) (*domain.Booking, error)
	Product(ctx context.Context, productID string) (*domain.Product, error)
	User(ctx context.Context, email string) (*domain.User, error)
	SellerVerification(ctx context.Context, email string) (bool, error)
	Categories(ctx context.Context) ([]*domain.Category, error)
}

type queryService struct {
	users      repository.UserRepository
	products   repository.ProductRepository
	bookings   repository.BookingRepository
	categories repository.CategoryRepository
}

// NewQueryService creates a new instance of QueryService
func NewQueryService(
	users repository.UserRepository,
	products repository.ProductRepository,
	bookings repository.BookingRepository,
	categories repository.CategoryRepository,
) QueryService {
	return &queryService{
		users:      users,
		products:   products,
		bookings:   bookings,
		categories: categories,
	}
}

// ProductsByCategory lists the available products of a category
func (q *queryService) ProductsByCategory(ctx context.Context, categoryID string) ([]*domain.Product, error) {
	id, err := domain.ParseID("category_id", categoryID)
	if err != nil {
		return nil, err
	}
	available := domain.ProductAvailable
	return q.products.GetMany(ctx, repository.ProductFilter{CategoryID: &id, Status: &available})
}

// ProductsBySeller lists every product of a seller, sold ones included
func (q *queryService) ProductsBySeller(ctx context.Context, email string) ([]*domain.Product, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return q.products.GetMany(ctx, repository.ProductFilter{SellerEmail: &email})
}

func (q *queryService) UsersByRole(ctx context.Context, role domain.Role) ([]*domain.User, error) {
	if !role.Valid() {
		return nil, domain.NewValidationError("role", "must be buyer, seller or admin")
	}
	return q.users.GetMany(ctx, repository.UserFilter{Role: &role})
}

func (q *queryService) ReportedProducts(ctx context.Context) ([]*domain.Product, error) {
	reported := true
	return q.products.GetMany(ctx, repository.ProductFilter{Reported: &reported})
}

// AdvertisedProducts lists advertised products that are still available
func (q *queryService) AdvertisedProducts(ctx context.Context) ([]*domain.Product, error) {
	advertised := true
	available := domain.ProductAvailable
	return q.products.GetMany(ctx, repository.ProductFilter{Advertised: &advertised, Status: &available})
}

// BookingsByBuyer lists a buyer's bookings. Bookings whose product is gone
// are orphans awaiting the reconciler and are left out.
func (q *queryService) BookingsByBuyer(ctx context.Context, email string) ([]*domain.Booking, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}

	bookings, err := q.bookings.GetMany(ctx, repository.BookingFilter{BuyerEmail: &email})
	if err != nil {
		return nil, err
	}

	exists := make(map[uuid.UUID]bool)
	live := make([]*domain.Booking, 0, len(bookings))
	for _, b := range bookings {
		ok, seen := exists[b.ProductID]
		if !seen {
			ok, err = q.productExists(ctx, b.ProductID)
			if err != nil {
				return nil, err
			}
			exists[b.ProductID] = ok
		}
		if ok {
			live = append(live, b)
		}
	}

	return live, nil
}

// Booking returns a single booking. An orphaned booking reads as not found.
func (q *queryService) Booking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	id, err := domain.ParseID("booking_id", bookingID)
	if err != nil {
		return nil, err
	}

	booking, err := q.bookings.GetOne(ctx, repository.BookingByID(id))
	if err != nil {
		return nil, err
	}

	ok, err := q.productExists(ctx, booking.ProductID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, repository.ErrBookingNotFound
	}

	return booking, nil
}

func (q *queryService) Product(ctx context.Context, productID string) (*domain.Product, error) {
	id, err := domain.ParseID("product_id", productID)
	if err != nil {
		return nil, err
	}
	return q.products.GetOne(ctx, repository.ProductByID(id))
}

func (q *queryService) User(ctx context.Context, email string) (*domain.User, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	return q.users.GetOne(ctx, repository.UserByEmail(email))
}

// SellerVerification reports the authoritative flag; unknown users are unverified
func (q *queryService) SellerVerification(ctx context.Context, email string) (bool, error) {
	user, err := q.User(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return user.SellerVerification, nil
}

func (q *queryService) Categories(ctx context.Context) ([]*domain.Category, error) {
	return q.categories.List(ctx)
}

func (q *queryService) productExists(ctx context.Context, id uuid.UUID) (bool, error) {
	_, err := q.products.GetOne(ctx, repository.ProductByID(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}
