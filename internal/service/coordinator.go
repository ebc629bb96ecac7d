package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/events"
	"oldruby-market/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxRepairAttempts bounds how many times a partially applied operation is
// re-driven through the repair queue before it is left to the reconciler.
const MaxRepairAttempts = 5

// Step names reported in Outcome
const (
	StepUpsertUser          = "upsert_user"
	StepFlagProducts        = "flag_products"
	StepCreateCategory      = "create_category"
	StepCreateProduct       = "create_product"
	StepMarkProductSold     = "mark_product_sold"
	StepCascadeBookingsSold = "cascade_bookings_sold"
	StepDeleteProduct       = "delete_product"
	StepDeleteBookings      = "delete_bookings"
	StepSetAdvertised       = "set_advertised"
	StepSetReported         = "set_reported"
	StepCreateBooking       = "create_booking"
	StepDeleteBooking       = "delete_booking"
	StepRecordPayment       = "record_payment"
)

// RepairQueue accepts requests to re-drive a partially applied operation
type RepairQueue interface {
	EnqueueRepair(ctx context.Context, req events.RepairRequest) error
}

// EventPublisher publishes sale notifications
type EventPublisher interface {
	PublishPaymentCompleted(ctx context.Context, event events.PaymentCompletedEvent) error
}

// Coordinator executes every write that spans more than one document as an
// ordered list of idempotent steps and reports the outcome of each step.
type Coordinator interface {
	UpsertUser(ctx context.Context, email string, profile domain.UserProfile) (*UserResult, error)
	EnsureAdmin(ctx context.Context, email string) error
	SetVerification(ctx context.Context, email string) (*Outcome, error)
	CreateCategory(ctx context.Context, input CategoryInput) (*domain.Category, error)
	CreateProduct(ctx context.Context, input ProductInput) (*ProductResult, error)
	MarkSold(ctx context.Context, productID string) (*Outcome, error)
	DeleteProduct(ctx context.Context, productID string) (*Outcome, error)
	SetAdvertised(ctx context.Context, productID string) (*Outcome, error)
	SetReported(ctx context.Context, productID string) (*Outcome, error)
	CreateBooking(ctx context.Context, input BookingInput) (*BookingResult, error)
	DeleteBooking(ctx context.Context, bookingID string) (*Outcome, error)
	CompletePayment(ctx context.Context, input PaymentInput) (*Outcome, error)
	Replay(ctx context.Context, req events.RepairRequest) error
}

// UserResult is returned by UpsertUser
type UserResult struct {
	User    *domain.User `json:"user"`
	Created bool         `json:"created"`
	Outcome *Outcome     `json:"outcome"`
}

// ProductResult is returned by CreateProduct
type ProductResult struct {
	Product *domain.Product `json:"product"`
	Outcome *Outcome        `json:"outcome"`
}

// BookingResult is returned by CreateBooking
type BookingResult struct {
	Booking *domain.Booking `json:"booking"`
	Outcome *Outcome        `json:"outcome"`
}

type coordinator struct {
	users      repository.UserRepository
	products   repository.ProductRepository
	bookings   repository.BookingRepository
	categories repository.CategoryRepository
	repairs    RepairQueue
	publisher  EventPublisher
	logger     *zap.Logger
}

// NewCoordinator creates a new instance of Coordinator
func NewCoordinator(
	users repository.UserRepository,
	products repository.ProductRepository,
	bookings repository.BookingRepository,
	categories repository.CategoryRepository,
	repairs RepairQueue,
	publisher EventPublisher,
	logger *zap.Logger,
) Coordinator {
	return &coordinator{
		users:      users,
		products:   products,
		bookings:   bookings,
		categories: categories,
		repairs:    repairs,
		publisher:  publisher,
		logger:     logger,
	}
}

// UpsertUser creates the user or merges the profile into the existing one.
// Callers may only choose the buyer or seller role.
func (c *coordinator) UpsertUser(ctx context.Context, email string, profile domain.UserProfile) (*UserResult, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if profile.Role != "" && profile.Role != domain.RoleBuyer && profile.Role != domain.RoleSeller {
		return nil, domain.NewValidationError("role", "must be buyer or seller")
	}

	var created bool
	outcome, err := runSteps(ctx, c.logger, "upsert_user", []step{
		{StepUpsertUser, func(ctx context.Context) (int64, error) {
			res, err := c.users.Upsert(ctx, repository.UserUpsert{
				Email:       email,
				Profile:     profile,
				DefaultRole: domain.RoleBuyer,
			})
			if err != nil {
				return 0, err
			}
			created = res.Created
			return 1, nil
		}},
	})
	if err != nil {
		return nil, err
	}

	user, err := c.users.GetOne(ctx, repository.UserByEmail(email))
	if err != nil {
		return nil, err
	}

	return &UserResult{User: user, Created: created, Outcome: outcome}, nil
}

// EnsureAdmin grants the admin role to email, creating the user when absent.
// It backs the ADMIN_EMAILS bootstrap and is not reachable over HTTP.
func (c *coordinator) EnsureAdmin(ctx context.Context, email string) error {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return err
	}

	_, err = c.users.Upsert(ctx, repository.UserUpsert{
		Email:   email,
		Profile: domain.UserProfile{Role: domain.RoleAdmin},
	})
	if err != nil {
		return fmt.Errorf("failed to bootstrap admin %s: %w", email, err)
	}
	return nil
}

// SetVerification marks the seller verified, then flags every product they list
func (c *coordinator) SetVerification(ctx context.Context, email string) (*Outcome, error) {
	return c.setVerification(ctx, email, 0)
}

func (c *coordinator) setVerification(ctx context.Context, email string, attempt int) (*Outcome, error) {
	email, err := domain.NormalizeEmail(email)
	if err != nil {
		return nil, err
	}
	verified := true

	outcome, err := runSteps(ctx, c.logger, events.OpSetVerification, []step{
		{StepUpsertUser, func(ctx context.Context) (int64, error) {
			_, err := c.users.Upsert(ctx, repository.UserUpsert{
				Email:              email,
				DefaultRole:        domain.RoleSeller,
				SellerVerification: &verified,
			})
			if err != nil {
				return 0, err
			}
			return 1, nil
		}},
		{StepFlagProducts, func(ctx context.Context) (int64, error) {
			res, err := c.products.UpdateMany(ctx,
				repository.ProductFilter{SellerEmail: &email},
				repository.ProductPatch{SellerVerification: &verified},
			)
			return res.Matched, err
		}},
	})

	return c.finish(outcome, err, events.RepairRequest{
		Operation: events.OpSetVerification,
		Email:     email,
		Attempt:   attempt,
	})
}

// CreateCategory adds a product category
func (c *coordinator) CreateCategory(ctx context.Context, input CategoryInput) (*domain.Category, error) {
	input.Name = strings.TrimSpace(input.Name)
	if err := validateInput(input); err != nil {
		return nil, err
	}

	category := &domain.Category{Name: input.Name, Description: input.Description}
	if _, err := runSteps(ctx, c.logger, "create_category", []step{
		{StepCreateCategory, func(ctx context.Context) (int64, error) {
			return 1, c.categories.Create(ctx, category)
		}},
	}); err != nil {
		return nil, err
	}

	return category, nil
}

// CreateProduct lists a new available product for a seller. The seller's
// current verification flag is copied onto the listing.
func (c *coordinator) CreateProduct(ctx context.Context, input ProductInput) (*ProductResult, error) {
	input.SellerEmail = strings.ToLower(strings.TrimSpace(input.SellerEmail))
	if err := validateInput(input); err != nil {
		return nil, err
	}
	categoryID, err := domain.ParseID("category_id", input.CategoryID)
	if err != nil {
		return nil, err
	}

	seller, err := c.users.GetOne(ctx, repository.UserByEmail(input.SellerEmail))
	if err != nil {
		return nil, err
	}
	if seller.Role != domain.RoleSeller && seller.Role != domain.RoleAdmin {
		return nil, domain.NewValidationError("seller_email", "does not belong to a seller")
	}
	if _, err := c.categories.FindByID(ctx, categoryID); err != nil {
		return nil, err
	}

	product := &domain.Product{
		SellerEmail:        seller.Email,
		SellerName:         seller.Name,
		SellerVerification: seller.SellerVerification,
		CategoryID:         categoryID,
		Name:               input.Name,
		Description:        input.Description,
		ImageURL:           input.ImageURL,
		Location:           input.Location,
		Condition:          input.Condition,
		Phone:              input.Phone,
		OriginalPrice:      input.OriginalPrice,
		ResalePrice:        input.ResalePrice,
		YearsOfUse:         input.YearsOfUse,
		Status:             domain.ProductAvailable,
	}

	outcome, err := runSteps(ctx, c.logger, "create_product", []step{
		{StepCreateProduct, func(ctx context.Context) (int64, error) {
			return 1, c.products.Create(ctx, product)
		}},
	})
	if err != nil {
		return nil, err
	}

	return &ProductResult{Product: product, Outcome: outcome}, nil
}

// MarkSold finalizes a sale outside the payment path: the product is marked
// sold, then every booking for it. A product nobody booked cannot be sold.
func (c *coordinator) MarkSold(ctx context.Context, productID string) (*Outcome, error) {
	id, err := domain.ParseID("product_id", productID)
	if err != nil {
		return nil, err
	}
	return c.markSold(ctx, id, 0)
}

func (c *coordinator) markSold(ctx context.Context, productID uuid.UUID, attempt int) (*Outcome, error) {
	if err := c.requireBookings(ctx, productID); err != nil {
		return nil, err
	}

	outcome, err := runSteps(ctx, c.logger, events.OpMarkSold, []step{
		{StepMarkProductSold, c.markProductSold(productID, nil)},
		{StepCascadeBookingsSold, c.cascadeBookingsSold(productID)},
	})

	return c.finish(outcome, err, events.RepairRequest{
		Operation: events.OpMarkSold,
		ProductID: productID.String(),
		Attempt:   attempt,
	})
}

// DeleteProduct removes the product, then every booking that references it.
// A retry after the product is gone still sweeps its bookings; NotFound is
// reported only when neither existed.
func (c *coordinator) DeleteProduct(ctx context.Context, productID string) (*Outcome, error) {
	id, err := domain.ParseID("product_id", productID)
	if err != nil {
		return nil, err
	}
	return c.deleteProduct(ctx, id, 0)
}

func (c *coordinator) deleteProduct(ctx context.Context, productID uuid.UUID, attempt int) (*Outcome, error) {
	outcome, err := runSteps(ctx, c.logger, events.OpDeleteProduct, []step{
		{StepDeleteProduct, func(ctx context.Context) (int64, error) {
			res, err := c.products.DeleteOne(ctx, repository.ProductByID(productID))
			return res.Deleted, err
		}},
		{StepDeleteBookings, func(ctx context.Context) (int64, error) {
			res, err := c.bookings.DeleteMany(ctx, repository.BookingsForProduct(productID))
			return res.Deleted, err
		}},
	})

	outcome, err = c.finish(outcome, err, events.RepairRequest{
		Operation: events.OpDeleteProduct,
		ProductID: productID.String(),
		Attempt:   attempt,
	})
	if err != nil {
		return outcome, err
	}

	if outcome.Affected(StepDeleteProduct) == 0 && outcome.Affected(StepDeleteBookings) == 0 {
		return outcome, repository.ErrProductNotFound
	}
	return outcome, nil
}

// SetAdvertised promotes a product to the advertised feed
func (c *coordinator) SetAdvertised(ctx context.Context, productID string) (*Outcome, error) {
	id, err := domain.ParseID("product_id", productID)
	if err != nil {
		return nil, err
	}
	advertised := true
	return runSteps(ctx, c.logger, "set_advertised", []step{
		{StepSetAdvertised, c.patchProduct(id, repository.ProductPatch{Advertised: &advertised})},
	})
}

// SetReported flags a product for moderation
func (c *coordinator) SetReported(ctx context.Context, productID string) (*Outcome, error) {
	id, err := domain.ParseID("product_id", productID)
	if err != nil {
		return nil, err
	}
	reported := true
	return runSteps(ctx, c.logger, "set_reported", []step{
		{StepSetReported, c.patchProduct(id, repository.ProductPatch{Reported: &reported})},
	})
}

// CreateBooking records a buyer's offer on an available product
func (c *coordinator) CreateBooking(ctx context.Context, input BookingInput) (*BookingResult, error) {
	input.BuyerEmail = strings.ToLower(strings.TrimSpace(input.BuyerEmail))
	if err := validateInput(input); err != nil {
		return nil, err
	}
	productID, err := domain.ParseID("product_id", input.ProductID)
	if err != nil {
		return nil, err
	}

	product, err := c.products.GetOne(ctx, repository.ProductByID(productID))
	if err != nil {
		return nil, err
	}
	if !product.Available() {
		return nil, fmt.Errorf("product %s is %s: %w", product.ID, product.Status, domain.ErrConflict)
	}
	if product.SellerEmail == input.BuyerEmail {
		return nil, domain.NewValidationError("buyer_email", "cannot book own product")
	}

	booking := &domain.Booking{
		ProductID:       product.ID,
		ProductName:     product.Name,
		BuyerEmail:      input.BuyerEmail,
		BuyerName:       input.BuyerName,
		Phone:           input.Phone,
		MeetingLocation: input.MeetingLocation,
		ItemPrice:       product.ResalePrice,
		Status:          domain.BookingPending,
	}

	outcome, err := runSteps(ctx, c.logger, "create_booking", []step{
		{StepCreateBooking, func(ctx context.Context) (int64, error) {
			return 1, c.bookings.Create(ctx, booking)
		}},
	})
	if err != nil {
		return nil, err
	}

	return &BookingResult{Booking: booking, Outcome: outcome}, nil
}

// DeleteBooking withdraws a single offer
func (c *coordinator) DeleteBooking(ctx context.Context, bookingID string) (*Outcome, error) {
	id, err := domain.ParseID("booking_id", bookingID)
	if err != nil {
		return nil, err
	}
	return runSteps(ctx, c.logger, "delete_booking", []step{
		{StepDeleteBooking, func(ctx context.Context) (int64, error) {
			res, err := c.bookings.DeleteOne(ctx, repository.BookingByID(id))
			if err != nil {
				return 0, err
			}
			if res.Deleted == 0 {
				return 0, repository.ErrBookingNotFound
			}
			return res.Deleted, nil
		}},
	})
}

// CompletePayment records the payment on the booking, marks the product sold
// to that booking's buyer and retracts every competing booking.
func (c *coordinator) CompletePayment(ctx context.Context, input PaymentInput) (*Outcome, error) {
	input.TransactionID = strings.TrimSpace(input.TransactionID)
	if err := validateInput(input); err != nil {
		return nil, err
	}
	bookingID, err := domain.ParseID("booking_id", input.BookingID)
	if err != nil {
		return nil, err
	}
	productID, err := domain.ParseID("product_id", input.ProductID)
	if err != nil {
		return nil, err
	}
	return c.completePayment(ctx, bookingID, productID, input.TransactionID, 0)
}

func (c *coordinator) completePayment(ctx context.Context, bookingID, productID uuid.UUID, transactionID string, attempt int) (*Outcome, error) {
	if transactionID == "" {
		return nil, domain.NewValidationError("transaction_id", "is required")
	}

	booking, err := c.bookings.GetOne(ctx, repository.BookingByID(bookingID))
	if err != nil {
		return nil, err
	}
	product, err := c.products.GetOne(ctx, repository.ProductByID(productID))
	if err != nil {
		return nil, err
	}
	if booking.ProductID != product.ID {
		return nil, domain.NewValidationError("product_id", "does not match the booking")
	}
	if product.BuyerEmail != nil && *product.BuyerEmail != booking.BuyerEmail {
		return nil, fmt.Errorf("product %s already sold to another buyer: %w", product.ID, domain.ErrConflict)
	}
	if booking.Payment && booking.TransactionID != nil && *booking.TransactionID != transactionID {
		return nil, fmt.Errorf("booking %s already paid with another transaction: %w", booking.ID, domain.ErrConflict)
	}

	paid := true
	buyer := booking.BuyerEmail
	outcome, err := runSteps(ctx, c.logger, events.OpCompletePayment, []step{
		{StepRecordPayment, func(ctx context.Context) (int64, error) {
			res, err := c.bookings.UpdateOneStrict(ctx, repository.BookingByID(bookingID),
				repository.BookingPatch{Payment: &paid, TransactionID: &transactionID},
			)
			if err != nil {
				return 0, err
			}
			if res.Matched == 0 {
				return 0, repository.ErrBookingNotFound
			}
			return res.Matched, nil
		}},
		{StepMarkProductSold, c.markProductSold(productID, &buyer)},
		{StepCascadeBookingsSold, c.cascadeBookingsSold(productID)},
	})

	outcome, err = c.finish(outcome, err, events.RepairRequest{
		Operation:     events.OpCompletePayment,
		BookingID:     bookingID.String(),
		ProductID:     productID.String(),
		TransactionID: transactionID,
		Attempt:       attempt,
	})
	if err != nil {
		return outcome, err
	}

	event := events.PaymentCompletedEvent{
		BookingID:     bookingID.String(),
		ProductID:     productID.String(),
		BuyerEmail:    buyer,
		SellerEmail:   product.SellerEmail,
		TransactionID: transactionID,
		Amount:        booking.ItemPrice,
		CompletedAt:   time.Now().UTC(),
	}
	if err := c.publisher.PublishPaymentCompleted(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("Failed to publish payment event",
			zap.String("booking_id", event.BookingID),
			zap.Error(err),
		)
	}

	return outcome, nil
}

// Replay re-invokes the operation described by req with the same arguments.
// Requests whose target no longer exists or is no longer valid are dropped.
func (c *coordinator) Replay(ctx context.Context, req events.RepairRequest) error {
	var err error
	switch req.Operation {
	case events.OpSetVerification:
		_, err = c.setVerification(ctx, req.Email, req.Attempt)
	case events.OpMarkSold:
		err = c.replayProduct(ctx, req, c.markSold)
	case events.OpDeleteProduct:
		err = c.replayProduct(ctx, req, c.deleteProduct)
	case events.OpCompletePayment:
		var bookingID, productID uuid.UUID
		if bookingID, err = domain.ParseID("booking_id", req.BookingID); err != nil {
			break
		}
		if productID, err = domain.ParseID("product_id", req.ProductID); err != nil {
			break
		}
		_, err = c.completePayment(ctx, bookingID, productID, req.TransactionID, req.Attempt)
	default:
		err = domain.NewValidationError("operation", fmt.Sprintf("%q is not replayable", req.Operation))
	}

	if err == nil {
		c.logger.Info("Repair completed",
			zap.String("operation", req.Operation),
			zap.Int("attempt", req.Attempt),
		)
		return nil
	}
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
		c.logger.Info("Repair no longer applicable",
			zap.String("operation", req.Operation),
			zap.Error(err),
		)
		return nil
	}

	// a partial failure was already re-enqueued by finish; a store outage
	// before the first write was not
	var partial *PartialFailureError
	if !errors.As(err, &partial) && errors.Is(err, domain.ErrStoreUnavailable) {
		c.enqueueRepair(req)
	}
	return err
}

func (c *coordinator) replayProduct(ctx context.Context, req events.RepairRequest, op func(context.Context, uuid.UUID, int) (*Outcome, error)) error {
	id, err := domain.ParseID("product_id", req.ProductID)
	if err != nil {
		return err
	}
	_, err = op(ctx, id, req.Attempt)
	return err
}

// finish hands a partially applied operation to the repair queue
func (c *coordinator) finish(outcome *Outcome, err error, req events.RepairRequest) (*Outcome, error) {
	var partial *PartialFailureError
	if errors.As(err, &partial) {
		c.enqueueRepair(req)
	}
	return outcome, err
}

// enqueueRepair schedules the next attempt of req unless it is out of attempts.
// The enqueue outlives the caller's context, which may be what cut the run short.
func (c *coordinator) enqueueRepair(req events.RepairRequest) {
	if req.Attempt >= MaxRepairAttempts {
		c.logger.Error("Giving up on repair, leaving it to the reconciler",
			zap.String("operation", req.Operation),
			zap.Int("attempt", req.Attempt),
		)
		return
	}

	req.Attempt++
	req.RequestedAt = time.Now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.repairs.EnqueueRepair(ctx, req); err != nil {
		c.logger.Error("Failed to enqueue repair",
			zap.String("operation", req.Operation),
			zap.Error(err),
		)
	}
}

// requireBookings refuses to sell a product no booking can carry the sale for.
// A missing product is reported as NotFound.
func (c *coordinator) requireBookings(ctx context.Context, productID uuid.UUID) error {
	bookings, err := c.bookings.GetMany(ctx, repository.BookingsForProduct(productID))
	if err != nil {
		return err
	}
	if len(bookings) > 0 {
		return nil
	}
	if _, err := c.products.GetOne(ctx, repository.ProductByID(productID)); err != nil {
		return err
	}
	return fmt.Errorf("product %s has no booking to sell to: %w", productID, domain.ErrConflict)
}

// markProductSold is the strict product write shared by MarkSold and
// CompletePayment. A nil buyer leaves buyer_email untouched.
func (c *coordinator) markProductSold(productID uuid.UUID, buyer *string) func(context.Context) (int64, error) {
	sold := domain.ProductSold
	return c.patchProduct(productID, repository.ProductPatch{Status: &sold, BuyerEmail: buyer})
}

func (c *coordinator) cascadeBookingsSold(productID uuid.UUID) func(context.Context) (int64, error) {
	sold := domain.BookingSold
	return func(ctx context.Context) (int64, error) {
		res, err := c.bookings.UpdateMany(ctx, repository.BookingsForProduct(productID),
			repository.BookingPatch{Status: &sold},
		)
		return res.Matched, err
	}
}

func (c *coordinator) patchProduct(productID uuid.UUID, patch repository.ProductPatch) func(context.Context) (int64, error) {
	return func(ctx context.Context) (int64, error) {
		res, err := c.products.UpdateOneStrict(ctx, repository.ProductByID(productID), patch)
		if err != nil {
			return 0, err
		}
		if res.Matched == 0 {
			return 0, repository.ErrProductNotFound
		}
		return res.Matched, nil
	}
}
