package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"oldruby-market/internal/domain"
	"oldruby-market/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SweepReport counts the documents a sweep brought back in line
type SweepReport struct {
	ProductsSold     int64 `json:"products_sold"`
	BookingsCascaded int64 `json:"bookings_cascaded"`
	ProductsFlagged  int64 `json:"products_flagged"`
	OrphansDeleted   int64 `json:"orphans_deleted"`
}

// Reconciler converges whatever a partially applied operation left behind.
// Each pass is a plain store filter plus an idempotent write, so a sweep may
// run concurrently with the coordinator and with other instances.
type Reconciler struct {
	users    repository.UserRepository
	products repository.ProductRepository
	bookings repository.BookingRepository
	interval time.Duration
	logger   *zap.Logger
}

// NewReconciler creates a reconciler sweeping every interval; zero disables Run
func NewReconciler(
	users repository.UserRepository,
	products repository.ProductRepository,
	bookings repository.BookingRepository,
	interval time.Duration,
	logger *zap.Logger,
) *Reconciler {
	return &Reconciler{
		users:    users,
		products: products,
		bookings: bookings,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps on every tick until ctx is cancelled
func (r *Reconciler) Run(ctx context.Context) error {
	if r.interval <= 0 {
		r.logger.Info("Reconciler disabled")
		return nil
	}

	r.logger.Info("Reconciler started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Reconciler stopped")
			return nil
		case <-ticker.C:
			report, err := r.Sweep(ctx)
			if err != nil {
				r.logger.Error("Reconciler sweep incomplete", zap.Error(err))
			}
			if report.ProductsSold+report.BookingsCascaded+report.ProductsFlagged+report.OrphansDeleted > 0 {
				r.logger.Info("Reconciler repaired documents",
					zap.Int64("products_sold", report.ProductsSold),
					zap.Int64("bookings_cascaded", report.BookingsCascaded),
					zap.Int64("products_flagged", report.ProductsFlagged),
					zap.Int64("orphans_deleted", report.OrphansDeleted),
				)
			}
		}
	}
}

// Sweep runs every pass once. A failing pass does not stop the others.
// Paid sales are finished first so their bookings are cascaded in the same sweep.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs []error

	n, err := r.finishPaidSales(ctx)
	report.ProductsSold = n
	if err != nil {
		errs = append(errs, fmt.Errorf("finish paid sales: %w", err))
	}

	n, err = r.cascadeSold(ctx)
	report.BookingsCascaded = n
	if err != nil {
		errs = append(errs, fmt.Errorf("cascade sold: %w", err))
	}

	n, err = r.projectVerification(ctx)
	report.ProductsFlagged = n
	if err != nil {
		errs = append(errs, fmt.Errorf("project verification: %w", err))
	}

	n, err = r.deleteOrphans(ctx)
	report.OrphansDeleted = n
	if err != nil {
		errs = append(errs, fmt.Errorf("delete orphans: %w", err))
	}

	return report, errors.Join(errs...)
}

// finishPaidSales sells to its buyer every available product that has a paid
// booking, which is what a payment stopped after record_payment leaves behind
func (r *Reconciler) finishPaidSales(ctx context.Context) (int64, error) {
	paid := true
	bookings, err := r.bookings.GetMany(ctx, repository.BookingFilter{Payment: &paid})
	if err != nil {
		return 0, err
	}

	available := domain.ProductAvailable
	sold := domain.ProductSold
	var total int64
	for _, b := range bookings {
		id := b.ProductID
		buyer := b.BuyerEmail
		res, err := r.products.UpdateMany(ctx,
			repository.ProductFilter{ID: &id, Status: &available},
			repository.ProductPatch{Status: &sold, BuyerEmail: &buyer},
		)
		if err != nil {
			return total, err
		}
		if res.Matched > 0 {
			r.logger.Debug("Finished paid sale",
				zap.String("product_id", id.String()),
				zap.String("booking_id", b.ID.String()),
			)
		}
		total += res.Matched
	}
	return total, nil
}

// cascadeSold marks sold every pending booking of a sold product
func (r *Reconciler) cascadeSold(ctx context.Context) (int64, error) {
	soldProduct := domain.ProductSold
	products, err := r.products.GetMany(ctx, repository.ProductFilter{Status: &soldProduct})
	if err != nil {
		return 0, err
	}

	pending := domain.BookingPending
	soldBooking := domain.BookingSold
	var total int64
	for _, p := range products {
		id := p.ID
		res, err := r.bookings.UpdateMany(ctx,
			repository.BookingFilter{ProductID: &id, Status: &pending},
			repository.BookingPatch{Status: &soldBooking},
		)
		if err != nil {
			return total, err
		}
		total += res.Matched
	}
	return total, nil
}

// projectVerification copies the verified flag onto products that miss it
func (r *Reconciler) projectVerification(ctx context.Context) (int64, error) {
	verified := true
	users, err := r.users.GetMany(ctx, repository.UserFilter{SellerVerification: &verified})
	if err != nil {
		return 0, err
	}

	unverified := false
	var total int64
	for _, u := range users {
		email := u.Email
		res, err := r.products.UpdateMany(ctx,
			repository.ProductFilter{SellerEmail: &email, SellerVerification: &unverified},
			repository.ProductPatch{SellerVerification: &verified},
		)
		if err != nil {
			return total, err
		}
		total += res.Matched
	}
	return total, nil
}

// deleteOrphans removes bookings whose product no longer exists
func (r *Reconciler) deleteOrphans(ctx context.Context) (int64, error) {
	bookings, err := r.bookings.GetMany(ctx, repository.BookingFilter{})
	if err != nil {
		return 0, err
	}

	checked := make(map[uuid.UUID]struct{})
	var total int64
	for _, b := range bookings {
		if _, ok := checked[b.ProductID]; ok {
			continue
		}
		checked[b.ProductID] = struct{}{}

		_, err := r.products.GetOne(ctx, repository.ProductByID(b.ProductID))
		if err == nil {
			continue
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return total, err
		}

		res, err := r.bookings.DeleteMany(ctx, repository.BookingsForProduct(b.ProductID))
		if err != nil {
			return total, err
		}
		r.logger.Debug("Deleted orphan bookings",
			zap.String("product_id", b.ProductID.String()),
			zap.Int64("deleted", res.Deleted),
		)
		total += res.Deleted
	}
	return total, nil
}
