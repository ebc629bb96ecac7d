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
	ErrProductNotFound = fmt.Errorf("product %w", domain.ErrNotFound)
)

// ProductFilter selects products by equality on every non-nil field
type ProductFilter struct {
	ID                 *uuid.UUID
	SellerEmail        *string
	CategoryID         *uuid.UUID
	Status             *domain.ProductStatus
	Advertised         *bool
	Reported           *bool
	SellerVerification *bool
}

// ProductByID addresses a single product by key
func ProductByID(id uuid.UUID) ProductFilter {
	return ProductFilter{ID: &id}
}

func (f ProductFilter) predicates() []predicate {
	var preds []predicate
	if f.ID != nil {
		preds = append(preds, predicate{"id", *f.ID})
	}
	if f.SellerEmail != nil {
		preds = append(preds, predicate{"seller_email", *f.SellerEmail})
	}
	if f.CategoryID != nil {
		preds = append(preds, predicate{"category_id", *f.CategoryID})
	}
	if f.Status != nil {
		preds = append(preds, predicate{"status", string(*f.Status)})
	}
	if f.Advertised != nil {
		preds = append(preds, predicate{"advertised", *f.Advertised})
	}
	if f.Reported != nil {
		preds = append(preds, predicate{"reported", *f.Reported})
	}
	if f.SellerVerification != nil {
		preds = append(preds, predicate{"seller_verification", *f.SellerVerification})
	}
	return preds
}

// ProductPatch sets every non-nil field. Only coordinator-owned fields are patchable.
type ProductPatch struct {
	Status             *domain.ProductStatus
	Advertised         *bool
	Reported           *bool
	SellerVerification *bool
	BuyerEmail         *string
}

func (p ProductPatch) assignments() []assignment {
	var assigns []assignment
	if p.Status != nil {
		assigns = append(assigns, assignment{"status", string(*p.Status)})
	}
	if p.Advertised != nil {
		assigns = append(assigns, assignment{"advertised", *p.Advertised})
	}
	if p.Reported != nil {
		assigns = append(assigns, assignment{"reported", *p.Reported})
	}
	if p.SellerVerification != nil {
		assigns = append(assigns, assignment{"seller_verification", *p.SellerVerification})
	}
	if p.BuyerEmail != nil {
		assigns = append(assigns, assignment{"buyer_email", *p.BuyerEmail})
	}
	return assigns
}

// ProductRepository defines the interface for product data access
type ProductRepository interface {
	Collection[domain.Product, ProductFilter, ProductPatch]
	Create(ctx context.Context, product *domain.Product) error
}

type productRepository struct {
	db *sql.DB
}

// NewProductRepository creates a new instance of ProductRepository
func NewProductRepository(db *sql.DB) ProductRepository {
	return &productRepository{db: db}
}

const productColumns = `id, seller_email, seller_name, seller_verification, category_id, name, description,
	image_url, location, condition, phone, original_price, resale_price, years_of_use,
	status, advertised, reported, buyer_email, created_at, updated_at`

func scanProduct(row rowScanner) (*domain.Product, error) {
	product := &domain.Product{}
	err := row.Scan(
		&product.ID,
		&product.SellerEmail,
		&product.SellerName,
		&product.SellerVerification,
		&product.CategoryID,
		&product.Name,
		&product.Description,
		&product.ImageURL,
		&product.Location,
		&product.Condition,
		&product.Phone,
		&product.OriginalPrice,
		&product.ResalePrice,
		&product.YearsOfUse,
		&product.Status,
		&product.Advertised,
		&product.Reported,
		&product.BuyerEmail,
		&product.CreatedAt,
		&product.UpdatedAt,
	)
	return product, err
}

// Create inserts a new product. The store assigns the id when none is set.
func (r *productRepository) Create(ctx context.Context, product *domain.Product) error {
	if product.ID == uuid.Nil {
		product.ID = uuid.New()
	}
	now := time.Now().UTC()
	if product.CreatedAt.IsZero() {
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	query := `
		INSERT INTO products (` + productColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		product.ID,
		product.SellerEmail,
		product.SellerName,
		product.SellerVerification,
		product.CategoryID,
		product.Name,
		product.Description,
		product.ImageURL,
		product.Location,
		product.Condition,
		product.Phone,
		product.OriginalPrice,
		product.ResalePrice,
		product.YearsOfUse,
		string(product.Status),
		product.Advertised,
		product.Reported,
		product.BuyerEmail,
		product.CreatedAt,
		product.UpdatedAt,
	)
	if err != nil {
		return storeError("create product", err)
	}

	return nil
}

// GetOne retrieves the first product matching the filter
func (r *productRepository) GetOne(ctx context.Context, filter ProductFilter) (*domain.Product, error) {
	whereClause, args := buildWhere(filter.predicates(), 0)
	query := fmt.Sprintf("SELECT %s FROM products %s LIMIT 1", productColumns, whereClause)

	product, err := scanProduct(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, storeError("find product", err)
	}

	return product, nil
}

// GetMany retrieves every product matching the filter, newest first
func (r *productRepository) GetMany(ctx context.Context, filter ProductFilter) ([]*domain.Product, error) {
	whereClause, args := buildWhere(filter.predicates(), 0)
	query := fmt.Sprintf("SELECT %s FROM products %s ORDER BY created_at DESC", productColumns, whereClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list products", err)
	}
	defer rows.Close()

	products := []*domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, storeError("scan product", err)
		}
		products = append(products, product)
	}

	if err = rows.Err(); err != nil {
		return nil, storeError("iterate products", err)
	}

	return products, nil
}

// UpdateOneStrict patches the product addressed by id. A missing product is
// reported as Matched == 0; no document is created.
func (r *productRepository) UpdateOneStrict(ctx context.Context, filter ProductFilter, patch ProductPatch) (UpdateResult, error) {
	if filter.ID == nil {
		return UpdateResult{}, ErrKeyRequired
	}
	return updateRows(ctx, r.db, "update product", "products", patch.assignments(), filter.predicates())
}

// UpdateMany patches every product matching a non-empty filter
func (r *productRepository) UpdateMany(ctx context.Context, filter ProductFilter, patch ProductPatch) (UpdateResult, error) {
	return updateRows(ctx, r.db, "update products", "products", patch.assignments(), filter.predicates())
}

// DeleteOne removes the product addressed by id
func (r *productRepository) DeleteOne(ctx context.Context, filter ProductFilter) (DeleteResult, error) {
	if filter.ID == nil {
		return DeleteResult{}, ErrKeyRequired
	}
	return deleteRows(ctx, r.db, "delete product", "products", filter.predicates())
}

// DeleteMany removes every product matching a non-empty filter
func (r *productRepository) DeleteMany(ctx context.Context, filter ProductFilter) (DeleteResult, error) {
	return deleteRows(ctx, r.db, "delete products", "products", filter.predicates())
}

