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
	ErrCategoryNotFound      = fmt.Errorf("category %w", domain.ErrNotFound)
	ErrCategoryAlreadyExists = fmt.Errorf("category with this name already exists: %w", domain.ErrConflict)
)

// CategoryRepository stores the product categories. Categories are only
// ever created and read; products reference them by ID.
type CategoryRepository interface {
	Create(ctx context.Context, category *domain.Category) error
	List(ctx context.Context) ([]*domain.Category, error)
	FindByID(ctx context.Context, id uuid.UUID) (*domain.Category, error)
}

type categoryRepository struct {
	db *sql.DB
}

func NewCategoryRepository(db *sql.DB) CategoryRepository {
	return &categoryRepository{db: db}
}

const categoryColumns = `id, name, description, created_at`

func scanCategory(row rowScanner) (*domain.Category, error) {
	var c domain.Category
	if err := row.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Create assigns an ID and timestamp when missing. Names are unique.
func (r *categoryRepository) Create(ctx context.Context, category *domain.Category) error {
	if category.ID == uuid.Nil {
		category.ID = uuid.New()
	}
	if category.CreatedAt.IsZero() {
		category.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf("INSERT INTO categories (%s) VALUES ($1, $2, $3, $4)", categoryColumns)
	_, err := r.db.ExecContext(ctx, query, category.ID, category.Name, category.Description, category.CreatedAt)
	switch {
	case err == nil:
		return nil
	case isUniqueViolation(err):
		return ErrCategoryAlreadyExists
	default:
		return storeError("create category", err)
	}
}

func (r *categoryRepository) List(ctx context.Context) ([]*domain.Category, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM categories ORDER BY name ASC", categoryColumns))
	if err != nil {
		return nil, storeError("list categories", err)
	}
	defer rows.Close()

	categories := []*domain.Category{}
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, storeError("scan category", err)
		}
		categories = append(categories, c)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list categories", err)
	}
	return categories, nil
}

func (r *categoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Category, error) {
	query := fmt.Sprintf("SELECT %s FROM categories WHERE id = $1", categoryColumns)
	c, err := scanCategory(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCategoryNotFound
	}
	if err != nil {
		return nil, storeError("get category", err)
	}
	return c, nil
}
