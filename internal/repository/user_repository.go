package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"oldruby-market/internal/domain"
)

var (
	ErrUserNotFound = fmt.Errorf("user %w", domain.ErrNotFound)
)

// UserFilter selects users by equality on every non-nil field
type UserFilter struct {
	Email              *string
	Role               *domain.Role
	SellerVerification *bool
}

// UserByEmail addresses a single user by key
func UserByEmail(email string) UserFilter {
	return UserFilter{Email: &email}
}

func (f UserFilter) predicates() []predicate {
	var preds []predicate
	if f.Email != nil {
		preds = append(preds, predicate{"email", *f.Email})
	}
	if f.Role != nil {
		preds = append(preds, predicate{"role", string(*f.Role)})
	}
	if f.SellerVerification != nil {
		preds = append(preds, predicate{"seller_verification", *f.SellerVerification})
	}
	return preds
}

// UserPatch sets every non-nil field
type UserPatch struct {
	Role               *domain.Role
	SellerVerification *bool
}

func (p UserPatch) assignments() []assignment {
	var assigns []assignment
	if p.Role != nil {
		assigns = append(assigns, assignment{"role", string(*p.Role)})
	}
	if p.SellerVerification != nil {
		assigns = append(assigns, assignment{"seller_verification", *p.SellerVerification})
	}
	return assigns
}

// UserUpsert describes a create-or-merge keyed on email. Empty profile fields
// keep the stored value; nil pointers leave the column untouched on merge.
// DefaultRole is used only when the document is created without a Role.
type UserUpsert struct {
	Email              string
	Profile            domain.UserProfile
	DefaultRole        domain.Role
	SellerVerification *bool
}

// UserRepository defines the interface for user data access
type UserRepository interface {
	Collection[domain.User, UserFilter, UserPatch]
	Upsert(ctx context.Context, upsert UserUpsert) (UpsertResult, error)
}

type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new instance of UserRepository
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `email, name, photo_url, role, seller_verification, created_at, updated_at`

func scanUser(row rowScanner) (*domain.User, error) {
	user := &domain.User{}
	err := row.Scan(
		&user.Email,
		&user.Name,
		&user.PhotoURL,
		&user.Role,
		&user.SellerVerification,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	return user, err
}

// Upsert creates the user or merges into the existing document in one statement.
// An admin keeps the role unless admin is what is being set. xmax is zero only
// for a freshly inserted row.
func (r *userRepository) Upsert(ctx context.Context, upsert UserUpsert) (UpsertResult, error) {
	if upsert.Email == "" {
		return UpsertResult{}, ErrKeyRequired
	}

	role := upsert.Profile.Role
	roleSet := role != ""
	if !roleSet {
		role = upsert.DefaultRole
	}
	if role == "" {
		role = domain.RoleBuyer
	}

	verification := false
	verificationSet := upsert.SellerVerification != nil
	if verificationSet {
		verification = *upsert.SellerVerification
	}

	query := `
		INSERT INTO users (email, name, photo_url, role, seller_verification, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (email) DO UPDATE SET
			name = COALESCE(NULLIF(EXCLUDED.name, ''), users.name),
			photo_url = COALESCE(NULLIF(EXCLUDED.photo_url, ''), users.photo_url),
			role = CASE
				WHEN NOT $6::boolean THEN users.role
				WHEN users.role = 'admin' AND EXCLUDED.role <> 'admin' THEN users.role
				ELSE EXCLUDED.role
			END,
			seller_verification = CASE WHEN $7::boolean THEN EXCLUDED.seller_verification ELSE users.seller_verification END,
			updated_at = NOW()
		RETURNING (xmax = 0) AS created
	`

	var created bool
	err := r.db.QueryRowContext(
		ctx,
		query,
		upsert.Email,
		upsert.Profile.Name,
		upsert.Profile.PhotoURL,
		string(role),
		verification,
		roleSet,
		verificationSet,
	).Scan(&created)
	if err != nil {
		return UpsertResult{}, storeError("upsert user", err)
	}

	return UpsertResult{Matched: !created, Created: created}, nil
}

// GetOne retrieves the first user matching the filter
func (r *userRepository) GetOne(ctx context.Context, filter UserFilter) (*domain.User, error) {
	whereClause, args := buildWhere(filter.predicates(), 0)
	query := fmt.Sprintf("SELECT %s FROM users %s LIMIT 1", userColumns, whereClause)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, storeError("find user", err)
	}

	return user, nil
}

// GetMany retrieves every user matching the filter
func (r *userRepository) GetMany(ctx context.Context, filter UserFilter) ([]*domain.User, error) {
	whereClause, args := buildWhere(filter.predicates(), 0)
	query := fmt.Sprintf("SELECT %s FROM users %s ORDER BY email ASC", userColumns, whereClause)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storeError("list users", err)
	}
	defer rows.Close()

	users := []*domain.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, storeError("scan user", err)
		}
		users = append(users, user)
	}

	if err = rows.Err(); err != nil {
		return nil, storeError("iterate users", err)
	}

	return users, nil
}

// UpdateOneStrict patches the user addressed by email without creating one
func (r *userRepository) UpdateOneStrict(ctx context.Context, filter UserFilter, patch UserPatch) (UpdateResult, error) {
	if filter.Email == nil {
		return UpdateResult{}, ErrKeyRequired
	}
	return updateRows(ctx, r.db, "update user", "users", patch.assignments(), filter.predicates())
}

// UpdateMany patches every user matching a non-empty filter
func (r *userRepository) UpdateMany(ctx context.Context, filter UserFilter, patch UserPatch) (UpdateResult, error) {
	return updateRows(ctx, r.db, "update users", "users", patch.assignments(), filter.predicates())
}

// DeleteOne removes the user addressed by email. The coordinator never deletes
// users; this exists to complete the store contract for maintenance tooling.
func (r *userRepository) DeleteOne(ctx context.Context, filter UserFilter) (DeleteResult, error) {
	if filter.Email == nil {
		return DeleteResult{}, ErrKeyRequired
	}
	return deleteRows(ctx, r.db, "delete user", "users", filter.predicates())
}

// DeleteMany removes every user matching a non-empty filter
func (r *userRepository) DeleteMany(ctx context.Context, filter UserFilter) (DeleteResult, error) {
	return deleteRows(ctx, r.db, "delete users", "users", filter.predicates())
}

