package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"oldruby-market/internal/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrEmptyFilter guards multi-document writes against matching a whole collection
	ErrEmptyFilter = errors.New("refusing to write with an empty filter")
	// ErrKeyRequired is returned when a single-document write is not addressed by its key
	ErrKeyRequired = errors.New("single-document write requires the primary key in the filter")
)

// UpdateResult reports how many documents a filter matched.
type UpdateResult struct {
	Matched int64
}

// UpsertResult reports whether an upsert hit an existing document or created one.
type UpsertResult struct {
	Matched bool
	Created bool
}

// DeleteResult reports how many documents were removed.
type DeleteResult struct {
	Deleted int64
}

// Collection is the per-collection store contract. Every call is atomic for
// the documents it touches and nothing is atomic across calls.
//
// GetOne returns a typed not-found error when nothing matches. GetMany returns
// an empty slice for no matches. UpdateOneStrict never creates a document.
type Collection[D any, F any, P any] interface {
	GetOne(ctx context.Context, filter F) (*D, error)
	GetMany(ctx context.Context, filter F) ([]*D, error)
	UpdateOneStrict(ctx context.Context, filter F, patch P) (UpdateResult, error)
	UpdateMany(ctx context.Context, filter F, patch P) (UpdateResult, error)
	DeleteOne(ctx context.Context, filter F) (DeleteResult, error)
	DeleteMany(ctx context.Context, filter F) (DeleteResult, error)
}

// predicate is a column equality used in a WHERE clause
type predicate struct {
	column string
	value  any
}

// assignment is a column value used in a SET clause
type assignment struct {
	column string
	value  any
}

// buildWhere renders predicates as a parameterized WHERE clause whose
// placeholders start after offset.
func buildWhere(preds []predicate, offset int) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}

	clauses := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for i, p := range preds {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", p.column, offset+i+1))
		args = append(args, p.value)
	}

	return "WHERE " + strings.Join(clauses, " AND "), args
}

// buildSet renders assignments as a parameterized SET clause. updated_at is
// always refreshed.
func buildSet(assigns []assignment) (string, []any) {
	clauses := make([]string, 0, len(assigns)+1)
	args := make([]any, 0, len(assigns))
	for i, a := range assigns {
		clauses = append(clauses, fmt.Sprintf("%s = $%d", a.column, i+1))
		args = append(args, a.value)
	}
	clauses = append(clauses, "updated_at = NOW()")

	return "SET " + strings.Join(clauses, ", "), args
}

// updateStatement builds an UPDATE for table with the patch placeholders first.
func updateStatement(table string, assigns []assignment, preds []predicate) (string, []any) {
	setClause, setArgs := buildSet(assigns)
	whereClause, whereArgs := buildWhere(preds, len(setArgs))

	query := fmt.Sprintf("UPDATE %s %s %s", table, setClause, whereClause)
	return query, append(setArgs, whereArgs...)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// updateRows applies assigns to every row of table matching preds
func updateRows(ctx context.Context, db execer, op, table string, assigns []assignment, preds []predicate) (UpdateResult, error) {
	if len(preds) == 0 {
		return UpdateResult{}, ErrEmptyFilter
	}
	query, args := updateStatement(table, assigns, preds)
	n, err := execAffected(ctx, db, op, query, args)
	return UpdateResult{Matched: n}, err
}

// deleteRows removes every row of table matching preds
func deleteRows(ctx context.Context, db execer, op, table string, preds []predicate) (DeleteResult, error) {
	if len(preds) == 0 {
		return DeleteResult{}, ErrEmptyFilter
	}
	whereClause, args := buildWhere(preds, 0)
	n, err := execAffected(ctx, db, op, fmt.Sprintf("DELETE FROM %s %s", table, whereClause), args)
	return DeleteResult{Deleted: n}, err
}

func execAffected(ctx context.Context, db execer, op, query string, args []any) (int64, error) {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, storeError(op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, storeError(op, err)
	}
	return n, nil
}

// storeError tags a driver failure as ErrStoreUnavailable, keeping the cause.
func storeError(op string, err error) error {
	return fmt.Errorf("failed to %s: %w: %w", op, domain.ErrStoreUnavailable, err)
}

// isUniqueViolation reports whether err is a Postgres unique constraint violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

type rowScanner interface {
	Scan(dest ...any) error
}
