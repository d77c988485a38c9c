package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool is the subset of *pgxpool.Pool the repositories use. pgxmock pools
// satisfy it in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// pageOffset returns the OFFSET for a 1-indexed page. ok is false when the
// page starts past total, in which case no rows can match and the data query
// is skipped. The check runs before multiplying so huge pages cannot overflow.
func pageOffset(page, perPage int, total int64) (offset int, ok bool) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		return 0, false
	}
	if int64(page-1) > total/int64(perPage) {
		return 0, false
	}
	return (page - 1) * perPage, true
}
