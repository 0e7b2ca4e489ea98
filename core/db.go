package core

import (
	"context"
	"database/sql"
)

type (
	DBExecutor interface {
		Exec(query string, args ...interface{}) (sql.Result, error)
		ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
		Query(query string, args ...interface{}) (*sql.Rows, error)
		QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
		QueryRow(query string, args ...interface{}) *sql.Row
		QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	}

	DB interface {
		DBExecutor

		Begin() (*sql.Tx, error)
		BeginTx(context.Context, *sql.TxOptions) (*sql.Tx, error)
	}

	DBTransactor interface {
		DBExecutor

		Commit() error
		Rollback() error
	}

	// Transactor runs fn inside a single storage transaction.
	// The transaction travels in the ctx handed to fn; repositories pick it up from there.
	// Nested calls join the outer transaction.
	Transactor interface {
		InTx(ctx context.Context, fn func(ctx context.Context) error) error
	}
)

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// Page is a 1-based pagination request.
type Page struct {
	Page int `query:"page" json:"page" validate:"omitempty,min=1"`
	Size int `query:"size" json:"size" validate:"omitempty,min=1,max=100"`
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize fills in defaults for unset values and clamps out of range ones.
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	} else if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	return p
}

func (p Page) Offset() int {
	p = p.Normalize()
	return (p.Page - 1) * p.Size
}

func (p Page) Limit() int {
	return p.Normalize().Size
}

// Paginate slices a fully loaded list. Used by the in-memory storage engine.
func Paginate(total int, p *Page) (start, end int) {
	if p == nil {
		return 0, total
	}
	start = p.Offset()
	if start > total {
		start = total
	}
	end = start + p.Limit()
	if end > total {
		end = total
	}
	return start, end
}
