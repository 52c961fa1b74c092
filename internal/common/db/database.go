package db

import "context"

// Database is the document store handle shared by every repository.
type Database interface {
	Querier
	Transaction(ctx context.Context, fn func(tx Transaction) error) error
	Ping(ctx context.Context) error
	Close() error
}

// Transaction is a Querier bound to one open transaction.
type Transaction interface {
	Querier
	Commit() error
	Rollback() error
}

// Rows iterates a multi-row result.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Close() error
	Err() error
}

// Row is a single-row result; Scan reports sql.ErrNoRows when empty.
type Row interface {
	Scan(dest ...any) error
}

// Result reports the outcome of a statement without rows.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
