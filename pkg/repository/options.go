package repository

import "errors"

const (
	// DefaultPageSize is the export page size handed to ranklist runners
	DefaultPageSize = 50
	// MaxPageSize bounds caller supplied page sizes
	MaxPageSize = 500
)

// Cursor is a strict (timestamp, id) position in an ordered export.
// The zero value starts from the beginning.
type Cursor struct {
	Since  int64  `json:"since" form:"since"`
	LastID string `json:"lastId" form:"lastId"`
}

// After reports whether (ts, id) is strictly after the cursor.
func (c Cursor) After(ts int64, id string) bool {
	if ts != c.Since {
		return ts > c.Since
	}
	return id > c.LastID
}

// PageOptions selects one page of a cursor ordered export
type PageOptions struct {
	Cursor
	Limit int `json:"limit" form:"limit"`
}

// Validate validates the PageOptions and sets defaults
func (o *PageOptions) Validate() error {
	if o.Limit <= 0 {
		o.Limit = DefaultPageSize
	}
	if o.Limit > MaxPageSize {
		return errors.New("limit exceeds maximum allowed value")
	}
	if o.Since < 0 {
		return errors.New("since must be non-negative")
	}
	return nil
}
