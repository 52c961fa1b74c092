package repository

import "errors"

var (
	// ErrNotFound is returned when a requested document does not exist
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadyExists is returned when a uniqueness constraint rejects a write
	ErrAlreadyExists = errors.New("entity already exists")

	// ErrConflict is returned when a conditional update matched nothing:
	// the document exists but its state, task id or version moved on.
	ErrConflict = errors.New("entity conflict detected")

	// ErrNoTask is returned by claim operations when nothing is eligible
	ErrNoTask = errors.New("no eligible task")
)

// IsNotFoundError checks if an error is a "not found" error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrAlreadyExists)
}
