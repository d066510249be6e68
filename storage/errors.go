package storage

import "errors"

var (
	// ErrNotFound is returned (wrapped) when a record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned (wrapped) when creating a record whose key is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidRecord is returned when a record is nil or lacks its key.
	ErrInvalidRecord = errors.New("invalid record")
)

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
