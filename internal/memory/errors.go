package memory

import "errors"

var (
	// ErrBlockNotFound indicates no block has the requested label.
	ErrBlockNotFound = errors.New("memory block not found")

	// ErrBlockReadOnly indicates the block is protected from mutation.
	ErrBlockReadOnly = errors.New("memory block is read-only")

	// ErrVersionNotFound indicates no version has the requested ID.
	ErrVersionNotFound = errors.New("memory version not found")

	// ErrTextNotFound indicates a replace target does not occur in the block.
	ErrTextNotFound = errors.New("text not found in memory block")

	// ErrEntryNotFound indicates no archival entry has the requested ID.
	ErrEntryNotFound = errors.New("memory entry not found")
)
