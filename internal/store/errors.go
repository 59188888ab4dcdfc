package store

import "errors"

var (
	// ErrNotSeeded means no credential row exists yet for the account.
	ErrNotSeeded = errors.New("no credential seeded for account")

	// ErrVersionConflict means a CompareAndSwap lost to a concurrent writer.
	// Callers re-read and adopt the winning row instead of retrying.
	ErrVersionConflict = errors.New("credential version conflict")

	// ErrAlreadySeeded means a live credential exists and force was not set.
	ErrAlreadySeeded = errors.New("credential already seeded")

	// ErrRequestNotFound means no approval request exists with the given id.
	ErrRequestNotFound = errors.New("approval request not found")

	// ErrStatusConflict means a status transition found the row already out
	// of the expected status. The first terminal transition always wins.
	ErrStatusConflict = errors.New("approval status conflict")
)
