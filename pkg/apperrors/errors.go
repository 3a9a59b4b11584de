// Package apperrors holds the error taxonomy shared by the storage, ledger
// and document packages. Components wrap these sentinels with fmt.Errorf
// and %w; callers and the HTTP layer compare with errors.Is.
package apperrors

import "errors"

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidInput         = errors.New("invalid input")
	ErrStorageUnavailable   = errors.New("storage unavailable")
	ErrIntegrityCheckFailed = errors.New("integrity check failed")
	ErrCommitFailed         = errors.New("ledger commit failed")
)
