package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrOwnershipMismatch = errors.New("version does not belong to asset")
	ErrVersionPinned     = errors.New("version is pinned")
	ErrEmptyExport       = errors.New("nothing to export")
)
