package services

import "errors"

var (
	// ErrNotFound is returned when a requested ledger row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrCacheUnavailable is returned by operations that have no degraded
	// form when the local index is disabled.
	ErrCacheUnavailable = errors.New("local cache unavailable")
)
