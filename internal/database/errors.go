package database

import "errors"

// ErrNotFound indicates a requested record does not exist.
var ErrNotFound = errors.New("database: not found")

// ErrMissingContext is returned by repositories constructed without a database.
var ErrMissingContext = errors.New("database: missing database context")
