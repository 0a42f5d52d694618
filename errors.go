package anerkennung

import (
	"errors"

	"github.com/jonathanglasmeyer/haw-modul-anerkennung/matching"
)

var (
	// ErrInvalidConfig is returned for configuration the service
	// cannot start with.
	ErrInvalidConfig = errors.New("anerkennung: invalid configuration")

	// ErrClosed is returned when operating on a closed service.
	ErrClosed = errors.New("anerkennung: service is closed")

	// Re-exported matching sentinels so callers only import this
	// package.
	ErrUnitNotFound    = matching.ErrUnitNotFound
	ErrEmptyQuery      = matching.ErrEmptyQuery
	ErrSchemaViolation = matching.ErrSchemaViolation
)
