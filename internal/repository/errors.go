package repository

import (
	"errors"

	"github.com/jbweber/homelab/floater/internal/domain"
)

// Common repository errors that can be checked with errors.Is()
var (
	// ErrNotFound is returned when an entity is not found. It is the domain
	// sentinel so record-store misses surface as NotFound unchanged.
	ErrNotFound = domain.ErrNotFound

	// ErrDuplicate is returned when attempting to create an entity that already exists
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation
	ErrInvalidEntity = errors.New("invalid entity")
)
