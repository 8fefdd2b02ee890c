package engine

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrShutdown is returned for requests submitted after the engine began
// shutting down. Fatal to the caller's operation, never retried internally.
var ErrShutdown = errors.New("progress engine is shut down")

// ErrNotComplete is returned when an incomplete block is passed to register.
// Programmer error at the call site.
var ErrNotComplete = errors.New("block content is not complete")

// ErrInvalidHandle is returned when an operation references a block in a
// state the operation does not accept. Programmer error at the call site.
var ErrInvalidHandle = errors.New("invalid block handle")

// InsufficientCapacityError is returned when an allocation cannot be
// satisfied even after evicting every evictable block. Nothing is allocated.
// The caller may retry with a smaller count or after releasing blocks.
type InsufficientCapacityError struct {
	Requested int
	Available int
}

func (e InsufficientCapacityError) Error() string {
	return fmt.Sprintf("insufficient capacity, requested: %d, available: %d", e.Requested, e.Available)
}
