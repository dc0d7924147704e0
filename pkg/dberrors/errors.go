package dberrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound        = errors.New("cfdb: not found")
	ErrAlreadyExists   = errors.New("cfdb: already exists")
	ErrInvalidArgument = errors.New("cfdb: invalid argument")
	ErrCorruption      = errors.New("cfdb: corruption")
	ErrClosed          = errors.New("cfdb: closed")

	// ErrColumnFamilyDropped matches ErrInvalidArgument: a handle into a
	// dropped family must fail loudly, not operate on stale state.
	ErrColumnFamilyDropped = fmt.Errorf("%w: column family dropped", ErrInvalidArgument)
)
