package store

import "errors"

// ErrNotFound indicates the requested engram does not exist.
var ErrNotFound = errors.New("engram not found")

// ErrInvalidInput indicates the caller supplied invalid arguments.
var ErrInvalidInput = errors.New("invalid input")
