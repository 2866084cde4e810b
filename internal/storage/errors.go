package storage

import "errors"

// ErrNotFound is returned by Get-style Store operations when no row
// matches the requested identifier.
var ErrNotFound = errors.New("storage: not found")
