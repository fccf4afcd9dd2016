package storage

import "errors"

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrAlreadyExists is returned when saving a record whose ID is already stored.
var ErrAlreadyExists = errors.New("record already exists")
