package core

import "errors"

// ErrNotFound is returned by stores when an entity does not exist.
var ErrNotFound = errors.New("entity not found")

// ErrInvalidEntity is returned when an entity fails validation on save.
var ErrInvalidEntity = errors.New("invalid entity")
