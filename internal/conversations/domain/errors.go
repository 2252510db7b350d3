package domain

import "errors"

// ErrNotFound is returned by the store when a referenced record does not exist.
// Pipeline and timeout jobs referencing missing records are dropped, not retried.
var ErrNotFound = errors.New("record not found")

// ErrDuplicateMessage is returned when an inbound message with the same external id already exists.
var ErrDuplicateMessage = errors.New("duplicate inbound message")
