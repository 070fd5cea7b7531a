package repo

import "errors"

// ErrNotFound is returned when a queried record does not exist. Services
// translate it into their own taxonomy; it never reaches a client directly.
var ErrNotFound = errors.New("record not found")
