package storage

import "errors"

// ErrNotFound is returned when a credential or owner does not exist. Callers
// use it to distinguish "no such key" from infrastructure failure, which must
// be handled differently (the gate fails closed on the latter but logs it at
// high severity).
var ErrNotFound = errors.New("not found")
