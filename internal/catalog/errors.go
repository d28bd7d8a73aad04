package catalog

import "errors"

// ErrNotFound is returned when a media item or job does not exist.
var ErrNotFound = errors.New("catalog: not found")

// ErrConflict is returned when an update loses an optimistic-concurrency
// race: the row's stored version no longer matches the version the caller
// read. Callers should re-read the row and re-apply their change.
var ErrConflict = errors.New("catalog: version conflict")
