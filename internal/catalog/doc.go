// Package catalog persists media items and their processing jobs in SQLite.
//
// Rows carry a version counter; every update is conditional on the version
// the caller read, so concurrent writers surface as ErrConflict instead of
// silently clobbering each other.
package catalog
