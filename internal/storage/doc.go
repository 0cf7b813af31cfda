// Package storage persists job run history.
//
// Two drivers are available: "file" (JSON Lines, always built) and "sqlite"
// (modernc.org/sqlite, built with -tags sqlite). Both prune to a bounded number of
// records.
package storage
