// Package database manages the Postgres connection pool backing the
// history recorder.
package database
