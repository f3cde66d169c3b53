//go:build !sqlite_fts5

package storage

// This file only exists to stop the program (or test binary) at startup
// with a clear panic message when the sqlite_fts5 tag is missing; the
// build itself still succeeds. logs_fts (migrations/sqlite3/000001_init.up.sql)
// is an FTS5 virtual table, and mattn/go-sqlite3 only compiles FTS5 support
// into cgo-sqlite when built with -tags sqlite_fts5. Build (and test, and
// run) this module with that tag, e.g. `go build -tags sqlite_fts5 ./...`.
func init() {
	panic("storage: built without -tags sqlite_fts5; logs_fts requires FTS5 support compiled into mattn/go-sqlite3")
}
