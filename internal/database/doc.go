// Package database provides the SQLite page store and run history.
//
// The Store keeps:
//   - pages: one row per URL and run, with status, title, hash and headers
//   - runs: one row per crawl run, identified by a random UUID, with the
//     final counter snapshot
//
// The database is a single file opened through modernc.org/sqlite, so the
// binary stays CGO-free. WAL mode is enabled by default.
package database
