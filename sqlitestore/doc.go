// Package sqlitestore implements relink.Storage on top of a SQLite database,
// giving the outbound queue durability across process restarts.
//
// The store does not import a driver; callers open the *sql.DB with the driver
// of their choice (modernc.org/sqlite is used by the relink tooling and tests).
package sqlitestore
