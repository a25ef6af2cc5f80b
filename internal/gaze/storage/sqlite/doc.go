// Package sqlite persists tracking sessions to a local SQLite database.
//
// All read/write SQL for sessions, hover events, and backend lifecycle
// events lives here rather than in the gaze packages. The pipeline and
// supervisor stay free of storage concerns and hand the store plain
// values at session boundaries.
//
// Schema changes are managed by golang-migrate over the migration files
// embedded in this package; see migrate.go.
package sqlite
