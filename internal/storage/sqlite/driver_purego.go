//go:build !sqlite_cgo

package sqlite

// Pure Go driver, no C toolchain required. Default build.

import (
	_ "modernc.org/sqlite"
)

// DriverName is the database/sql driver the store opens.
const DriverName = "sqlite"
