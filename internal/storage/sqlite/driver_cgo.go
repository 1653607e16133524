//go:build sqlite_cgo

package sqlite

// CGO driver, selected with:
//   CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver the store opens.
const DriverName = "sqlite3"
