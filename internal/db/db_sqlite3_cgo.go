//go:build cgo && sqlite3_cgo

package db

import (
	_ "github.com/mattn/go-sqlite3"
)

const driverID = "mattn/go-sqlite3"
const driverName = "sqlite3"

// connection level settings must be in the DSN so every pooled connection gets them
const dsnParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=1"
