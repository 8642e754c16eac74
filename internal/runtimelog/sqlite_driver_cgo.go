//go:build cgo_sqlite

package runtimelog

import (
	_ "github.com/mattn/go-sqlite3"
)

const sqliteDriverName = "sqlite3"
