//go:build !cgo_sqlite

package runtimelog

import (
	_ "modernc.org/sqlite"
)

const sqliteDriverName = "sqlite"
