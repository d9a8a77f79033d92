package db

import (
	_ "modernc.org/sqlite"
)

type sqliteDriver struct{}

func (sqliteDriver) Name() string { return "sqlite" }

// Open takes the raw path after the "sqlite:" scheme directly, bypassing
// ParseDSN's key=value parsing entirely (sqlite has no host/port/user).
func (sqliteDriver) Open(path string) (Conn, error) {
	if path == "" || path == ":memory:" {
		path = "file::memory:?mode=memory&cache=shared"
	}
	return openGeneric("sqlite", path)
}

func init() { Register("sqlite", sqliteDriver{}) }
