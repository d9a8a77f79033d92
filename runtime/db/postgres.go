package db

import (
	_ "github.com/lib/pq"
)

type postgresDriver struct{}

func (postgresDriver) Name() string { return "postgres" }

func (postgresDriver) Open(dsn string) (Conn, error) {
	parsed, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return openGeneric("postgres", buildPostgresDSN(parsed))
}

func init() { Register("postgres", postgresDriver{}) }
