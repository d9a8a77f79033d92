package db

import (
	_ "github.com/go-sql-driver/mysql"
)

type mysqlDriver struct{}

func (mysqlDriver) Name() string { return "mysql" }

func (mysqlDriver) Open(dsn string) (Conn, error) {
	parsed, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	return openGeneric("mysql", buildMySQLDSN(parsed))
}

func init() { Register("mysql", mysqlDriver{}) }
