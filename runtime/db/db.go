// Package db adapts the teacher's PDO driver shape onto this VM's native
// method protocol: a Driver opens a Conn, a Conn prepares/queries/execs,
// and result rows come back as this VM's own values.Value (hash/array/
// string/fixnum/float), not PHP's. It backs the Database native class
// runtime/bootstrap.go installs.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/wudi/rbvm/values"
)

// Driver opens connections for one SQL dialect.
type Driver interface {
	Open(dsn string) (Conn, error)
	Name() string
}

// Conn is a live database connection.
type Conn interface {
	Prepare(query string) (Stmt, error)
	Query(query string, args ...interface{}) (Rows, error)
	Exec(query string, args ...interface{}) (Result, error)
	Begin() (Tx, error)
	Close() error
	Ping() error
}

// Stmt is a prepared statement.
type Stmt interface {
	Exec(args ...interface{}) (Result, error)
	Query(args ...interface{}) (Rows, error)
	Close() error
}

// Rows is a forward-only result cursor, surfaced to the language as
// arrays-of-hashes via FetchAll.
type Rows interface {
	Next() bool
	Columns() ([]string, error)
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Result is the outcome of a non-SELECT statement.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}

// Tx is an open transaction.
type Tx interface {
	Commit() error
	Rollback() error
	Prepare(query string) (Stmt, error)
	Query(query string, args ...interface{}) (Rows, error)
	Exec(query string, args ...interface{}) (Result, error)
}

// DBError carries a SQLSTATE-style code alongside the message, the way
// PDOError did for the teacher's PDO layer.
type DBError struct {
	SQLState string
	Message  string
}

func (e *DBError) Error() string { return e.Message }

func newDBError(sqlState, format string, args ...interface{}) *DBError {
	return &DBError{SQLState: sqlState, Message: fmt.Sprintf(format, args...)}
}

var registry = make(map[string]Driver)

// Register adds a driver under name ("mysql", "postgres", "sqlite").
func Register(name string, driver Driver) { registry[name] = driver }

// Open resolves dsn's scheme ("mysql:...", "postgres:...", "sqlite:...")
// to a registered Driver and opens it.
func Open(dsn string) (Conn, error) {
	parts := strings.SplitN(dsn, ":", 2)
	if len(parts) != 2 {
		return nil, newDBError("HY000", "invalid dsn: %s", dsn)
	}
	drv, ok := registry[parts[0]]
	if !ok {
		return nil, newDBError("HY000", "unknown driver: %s", parts[0])
	}
	return drv.Open(parts[1])
}

// DSN is a parsed connection string: host/port/database/credentials/
// options, independent of the target dialect's own DSN syntax.
type DSN struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
	Options  map[string]string
}

// ParseDSN parses "host=localhost;port=5432;dbname=test;user=x;password=y"
// style connection strings (sqlite takes a bare path instead).
func ParseDSN(s string) (*DSN, error) {
	dsn := &DSN{Options: make(map[string]string)}
	for _, pair := range strings.Split(s, ";") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "host", "hostname":
			dsn.Host = val
		case "port":
			p, err := strconv.Atoi(val)
			if err != nil {
				return nil, newDBError("HY000", "invalid port: %s", val)
			}
			dsn.Port = p
		case "dbname", "database":
			dsn.Database = val
		case "user", "username":
			dsn.Username = val
		case "password", "pass":
			dsn.Password = val
		default:
			dsn.Options[key] = val
		}
	}
	return dsn, nil
}

func buildMySQLDSN(dsn *DSN) string {
	var b strings.Builder
	if dsn.Username != "" {
		b.WriteString(dsn.Username)
		if dsn.Password != "" {
			b.WriteString(":")
			b.WriteString(dsn.Password)
		}
		b.WriteString("@")
	}
	host := dsn.Host
	if host == "" {
		host = "localhost"
	}
	port := dsn.Port
	if port == 0 {
		port = 3306
	}
	fmt.Fprintf(&b, "tcp(%s:%d)/%s", host, port, dsn.Database)
	if len(dsn.Options) > 0 {
		b.WriteString("?")
		first := true
		for k, v := range dsn.Options {
			if !first {
				b.WriteString("&")
			}
			first = false
			b.WriteString(url.QueryEscape(k))
			b.WriteString("=")
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

func buildPostgresDSN(dsn *DSN) string {
	var params []string
	host := dsn.Host
	if host == "" {
		host = "localhost"
	}
	params = append(params, "host="+host)
	port := dsn.Port
	if port == 0 {
		port = 5432
	}
	params = append(params, fmt.Sprintf("port=%d", port))
	if dsn.Username != "" {
		params = append(params, "user="+dsn.Username)
	}
	if dsn.Password != "" {
		params = append(params, "password="+dsn.Password)
	}
	if dsn.Database != "" {
		params = append(params, "dbname="+dsn.Database)
	}
	sslSet := false
	for k, v := range dsn.Options {
		params = append(params, k+"="+v)
		if k == "sslmode" {
			sslSet = true
		}
	}
	if !sslSet {
		params = append(params, "sslmode=disable")
	}
	return strings.Join(params, " ")
}

// genericConn wraps a database/sql.DB for any driver whose DSN building
// is handled up front (mysql/postgres share this; sqlite overrides Open
// only, since its "dsn" is a bare file path with no key=value parsing).
type genericConn struct {
	db *sql.DB
}

func openGeneric(driverName, sqlDSN string) (Conn, error) {
	db, err := sql.Open(driverName, sqlDSN)
	if err != nil {
		return nil, newDBError("HY000", "open failed: %v", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, newDBError("HY000", "ping failed: %v", err)
	}
	return &genericConn{db: db}, nil
}

func (c *genericConn) Prepare(query string) (Stmt, error) {
	st, err := c.db.Prepare(query)
	if err != nil {
		return nil, newDBError("42000", "prepare failed: %v", err)
	}
	return &genericStmt{stmt: st}, nil
}

func (c *genericConn) Query(query string, args ...interface{}) (Rows, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, newDBError("42000", "query failed: %v", err)
	}
	return &genericRows{rows: rows}, nil
}

func (c *genericConn) Exec(query string, args ...interface{}) (Result, error) {
	res, err := c.db.Exec(query, args...)
	if err != nil {
		return nil, newDBError("42000", "exec failed: %v", err)
	}
	return res, nil
}

func (c *genericConn) Begin() (Tx, error) {
	tx, err := c.db.Begin()
	if err != nil {
		return nil, newDBError("HY000", "begin failed: %v", err)
	}
	return &genericTx{tx: tx}, nil
}

func (c *genericConn) Close() error { return c.db.Close() }
func (c *genericConn) Ping() error  { return c.db.Ping() }

type genericStmt struct{ stmt *sql.Stmt }

func (s *genericStmt) Exec(args ...interface{}) (Result, error) {
	res, err := s.stmt.Exec(args...)
	if err != nil {
		return nil, newDBError("42000", "exec failed: %v", err)
	}
	return res, nil
}

func (s *genericStmt) Query(args ...interface{}) (Rows, error) {
	rows, err := s.stmt.Query(args...)
	if err != nil {
		return nil, newDBError("42000", "query failed: %v", err)
	}
	return &genericRows{rows: rows}, nil
}

func (s *genericStmt) Close() error { return s.stmt.Close() }

type genericRows struct {
	rows    *sql.Rows
	columns []string
}

func (r *genericRows) Next() bool { return r.rows.Next() }

func (r *genericRows) Columns() ([]string, error) {
	if r.columns == nil {
		cols, err := r.rows.Columns()
		if err != nil {
			return nil, err
		}
		r.columns = cols
	}
	return r.columns, nil
}

func (r *genericRows) Scan(dest ...interface{}) error { return r.rows.Scan(dest...) }
func (r *genericRows) Close() error                    { return r.rows.Close() }
func (r *genericRows) Err() error                      { return r.rows.Err() }

type genericTx struct{ tx *sql.Tx }

func (t *genericTx) Commit() error   { return t.tx.Commit() }
func (t *genericTx) Rollback() error { return t.tx.Rollback() }

func (t *genericTx) Prepare(query string) (Stmt, error) {
	st, err := t.tx.Prepare(query)
	if err != nil {
		return nil, newDBError("42000", "prepare failed: %v", err)
	}
	return &genericStmt{stmt: st}, nil
}

func (t *genericTx) Query(query string, args ...interface{}) (Rows, error) {
	rows, err := t.tx.Query(query, args...)
	if err != nil {
		return nil, newDBError("42000", "query failed: %v", err)
	}
	return &genericRows{rows: rows}, nil
}

func (t *genericTx) Exec(query string, args ...interface{}) (Result, error) {
	res, err := t.tx.Exec(query, args...)
	if err != nil {
		return nil, newDBError("42000", "exec failed: %v", err)
	}
	return res, nil
}

// FetchAll drains rows into this VM's own Array-of-Hash representation,
// the way the teacher's FetchAssoc built a PHP associative array per row.
func FetchAll(rows Rows, wk *values.WellKnownClasses) (values.Value, error) {
	defer rows.Close()
	columns, err := rows.Columns()
	if err != nil {
		return values.Nil(), err
	}
	var out []values.Value
	for rows.Next() {
		raw := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return values.Nil(), err
		}
		row := values.NewHash(wk.Hash)
		h := row.Ref.(*values.HashObj)
		for i, col := range columns {
			h.Set(values.NewString(wk.String, col), goToValue(raw[i], wk))
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return values.Nil(), err
	}
	return values.NewArray(wk.Array, out), nil
}

func goToValue(i interface{}, wk *values.WellKnownClasses) values.Value {
	switch v := i.(type) {
	case nil:
		return values.Nil()
	case int64:
		return values.Fixnum(v)
	case float64:
		return values.Float(v)
	case []byte:
		return values.NewString(wk.String, string(v))
	case string:
		return values.NewString(wk.String, v)
	case bool:
		return values.Bool(v)
	default:
		return values.NewString(wk.String, fmt.Sprintf("%v", v))
	}
}

// ValueToGo converts one of this VM's values into a database/sql bind
// parameter, the inverse of goToValue.
func ValueToGo(v values.Value) interface{} {
	switch v.Type {
	case values.TypeNil:
		return nil
	case values.TypeFixnum:
		return v.Num
	case values.TypeFloat:
		return v.Flo
	case values.TypeTrue:
		return true
	case values.TypeFalse:
		return false
	case values.TypeString:
		if s, ok := v.Ref.(*values.StringObj); ok {
			return s.Str
		}
		return ""
	default:
		return v.String()
	}
}
