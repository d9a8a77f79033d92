package runtime

import (
	"sync"

	"github.com/wudi/rbvm/config"
	"github.com/wudi/rbvm/runtime/db"
	"github.com/wudi/rbvm/values"
	"github.com/wudi/rbvm/vm"
)

// conns maps a Database instance to its live connection. values.Object
// carries only Value-typed IVars (spec.md §3.1's tagged union has no
// opaque-Go-pointer variant), so the connection handle itself lives here
// rather than inside an instance variable, the way the teacher's PDO
// connections lived behind a *sql.DB the PHP object only referenced by
// resource id.
var (
	connsMu sync.Mutex
	conns   = make(map[*values.Object]db.Conn)

	sourcesMu sync.RWMutex
	sources   map[string]config.DataSource
)

// bootstrapDatabase installs the Database class: #initialize(dsn_or_name)
// opens the connection (resolving a bare name against cfgSources first),
// #query/#exec run statements, #close releases it.
func bootstrapDatabase(m *vm.VirtualMachine, cfgSources map[string]config.DataSource) *values.Class {
	sourcesMu.Lock()
	sources = cfgSources
	sourcesMu.Unlock()

	wk := m.Registry.WellKnown
	database := m.Registry.DefineClass("Database", wk.Object)
	sym := m.Registry.Symbols.Intern

	database.DefineMethod(sym("initialize"), &values.MethodEntry{Native: dbInitialize})
	database.DefineMethod(sym("query"), &values.MethodEntry{Native: dbQuery})
	database.DefineMethod(sym("exec"), &values.MethodEntry{Native: dbExec})
	database.DefineMethod(sym("close"), &values.MethodEntry{Native: dbClose})
	return database
}

// resolveDSN accepts either a full "driver:dsn" string (passed straight
// through) or a bare name looked up in the config.Config.Sources table
// Bootstrap was given.
func resolveDSN(raw string) string {
	sourcesMu.RLock()
	defer sourcesMu.RUnlock()
	if src, ok := sources[raw]; ok {
		return src.Driver + ":" + src.DSN
	}
	return raw
}

func raiseErr(m *vm.VirtualMachine, cls *values.Class, msg string) error {
	return m.Raise(m.Current, values.NewException(cls, msg))
}

func dbInitialize(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	wk := m.Registry.WellKnown
	if len(args) == 0 || !args[0].IsString() {
		return values.Nil(), raiseErr(m, wk.ArgumentError, "Database.new requires a dsn string")
	}
	obj, ok := self.Ref.(*values.Object)
	if !ok {
		return values.Nil(), raiseErr(m, wk.TypeError, "Database#initialize called on non-object")
	}
	conn, err := db.Open(resolveDSN(args[0].Ref.(*values.StringObj).Str))
	if err != nil {
		return values.Nil(), raiseErr(m, wk.RuntimeError, err.Error())
	}
	connsMu.Lock()
	conns[obj] = conn
	connsMu.Unlock()
	return values.Nil(), nil
}

func connOf(self values.Value) (db.Conn, bool) {
	obj, ok := self.Ref.(*values.Object)
	if !ok {
		return nil, false
	}
	connsMu.Lock()
	defer connsMu.Unlock()
	c, ok := conns[obj]
	return c, ok
}

func dbQuery(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	conn, ok := connOf(self)
	if !ok || len(args) == 0 || !args[0].IsString() {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, "database not open")
	}
	sqlArgs := make([]interface{}, len(args)-1)
	for i, a := range args[1:] {
		sqlArgs[i] = db.ValueToGo(a)
	}
	rows, err := conn.Query(args[0].Ref.(*values.StringObj).Str, sqlArgs...)
	if err != nil {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, err.Error())
	}
	result, err := db.FetchAll(rows, m.Registry.WellKnown)
	if err != nil {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, err.Error())
	}
	return result, nil
}

func dbExec(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	m := vmOf(raw)
	conn, ok := connOf(self)
	if !ok || len(args) == 0 || !args[0].IsString() {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, "database not open")
	}
	sqlArgs := make([]interface{}, len(args)-1)
	for i, a := range args[1:] {
		sqlArgs[i] = db.ValueToGo(a)
	}
	res, err := conn.Exec(args[0].Ref.(*values.StringObj).Str, sqlArgs...)
	if err != nil {
		return values.Nil(), raiseErr(m, m.Registry.WellKnown.RuntimeError, err.Error())
	}
	affected, _ := res.RowsAffected()
	return values.Fixnum(affected), nil
}

func dbClose(raw interface{}, self values.Value, args []values.Value, block *values.Proc) (values.Value, error) {
	obj, ok := self.Ref.(*values.Object)
	if !ok {
		return values.Nil(), nil
	}
	connsMu.Lock()
	conn, ok := conns[obj]
	delete(conns, obj)
	connsMu.Unlock()
	if ok {
		conn.Close()
	}
	return values.Nil(), nil
}
