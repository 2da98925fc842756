// Package enginetest provides a tiny in-memory fake of the engine
// interface (internal/engine) for exercising the worker, evaluator, and
// replication hook without a real embedded storage engine linked in. It
// understands a deliberately small slice of SQL — just enough to drive the
// scenarios in spec.md §8 — and is not a substitute for a real engine.
package enginetest

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/libsqlgo/sqld/internal/engine"
	"github.com/libsqlgo/sqld/internal/value"
)

type table struct {
	cols []string
	rows [][]value.Value
}

// Conn is a fake engine.Conn backed by an in-memory map of tables.
type Conn struct {
	mu               sync.Mutex
	tables           map[string]*table
	autocommit       bool
	changes          int64
	lastRowID        int64
	hook             engine.WalHook
	loadedExtensions []string
}

var _ engine.Conn = (*Conn)(nil)

// Open returns an OpenFunc the worker/factory can use in tests. If
// busyBeforeOpen > 0, the first that-many calls fail with a BusyError.
func Open(busyBeforeOpen int) engine.OpenFunc {
	remaining := busyBeforeOpen
	return func(ctx context.Context, path string, flags engine.OpenFlags, hook engine.WalHook) (engine.Conn, error) {
		if remaining > 0 {
			remaining--
			return nil, &engine.BusyError{Err: fmt.Errorf("database is locked")}
		}
		return &Conn{
			tables:     make(map[string]*table),
			autocommit: true,
			hook:       hook,
		}, nil
	}
}

func (c *Conn) IsAutocommit() bool { return c.autocommit }
func (c *Conn) Changes() int64     { return c.changes }
func (c *Conn) LastInsertRowID() int64 {
	return c.lastRowID
}
// LoadExtension records path as loaded, unless it is the literal "fail",
// which reports a load error — enough for tests to exercise both the
// success and failure paths of extension loading without a real engine.
func (c *Conn) LoadExtension(path string) error {
	if path == "fail" {
		return fmt.Errorf("fake: could not load extension %s", path)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedExtensions = append(c.loadedExtensions, path)
	return nil
}

// LoadedExtensions returns the extension paths successfully loaded so far,
// for test assertions.
func (c *Conn) LoadedExtensions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.loadedExtensions...)
}
func (c *Conn) Close() error                    { return nil }

func (c *Conn) Exec(ctx context.Context, sql string) error {
	_, err := c.exec(sql)
	return err
}

var (
	createTableRe = regexp.MustCompile(`(?is)^create\s+table\s+(\w+)\s*\(([^)]*)\)`)
	insertRe      = regexp.MustCompile(`(?is)^insert\s+into\s+(\w+)\s*(\(([^)]*)\))?\s*values\s*\(([^)]*)\)`)
	selectRe      = regexp.MustCompile(`(?is)^select\s+(.+?)\s+from\s+(\w+)\s*$`)
	deleteRe      = regexp.MustCompile(`(?is)^delete\s+from\s+(\w+)\s*$`)
)

func (c *Conn) exec(sql string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	trimmed := strings.TrimSpace(sql)
	upper := strings.ToUpper(trimmed)

	switch {
	case upper == "BEGIN":
		c.autocommit = false
		return 0, nil
	case upper == "COMMIT" || upper == "ROLLBACK":
		c.autocommit = true
		return 0, nil
	case createTableRe.MatchString(trimmed):
		m := createTableRe.FindStringSubmatch(trimmed)
		name := m[1]
		var cols []string
		for _, c := range strings.Split(m[2], ",") {
			cols = append(cols, strings.Fields(strings.TrimSpace(c))[0])
		}
		if _, exists := c.tables[name]; exists {
			return 0, fmt.Errorf("table %s already exists", name)
		}
		c.tables[name] = &table{cols: cols}
		return 0, nil
	case insertRe.MatchString(trimmed):
		m := insertRe.FindStringSubmatch(trimmed)
		name := m[1]
		t, ok := c.tables[name]
		if !ok {
			return 0, fmt.Errorf("no such table: %s", name)
		}
		vals := splitArgs(m[4])
		row := make([]value.Value, len(vals))
		for i, v := range vals {
			row[i] = parseLiteral(v)
		}
		t.rows = append(t.rows, row)
		c.changes = 1
		c.lastRowID++
		return c.lastRowID, nil
	case deleteRe.MatchString(trimmed):
		m := deleteRe.FindStringSubmatch(trimmed)
		name := m[1]
		t, ok := c.tables[name]
		if !ok {
			return 0, fmt.Errorf("no such table: %s", name)
		}
		c.changes = int64(len(t.rows))
		t.rows = nil
		return 0, nil
	default:
		return 0, nil // tolerate anything else (e.g. SET-style pragmas) as a no-op
	}
}

func splitArgs(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

func parseLiteral(s string) value.Value {
	if len(s) >= 2 && s[0] == '\'' && s[len(s)-1] == '\'' {
		return value.Text(s[1 : len(s)-1])
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return value.Integer(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return value.Float(f)
	}
	return value.Text(s)
}

// Prepare implements engine.Conn. It recognizes the same small grammar as
// Exec, plus SELECT.
func (c *Conn) Prepare(ctx context.Context, sql string) (engine.Stmt, error) {
	trimmed := strings.TrimSpace(sql)
	if m := selectRe.FindStringSubmatch(trimmed); m != nil {
		cols := strings.TrimSpace(m[1])
		name := m[2]
		c.mu.Lock()
		t, ok := c.tables[name]
		c.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("no such table: %s", name)
		}
		colNames := t.cols
		if cols != "*" {
			colNames = nil
			for _, part := range strings.Split(cols, ",") {
				colNames = append(colNames, strings.TrimSpace(part))
			}
		}
		c.mu.Lock()
		rows := append([][]value.Value(nil), t.rows...)
		c.mu.Unlock()
		return &selectStmt{cols: colNames, rows: rows}, nil
	}
	return &execStmt{conn: c, sql: trimmed}, nil
}

type execStmt struct {
	conn     *Conn
	sql      string
	executed bool
}

func (s *execStmt) Columns() []value.Column                        { return nil }
func (s *execStmt) ParamCount() int                                { return 0 }
func (s *execStmt) ParamName(i int) (string, bool)                 { return "", false }
func (s *execStmt) BindPositional(values []value.Value) error      { return nil }
func (s *execStmt) BindNamed(values map[string]value.Value) error  { return nil }
func (s *execStmt) IsExplain() bool                                 { return false }
func (s *execStmt) IsReadOnly() bool                                { return false }
func (s *execStmt) Close() error                                    { return nil }

func (s *execStmt) Step(ctx context.Context) (bool, error) {
	if s.executed {
		return false, nil
	}
	s.executed = true
	if _, err := s.conn.exec(s.sql); err != nil {
		return false, err
	}
	return false, nil
}

func (s *execStmt) Row() (value.Row, error) { return nil, fmt.Errorf("no rows") }

type selectStmt struct {
	cols []string
	rows [][]value.Value
	idx  int
}

func (s *selectStmt) Columns() []value.Column {
	out := make([]value.Column, len(s.cols))
	for i, c := range s.cols {
		out[i] = value.Column{Name: c}
	}
	return out
}
func (s *selectStmt) ParamCount() int                                { return 0 }
func (s *selectStmt) ParamName(i int) (string, bool)                { return "", false }
func (s *selectStmt) BindPositional(values []value.Value) error     { return nil }
func (s *selectStmt) BindNamed(values map[string]value.Value) error { return nil }
func (s *selectStmt) IsExplain() bool                                { return false }
func (s *selectStmt) IsReadOnly() bool                               { return true }
func (s *selectStmt) Close() error                                   { return nil }

func (s *selectStmt) Step(ctx context.Context) (bool, error) {
	if s.idx >= len(s.rows) {
		return false, nil
	}
	s.idx++
	return true, nil
}

func (s *selectStmt) Row() (value.Row, error) {
	if s.idx == 0 || s.idx > len(s.rows) {
		return nil, fmt.Errorf("no current row")
	}
	return s.rows[s.idx-1], nil
}

// RowCount exposes the number of rows currently in table name, for test
// assertions.
func (c *Conn) RowCount(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tables[name]
	if !ok {
		return 0
	}
	return len(t.rows)
}

// TableExists reports whether name has been created.
func (c *Conn) TableExists(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.tables[name]
	return ok
}
