// Package classify parses SQL text and tags each statement with the kind
// the rest of the core needs to drive transaction bookkeeping and
// authorization: Read, Write, TxnBegin, TxnEnd, or Other.
package classify

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pingcap/errors"
	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
)

// StmtKind classifies a single parsed statement.
type StmtKind int

const (
	Read StmtKind = iota
	Write
	TxnBegin
	TxnEnd
	Other
)

func (k StmtKind) String() string {
	switch k {
	case Read:
		return "read"
	case Write:
		return "write"
	case TxnBegin:
		return "txn_begin"
	case TxnEnd:
		return "txn_end"
	case Other:
		return "other"
	default:
		return "unknown"
	}
}

// Statement is one classified SQL statement.
type Statement struct {
	SQL      string
	Kind     StmtKind
	IsIUD    bool // INSERT, UPDATE or DELETE
	IsInsert bool
}

// Empty returns the statement used to represent an empty query. It is
// classified Read by convention so it is never routed to a writer.
func Empty() Statement {
	return Statement{Kind: Read}
}

// NewUnchecked wraps a raw SQL string as a Write statement without parsing
// it. Used by program.Seq and by tests that build Write-only programs
// without depending on being able to parse the statement they carry.
func NewUnchecked(sql string) Statement {
	return Statement{SQL: sql, Kind: Write}
}

// syntaxErrPos extracts "line X column Y" from a TiDB parser error message,
// falling back to 0:0 when the message doesn't carry a position (parser
// versions vary in exact wording).
var syntaxErrPos = regexp.MustCompile(`line (\d+) column (\d+)`)

// Parse splits sql into individual statements and classifies each one.
// A single malformed statement fails the whole call: the classifier has no
// way to resume parsing past a syntax error it doesn't understand.
func Parse(sql string) ([]Statement, error) {
	p := parser.New()
	nodes, _, err := p.Parse(sql, "", "")
	if err != nil {
		line, col := 0, 0
		if m := syntaxErrPos.FindStringSubmatch(err.Error()); m != nil {
			line, _ = strconv.Atoi(m[1])
			col, _ = strconv.Atoi(m[2])
		}
		return nil, errors.Errorf("syntax error around L%d:%d: %s", line, col, firstToken(sql))
	}

	if len(nodes) == 0 {
		// Whitespace-only or empty sql parses to zero statements; by
		// convention it classifies as the single Read statement Empty
		// names, rather than as "no statement at all".
		return []Statement{Empty()}, nil
	}

	stmts := make([]Statement, 0, len(nodes))
	for _, node := range nodes {
		stmts = append(stmts, classify(node))
	}
	return stmts, nil
}

// ParseUnchecked splits sql on ";" and classifies every resulting piece as
// a Write via NewUnchecked, without invoking the parser. A test-only
// counterpart to Parse for building multi-statement Write-only fixtures
// (e.g. Seq-style programs) without needing syntactically valid SQL.
func ParseUnchecked(sql string) []Statement {
	var out []Statement
	for _, part := range strings.Split(sql, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, NewUnchecked(part))
	}
	return out
}

func firstToken(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func classify(node ast.StmtNode) Statement {
	text := node.Text()
	switch n := node.(type) {
	case *ast.ExplainStmt:
		return Statement{SQL: text, Kind: Other}
	case *ast.BeginStmt:
		return Statement{SQL: text, Kind: TxnBegin}
	case *ast.CommitStmt:
		return Statement{SQL: text, Kind: TxnEnd}
	case *ast.RollbackStmt:
		return Statement{SQL: text, Kind: TxnEnd}
	case *ast.InsertStmt:
		return Statement{SQL: text, Kind: Write, IsIUD: true, IsInsert: !n.IsReplace}
	case *ast.UpdateStmt:
		return Statement{SQL: text, Kind: Write, IsIUD: true}
	case *ast.DeleteStmt:
		return Statement{SQL: text, Kind: Write, IsIUD: true}
	case *ast.CreateTableStmt, *ast.DropTableStmt, *ast.AlterTableStmt, *ast.CreateIndexStmt:
		return Statement{SQL: text, Kind: Write}
	case *ast.SelectStmt:
		return Statement{SQL: text, Kind: Read}
	default:
		return Statement{SQL: text, Kind: Other}
	}
}

// RewritePositionalParams rewrites "$1", "$2", ... placeholders to the
// engine's native "?" placeholder without touching statement boundaries or
// anything the classifier would later inspect. It is a narrow pre-rewrite
// pass, not a dialect translator: quoted strings and identifiers are left
// untouched by only matching "$" followed by digits outside of quotes.
func RewritePositionalParams(sql string) string {
	var b strings.Builder
	b.Grow(len(sql))
	inSingle, inDouble := false, false
	for i := 0; i < len(sql); i++ {
		c := sql[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte(c)
		case c == '"' && !inSingle:
			inDouble = !inDouble
			b.WriteByte(c)
		case c == '$' && !inSingle && !inDouble && i+1 < len(sql) && isDigit(sql[i+1]):
			j := i + 1
			for j < len(sql) && isDigit(sql[j]) {
				j++
			}
			b.WriteByte('?')
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
