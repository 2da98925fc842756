package program

import (
	"testing"

	"github.com/libsqlgo/sqld/internal/auth"
	"github.com/libsqlgo/sqld/internal/classify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stmt(kind classify.StmtKind) Step {
	return Step{Query: Query{Stmt: classify.Statement{Kind: kind, SQL: "x"}}}
}

func TestAuthorize_AnonymousRejectsEverything(t *testing.T) {
	pgm := New(stmt(classify.Read))
	err := Authorize(auth.Anonymous(), pgm)
	require.Error(t, err)
}

func TestAuthorize_ReadOnlyAllowsReadAndTxnBoundaries(t *testing.T) {
	pgm := New(stmt(classify.TxnBegin), stmt(classify.Read), stmt(classify.TxnEnd))
	err := Authorize(auth.Authorized(auth.ReadOnly), pgm)
	assert.NoError(t, err)
}

func TestAuthorize_ReadOnlyRejectsWrite(t *testing.T) {
	pgm := New(stmt(classify.Write))
	err := Authorize(auth.Authorized(auth.ReadOnly), pgm)
	require.Error(t, err)
}

func TestAuthorize_FullAccessAllowsWrite(t *testing.T) {
	pgm := New(stmt(classify.Write))
	err := Authorize(auth.Authorized(auth.FullAccess), pgm)
	assert.NoError(t, err)
}

func TestAuthorizeDescribe(t *testing.T) {
	assert.Error(t, AuthorizeDescribe(auth.Anonymous()))
	assert.NoError(t, AuthorizeDescribe(auth.Authorized(auth.ReadOnly)))
}
