package worker

import (
	"context"
	"testing"
	"time"

	"github.com/libsqlgo/sqld/internal/auth"
	"github.com/libsqlgo/sqld/internal/classify"
	"github.com/libsqlgo/sqld/internal/config"
	"github.com/libsqlgo/sqld/internal/enginetest"
	"github.com/libsqlgo/sqld/internal/program"
	"github.com/libsqlgo/sqld/internal/resultbuilder"
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/txstate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, cfg *config.Server) *Worker {
	t.Helper()
	if cfg == nil {
		cfg = config.NewServer()
	}
	w, err := New(context.Background(), enginetest.Open(0), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{}, nil)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

func TestWorker_LoadsConfiguredExtensions(t *testing.T) {
	cfg := config.NewServer()
	cfg.ExtensionPaths = []string{"/ext/json1.so", "/ext/fts5.so"}
	w := newTestWorker(t, cfg)
	conn := w.conn.(*enginetest.Conn)
	assert.Equal(t, cfg.ExtensionPaths, conn.LoadedExtensions())
}

func TestWorker_OpenFailsIfExtensionLoadFails(t *testing.T) {
	cfg := config.NewServer()
	cfg.ExtensionPaths = []string{"fail"}
	_, err := New(context.Background(), enginetest.Open(0), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{}, nil)
	require.Error(t, err)
}

func stepsFromSQL(t *testing.T, sql string) []program.Step {
	t.Helper()
	stmts, err := classify.Parse(sql)
	require.NoError(t, err)
	steps := make([]program.Step, len(stmts))
	for i, s := range stmts {
		steps[i] = program.Step{Query: program.Query{Stmt: s, WantRows: true}}
	}
	return steps
}

func TestWorker_BeginInsertCommit(t *testing.T) {
	w := newTestWorker(t, nil)
	identity := auth.Authorized(auth.FullAccess)

	steps := stepsFromSQL(t, "begin; create table t (id int); insert into t values (1); commit")
	pgm := program.New(steps...)
	builder := resultbuilder.NewRows()

	_, state, err := w.ExecuteProgram(context.Background(), pgm, identity, builder)
	require.NoError(t, err)
	assert.Equal(t, txstate.Init, state)

	results := builder.Results()
	require.Len(t, results, 4)
	assert.Nil(t, results[0].Err)
	assert.Nil(t, results[1].Err)
	assert.Nil(t, results[2].Err)
	require.NotNil(t, results[2].LastInsertRowID)
	assert.Equal(t, int64(1), *results[2].LastInsertRowID)
	assert.Equal(t, uint64(1), results[2].AffectedRows)
	assert.Nil(t, results[3].Err)
}

func TestWorker_TransactionTimeoutFailsNextProgram(t *testing.T) {
	cfg := config.NewServer()
	cfg.TxnTimeout = 10 * time.Millisecond
	w := newTestWorker(t, cfg)
	identity := auth.Authorized(auth.FullAccess)

	begin := program.New(stepsFromSQL(t, "begin")...)
	_, state, err := w.ExecuteProgram(context.Background(), begin, identity, resultbuilder.NewRows())
	require.NoError(t, err)
	assert.Equal(t, txstate.Txn, state)

	time.Sleep(50 * time.Millisecond)

	next := program.New(stepsFromSQL(t, "select 1")...)
	builder := resultbuilder.NewRows()
	_, state, err = w.ExecuteProgram(context.Background(), next, identity, builder)
	require.NoError(t, err)
	assert.Equal(t, txstate.Init, state)

	results := builder.Results()
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.True(t, sqlderr.Is(results[0].Err, sqlderr.CodeTxTimeout))
}

func TestWorker_DisabledStepViaErrCond(t *testing.T) {
	w := newTestWorker(t, nil)
	identity := auth.Authorized(auth.FullAccess)

	steps := stepsFromSQL(t, "create table t (id int); select 1 from t")
	// second step only runs if the (successful) first step failed.
	steps[1].Cond = program.Err(0)
	pgm := program.New(steps...)
	builder := resultbuilder.NewRows()

	_, _, err := w.ExecuteProgram(context.Background(), pgm, identity, builder)
	require.NoError(t, err)

	results := builder.Results()
	require.Len(t, results, 2)
	assert.Nil(t, results[0].Err)
	assert.Nil(t, results[1].Err)
	assert.Nil(t, results[1].Columns)
	assert.Equal(t, uint64(0), results[1].AffectedRows)
}

func TestWorker_InvalidCondReferenceFailsStepNotDisables(t *testing.T) {
	w := newTestWorker(t, nil)
	identity := auth.Authorized(auth.FullAccess)

	steps := stepsFromSQL(t, "create table t (id int); select 1 from t; select 1 from t")
	// step 1's Cond references a step index that doesn't exist yet:
	// InvalidBatchStep, recorded as Failed rather than Disabled.
	steps[1].Cond = program.Ok(5)
	// step 2 only runs if step 1 failed — it must see step 1 as failed.
	steps[2].Cond = program.Err(1)
	pgm := program.New(steps...)
	builder := resultbuilder.NewRows()

	_, _, err := w.ExecuteProgram(context.Background(), pgm, identity, builder)
	require.NoError(t, err)

	results := builder.Results()
	require.Len(t, results, 3)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, sqlderr.CodeInvalidBatchStep, results[1].Err.Code)
	assert.NotNil(t, results[2].Columns) // step 2 ran: its Cond saw step 1 as failed
}

func TestWorker_ErrorThenConditionalRecoveryStep(t *testing.T) {
	w := newTestWorker(t, nil)
	identity := auth.Authorized(auth.FullAccess)

	steps := stepsFromSQL(t, "insert into missing values (1); create table missing (id int)")
	steps[1].Cond = program.Err(0)
	pgm := program.New(steps...)
	builder := resultbuilder.NewRows()

	_, _, err := w.ExecuteProgram(context.Background(), pgm, identity, builder)
	require.NoError(t, err)

	results := builder.Results()
	require.Len(t, results, 2)
	require.NotNil(t, results[0].Err)
	assert.Nil(t, results[1].Err)
}

func TestWorker_ResponseTooLargeAbortsProgram(t *testing.T) {
	cfg := config.NewServer()
	w, err := New(context.Background(), enginetest.Open(0), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{MaxSize: 4}, nil)
	require.NoError(t, err)
	defer w.Close()
	identity := auth.Authorized(auth.FullAccess)

	create := program.New(stepsFromSQL(t, "create table t (id int)")...)
	_, _, err = w.ExecuteProgram(context.Background(), create, identity, resultbuilder.NewRows())
	require.NoError(t, err)

	// Blind inserts never touch the size budget (no columns, no rows), so
	// a thousand of them go through even with a tiny MaxSize.
	var insertSteps []program.Step
	for i := 0; i < 1000; i++ {
		insertSteps = append(insertSteps, program.Step{Query: program.Query{
			Stmt:     classify.NewUnchecked("insert into t values (1)"),
			WantRows: true,
		}})
	}
	_, _, err = w.ExecuteProgram(context.Background(), program.New(insertSteps...), identity, resultbuilder.NewRows())
	require.NoError(t, err)

	// Reading them all back blows straight through the 4-byte budget.
	sel := program.New(stepsFromSQL(t, "select id from t")...)
	builder := resultbuilder.NewRows()

	_, _, err = w.ExecuteProgram(context.Background(), sel, identity, builder)
	require.Error(t, err)
	assert.True(t, sqlderr.Is(err, sqlderr.CodeResponseTooLarge))
}

func TestWorker_DescribeRejectsAnonymous(t *testing.T) {
	w := newTestWorker(t, nil)
	_, err := w.Describe(context.Background(), "select 1", auth.Anonymous())
	require.Error(t, err)
}

func TestWorker_DescribeRejectsInsideTransaction(t *testing.T) {
	w := newTestWorker(t, nil)
	identity := auth.Authorized(auth.FullAccess)

	begin := program.New(stepsFromSQL(t, "begin")...)
	_, _, err := w.ExecuteProgram(context.Background(), begin, identity, resultbuilder.NewRows())
	require.NoError(t, err)

	_, err = w.Describe(context.Background(), "select 1", identity)
	require.Error(t, err)
}

func TestWorker_DescribeReportsColumns(t *testing.T) {
	w := newTestWorker(t, nil)
	identity := auth.Authorized(auth.FullAccess)

	create := program.New(stepsFromSQL(t, "create table t (id int, name text)")...)
	_, _, err := w.ExecuteProgram(context.Background(), create, identity, resultbuilder.NewRows())
	require.NoError(t, err)

	resp, err := w.Describe(context.Background(), "select id, name from t", identity)
	require.NoError(t, err)
	assert.True(t, resp.IsReadOnly)
	require.Len(t, resp.Cols, 2)
	assert.Equal(t, "id", resp.Cols[0].Name)
	assert.Equal(t, "name", resp.Cols[1].Name)
}

func TestWorker_OpenRetriesOnBusy(t *testing.T) {
	cfg := config.NewServer()
	cfg.OpenRetryDelay = time.Millisecond
	w, err := New(context.Background(), enginetest.Open(3), ":memory:", nil, cfg, config.NewStore(), resultbuilder.Config{}, nil)
	require.NoError(t, err)
	defer w.Close()
}

func TestWorker_BlockWritesRejectsWriteStep(t *testing.T) {
	w := newTestWorker(t, nil)
	identity := auth.Authorized(auth.FullAccess)
	w.store.SetBlockWrites(true, "maintenance window")

	pgm := program.New(stepsFromSQL(t, "create table t (id int)")...)
	builder := resultbuilder.NewRows()
	_, _, err := w.ExecuteProgram(context.Background(), pgm, identity, builder)
	require.NoError(t, err)

	results := builder.Results()
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Err)
	assert.Equal(t, sqlderr.CodeBlocked, results[0].Err.Code)
}
