// Package worker implements the per-connection execution worker: it owns
// one engine handle, serializes all access to it through a command
// channel, drives transaction state with a timeout deadline, and runs
// programs and describe requests against the engine.
package worker

import (
	"context"
	"time"

	"github.com/libsqlgo/sqld/internal/auth"
	"github.com/libsqlgo/sqld/internal/classify"
	"github.com/libsqlgo/sqld/internal/config"
	"github.com/libsqlgo/sqld/internal/engine"
	"github.com/libsqlgo/sqld/internal/program"
	"github.com/libsqlgo/sqld/internal/resultbuilder"
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/txstate"
	"github.com/libsqlgo/sqld/internal/value"
	"github.com/siddontang/loggers"
	"github.com/sirupsen/logrus"
)

// defaultLogger is used when a caller opens a Worker without one, matching
// migration.NewRunner's fallback-to-a-plain-logrus-instance default.
// *logrus.Logger satisfies loggers.Advanced structurally, the same way
// pkg/dbconn/tablelock_test.go passes logrus.New() straight into
// NewTableLock's loggers.Advanced parameter.
func defaultLogger() loggers.Advanced { return logrus.New() }

// DescribeResponse is the result of describing a SQL string without
// running it (spec.md §4.E).
type DescribeResponse struct {
	Params     []DescribeParam
	Cols       []value.Column
	IsExplain  bool
	IsReadOnly bool
}

// DescribeParam names one bind parameter slot.
type DescribeParam struct {
	Name string // empty if the engine reports no name for this slot
}

// cmd is a unit of work run exclusively on the worker's dedicated
// goroutine; it never blocks on anything but the engine itself.
type cmd func(w *Worker)

// Worker owns a single engine.Conn and runs every call into it on one
// goroutine, fed by an unbuffered channel of closures — the Go analogue of
// the original's dedicated OS thread plus crossbeam channel (spec.md §4.E,
// §9 "enforce by construction"). The channel holds no queue of its own: a
// sender blocks until the goroutine takes its command, and the order in
// which several blocked senders are served is not defined.
type Worker struct {
	cmds   chan cmd
	logger loggers.Advanced

	cfg        *config.Server
	store      *config.Store
	builderCfg resultbuilder.Config

	conn      engine.Conn
	machine   *txstate.Machine
	timedOut  bool
}

// New opens the engine (retrying transient busy errors a fixed number of
// times at a fixed backoff, per spec.md §4.E), loads cfg's extensions into
// it, and starts the worker's goroutine. It blocks until the initial open
// completes or fails.
func New(ctx context.Context, open engine.OpenFunc, dbPath string, hook engine.WalHook, cfg *config.Server, store *config.Store, builderCfg resultbuilder.Config, logger loggers.Advanced) (*Worker, error) {
	if logger == nil {
		logger = defaultLogger()
	}

	conn, err := openWithRetry(ctx, open, dbPath, hook, cfg)
	if err != nil {
		return nil, err
	}

	if err := loadExtensions(conn, cfg.ExtensionPaths, logger); err != nil {
		conn.Close()
		return nil, err
	}

	w := &Worker{
		cmds:       make(chan cmd),
		logger:     logger,
		cfg:        cfg,
		store:      store,
		builderCfg: builderCfg,
		conn:       conn,
		machine:    txstate.New(),
	}
	go w.loop()
	return w, nil
}

// openWithRetry implements the worker's own inner retry loop: one initial
// attempt plus up to cfg.OpenRetryCount retries at a fixed
// cfg.OpenRetryDelay backoff on a transient busy error (spec.md §4.E). The factory's outer cold-start
// retry loop is a separate, longer-running layer (component F).
func openWithRetry(ctx context.Context, open engine.OpenFunc, dbPath string, hook engine.WalHook, cfg *config.Server) (engine.Conn, error) {
	var lastErr error
	for attempt := 0; attempt <= cfg.OpenRetryCount; attempt++ {
		conn, err := open(ctx, dbPath, engine.DefaultOpenFlags, hook)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		var busy *engine.BusyError
		if !isBusy(err, &busy) {
			return nil, err
		}
		if attempt < cfg.OpenRetryCount {
			select {
			case <-time.After(cfg.OpenRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	return nil, lastErr
}

func isBusy(err error, out **engine.BusyError) bool {
	if b, ok := err.(*engine.BusyError); ok {
		*out = b
		return true
	}
	return false
}

// loadExtensions loads each path into conn, one at a time, right after open
// and before the worker's goroutine starts serving commands. That ordering
// is the guard: no other command can reach this conn yet, so loading runs
// with the same exclusivity the original gets from its LoadExtensionGuard
// around conn.load_extension (database/libsql.rs's Connection::new).
func loadExtensions(conn engine.Conn, paths []string, logger loggers.Advanced) error {
	for _, path := range paths {
		if err := conn.LoadExtension(path); err != nil {
			return sqlderr.Wrap(sqlderr.CodeEngine, err, "failed to load extension "+path)
		}
		if logger != nil {
			logger.Debugf("worker: loaded extension %s", path)
		}
	}
	return nil
}

func (w *Worker) loop() {
	defer w.conn.Close()
	for {
		if deadline, armed := w.machine.Deadline(); armed {
			timer := time.NewTimer(time.Until(deadline))
			select {
			case c, ok := <-w.cmds:
				timer.Stop()
				if !ok {
					return
				}
				w.runSafely(c)
			case <-timer.C:
				_ = w.conn.Exec(context.Background(), "ROLLBACK")
				w.timedOut = true
				w.machine.Reset()
			}
		} else {
			c, ok := <-w.cmds
			if !ok {
				return
			}
			w.runSafely(c)
		}
	}
}

// runSafely recovers a txstate.InvalidTransitionPanic — a programmer error
// in the statement stream, not a process-ending fault — by logging it and
// resetting the machine, per spec.md §4.B "aborts the worker" (this
// worker's logical run, not the whole server).
func (w *Worker) runSafely(c cmd) {
	defer func() {
		if r := recover(); r != nil {
			if w.logger != nil {
				w.logger.Errorf("worker: aborting after invalid transaction state transition: %v", r)
			}
			w.machine.Reset()
		}
	}()
	c(w)
}

// send enqueues c and blocks until it has run, unless ctx is cancelled
// first — mirroring the original's oneshot-reply-plus-dropped-on-cancel
// behavior (spec.md §5 "Outer cancellation").
func (w *Worker) send(ctx context.Context, c cmd) {
	done := make(chan struct{})
	wrapped := func(w *Worker) {
		defer close(done)
		c(w)
	}
	select {
	case w.cmds <- wrapped:
	case <-ctx.Done():
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Close stops accepting new commands; in-flight commands still run, then
// the goroutine exits and drops the engine handle last.
func (w *Worker) Close() {
	close(w.cmds)
}

// ExecuteProgram authorizes and runs pgm to completion, streaming results
// into builder. The returned state is the worker's transaction state after
// the program finished.
func (w *Worker) ExecuteProgram(ctx context.Context, pgm *program.Program, identity auth.Identity, builder resultbuilder.Builder) (resultbuilder.Builder, txstate.State, error) {
	if err := program.Authorize(identity, pgm); err != nil {
		return builder, txstate.Init, err
	}

	var finalState txstate.State
	var runErr error
	w.send(ctx, func(w *Worker) {
		finalState, runErr = w.runProgram(pgm, builder)
	})
	return builder, finalState, runErr
}

// runProgram executes entirely on the worker goroutine.
func (w *Worker) runProgram(pgm *program.Program, builder resultbuilder.Builder) (txstate.State, error) {
	if err := builder.Init(w.builderCfg); err != nil {
		return w.currentState(), err
	}

	if w.timedOut {
		w.timedOut = false
		for range pgm.Steps {
			_ = builder.BeginStep()
			_ = builder.StepError(sqlderr.ErrTxTimeout)
			_ = builder.FinishStep(0, nil)
		}
		_ = builder.Finish()
		return txstate.Init, nil
	}

	results := make([]program.Outcome, 0, len(pgm.Steps))
	for i, step := range pgm.Steps {
		outcome, err := w.executeStep(i, step, results, builder)
		if err != nil {
			// Builder-level failure (e.g. ResponseTooLarge) aborts the
			// whole program immediately; the transaction state is left
			// exactly where it was before this step (spec.md §8).
			return w.currentState(), err
		}
		results = append(results, outcome)
	}

	if err := builder.Finish(); err != nil {
		return w.currentState(), err
	}
	return w.currentState(), nil
}

func (w *Worker) currentState() txstate.State {
	if w.conn.IsAutocommit() {
		return txstate.Init
	}
	return txstate.Txn
}

func (w *Worker) executeStep(idx int, step program.Step, results []program.Outcome, builder resultbuilder.Builder) (program.Outcome, error) {
	if err := builder.BeginStep(); err != nil {
		return program.Disabled, err
	}

	enabled := true
	condFailed := false
	if step.Cond != nil {
		ok, err := program.Eval(step.Cond, results)
		if err != nil {
			serr := err.(*sqlderr.Error)
			if bErr := builder.StepError(serr); bErr != nil {
				return program.Disabled, bErr
			}
			enabled = false
			condFailed = true
		} else {
			enabled = ok
		}
	}

	if !enabled {
		if err := builder.FinishStep(0, nil); err != nil {
			return program.Disabled, err
		}
		// A Cond that failed to evaluate (out-of-range step reference) fails
		// this step rather than merely disabling it, so a later Err{} cond
		// referencing it sees it as failed, not as neither-ok-nor-err.
		if condFailed {
			return program.Failed, nil
		}
		return program.Disabled, nil
	}

	affected, lastInsertRowID, execErr := w.executeQuery(step.Query, builder)
	outcome := program.Succeeded
	if execErr != nil {
		if berr, ok := execErr.(*resultBuilderAbort); ok {
			return program.Disabled, berr.err
		}
		serr, ok := execErr.(*sqlderr.Error)
		if !ok {
			serr = sqlderr.Wrap(sqlderr.CodeEngine, execErr, "engine error")
		}
		if err := builder.StepError(serr); err != nil {
			return program.Disabled, err
		}
		affected, lastInsertRowID = 0, nil
		outcome = program.Failed
	}

	if err := builder.FinishStep(affected, lastInsertRowID); err != nil {
		return program.Disabled, err
	}

	kind := step.Query.Stmt.Kind
	if outcome == program.Succeeded {
		w.machine.Step(kind, w.cfg.TxnTimeout)
	}
	return outcome, nil
}

// resultBuilderAbort distinguishes a builder-side failure (which must
// abort the whole program) from an engine-side failure (which is reported
// per-step and execution continues).
type resultBuilderAbort struct{ err error }

func (e *resultBuilderAbort) Error() string { return e.err.Error() }

func (w *Worker) executeQuery(q program.Query, builder resultbuilder.Builder) (uint64, *int64, error) {
	runtime := w.store.Get()
	if blocked, reason := isBlocked(q.Stmt.Kind, runtime); blocked {
		return 0, nil, sqlderr.Blocked(reason)
	}

	stmt, err := w.conn.Prepare(context.Background(), q.Stmt.SQL)
	if err != nil {
		return 0, nil, err
	}
	defer stmt.Close()

	cols := stmt.Columns()
	if err := builder.ColsDescription(cols); err != nil {
		return 0, nil, &resultBuilderAbort{err}
	}

	if q.Params.IsNamed() {
		if err := stmt.BindNamed(q.Params.Named); err != nil {
			return 0, nil, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "failed to bind named parameters")
		}
	} else if err := stmt.BindPositional(q.Params.Positional); err != nil {
		return 0, nil, sqlderr.Wrap(sqlderr.CodeInvalidParams, err, "failed to bind positional parameters")
	}

	if err := builder.BeginRows(); err != nil {
		return 0, nil, &resultBuilderAbort{err}
	}
	for {
		has, err := stmt.Step(context.Background())
		if err != nil {
			return 0, nil, err
		}
		if !has {
			break
		}
		row, err := stmt.Row()
		if err != nil {
			return 0, nil, err
		}
		if err := builder.BeginRow(); err != nil {
			return 0, nil, &resultBuilderAbort{err}
		}
		for _, v := range row {
			if err := builder.AddRowValue(v); err != nil {
				return 0, nil, &resultBuilderAbort{err}
			}
		}
		if err := builder.FinishRow(); err != nil {
			return 0, nil, &resultBuilderAbort{err}
		}
	}
	if err := builder.FinishRows(); err != nil {
		return 0, nil, &resultBuilderAbort{err}
	}

	var affected uint64
	if q.Stmt.IsIUD {
		affected = uint64(w.conn.Changes())
	}
	var lastInsertRowID *int64
	if q.Stmt.IsInsert {
		id := w.conn.LastInsertRowID()
		lastInsertRowID = &id
	}
	return affected, lastInsertRowID, nil
}

func isBlocked(kind classify.StmtKind, r config.Runtime) (bool, string) {
	switch kind {
	case classify.Read, classify.TxnBegin, classify.Other:
		return r.BlockReads, r.BlockReason
	case classify.Write:
		return r.BlockReads || r.BlockWrites, r.BlockReason
	case classify.TxnEnd:
		return false, ""
	default:
		return false, ""
	}
}

// Describe prepares sql and reports its parameters and result columns
// without executing it. It must not run while a transaction is open
// (spec.md §4.E); if the engine itself forbids describing mid-transaction,
// its error is surfaced verbatim.
func (w *Worker) Describe(ctx context.Context, sql string, identity auth.Identity) (DescribeResponse, error) {
	if err := program.AuthorizeDescribe(identity); err != nil {
		return DescribeResponse{}, err
	}

	var resp DescribeResponse
	var outErr error
	w.send(ctx, func(w *Worker) {
		if w.machine.State() == txstate.Txn {
			outErr = sqlderr.New(sqlderr.CodeInternal, "describe is not allowed inside a transaction")
			return
		}
		stmt, err := w.conn.Prepare(context.Background(), sql)
		if err != nil {
			outErr = err
			return
		}
		defer stmt.Close()

		params := make([]DescribeParam, 0, stmt.ParamCount())
		for i := 1; i <= stmt.ParamCount(); i++ {
			name, _ := stmt.ParamName(i)
			params = append(params, DescribeParam{Name: name})
		}
		resp = DescribeResponse{
			Params:     params,
			Cols:       stmt.Columns(),
			IsExplain:  stmt.IsExplain(),
			IsReadOnly: stmt.IsReadOnly(),
		}
	})
	return resp, outErr
}
