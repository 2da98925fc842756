// Package engine defines the narrow interface the core depends on for the
// embedded storage engine (file-backed B-tree/pager with WAL). The engine
// itself — its parser, its page cache, its on-disk B-tree format — is out
// of scope per spec.md §1: this package only names the shape of the
// collaborator the rest of the core is written against, so that the
// worker, evaluator, and replication log can be implemented and tested
// without a real embedded engine linked in.
package engine

import (
	"context"

	"github.com/libsqlgo/sqld/internal/value"
)

// BusyError is returned by Open or by a prepared statement when the engine
// reports a transient "database is locked/busy" condition. Callers retry.
type BusyError struct{ Err error }

func (e *BusyError) Error() string { return "database is busy: " + e.Err.Error() }
func (e *BusyError) Unwrap() error { return e.Err }

// OpenFlags mirrors the flag bits the spec requires at open time
// (READWRITE | CREATE | URI | NOMUTEX), kept as an opaque bitmask so the
// concrete engine binding decides their numeric values.
type OpenFlags uint32

const (
	FlagReadWrite OpenFlags = 1 << iota
	FlagCreate
	FlagURI
	FlagNoMutex
)

const DefaultOpenFlags = FlagReadWrite | FlagCreate | FlagURI | FlagNoMutex

// Conn is one connection handle to the embedded engine. It is not safe for
// concurrent use — exactly one goroutine (the connection worker's
// dedicated thread-equivalent) may call into it at a time.
type Conn interface {
	Prepare(ctx context.Context, sql string) (Stmt, error)
	// Exec runs sql directly with no parameters and no result capture. Used
	// for ROLLBACK/COMMIT housekeeping.
	Exec(ctx context.Context, sql string) error
	IsAutocommit() bool
	Changes() int64
	LastInsertRowID() int64
	LoadExtension(path string) error
	Close() error
}

// Stmt is a prepared statement ready for parameter binding and iteration.
type Stmt interface {
	Columns() []value.Column
	ParamCount() int
	ParamName(i int) (string, bool)
	BindPositional(values []value.Value) error
	BindNamed(values map[string]value.Value) error
	// Step advances to the next row. It returns false (with a nil error)
	// once iteration is exhausted.
	Step(ctx context.Context) (bool, error)
	// Row reads the current row after a successful Step.
	Row() (value.Row, error)
	IsExplain() bool
	IsReadOnly() bool
	Close() error
}

// OpenFunc opens a new connection to the database at path, wiring the
// given WAL hook context. Concrete bindings (real or fake, for tests)
// satisfy this signature.
type OpenFunc func(ctx context.Context, path string, flags OpenFlags, hook WalHook) (Conn, error)

// PageSize is the only page size the replication log's frame format
// supports (spec.md §3, §4.H, and the Open Question in §9: larger pages
// surface a configuration error rather than being silently accepted).
const PageSize = 4096

// WalPage is one dirty page observed by the WAL hook during a frame batch.
type WalPage struct {
	PageNo    uint32
	SizeAfter uint32 // 0 unless this is the last page of a committing batch
	Data      [PageSize]byte
}

// CheckpointMode mirrors the engine's checkpoint strengths; only Truncate
// triggers replication-log notification (spec.md §4.H).
type CheckpointMode int

const (
	CheckpointPassive CheckpointMode = iota
	CheckpointFull
	CheckpointRestart
	CheckpointTruncate
)

// WalHook is the callback surface the engine invokes on every WAL frame
// batch, undo, savepoint-undo, and checkpoint, all under the engine's own
// internal write lock (spec.md §4.H, §9 "WAL hook re-entrancy": the hook
// must never call back into the same engine connection).
type WalHook interface {
	// OnFrames is called once per committed-or-rolled-back batch of dirty
	// pages. pageSize must equal PageSize; callers that see anything else
	// must abort rather than silently proceed (spec.md Open Question).
	OnFrames(pageSize int, pages []WalPage, truncate uint32, isCommit bool) error
	OnUndo() error
	OnSavepointUndo() error
	OnCheckpoint(mode CheckpointMode) error
}
