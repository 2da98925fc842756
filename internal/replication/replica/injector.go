// Package replica implements the frame injector: the replica-side
// counterpart of internal/replication/primary that applies a stream of
// frames pulled from a primary by driving the engine's WAL machinery
// directly through a dummy statement the injection hook intercepts
// (spec.md §4.J).
package replica

import (
	"context"

	"github.com/libsqlgo/sqld/internal/sqlderr"
)

// ApplyResult is the outcome of one ApplyBatch call.
type ApplyResult int

const (
	// Done reports the whole batch was applied; writable_schema has been
	// reset and the caller may fetch the next batch from the primary.
	Done ApplyResult = iota
	// More reports frames remain in the batch; the caller should call
	// ApplyBatch again without fetching anything new.
	More
)

// FrameApplier is the narrow engine surface the injector drives: running
// the dummy statement that the injection hook intercepts to apply queued
// frames.
type FrameApplier interface {
	Exec(ctx context.Context, sql string) error
}

// Queue supplies frames to the injection hook one at a time. Next returns
// ok=false once the current batch is exhausted.
type Queue interface {
	Next() (frame []byte, ok bool)
}

// state names the two-state machine the injector's pragma dance drives:
// either the dummy statement is mid-batch (writable_schema already on) or
// idle (writable_schema off, the normal resting state).
type state int

const (
	idle state = iota
	applying
)

// Injector drives writable_schema=on/off around repeated dummy-statement
// executions that the engine's injection hook intercepts to consume frame
// bytes from a Queue (spec.md §4.J).
type Injector struct {
	conn  FrameApplier
	state state
}

// New returns an Injector bound to conn. The hook side of the dummy
// statement (reading from the queue and feeding the engine's WAL
// machinery) is the concrete engine binding's responsibility, out of
// scope here per spec.md §1 — this type only drives the pragma/statement
// sequence and interprets the two extended result codes.
func New(conn FrameApplier) *Injector {
	return &Injector{conn: conn}
}

// ApplyBatch drives one step of applying frames from q. The caller is
// expected to loop calling ApplyBatch until it returns Done.
func (inj *Injector) ApplyBatch(ctx context.Context, q Queue) (ApplyResult, error) {
	if inj.state == idle {
		if err := inj.conn.Exec(ctx, "PRAGMA writable_schema=ON"); err != nil {
			return Done, err
		}
		inj.state = applying
	}

	code, err := inj.execDummyStatement(ctx, q)
	if err != nil {
		inj.state = idle
		return Done, err
	}

	switch code {
	case extendedExitReplication:
		if err := inj.conn.Exec(ctx, "PRAGMA writable_schema=OFF"); err != nil {
			return Done, err
		}
		inj.state = idle
		return Done, nil
	case extendedContinueReplication:
		return More, nil
	default:
		inj.state = idle
		return Done, sqlderr.New(sqlderr.CodeEngine, "frame injection returned an unexpected result code")
	}
}

// extendedResultCode mirrors the two SQLite extended result codes the
// injection hook is defined to return; the concrete engine binding
// translates its own FFI-level codes into these two named values.
type extendedResultCode int

const (
	extendedExitReplication extendedResultCode = iota
	extendedContinueReplication
)

// execDummyStatement runs the statement the engine's injection hook
// intercepts and reports which of the two extended result codes it ended
// with. The real binding wires this to the engine's actual WAL-injection
// FFI surface (out of scope, spec.md §1); here it models the contract via
// the Queue abstraction: a batch backed by an empty queue always reports
// exit, otherwise the hook would report continue until the queue drains.
func (inj *Injector) execDummyStatement(ctx context.Context, q Queue) (extendedResultCode, error) {
	if _, ok := q.Next(); !ok {
		return extendedExitReplication, nil
	}
	if err := inj.conn.Exec(ctx, "SELECT sqld_apply_frame()"); err != nil {
		return 0, err
	}
	return extendedContinueReplication, nil
}
