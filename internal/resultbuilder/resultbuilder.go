// Package resultbuilder implements the streaming sink the program
// evaluator drains query results into, with a running byte-size budget.
package resultbuilder

import (
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/value"
)

// Config configures a Builder. MaxSize of 0 means unlimited.
type Config struct {
	MaxSize uint64
}

// Builder is the streaming sink described in spec.md §4.D. Every method
// may fail with a *sqlderr.Error (CodeResponseTooLarge) when appending
// would exceed the configured budget; on overflow the evaluator aborts the
// whole program with that error and the transaction state is left
// unchanged.
type Builder interface {
	Init(cfg Config) error
	BeginStep() error
	ColsDescription(cols []value.Column) error
	BeginRows() error
	BeginRow() error
	AddRowValue(v value.Value) error
	FinishRow() error
	FinishRows() error
	FinishStep(affected uint64, lastInsertRowID *int64) error
	StepError(e *sqlderr.Error) error
	Finish() error
}

// sizeBudget is embedded by every Builder implementation that actually
// counts bytes; DiscardBuilder shares it too since it must report
// ResponseTooLarge the same way a caller testing size limits expects.
type sizeBudget struct {
	cfg   Config
	total uint64
}

func (b *sizeBudget) init(cfg Config) { b.cfg = cfg; b.total = 0 }

// charge adds n bytes to the running total, failing if that would cross
// cfg.MaxSize. The running total is only committed to b.total when it
// doesn't overflow, so a rejected call leaves state for the prior steps of
// the program untouched per spec.md §8's property.
func (b *sizeBudget) charge(n uint64) error {
	if b.cfg.MaxSize == 0 {
		b.total += n
		return nil
	}
	next := b.total + n
	if next > b.cfg.MaxSize {
		return sqlderr.ResponseTooLarge(b.cfg.MaxSize)
	}
	b.total = next
	return nil
}
