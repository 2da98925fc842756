package resultbuilder

import (
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/value"
)

// DiscardBuilder counts bytes against the size budget but keeps no rows or
// columns, mirroring the original implementation's IgnoreResult test
// double. Used for warm-up queries and for tests of the evaluator/worker
// that only care whether a program succeeds within its size budget.
type DiscardBuilder struct {
	sizeBudget
}

var _ Builder = (*DiscardBuilder)(nil)

func NewDiscard() *DiscardBuilder { return &DiscardBuilder{} }

func (b *DiscardBuilder) Init(cfg Config) error { b.init(cfg); return nil }
func (b *DiscardBuilder) BeginStep() error      { return nil }

func (b *DiscardBuilder) ColsDescription(cols []value.Column) error {
	var size uint64
	for _, c := range cols {
		size += uint64(len(c.Name)) + uint64(len(c.DeclType))
	}
	return b.charge(size)
}

func (b *DiscardBuilder) BeginRows() error { return nil }
func (b *DiscardBuilder) BeginRow() error  { return nil }

func (b *DiscardBuilder) AddRowValue(v value.Value) error {
	return b.charge(v.EncodedSize())
}

func (b *DiscardBuilder) FinishRow() error  { return nil }
func (b *DiscardBuilder) FinishRows() error { return nil }

func (b *DiscardBuilder) StepError(e *sqlderr.Error) error {
	return b.charge(uint64(len(e.Message)))
}

func (b *DiscardBuilder) FinishStep(affected uint64, lastInsertRowID *int64) error {
	return nil
}

func (b *DiscardBuilder) Finish() error { return nil }
