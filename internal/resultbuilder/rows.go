package resultbuilder

import (
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/value"
)

// StepResult is the outcome of one program step, as accumulated by
// RowsBuilder: either a result set (ResultRows) or a structured error.
// Exactly one of Err and the row fields is meaningful, discriminated by
// Err being non-nil.
type StepResult struct {
	Columns         []value.Column
	Rows            []value.Row
	AffectedRows    uint64
	LastInsertRowID *int64
	Err             *sqlderr.Error
}

// RowsBuilder is the Builder used by the execution adapter (component K):
// it accumulates full per-step results for translation to the wire form.
type RowsBuilder struct {
	sizeBudget

	results []StepResult

	cols     []value.Column
	rows     []value.Row
	curRow   value.Row
	stepErr  *sqlderr.Error
}

var _ Builder = (*RowsBuilder)(nil)

// NewRows returns an empty RowsBuilder.
func NewRows() *RowsBuilder { return &RowsBuilder{} }

func (b *RowsBuilder) Init(cfg Config) error {
	b.init(cfg)
	b.results = nil
	return nil
}

func (b *RowsBuilder) BeginStep() error {
	b.cols = nil
	b.rows = nil
	b.curRow = nil
	b.stepErr = nil
	return nil
}

func (b *RowsBuilder) ColsDescription(cols []value.Column) error {
	var size uint64
	for _, c := range cols {
		size += uint64(len(c.Name)) + uint64(len(c.DeclType))
	}
	if err := b.charge(size); err != nil {
		return err
	}
	b.cols = append([]value.Column(nil), cols...)
	return nil
}

func (b *RowsBuilder) BeginRows() error { return nil }

func (b *RowsBuilder) BeginRow() error {
	b.curRow = nil
	return nil
}

func (b *RowsBuilder) AddRowValue(v value.Value) error {
	if err := b.charge(v.EncodedSize()); err != nil {
		return err
	}
	b.curRow = append(b.curRow, v)
	return nil
}

func (b *RowsBuilder) FinishRow() error {
	b.rows = append(b.rows, b.curRow)
	b.curRow = nil
	return nil
}

func (b *RowsBuilder) FinishRows() error { return nil }

func (b *RowsBuilder) StepError(e *sqlderr.Error) error {
	if err := b.charge(uint64(len(e.Message))); err != nil {
		return err
	}
	b.stepErr = e
	return nil
}

// FinishStep closes out the current step. If StepError was called for this
// step, the accumulated columns/rows are discarded and an error result is
// recorded instead — step_error and finish_step are mutually exclusive per
// spec.md §4.D.
func (b *RowsBuilder) FinishStep(affected uint64, lastInsertRowID *int64) error {
	if b.stepErr != nil {
		b.results = append(b.results, StepResult{Err: b.stepErr})
		return nil
	}
	b.results = append(b.results, StepResult{
		Columns:         b.cols,
		Rows:            b.rows,
		AffectedRows:    affected,
		LastInsertRowID: lastInsertRowID,
	})
	return nil
}

func (b *RowsBuilder) Finish() error { return nil }

// Results returns the accumulated per-step results (component D's
// into_ret, specialized to RowsBuilder's concrete shape).
func (b *RowsBuilder) Results() []StepResult { return b.results }
