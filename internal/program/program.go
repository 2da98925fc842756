// Package program models an ordered sequence of conditionally-guarded
// statement steps submitted and executed as a single atomic unit from the
// client's point of view.
package program

import (
	"github.com/libsqlgo/sqld/internal/classify"
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/libsqlgo/sqld/internal/value"
)

// Query is one statement plus its bound parameters and whether the caller
// wants row data back (vs. just the affected-row count).
type Query struct {
	Stmt     classify.Statement
	Params   value.Params
	WantRows bool
}

// Cond is a boolean expression over the outcomes of earlier steps in the
// same program. It is a closed sum type: the only constructors are the
// package-level Ok/Err/Not/And/Or functions, and Eval
// is the only way to consume one.
type Cond interface {
	isCond()
}

type condOk struct{ step int }
type condErr struct{ step int }
type condNot struct{ inner Cond }
type condAnd struct{ conds []Cond }
type condOr struct{ conds []Cond }

func (condOk) isCond()  {}
func (condErr) isCond() {}
func (condNot) isCond() {}
func (condAnd) isCond() {}
func (condOr) isCond()  {}

// Ok builds a Cond that is true iff step succeeded.
func Ok(step int) Cond { return condOk{step: step} }

// Err builds a Cond that is true iff step failed.
func Err(step int) Cond { return condErr{step: step} }

// Not builds a Cond that inverts inner.
func Not(inner Cond) Cond { return condNot{inner: inner} }

// And builds a Cond that is true iff every child is true, short-circuiting
// left to right.
func And(conds ...Cond) Cond { return condAnd{conds: conds} }

// Or builds a Cond that is true iff any child is true, short-circuiting
// left to right.
func Or(conds ...Cond) Cond { return condOr{conds: conds} }

// Step is one element of a program: a query plus an optional guard over
// earlier steps' outcomes. A nil Cond means the step is always enabled.
type Step struct {
	Query Query
	Cond  Cond
}

// Program is an ordered, immutable-once-built list of steps.
type Program struct {
	Steps []Step
}

// New builds a Program from steps. Each step's Cond, if present, may only
// reference indices strictly less than the step's own position; that
// invariant is enforced at evaluation time (per spec.md §4.C) rather than
// at construction, since it depends on runtime results, not structure.
func New(steps ...Step) *Program {
	return &Program{Steps: append([]Step(nil), steps...)}
}

// Seq builds a Program of unconditional writes, one per statement — the
// common case of "just run these statements in order", mirrored on the
// original implementation's Program::seq test helper.
func Seq(stmts ...string) *Program {
	steps := make([]Step, len(stmts))
	for i, s := range stmts {
		steps[i] = Step{Query: Query{Stmt: classify.NewUnchecked(s), WantRows: true}}
	}
	return New(steps...)
}

// Outcome is the recorded result of one step, as seen by later Conds.
// Disabled is distinct from both Ok and Failed: per spec.md §4.C, "a
// disabled step is considered not ok and not err", so neither an Ok nor
// an Err cond is true for it.
type Outcome int

const (
	Disabled Outcome = iota
	Succeeded
	Failed
)

// Eval evaluates cond against the outcomes of steps 0..len(results). An
// out-of-range step index fails with InvalidBatchStep.
func Eval(cond Cond, results []Outcome) (bool, error) {
	switch c := cond.(type) {
	case condOk:
		o, err := resultAt(results, c.step)
		if err != nil {
			return false, err
		}
		return o == Succeeded, nil
	case condErr:
		o, err := resultAt(results, c.step)
		if err != nil {
			return false, err
		}
		return o == Failed, nil
	case condNot:
		ok, err := Eval(c.inner, results)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case condAnd:
		acc := true
		for _, child := range c.conds {
			ok, err := Eval(child, results)
			if err != nil {
				return false, err
			}
			acc = acc && ok
			if !acc {
				return false, nil // short-circuit
			}
		}
		return acc, nil
	case condOr:
		acc := false
		for _, child := range c.conds {
			ok, err := Eval(child, results)
			if err != nil {
				return false, err
			}
			acc = acc || ok
			if acc {
				return true, nil // short-circuit
			}
		}
		return acc, nil
	default:
		return false, sqlderr.New(sqlderr.CodeInternal, "unknown cond type")
	}
}

func resultAt(results []Outcome, step int) (Outcome, error) {
	if step < 0 || step >= len(results) {
		return Disabled, sqlderr.InvalidBatchStep(step)
	}
	return results[step], nil
}
