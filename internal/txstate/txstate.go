// Package txstate tracks the transaction lifecycle of a connection worker
// as a small state machine driven by classified statement kinds.
package txstate

import (
	"fmt"
	"time"

	"github.com/libsqlgo/sqld/internal/classify"
)

// State is a transaction lifecycle state.
type State int

const (
	// Init is the state of a connection with no open transaction.
	Init State = iota
	// Txn is the state of a connection with an open transaction.
	Txn
	// Invalid is reached only by a programmer error in the statement
	// stream driving the machine; it is terminal for the run.
	Invalid
)

func (s State) String() string {
	switch s {
	case Init:
		return "init"
	case Txn:
		return "txn"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// InvalidTransitionPanic is the value recovered by the worker boundary when
// the machine reaches Invalid. It is a programmer error, not a normal
// runtime failure, so it is surfaced as a panic rather than an error return.
type InvalidTransitionPanic struct {
	From State
	Kind classify.StmtKind
}

func (p InvalidTransitionPanic) Error() string {
	return fmt.Sprintf("txstate: invalid transition from %s on %s", p.From, p.Kind)
}

// Machine is the per-worker transaction state plus its timeout deadline.
type Machine struct {
	state    State
	deadline *time.Time
}

// New returns a machine in the Init state with no deadline armed.
func New() *Machine {
	return &Machine{state: Init}
}

// State returns the current lifecycle state.
func (m *Machine) State() State { return m.state }

// Deadline returns the current timeout deadline, if a transaction is open.
func (m *Machine) Deadline() (time.Time, bool) {
	if m.deadline == nil {
		return time.Time{}, false
	}
	return *m.deadline, true
}

// Step advances the machine on the statement kind that was just executed.
// txnTimeout is the duration armed on Init->Txn; it is ignored on any other
// transition. Step panics with InvalidTransitionPanic if the statement
// stream reaches the Invalid state: that can only happen if a caller fed
// TxnBegin while already in Txn, or TxnEnd while in Init, both of which are
// bugs in the caller, not something a well-formed client can trigger
// through normal use (the evaluator never double-issues TxnBegin/TxnEnd).
func (m *Machine) Step(kind classify.StmtKind, txnTimeout time.Duration) {
	switch {
	case m.state == Init && kind == classify.TxnBegin:
		m.state = Txn
		m.ArmDeadline(txnTimeout)
	case m.state == Txn && kind == classify.TxnEnd:
		m.state = Init
		m.ClearDeadline()
	case m.state == Txn && kind == classify.TxnBegin:
		m.state = Invalid
		panic(InvalidTransitionPanic{From: Txn, Kind: kind})
	case m.state == Init && kind == classify.TxnEnd:
		m.state = Invalid
		panic(InvalidTransitionPanic{From: Init, Kind: kind})
	case m.state == Invalid:
		// terminal; no-op besides staying Invalid.
	default:
		// Read, Write, Other: no state change.
	}
}

// ArmDeadline sets the timeout deadline to now+d.
func (m *Machine) ArmDeadline(d time.Duration) {
	t := time.Now().Add(d)
	m.deadline = &t
}

// ClearDeadline removes any armed deadline.
func (m *Machine) ClearDeadline() {
	m.deadline = nil
}

// Reset returns the machine to Init and clears any deadline, used after a
// transaction timeout rollback.
func (m *Machine) Reset() {
	m.state = Init
	m.deadline = nil
}
