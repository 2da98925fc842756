package txstate

import (
	"testing"
	"time"

	"github.com/libsqlgo/sqld/internal/classify"
	"github.com/stretchr/testify/assert"
)

func TestStep_InitToTxnArmsDeadline(t *testing.T) {
	m := New()
	m.Step(classify.TxnBegin, time.Minute)
	assert.Equal(t, Txn, m.State())
	_, armed := m.Deadline()
	assert.True(t, armed)
}

func TestStep_TxnToInitClearsDeadline(t *testing.T) {
	m := New()
	m.Step(classify.TxnBegin, time.Minute)
	m.Step(classify.TxnEnd, 0)
	assert.Equal(t, Init, m.State())
	_, armed := m.Deadline()
	assert.False(t, armed)
}

func TestStep_ReadWriteOtherAreNoOps(t *testing.T) {
	m := New()
	for _, k := range []classify.StmtKind{classify.Read, classify.Write, classify.Other} {
		m.Step(k, time.Minute)
		assert.Equal(t, Init, m.State())
	}
	m.Step(classify.TxnBegin, time.Minute)
	for _, k := range []classify.StmtKind{classify.Read, classify.Write, classify.Other} {
		m.Step(k, time.Minute)
		assert.Equal(t, Txn, m.State())
	}
}

func TestStep_DoubleBeginPanics(t *testing.T) {
	m := New()
	m.Step(classify.TxnBegin, time.Minute)
	assert.PanicsWithValue(t, InvalidTransitionPanic{From: Txn, Kind: classify.TxnBegin}, func() {
		m.Step(classify.TxnBegin, time.Minute)
	})
}

func TestStep_EndWithoutBeginPanics(t *testing.T) {
	m := New()
	assert.PanicsWithValue(t, InvalidTransitionPanic{From: Init, Kind: classify.TxnEnd}, func() {
		m.Step(classify.TxnEnd, time.Minute)
	})
}

func TestReset(t *testing.T) {
	m := New()
	m.Step(classify.TxnBegin, time.Minute)
	m.Reset()
	assert.Equal(t, Init, m.State())
	_, armed := m.Deadline()
	assert.False(t, armed)
}

// TestFoldKindSequence verifies the §8 property: folding a kind sequence
// through Step from Init, with no conds and all steps succeeding, matches
// running a program start to finish.
func TestFoldKindSequence(t *testing.T) {
	kinds := []classify.StmtKind{classify.TxnBegin, classify.Write, classify.Write, classify.TxnEnd}
	m := New()
	for _, k := range kinds {
		m.Step(k, time.Minute)
	}
	assert.Equal(t, Init, m.State())
}
