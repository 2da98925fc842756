package replica

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	execs []string
}

func (c *fakeConn) Exec(ctx context.Context, sql string) error {
	c.execs = append(c.execs, sql)
	return nil
}

type sliceQueue struct {
	frames [][]byte
	idx    int
}

func (q *sliceQueue) Next() ([]byte, bool) {
	if q.idx >= len(q.frames) {
		return nil, false
	}
	f := q.frames[q.idx]
	q.idx++
	return f, true
}

func TestInjector_AppliesWholeBatchThenReportsDone(t *testing.T) {
	conn := &fakeConn{}
	inj := New(conn)
	q := &sliceQueue{frames: [][]byte{{1}, {2}, {3}}}

	for {
		result, err := inj.ApplyBatch(context.Background(), q)
		require.NoError(t, err)
		if result == Done {
			break
		}
	}

	assert.Equal(t, "PRAGMA writable_schema=ON", conn.execs[0])
	assert.Equal(t, "PRAGMA writable_schema=OFF", conn.execs[len(conn.execs)-1])
	assert.Equal(t, idle, inj.state)
}

func TestInjector_EmptyBatchIsImmediatelyDone(t *testing.T) {
	conn := &fakeConn{}
	inj := New(conn)
	q := &sliceQueue{}

	result, err := inj.ApplyBatch(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, Done, result)
}

func TestInjector_ExecErrorResetsToIdle(t *testing.T) {
	conn := &failingConn{failAfter: 1}
	inj := New(conn)
	q := &sliceQueue{frames: [][]byte{{1}, {2}}}

	_, err := inj.ApplyBatch(context.Background(), q)
	require.Error(t, err)
	assert.Equal(t, idle, inj.state)
}

type failingConn struct {
	calls     int
	failAfter int
}

func (c *failingConn) Exec(ctx context.Context, sql string) error {
	c.calls++
	if c.calls > c.failAfter {
		return assert.AnError
	}
	return nil
}
