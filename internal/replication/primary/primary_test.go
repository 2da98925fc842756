package primary

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/libsqlgo/sqld/internal/config"
	"github.com/libsqlgo/sqld/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(b byte) [engine.PageSize]byte {
	var p [engine.PageSize]byte
	for i := range p {
		p[i] = b
	}
	return p
}

func TestLogger_OpenCreatesFreshLogWhenAbsent(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewServer()
	l, err := Open(dir, uuid.New(), cfg, nil, nil, nil)
	require.NoError(t, err)
	defer l.Close()
	assert.Equal(t, uint64(0), l.Notifier().Last())
}

func TestHook_OnFramesCommitsAndPublishes(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewServer()
	l, err := Open(dir, uuid.New(), cfg, nil, nil, nil)
	require.NoError(t, err)
	defer l.Close()

	hook := l.Hook()
	p1 := page(0x01)
	p2 := page(0x02)
	pages := []engine.WalPage{
		{PageNo: 1, Data: p1},
		{PageNo: 2, Data: p2},
	}
	require.NoError(t, hook.OnFrames(engine.PageSize, pages, 2, true))

	assert.Equal(t, uint64(2), l.Notifier().Last())

	got, err := l.GetFrame(0)
	require.NoError(t, err)
	assert.Equal(t, p1[:], got)
}

func TestHook_OnFramesRejectsWrongPageSize(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewServer()
	l, err := Open(dir, uuid.New(), cfg, nil, nil, nil)
	require.NoError(t, err)
	defer l.Close()

	err = l.Hook().OnFrames(8192, nil, 0, true)
	require.Error(t, err)
}

func TestHook_OnUndoRollsBackUncommittedFrames(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewServer()
	l, err := Open(dir, uuid.New(), cfg, nil, nil, nil)
	require.NoError(t, err)
	defer l.Close()

	hook := l.Hook()
	p1 := page(0x01)
	require.NoError(t, hook.OnFrames(engine.PageSize, []engine.WalPage{{PageNo: 1, Data: p1}}, 0, false))
	require.NoError(t, hook.OnUndo())

	_, err = l.GetFrame(0)
	require.Error(t, err) // never committed, so it's "ahead" of the log
}

type fakeBackup struct {
	frames      []uint64
	checkpoints int
}

func (b *fakeBackup) NotifyFrame(n uint64) error { b.frames = append(b.frames, n); return nil }
func (b *fakeBackup) NotifyCheckpoint() error     { b.checkpoints++; return nil }

func TestHook_OnCheckpointOnlyNotifiesOnTruncate(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewServer()
	backup := &fakeBackup{}
	l, err := Open(dir, uuid.New(), cfg, nil, backup, nil)
	require.NoError(t, err)
	defer l.Close()

	hook := l.Hook()
	require.NoError(t, hook.OnCheckpoint(engine.CheckpointPassive))
	assert.Equal(t, 0, backup.checkpoints)

	require.NoError(t, hook.OnCheckpoint(engine.CheckpointTruncate))
	assert.Equal(t, 1, backup.checkpoints)
}

func TestLogger_CompactsPastMaxFrameCount(t *testing.T) {
	dir := t.TempDir()
	cfg := config.NewServer()
	cfg.MaxLogFrameCount = 1
	l, err := Open(dir, uuid.New(), cfg, nil, nil, nil)
	require.NoError(t, err)
	defer l.Close()

	hook := l.Hook()
	for i := 0; i < 3; i++ {
		p := page(byte(i + 1))
		require.NoError(t, hook.OnFrames(engine.PageSize, []engine.WalPage{{PageNo: uint32(i + 1), Data: p}}, 0, true))
	}

	// After compaction, the live segment starts where the old one left off.
	assert.True(t, l.log.StartFrameNo() > 0)
	assert.FileExists(t, filepath.Join(dir, LogFileName))

	// The displaced segment survives under snapshots/, named by its
	// start/end frame numbers, rather than being overwritten in place.
	entries, err := os.ReadDir(filepath.Join(dir, SnapshotDirName))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fmt.Sprintf("0-%d", l.log.StartFrameNo()-1), entries[0].Name())
}

func TestNotifier_WaitContextUnblocksOnPublish(t *testing.T) {
	n := NewNotifier(0)
	done := make(chan uint64, 1)
	go func() {
		got, err := n.WaitContext(context.Background(), 0)
		if err == nil {
			done <- got
		}
	}()

	time.Sleep(10 * time.Millisecond)
	n.Publish(5)

	select {
	case got := <-done:
		assert.Equal(t, uint64(5), got)
	case <-time.After(time.Second):
		t.Fatal("WaitContext never unblocked")
	}
}
