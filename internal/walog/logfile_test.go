package walog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/libsqlgo/sqld/internal/engine"
	"github.com/libsqlgo/sqld/internal/sqlderr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(b byte) *[engine.PageSize]byte {
	var p [engine.PageSize]byte
	for i := range p {
		p[i] = b
	}
	return &p
}

func TestLogFile_CommitMakesFramesReadable(t *testing.T) {
	dir := t.TempDir()
	dbID := uuid.New()
	lf, err := Create(filepath.Join(dir, "wallog"), dbID)
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.PushPage(1, 0, page(0xAA)))
	require.NoError(t, lf.PushPage(2, 1, page(0xBB)))
	require.NoError(t, lf.Commit())

	assert.Equal(t, uint64(2), lf.FrameCount())

	got, err := lf.Frame(0)
	require.NoError(t, err)
	assert.Equal(t, page(0xAA)[:], got)

	got, err = lf.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, page(0xBB)[:], got)
}

func TestLogFile_RollbackDiscardsUncommittedFrames(t *testing.T) {
	dir := t.TempDir()
	lf, err := Create(filepath.Join(dir, "wallog"), uuid.New())
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.PushPage(1, 1, page(0x01)))
	require.NoError(t, lf.Commit())
	committedChecksum := lf.CommittedChecksum()

	require.NoError(t, lf.PushPage(2, 1, page(0x02)))
	lf.Rollback()

	assert.Equal(t, uint64(1), lf.FrameCount())
	assert.Equal(t, committedChecksum, lf.CommittedChecksum())

	_, err = lf.Frame(1)
	require.Error(t, err)
	assert.True(t, sqlderr.Is(err, sqlderr.CodeAhead))
}

func TestLogFile_FrameBeforeStartRequiresSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallog")
	lf, err := CreateRotated(path, uuid.New(), 10, 0xFF)
	require.NoError(t, err)
	defer lf.Close()

	require.NoError(t, lf.PushPage(1, 1, page(0x03)))
	require.NoError(t, lf.Commit())

	_, err = lf.Frame(5)
	require.Error(t, err)
	assert.True(t, sqlderr.Is(err, sqlderr.CodeSnapshotRequired))

	got, err := lf.Frame(10)
	require.NoError(t, err)
	assert.Equal(t, page(0x03)[:], got)
}

func TestLogFile_OpenRecoversCommittedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallog")
	dbID := uuid.New()
	lf, err := Create(path, dbID)
	require.NoError(t, err)
	require.NoError(t, lf.PushPage(1, 0, page(0x10)))
	require.NoError(t, lf.PushPage(2, 1, page(0x20)))
	require.NoError(t, lf.Commit())
	wantChecksum := lf.CommittedChecksum()
	require.NoError(t, lf.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	assert.Equal(t, uint64(2), reopened.FrameCount())
	assert.Equal(t, dbID, reopened.DbID())
	assert.Equal(t, wantChecksum, reopened.CommittedChecksum())

	got, err := reopened.Frame(1)
	require.NoError(t, err)
	assert.Equal(t, page(0x20)[:], got)
}

func TestLogFile_OpenRejectsFormatMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wallog")
	lf, err := Create(path, uuid.New())
	require.NoError(t, err)
	require.NoError(t, lf.Close())

	// Corrupt the magic bytes directly, simulating an old/foreign file.
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("GARBAGE!"), 0)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path)
	require.Error(t, err)
	assert.True(t, sqlderr.Is(err, sqlderr.CodeLogFormat))
}
