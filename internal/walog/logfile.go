package walog

import (
	"os"

	"github.com/google/uuid"
	"github.com/libsqlgo/sqld/internal/engine"
	"github.com/libsqlgo/sqld/internal/sqlderr"
)

// LogFile is one open wallog segment. It is not safe for concurrent use
// and takes no lock of its own; the replication logger
// (internal/replication/primary) adds none either. Its writes come from
// the WAL hook, which runs under the engine's own write lock; frame lookup
// (Frame, via Logger.GetFrame) reads the header without any lock, so it is
// not synchronized with a concurrent PushPage/Commit.
type LogFile struct {
	file   *os.File
	header LogFileHeader

	// committedChecksum is the checksum chain value as of the last
	// successful Commit; rollingChecksum also includes any uncommitted
	// pushes made since then.
	committedChecksum uint64
	rollingChecksum   uint64
	uncommitted       uint64
}

// Create makes a brand-new log file at path with a fresh header: frame
// count zero, start frame number 0, start checksum 0.
func Create(path string, dbID uuid.UUID) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	h := newHeader(dbID, 0, 0)
	lf := &LogFile{file: f, header: h}
	if err := lf.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return lf, nil
}

// CreateRotated makes a new segment to receive frames starting right after
// an existing segment's tail, carrying forward its checksum chain and
// db_id (spec.md §4.H compaction policy, step 1).
func CreateRotated(path string, dbID uuid.UUID, startFrameNo, startChecksum uint64) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, err
	}
	h := newHeader(dbID, startFrameNo, startChecksum)
	lf := &LogFile{file: f, header: h, committedChecksum: startChecksum, rollingChecksum: startChecksum}
	if err := lf.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return lf, nil
}

// Open reopens an existing log file, validating its magic and version.
// A magic or version mismatch is reported as a *sqlderr.Error with
// CodeLogFormat; callers must treat it as a trigger for the recovery
// procedure in spec.md §4.I, not a fatal error.
func Open(path string) (*LogFile, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, fileHeaderSize)
	if _, err := f.ReadAt(buf, 0); err != nil {
		f.Close()
		return nil, err
	}
	h, err := unmarshalFileHeader(buf)
	if err != nil {
		f.Close()
		return nil, err
	}
	if h.Magic != magic || h.Version != Version {
		f.Close()
		return nil, sqlderr.New(sqlderr.CodeLogFormat, "wallog header magic or version mismatch")
	}

	committed := h.StartChecksum
	if h.FrameCount > 0 {
		last, err := readFrameHeader(f, h.FrameCount-1)
		if err != nil {
			f.Close()
			return nil, err
		}
		committed = last.Checksum
	}
	return &LogFile{file: f, header: h, committedChecksum: committed, rollingChecksum: committed}, nil
}

func (lf *LogFile) writeHeader() error {
	if _, err := lf.file.WriteAt(lf.header.marshal(), 0); err != nil {
		return err
	}
	return lf.file.Sync()
}

func frameOffset(n uint64) int64 {
	return int64(fileHeaderSize) + int64(n)*int64(FrameSize)
}

func readFrameHeader(f *os.File, n uint64) (FrameHeader, error) {
	buf := make([]byte, frameHeaderSize)
	if _, err := f.ReadAt(buf, frameOffset(n)); err != nil {
		return FrameHeader{}, err
	}
	return unmarshalFrameHeader(buf), nil
}

// StartFrameNo, FrameCount, and DbID expose the current header fields.
func (lf *LogFile) StartFrameNo() uint64 { return lf.header.StartFrameNo }
func (lf *LogFile) FrameCount() uint64   { return lf.header.FrameCount }
func (lf *LogFile) DbID() uuid.UUID      { return lf.header.DbID }

// CommittedChecksum returns the checksum chain value as of the last
// Commit — what a rotated segment's start_checksum must carry forward.
func (lf *LogFile) CommittedChecksum() uint64 { return lf.committedChecksum }

// PushPage appends one uncommitted frame past the log's current committed
// tail. sizeAfter is non-zero only for the last page of a committing
// batch (spec.md §4.H).
func (lf *LogFile) PushPage(pageNo uint32, sizeAfter uint32, data *[engine.PageSize]byte) error {
	frameNo := lf.header.StartFrameNo + lf.header.FrameCount + lf.uncommitted
	lf.rollingChecksum = Checksum(lf.rollingChecksum, data[:])
	fh := FrameHeader{
		FrameNo:   frameNo,
		Checksum:  lf.rollingChecksum,
		PageNo:    pageNo,
		SizeAfter: sizeAfter,
	}
	off := frameOffset(lf.header.FrameCount + lf.uncommitted)
	if _, err := lf.file.WriteAt(fh.marshal(), off); err != nil {
		return err
	}
	if _, err := lf.file.WriteAt(data[:], off+frameHeaderSize); err != nil {
		return err
	}
	lf.uncommitted++
	return nil
}

// Commit makes every frame pushed since the last Commit/Rollback durable:
// fsync the data, then rewrite the header with the new frame count and
// flush it too (spec.md §4.G commit protocol, steps 1-3; PushPage already
// did step 1's appends).
func (lf *LogFile) Commit() error {
	if lf.uncommitted == 0 {
		return nil
	}
	if err := lf.file.Sync(); err != nil {
		return err
	}
	lf.header.FrameCount += lf.uncommitted
	lf.uncommitted = 0
	lf.committedChecksum = lf.rollingChecksum
	return lf.writeHeader()
}

// Rollback discards every frame pushed since the last Commit: the
// in-memory uncommitted count resets to zero and the rolling checksum
// reverts to the last committed value. The bytes themselves are left on
// disk, past frame_count, where Open ignores them since it reads only the
// frame_count recorded in the header.
func (lf *LogFile) Rollback() {
	lf.uncommitted = 0
	lf.rollingChecksum = lf.committedChecksum
}

// Frame reads the page body at committed frame n. It fails with
// SnapshotRequired if n precedes the segment's start, or Ahead if n has
// not been committed yet (spec.md §4.I frame lookup).
func (lf *LogFile) Frame(n uint64) ([]byte, error) {
	if n < lf.header.StartFrameNo {
		return nil, sqlderr.New(sqlderr.CodeSnapshotRequired, "requested frame precedes this segment; a snapshot is required")
	}
	if n >= lf.header.StartFrameNo+lf.header.FrameCount {
		return nil, sqlderr.New(sqlderr.CodeAhead, "requested frame is ahead of the committed log")
	}
	idx := n - lf.header.StartFrameNo
	buf := make([]byte, engine.PageSize)
	if _, err := lf.file.ReadAt(buf, frameOffset(idx)+frameHeaderSize); err != nil {
		return nil, err
	}
	return buf, nil
}

// Close releases the underlying file handle.
func (lf *LogFile) Close() error { return lf.file.Close() }
