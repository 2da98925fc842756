package primary

import (
	"fmt"

	"github.com/libsqlgo/sqld/internal/engine"
	"github.com/libsqlgo/sqld/internal/sqlderr"
)

func pageSizeMismatchError(got int) error {
	return sqlderr.New(sqlderr.CodeInternal, fmt.Sprintf("replication log requires a %d byte page size, engine reported %d", engine.PageSize, got))
}

// Hook adapts a Logger to the engine's WalHook interface. All of its
// methods are called synchronously on the engine's own thread, under the
// engine's internal write lock (spec.md §4.H) — Hook itself does no
// locking of its own, relying on that single-caller guarantee.
type Hook struct {
	l *Logger
}

var _ engine.WalHook = (*Hook)(nil)

// OnFrames records every dirty page in pages, then on commit appends them
// to the log, fsyncs, rewrites the header, and publishes the new tail
// frame number. A page size other than engine.PageSize aborts rather than
// silently proceeding, resolving the Open Question in spec.md §9 explicitly
// in favor of a clear configuration error over silent corruption.
func (h *Hook) OnFrames(pageSize int, pages []engine.WalPage, truncate uint32, isCommit bool) error {
	if pageSize != engine.PageSize {
		return pageSizeMismatchError(pageSize)
	}

	for i, p := range pages {
		sizeAfter := p.SizeAfter
		if isCommit && i == len(pages)-1 {
			sizeAfter = truncate
		}
		if err := h.l.log.PushPage(p.PageNo, sizeAfter, &p.Data); err != nil {
			return err
		}
	}

	if !isCommit {
		return nil
	}

	if err := h.l.log.Commit(); err != nil {
		// The engine has not yet committed at this point (on_frames runs
		// before the engine's own commit completes), so a failure here is
		// recoverable: return an error and let the engine undo.
		return err
	}

	top := h.l.log.StartFrameNo() + h.l.log.FrameCount()
	h.l.notifier.Publish(top)
	if h.l.backup != nil {
		if err := h.l.backup.NotifyFrame(top); err != nil && h.l.logger != nil {
			h.l.logger.Errorf("replication log: backup notifier failed: %v", err)
		}
	}

	if err := h.l.maybeCompact(); err != nil && h.l.logger != nil {
		h.l.logger.Errorf("replication log: compaction failed: %v", err)
	}
	return nil
}

// OnUndo clears the in-memory uncommitted buffer and rolls back the log's
// uncommitted state before the underlying engine undo runs.
func (h *Hook) OnUndo() error {
	h.l.log.Rollback()
	return nil
}

// OnSavepointUndo forwards the new last-valid-frame number to the backup
// replicator, if any, after the underlying savepoint undo (the caller is
// expected to have already driven the engine's own savepoint undo; this
// hook only reacts to it).
func (h *Hook) OnSavepointUndo() error {
	if h.l.backup != nil {
		top := h.l.log.StartFrameNo() + h.l.log.FrameCount()
		return h.l.backup.NotifyFrame(top)
	}
	return nil
}

// OnCheckpoint only reacts to TRUNCATE-strength checkpoints; weaker modes
// are ignored with success (spec.md §4.H).
func (h *Hook) OnCheckpoint(mode engine.CheckpointMode) error {
	if mode != engine.CheckpointTruncate {
		return nil
	}
	if h.l.backup != nil {
		return h.l.backup.NotifyCheckpoint()
	}
	return nil
}
