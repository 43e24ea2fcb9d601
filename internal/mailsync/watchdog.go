package mailsync

import (
	"context"
	"log/slog"
)

// SweepStuckCursors force-fails cursors that have been running longer than
// the stuck timeout, releasing their folders for new claims. Safe to run on a
// schedule; a sweep that finds nothing is a no-op.
func (e *Engine) SweepStuckCursors(ctx context.Context) (int, error) {
	swept, err := e.storage.SweepStuckCursors(ctx, e.cfg.StuckTimeout)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		slog.Warn("Force-failed stuck sync cursors",
			"count", swept,
			"stuck_timeout", e.cfg.StuckTimeout)
	}
	return swept, nil
}
