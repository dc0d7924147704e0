package db

import (
	"log/slog"

	"cfdb/pkg/listener"
)

// checkpointer is the background job answering memtable flush hints with a
// checkpoint. One instance serves all of the engine's families.
type checkpointer struct {
	*listener.Listener[struct{}]
}

func newCheckpointer(d *DB) *checkpointer {
	return &checkpointer{
		Listener: listener.New(d.flushCh, func(struct{}) error {
			if err := d.checkpoint(); err != nil {
				// the write path stays correct without the checkpoint; the
				// WAL keeps growing until one succeeds
				slog.Error("background checkpoint failed", "error", err)
			}
			return nil
		}),
	}
}
