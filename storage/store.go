package storage

import (
	"context"

	"github.com/luma/stela/series"
)

// Store is the write path behind the ingest protocol. Implementations
// must be safe for concurrent use: every connection session writes
// through the one shared Store.
type Store interface {
	// WritePoint commits one data point and returns the storage
	// sequence number assigned to it.
	WritePoint(ctx context.Context, id series.Identifier, timestamp uint64, value float64) (uint64, error)

	// SeriesCount reports how many distinct series have been written.
	SeriesCount() int

	// PointCount reports how many points have been committed.
	PointCount() uint64

	Backup() ([]byte, error)
	Restore(snapshot []byte) error

	// Reset clears all persisted state. It is idempotent and safe to
	// call any number of times, including before the first write.
	Reset() error

	Close() error
}
