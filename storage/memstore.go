package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/luma/stela/series"
)

var (
	ErrClosed      = errors.New("store is closed")
	ErrBadSnapshot = errors.New("snapshot is not valid JSON")
)

type point struct {
	T uint64  `json:"t"`
	V float64 `json:"v"`
}

type memorySeries struct {
	id     uint64
	points []point
}

// MemStore keeps committed points in memory, keyed by the canonical
// form of their series identifier. Snapshots round-trip through JSON.
type MemStore struct {
	mu     sync.Mutex
	seq    uint64
	nextID uint64
	byKey  map[string]*memorySeries
	order  []string

	// stop will be closed when Close() is called
	stop chan struct{}
}

func NewMemStore() *MemStore {
	return &MemStore{
		nextID: 1,
		byKey:  make(map[string]*memorySeries),
		stop:   make(chan struct{}),
	}
}

func (m *MemStore) WritePoint(ctx context.Context, id series.Identifier, timestamp uint64, value float64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if !m.isRunning() {
		return 0, ErrClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := id.Canonical()

	s, ok := m.byKey[key]
	if !ok {
		s = &memorySeries{id: m.nextID}
		m.nextID++
		m.byKey[key] = s
		m.order = append(m.order, key)
	}

	s.points = append(s.points, point{T: timestamp, V: value})
	m.seq++

	return m.seq, nil
}

func (m *MemStore) SeriesCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.byKey)
}

func (m *MemStore) PointCount() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.seq
}

// Backup serialises the store to JSON. Series appear in first-write
// order so snapshots of the same writes are byte-identical.
func (m *MemStore) Backup() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := []byte(`{}`)

	out, err := sjson.SetBytes(out, "seq", m.seq)
	if err != nil {
		return nil, err
	}

	for i, key := range m.order {
		s := m.byKey[key]
		base := fmt.Sprintf("series.%d", i)

		if out, err = sjson.SetBytes(out, base+".key", key); err != nil {
			return nil, err
		}

		if out, err = sjson.SetBytes(out, base+".id", s.id); err != nil {
			return nil, err
		}

		if out, err = sjson.SetBytes(out, base+".points", s.points); err != nil {
			return nil, err
		}
	}

	return out, nil
}

// Restore replaces the store's contents with a snapshot produced by
// Backup.
func (m *MemStore) Restore(snapshot []byte) error {
	if !gjson.ValidBytes(snapshot) {
		return ErrBadSnapshot
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()

	m.seq = gjson.GetBytes(snapshot, "seq").Uint()

	for _, entry := range gjson.GetBytes(snapshot, "series").Array() {
		key := entry.Get("key").String()
		s := &memorySeries{id: entry.Get("id").Uint()}

		for _, p := range entry.Get("points").Array() {
			s.points = append(s.points, point{
				T: p.Get("t").Uint(),
				V: p.Get("v").Float(),
			})
		}

		m.byKey[key] = s
		m.order = append(m.order, key)

		if s.id >= m.nextID {
			m.nextID = s.id + 1
		}
	}

	return nil
}

// Reset clears all state. Calling it repeatedly, or before anything
// was written, is a no-op after the first call.
func (m *MemStore) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.resetLocked()

	return nil
}

func (m *MemStore) resetLocked() {
	m.seq = 0
	m.nextID = 1
	m.byKey = make(map[string]*memorySeries)
	m.order = nil
}

func (m *MemStore) Close() error {
	if m.isRunning() {
		close(m.stop)
	}

	return nil
}

// isRunning returns true if Close has not been called
func (m *MemStore) isRunning() bool {
	select {
	case <-m.stop:
		return false

	default:
		return true
	}
}

var _ Store = (*MemStore)(nil)
