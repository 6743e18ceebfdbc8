package sfs

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Snapshot is a point-in-time reference to a filesystem generation,
// mirrored from snapshot.rs's Snapshot struct.
type Snapshot struct {
	ID             uint64
	Name           string
	Generation     uint64
	RootInode      uint64
	CreatedAt      time.Time
	ParentSnapshot *uint64
}

// SnapshotManager owns every live snapshot and hands out generation
// counters, mirrored from snapshot.rs's SnapshotManager.
type SnapshotManager struct {
	mu         sync.Mutex
	snapshots  map[uint64]Snapshot
	nextID     uint64
	generation uint64
}

func NewSnapshotManager() *SnapshotManager {
	return &SnapshotManager{snapshots: map[uint64]Snapshot{}, nextID: 1}
}

// CreateSnapshot records a new snapshot of rootInode at the current
// generation, then advances the generation counter so future writes
// are attributed to a new generation and trigger copy-on-write against
// blocks this snapshot references.
func (m *SnapshotManager) CreateSnapshot(name string, rootInode uint64, parent *uint64) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		ID:             m.nextID,
		Name:           name,
		Generation:     m.generation,
		RootInode:      rootInode,
		CreatedAt:      time.Now(),
		ParentSnapshot: parent,
	}
	m.snapshots[s.ID] = s
	m.nextID++
	m.generation++
	return s
}

func (m *SnapshotManager) GetSnapshot(id uint64) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.snapshots[id]
	if !ok {
		return Snapshot{}, errors.Errorf("sfs: no snapshot %d", id)
	}
	return s, nil
}

func (m *SnapshotManager) DeleteSnapshot(id uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[id]; !ok {
		return errors.Errorf("sfs: no snapshot %d", id)
	}
	delete(m.snapshots, id)
	return nil
}

func (m *SnapshotManager) ListSnapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	return out
}

// CurrentGeneration returns the generation new writes are attributed
// to.
func (m *SnapshotManager) CurrentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

// Rollback points *liveRoot at snapshot id's root inode and resets the
// generation counter to that snapshot's generation. It does not touch
// blocks: cow is not consulted, and data written since the snapshot is
// neither discarded nor restored.
func (m *SnapshotManager) Rollback(id uint64, cow *CowManager, liveRoot *uint64) error {
	s, err := m.GetSnapshot(id)
	if err != nil {
		return err
	}
	*liveRoot = s.RootInode
	m.mu.Lock()
	m.generation = s.Generation
	m.mu.Unlock()
	return nil
}
