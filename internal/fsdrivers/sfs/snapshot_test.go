package sfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateSnapshotAdvancesGeneration(t *testing.T) {
	m := NewSnapshotManager()
	assert.Equal(t, uint64(0), m.CurrentGeneration())

	s1 := m.CreateSnapshot("first", 1, nil)
	assert.Equal(t, uint64(0), s1.Generation)
	assert.Equal(t, uint64(1), m.CurrentGeneration())

	s2 := m.CreateSnapshot("second", 1, &s1.ID)
	assert.Equal(t, uint64(1), s2.Generation)
	assert.Equal(t, uint64(2), m.CurrentGeneration())
}

func TestRollbackRestoresRootAndGeneration(t *testing.T) {
	m := NewSnapshotManager()
	cow := NewCowManager()

	s := m.CreateSnapshot("snap", 42, nil)
	m.CreateSnapshot("later", 99, &s.ID)

	var liveRoot uint64 = 99
	assert.NoError(t, m.Rollback(s.ID, cow, &liveRoot))
	assert.Equal(t, uint64(42), liveRoot)
	assert.Equal(t, s.Generation, m.CurrentGeneration())
}

func TestRollbackUnknownSnapshot(t *testing.T) {
	m := NewSnapshotManager()
	cow := NewCowManager()
	var root uint64
	err := m.Rollback(999, cow, &root)
	assert.Error(t, err)
}

func TestDeleteAndListSnapshots(t *testing.T) {
	m := NewSnapshotManager()
	s := m.CreateSnapshot("one", 1, nil)
	assert.Len(t, m.ListSnapshots(), 1)

	assert.NoError(t, m.DeleteSnapshot(s.ID))
	assert.Len(t, m.ListSnapshots(), 0)

	assert.Error(t, m.DeleteSnapshot(s.ID))
}
