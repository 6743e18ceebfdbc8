package drivermanager

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandleDriverCrashGrantsExactlyThreeRestarts(t *testing.T) {
	m := New()
	id := m.RegisterDriver(DriverStorage, 110, 42)
	assert.NoError(t, m.MarkRunning(id))

	for i := 1; i <= RestartBudget; i++ {
		restart, err := m.HandleDriverCrash(id)
		assert.NoError(t, err)
		assert.True(t, restart, "crash %d should still restart", i)

		d, ok := m.FindDriverByID(id)
		assert.True(t, ok)
		assert.Equal(t, i, d.CrashCount)
		assert.Equal(t, StateRunning, d.State)
	}

	// the fourth crash, observed with CrashCount already at the budget,
	// exhausts the restart budget.
	restart, err := m.HandleDriverCrash(id)
	assert.NoError(t, err)
	assert.False(t, restart)

	d, ok := m.FindDriverByID(id)
	assert.True(t, ok)
	assert.Equal(t, StateCrashed, d.State)
	assert.Equal(t, RestartBudget, d.CrashCount, "crash count must not increment past the budget")
}

func TestHandleDriverCrashUnknownDriver(t *testing.T) {
	m := New()
	_, err := m.HandleDriverCrash(999)
	assert.Error(t, err)
}

func TestUnregisterDriverCascadesDevices(t *testing.T) {
	m := New()
	id := m.RegisterDriver(DriverNetwork, 120, 1)
	devID := m.RegisterDevice(DriverNetwork, id)

	assert.NoError(t, m.UnregisterDriver(id))

	devices := m.EnumerateDevices()
	for _, d := range devices {
		assert.NotEqual(t, devID, d.DeviceID)
	}
}

func TestFindDriverByTypeOnlyMatchesRunning(t *testing.T) {
	m := New()
	id := m.RegisterDriver(DriverStorage, 110, 1)

	_, ok := m.FindDriverByType(DriverStorage)
	assert.False(t, ok, "registered but not yet running should not match")

	assert.NoError(t, m.MarkRunning(id))
	found, ok := m.FindDriverByType(DriverStorage)
	assert.True(t, ok)
	assert.Equal(t, id, found.DriverID)
}
