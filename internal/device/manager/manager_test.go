package manager

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
)

func ahciProbe(b config.BusCoordinates) bool {
	return b.ClassCode == 0x01 && b.Subclass == 0x06 && b.Interface == 0x01
}

// TestAddDeviceBindsAndNotifiesConsumers exercises the spec §4.4
// pipeline end to end: a registered consumer should see the spawned
// driver's port once a matching device shows up, without this test
// ever exec'ing a real binary.
func TestAddDeviceBindsAndNotifiesConsumers(t *testing.T) {
	m := New("")
	var mu sync.Mutex
	var spawnedBinaries []string
	m.OverrideSpawn(func(binary string) error {
		mu.Lock()
		spawnedBinaries = append(spawnedBinaries, binary)
		mu.Unlock()
		return nil
	})
	m.RegisterDriver(DriverRegistration{
		Name: "ahci-block", Type: config.DeviceBlock, Port: 110, Binary: "blockd", Probe: ahciProbe,
	})
	m.RegisterConsumer(config.DeviceBlock, 102)

	rec, notify := m.AddDevice(config.DeviceInfo{
		ID:   "dev0",
		Type: config.DeviceBlock,
		Bus:  config.BusCoordinates{ClassCode: 0x01, Subclass: 0x06, Interface: 0x01},
	})

	require.True(t, rec.Bound)
	assert.Equal(t, "ahci-block", rec.DriverName)
	assert.EqualValues(t, 110, rec.DriverPort)
	assert.Equal(t, []uint32{102}, notify)
	assert.Equal(t, []string{"blockd"}, spawnedBinaries)
}

// TestAddDeviceSpawnsDriverOnlyOnce makes sure a second device of the
// same category binds to the already-running driver instead of
// spawning a duplicate process.
func TestAddDeviceSpawnsDriverOnlyOnce(t *testing.T) {
	m := New("")
	spawnCount := 0
	m.OverrideSpawn(func(binary string) error {
		spawnCount++
		return nil
	})
	m.RegisterDriver(DriverRegistration{
		Name: "ahci-block", Type: config.DeviceBlock, Port: 110, Binary: "blockd", Probe: ahciProbe,
	})

	bus := config.BusCoordinates{ClassCode: 0x01, Subclass: 0x06, Interface: 0x01}
	_, _ = m.AddDevice(config.DeviceInfo{ID: "dev0", Type: config.DeviceBlock, Bus: bus})
	rec2, _ := m.AddDevice(config.DeviceInfo{ID: "dev1", Type: config.DeviceBlock, Bus: bus})

	assert.True(t, rec2.Bound)
	assert.Equal(t, 1, spawnCount)
}

// TestAddDeviceNoMatchLeavesRecordUnbound covers the no-driver-found
// path: the device is still recorded, just never bound.
func TestAddDeviceNoMatchLeavesRecordUnbound(t *testing.T) {
	m := New("")
	rec, notify := m.AddDevice(config.DeviceInfo{ID: "dev0", Type: config.DeviceGeneric})
	assert.False(t, rec.Bound)
	assert.Empty(t, rec.DriverName)
	assert.Nil(t, notify)
}

// TestLoadDriverBindsAlreadyRecordedDevice covers spec §4.4's
// LOAD_DRIVER operation against a device AddDevice already recorded
// but could not bind (e.g. the driver table grew a probe afterward).
func TestLoadDriverBindsAlreadyRecordedDevice(t *testing.T) {
	m := New("")
	m.OverrideSpawn(func(binary string) error { return nil })
	rec, _ := m.AddDevice(config.DeviceInfo{ID: "dev0", Type: config.DeviceBlock})
	require.False(t, rec.Bound)

	m.RegisterDriver(DriverRegistration{
		Name: "ahci-block", Type: config.DeviceBlock, Port: 110, Binary: "blockd", Probe: func(config.BusCoordinates) bool { return true },
	})

	bound, _, err := m.LoadDriver("dev0")
	require.NoError(t, err)
	assert.True(t, bound.Bound)
}

func TestFindDeviceByTypeOnlyReturnsBound(t *testing.T) {
	m := New("")
	rec, notify := m.AddDevice(config.DeviceInfo{ID: "dev0", Type: config.DeviceNIC})
	assert.False(t, rec.Bound)
	assert.Nil(t, notify)

	_, ok := m.FindDeviceByType(config.DeviceNIC)
	assert.False(t, ok)
}
