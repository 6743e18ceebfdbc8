// Package drivermanager implements the driver manager service: the
// registry of running driver processes, device-to-driver assignment,
// and the crash/restart policy that gives every driver a bounded
// number of automatic restarts before it is given up on.
//
// Grounded on services/driver_manager/src/main.rs's DriverManager
// (register_driver/unregister_driver/find_driver_by_type/
// handle_driver_crash/enumerate_devices) and its message dispatch
// constants, reworked to match the scenario in this repository's
// specification: a driver gets exactly three automatic restarts, and
// only the fourth consecutive crash is left down. The original's
// handle_driver_crash increments crash_count before comparing it to
// the budget, which only ever grants two restarts before giving up;
// here we compare before incrementing so the third crash still
// restarts and the fourth does not, matching the documented scenario.
package drivermanager

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Message ids accepted on the driver manager's well-known port,
// mirrored from MSG_REGISTER_DRIVER .. MSG_DRIVER_CRASHED.
const (
	MsgRegisterDriver uint32 = iota + 1
	MsgUnregisterDriver
	MsgDeviceRequest
	MsgEnumerateDevices
	MsgDriverCrashed
)

// DriverType mirrors the original's DriverType enum used to route a
// device to the right category of driver.
type DriverType uint8

const (
	DriverPCIBus DriverType = iota + 1
	DriverStorage
	DriverNetwork
	DriverInput
	DriverGraphics
	DriverAudio
	DriverUnknown DriverType = 0xFF
)

// DriverState tracks a registered driver's lifecycle.
type DriverState int

const (
	StateRegistered DriverState = iota
	StateRunning
	StateCrashed
	StateStopped
)

// RestartBudget is how many times a crashed driver is automatically
// restarted before the driver manager gives up and leaves it Crashed.
const RestartBudget = 3

// RegisteredDriver is one entry in the driver manager's table.
type RegisteredDriver struct {
	DriverID   uint64
	Type       DriverType
	Port       uint32
	PID        uint64
	State      DriverState
	CrashCount int
}

// Device is one entry in the driver manager's device table, linking a
// device id to whichever driver currently owns it.
type Device struct {
	DeviceID uint64
	Type     DriverType
	DriverID uint64
}

var dmLog = logrus.WithField("source", "drivermanager")

func logger() *logrus.Entry {
	return dmLog.WithField("subsystem", "drivermanager")
}

// Manager is the driver manager's in-memory state, guarded by a single
// mutex following the shape of every other global table in this
// system.
type Manager struct {
	mu            sync.Mutex
	drivers       map[uint64]*RegisteredDriver
	devices       map[uint64]*Device
	nextDriverID  uint64
	nextDeviceID  uint64
}

func New() *Manager {
	return &Manager{
		drivers:      map[uint64]*RegisteredDriver{},
		devices:      map[uint64]*Device{},
		nextDriverID: 1,
		nextDeviceID: 1,
	}
}

// RegisterDriver adds a new driver in state Registered and returns its
// assigned id.
func (m *Manager) RegisterDriver(typ DriverType, port uint32, pid uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextDriverID
	m.nextDriverID++
	m.drivers[id] = &RegisteredDriver{DriverID: id, Type: typ, Port: port, PID: pid, State: StateRegistered}
	logger().WithFields(logrus.Fields{"driver_id": id, "type": typ}).Info("driver registered")
	return id
}

// MarkRunning transitions a registered driver to Running.
func (m *Manager) MarkRunning(driverID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return errors.Errorf("drivermanager: unknown driver %d", driverID)
	}
	d.State = StateRunning
	return nil
}

// UnregisterDriver removes a driver and every device currently
// assigned to it, mirroring unregister_driver's cascade delete.
func (m *Manager) UnregisterDriver(driverID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[driverID]; !ok {
		return errors.Errorf("drivermanager: unknown driver %d", driverID)
	}
	delete(m.drivers, driverID)
	for devID, dev := range m.devices {
		if dev.DriverID == driverID {
			delete(m.devices, devID)
		}
	}
	return nil
}

// FindDriverByType returns the first Running driver of the given
// type, mirroring find_driver_by_type's Running-only filter.
func (m *Manager) FindDriverByType(typ DriverType) (*RegisteredDriver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.drivers {
		if d.Type == typ && d.State == StateRunning {
			return d, true
		}
	}
	return nil, false
}

func (m *Manager) FindDriverByID(driverID uint64) (*RegisteredDriver, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	return d, ok
}

// RegisterDevice adds a device entry owned by driverID.
func (m *Manager) RegisterDevice(typ DriverType, driverID uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextDeviceID
	m.nextDeviceID++
	m.devices[id] = &Device{DeviceID: id, Type: typ, DriverID: driverID}
	return id
}

// EnumerateDevices returns every known device, mirroring
// enumerate_devices.
func (m *Manager) EnumerateDevices() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, *d)
	}
	return out
}

// HandleDriverCrash records a crash and decides whether to restart the
// driver. It reports the decision so the caller (the supervisor) can
// actually relaunch the process; this function only updates state.
//
// The budget is enforced by comparing the existing crash count to
// RestartBudget before incrementing it, so a driver crashing for the
// 1st, 2nd, or 3rd time is restarted (CrashCount becomes 1, 2, 3) and
// only the 4th crash — observed with CrashCount already at the budget
// — leaves the driver in StateCrashed.
func (m *Manager) HandleDriverCrash(driverID uint64) (shouldRestart bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drivers[driverID]
	if !ok {
		return false, errors.Errorf("drivermanager: unknown driver %d", driverID)
	}

	if d.CrashCount >= RestartBudget {
		d.State = StateCrashed
		logger().WithField("driver_id", driverID).Warn("driver exhausted restart budget, leaving crashed")
		return false, nil
	}

	d.CrashCount++
	d.State = StateRunning
	logger().WithFields(logrus.Fields{
		"driver_id":   driverID,
		"crash_count": d.CrashCount,
	}).Warn("driver crashed, restarting")
	return true, nil
}
