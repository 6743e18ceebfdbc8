// Package manager implements the device manager: the authoritative
// table of DeviceRecords, first-fit probe-based driver matching
// against a table of registered DriverRegistrations, and JSON
// persistence of that table to disk.
//
// Grounded on services/device_manager/src/driver.rs's DRIVERS table /
// find_driver / auto_load_drivers sequence for the matching algorithm,
// and on persist/fs/fs.go's ToDisk/FromDisk JSON-file pattern for
// durability, generalized from sandbox/container state to a device
// table.
package manager

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/api"
	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
)

var mgrLog = logrus.WithField("source", "device/manager")

func logger() *logrus.Entry {
	return mgrLog.WithField("subsystem", "devicemanager")
}

// ProbeFunc reports whether a driver registration can manage the
// given bus coordinates, mirroring the closures stored in
// driver.rs's static DRIVERS table.
type ProbeFunc func(config.BusCoordinates) bool

// DriverRegistration is a driver made known to the device manager so
// it can be matched against newly enumerated devices.
type DriverRegistration struct {
	Name  string
	Type  config.DeviceType
	Probe ProbeFunc
	Port  uint32 // well-known IPC port the driver listens on
	// Binary is the driver's executable name, spawned the first time a
	// device matching Probe is discovered. Empty means the driver is
	// assumed already running (used by tests that register a fake
	// in-process driver).
	Binary string
}

// DeviceRecord is the device manager's entry for one discovered
// device: its descriptor, which driver (if any) claimed it, and whether
// that driver has actually been spawned and is ready to answer
// requests on DriverPort.
type DeviceRecord struct {
	Info       config.DeviceInfo
	DriverName string
	DriverPort uint32
	Bound      bool
	Attached   bool
}

// Manager holds the device table and the table of registered drivers,
// matched first-fit in registration order exactly as
// find_driver/auto_load_drivers does. It also holds the service
// registry side table spec §4.4 describes: which consumer services
// asked to be notified once a given device category has a bound
// driver, so AddDevice's spawn can tell them immediately rather than
// requiring them to poll.
type Manager struct {
	mu        sync.Mutex
	devices   map[string]*DeviceRecord
	live      map[string]api.Device
	drivers   []DriverRegistration
	statePath string

	spawned   map[string]bool               // driver Name -> already spawned
	consumers map[config.DeviceType][]uint32 // category -> service ports to notify

	spawn func(binary string) error // overridden by tests to avoid exec
}

func New(statePath string) *Manager {
	return &Manager{
		devices:   map[string]*DeviceRecord{},
		live:      map[string]api.Device{},
		statePath: statePath,
		spawned:   map[string]bool{},
		consumers: map[config.DeviceType][]uint32{},
		spawn:     spawnBinary,
	}
}

// spawnBinary starts a driver executable as a detached background
// process, the way initd's supervisor starts every other daemon
// (internal/supervisor), located on PATH since every daemon in this
// repository is installed as a plain `cmd/<name>` binary.
func spawnBinary(binary string) error {
	cmd := exec.Command(binary)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	return cmd.Start()
}

// OverrideSpawn replaces the function used to launch a matched
// driver's binary, letting tests observe a spawn without actually
// exec'ing a process.
func (m *Manager) OverrideSpawn(fn func(binary string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.spawn = fn
}

// RegisterConsumer records port as wanting a notification once a
// device of typ is matched to a running driver, the subscription half
// of spec §4.4's "notify every registered consumer service of the
// category" requirement (Scenario 1: the network service learns its
// ethernet_device_port this way rather than guessing nicd's
// well-known port).
func (m *Manager) RegisterConsumer(typ config.DeviceType, port uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumers[typ] = append(m.consumers[typ], port)
}

// RegisterDriver appends reg to the driver table. Order matters: the
// first registration whose Probe matches wins, same as the original's
// linear .find() over DRIVERS.
func (m *Manager) RegisterDriver(reg DriverRegistration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drivers = append(m.drivers, reg)
}

// AddDevice records a newly enumerated device, matches it against the
// driver table, and if matched runs the full bind pipeline: spawn the
// driver binary (once per driver, not once per device), mark the
// record bound to the driver's well-known port, and collect the
// ports of every consumer service registered for that device's
// category. Mirrors auto_load_drivers's per-device find-then-load
// sequence, extended with the spawn/notify steps the original leaves
// to the supervisor starting every driver unconditionally at boot.
//
// The caller is responsible for actually sending the notification —
// this package does not import the ipc package, keeping the IPC
// transport concern in cmd/devicemanagerd where every other message
// send/receive for this service already lives.
func (m *Manager) AddDevice(info config.DeviceInfo) (*DeviceRecord, []uint32) {
	m.mu.Lock()
	rec := &DeviceRecord{Info: info}
	m.devices[info.ID] = rec

	var matched *DriverRegistration
	for i := range m.drivers {
		if m.drivers[i].Probe(info.Bus) {
			matched = &m.drivers[i]
			break
		}
	}
	if matched == nil {
		m.mu.Unlock()
		return rec, nil
	}
	rec.DriverName = matched.Name
	rec.DriverPort = matched.Port
	m.mu.Unlock()

	notify := m.bindDriver(rec, *matched)
	logger().WithFields(logrus.Fields{
		"device": info.ID,
		"driver": matched.Name,
		"bound":  rec.Bound,
	}).Info("matched driver to device")
	return rec, notify
}

// LoadDriver explicitly (re-)runs the bind pipeline for an
// already-recorded device, the spec §4.4 LOAD_DRIVER operation: a
// client that already knows a device's id can force the spawn/notify
// sequence without re-enumerating the bus.
func (m *Manager) LoadDriver(id string) (*DeviceRecord, []uint32, error) {
	m.mu.Lock()
	rec, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, errors.Errorf("devicemanager: unknown device %s", id)
	}
	var matched *DriverRegistration
	for i := range m.drivers {
		if m.drivers[i].Probe(rec.Info.Bus) {
			matched = &m.drivers[i]
			break
		}
	}
	m.mu.Unlock()
	if matched == nil {
		return rec, nil, errors.Errorf("devicemanager: no driver matches device %s", id)
	}
	rec.DriverName = matched.Name
	rec.DriverPort = matched.Port
	notify := m.bindDriver(rec, *matched)
	return rec, notify, nil
}

// bindDriver spawns reg's binary at most once per driver name, marks
// rec bound once the spawn (or a no-op for an already-running driver)
// succeeds, and returns the consumer ports subscribed to reg's
// category so the caller can notify them.
func (m *Manager) bindDriver(rec *DeviceRecord, reg DriverRegistration) []uint32 {
	m.mu.Lock()
	alreadySpawned := m.spawned[reg.Name]
	if !alreadySpawned {
		m.spawned[reg.Name] = true
	}
	m.mu.Unlock()

	if !alreadySpawned && reg.Binary != "" {
		if err := m.spawn(reg.Binary); err != nil {
			logger().WithError(err).WithField("binary", reg.Binary).Warn("failed to spawn driver binary")
			m.mu.Lock()
			m.spawned[reg.Name] = false
			m.mu.Unlock()
			return nil
		}
	}

	m.mu.Lock()
	rec.Bound = true
	notify := append([]uint32{}, m.consumers[reg.Type]...)
	m.mu.Unlock()
	return notify
}

// FindDeviceByType returns the first bound device of the given
// category, the spec §4.4 FIND_DEVICE operation.
func (m *Manager) FindDeviceByType(typ config.DeviceType) (*DeviceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.devices {
		if rec.Info.Type == typ && rec.Bound {
			return rec, true
		}
	}
	return nil, false
}

// GetDevice returns the device record for id, the spec §4.4 GET_DEVICE
// operation.
func (m *Manager) GetDevice(id string) (*DeviceRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.devices[id]
	return rec, ok
}

// ListDevices returns every recorded device, the spec §4.4 ENUMERATE
// operation served from the device manager's own table rather than by
// re-querying the bus.
func (m *Manager) ListDevices() []*DeviceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*DeviceRecord, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	return out
}

func (m *Manager) NewDevice(info config.DeviceInfo) (api.Device, error) {
	return nil, errors.New("devicemanager: NewDevice must be constructed by a driver-specific factory; use AddDevice for table bookkeeping")
}

func (m *Manager) RemoveDevice(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.devices[id]; !ok {
		return errors.Errorf("devicemanager: device %s not found", id)
	}
	delete(m.devices, id)
	delete(m.live, id)
	return nil
}

func (m *Manager) RegisterLive(dev api.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[dev.DeviceID()] = dev
}

func (m *Manager) AttachDevice(ctx context.Context, id string) error {
	dev, err := m.GetDeviceByID(id)
	if err != nil {
		return err
	}
	if err := dev.Attach(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if rec, ok := m.devices[id]; ok {
		rec.Attached = true
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) DetachDevice(ctx context.Context, id string) error {
	dev, err := m.GetDeviceByID(id)
	if err != nil {
		return err
	}
	if err := dev.Detach(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if rec, ok := m.devices[id]; ok {
		rec.Attached = false
	}
	m.mu.Unlock()
	return nil
}

func (m *Manager) IsDeviceAttached(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.devices[id]
	return ok && rec.Attached
}

func (m *Manager) GetDeviceByID(id string) (api.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dev, ok := m.live[id]
	if !ok {
		return nil, errors.Errorf("devicemanager: no live device registered for %s", id)
	}
	return dev, nil
}

func (m *Manager) GetAllDevices() []api.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]api.Device, 0, len(m.live))
	for _, d := range m.live {
		out = append(out, d)
	}
	return out
}

// persistedState is the on-disk shape written by ToDisk, following
// persist/fs/fs.go's plain-JSON-file convention.
type persistedState struct {
	Devices map[string]*DeviceRecord `json:"devices"`
}

// ToDisk writes the device table to statePath, following
// persist/fs/fs.go's ToDisk: create parent directory, truncate-write
// JSON, restrictive file mode.
func (m *Manager) ToDisk() error {
	m.mu.Lock()
	snapshot := persistedState{Devices: map[string]*DeviceRecord{}}
	for k, v := range m.devices {
		snapshot.Devices[k] = v
	}
	m.mu.Unlock()

	if m.statePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.statePath), 0700); err != nil {
		return errors.Wrap(err, "devicemanager: create state dir")
	}
	f, err := os.OpenFile(m.statePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return errors.Wrap(err, "devicemanager: open state file")
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(snapshot); err != nil {
		return errors.Wrap(err, "devicemanager: encode state")
	}
	return nil
}

// FromDisk restores the device table from statePath, following
// persist/fs/fs.go's FromDisk.
func (m *Manager) FromDisk() error {
	if m.statePath == "" {
		return nil
	}
	f, err := os.Open(m.statePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.Wrap(err, "devicemanager: open state file")
	}
	defer f.Close()

	var snapshot persistedState
	if err := json.NewDecoder(f).Decode(&snapshot); err != nil {
		return errors.Wrap(err, "devicemanager: decode state")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = snapshot.Devices
	if m.devices == nil {
		m.devices = map[string]*DeviceRecord{}
	}
	return nil
}
