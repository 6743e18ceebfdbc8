package security

import (
	"sync"

	"github.com/pkg/errors"
)

// MaxCapabilitiesPerProcess bounds how many capabilities a single
// process's table may hold, mirrored from capability.rs's
// MAX_CAPABILITIES (there sized for a single global array; here it
// bounds each per-process table since we key capabilities by owner).
const MaxCapabilitiesPerProcess = 4096

// CapabilityTable holds every capability currently owned by one
// process, mirrored from capability.rs's CapabilityTable
// add/remove/get/verify/find linear-scan operations, backed by a map
// instead of a fixed array.
type CapabilityTable struct {
	mu    sync.Mutex
	byID  map[string]Capability
}

func newCapabilityTable() *CapabilityTable {
	return &CapabilityTable{byID: map[string]Capability{}}
}

// Add inserts cap, failing once the table is full.
func (t *CapabilityTable) Add(cap Capability) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.byID) >= MaxCapabilitiesPerProcess {
		return errors.New("security: capability table full")
	}
	t.byID[cap.ID.String()] = cap
	return nil
}

// Remove deletes the capability with the given id, if present.
func (t *CapabilityTable) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, id)
}

// Get returns the capability with the given id.
func (t *CapabilityTable) Get(id string) (Capability, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.byID[id]
	return c, ok
}

// Verify reports whether a non-expired capability of typ exists over
// resourceID with at least the required permission bits set.
func (t *CapabilityTable) Verify(typ CapabilityType, resourceID uint64, required uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.byID {
		if c.Type != typ || c.ResourceID != resourceID {
			continue
		}
		if c.IsExpired() {
			continue
		}
		if c.Permissions&required == required {
			return true
		}
	}
	return false
}

// FindByType returns every non-expired capability of typ in the table.
func (t *CapabilityTable) FindByType(typ CapabilityType) []Capability {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Capability
	for _, c := range t.byID {
		if c.Type == typ && !c.IsExpired() {
			out = append(out, c)
		}
	}
	return out
}

// Manager owns one CapabilityTable per process, mirrored from
// CapabilityManager's process_tables array.
type Manager struct {
	mu     sync.Mutex
	tables map[uint64]*CapabilityTable
}

func NewManager() *Manager {
	return &Manager{tables: map[uint64]*CapabilityTable{}}
}

// InitProcess creates an empty capability table for pid if one does
// not already exist.
func (m *Manager) InitProcess(pid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[pid]; !ok {
		m.tables[pid] = newCapabilityTable()
	}
}

func (m *Manager) table(pid uint64) (*CapabilityTable, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[pid]
	if !ok {
		return nil, errors.Errorf("security: process %d has no capability table", pid)
	}
	return t, nil
}

// Grant mints a new capability of typ over resourceID owned by pid
// and adds it to that process's table.
func (m *Manager) Grant(pid uint64, typ CapabilityType, resourceID uint64) (Capability, error) {
	t, err := m.table(pid)
	if err != nil {
		return Capability{}, err
	}
	cap := NewCapability(typ, resourceID, pid)
	if err := t.Add(cap); err != nil {
		return Capability{}, err
	}
	logger().WithFields(map[string]interface{}{"pid": pid, "type": typ, "resource": resourceID}).Info("capability granted")
	return cap, nil
}

// Revoke removes capabilityID from pid's table.
func (m *Manager) Revoke(pid uint64, capabilityID string) error {
	t, err := m.table(pid)
	if err != nil {
		return err
	}
	t.Remove(capabilityID)
	return nil
}

// Check verifies pid holds a sufficient, unexpired capability for the
// given type/resource/permission combination.
func (m *Manager) Check(pid uint64, typ CapabilityType, resourceID uint64, required uint64) (bool, error) {
	t, err := m.table(pid)
	if err != nil {
		return false, err
	}
	return t.Verify(typ, resourceID, required), nil
}
