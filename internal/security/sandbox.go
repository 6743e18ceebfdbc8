package security

import (
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// SandboxConfig is the allow-list and limit set a sandboxed process is
// constrained to, mirrored from sandbox.rs's SandboxConfig — Rust's
// fixed [[u8;256];16] path arrays and [u32;16]/[u64;16] lists become
// Go slices here since we no longer need a no-alloc, fixed-layout
// struct.
type SandboxConfig struct {
	AllowedPaths    []string
	AllowedNetworks []string // CIDR strings
	AllowedDevices  []uint64

	MemoryLimitBytes  uint64
	CPULimitSeconds   uint64
	FDLimit           uint32
	BandwidthLimitBps uint64

	CanFork     bool
	CanExec     bool
	CanNetwork  bool
	CanHardware bool
}

// DefaultSandboxConfig mirrors sandbox.rs's new_default(): 512MB
// memory, 60s CPU, 256 fds, 10MB/s bandwidth, every coarse capability
// denied.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		MemoryLimitBytes:  512 * 1024 * 1024,
		CPULimitSeconds:   60,
		FDLimit:           256,
		BandwidthLimitBps: 10 * 1024 * 1024,
	}
}

// PermissiveSandboxConfig mirrors sandbox.rs's new_permissive(): every
// numeric limit at its maximum and every coarse capability allowed.
func PermissiveSandboxConfig() SandboxConfig {
	return SandboxConfig{
		MemoryLimitBytes:  ^uint64(0),
		CPULimitSeconds:   ^uint64(0),
		FDLimit:           ^uint32(0),
		BandwidthLimitBps: ^uint64(0),
		CanFork:           true,
		CanExec:           true,
		CanNetwork:        true,
		CanHardware:       true,
	}
}

// AddAllowedPath appends a new allowed path prefix.
func (c *SandboxConfig) AddAllowedPath(path string) {
	c.AllowedPaths = append(c.AllowedPaths, path)
}

// CheckPathAllowed reports whether path is beneath one of the allowed
// path prefixes, mirrored from check_path_allowed's starts_with scan.
func (c *SandboxConfig) CheckPathAllowed(path string) bool {
	for _, p := range c.AllowedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Sandbox is one process's enforcement state: its config, its
// capability table, and live resource usage counters, mirrored from
// sandbox.rs's Sandbox struct.
type Sandbox struct {
	mu   sync.Mutex
	PID  uint64
	Config SandboxConfig
	Capabilities *CapabilityTable

	MemoryUsed    uint64
	CPUUsed       uint64
	FDCount       uint32
	BandwidthUsed uint64
}

func newSandbox(pid uint64, cfg SandboxConfig) *Sandbox {
	return &Sandbox{PID: pid, Config: cfg, Capabilities: newCapabilityTable()}
}

// CheckResourceAccess dispatches on resourceType the way
// check_resource_access's match does: "file" consults the path
// allow-list, "network"/"device"/"fork"/"exec" consult the
// corresponding coarse boolean, and anything else is denied by
// default.
func (s *Sandbox) CheckResourceAccess(resourceType string, resourceID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch resourceType {
	case "file":
		return s.Config.CheckPathAllowed(resourceID)
	case "network":
		return s.Config.CanNetwork
	case "device":
		return s.Config.CanHardware
	case "fork":
		return s.Config.CanFork
	case "exec":
		return s.Config.CanExec
	default:
		return false
	}
}

// CheckLimit reports whether adding delta to the named resource's
// current usage would stay within its configured limit, mirrored from
// sandbox.rs's check_limit.
func (s *Sandbox) CheckLimit(resource string, delta uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch resource {
	case "memory":
		return s.MemoryUsed+delta <= s.Config.MemoryLimitBytes
	case "cpu":
		return s.CPUUsed+delta <= s.Config.CPULimitSeconds
	case "fd":
		return uint64(s.FDCount)+delta <= uint64(s.Config.FDLimit)
	case "bandwidth":
		return s.BandwidthUsed+delta <= s.Config.BandwidthLimitBps
	default:
		return false
	}
}

// Charge records delta bytes/seconds/units of usage against resource,
// failing if doing so would exceed the configured limit.
func (s *Sandbox) Charge(resource string, delta uint64) error {
	if !s.CheckLimit(resource, delta) {
		return errors.Errorf("security: sandbox pid %d would exceed %s limit", s.PID, resource)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch resource {
	case "memory":
		s.MemoryUsed += delta
	case "cpu":
		s.CPUUsed += delta
	case "fd":
		s.FDCount += uint32(delta)
	case "bandwidth":
		s.BandwidthUsed += delta
	}
	return nil
}

// MaxSandboxes bounds the number of concurrently tracked sandboxes,
// mirrored from sandbox.rs's sandboxes:[Option<Sandbox>;256].
const MaxSandboxes = 256

// SandboxManager owns every live Sandbox, mirrored from
// sandbox.rs's SandboxManager.
type SandboxManager struct {
	mu       sync.Mutex
	sandboxes map[uint64]*Sandbox
}

func NewSandboxManager() *SandboxManager {
	return &SandboxManager{sandboxes: map[uint64]*Sandbox{}}
}

// Create installs a new sandbox for pid, failing once MaxSandboxes is
// reached.
func (m *SandboxManager) Create(pid uint64, cfg SandboxConfig) (*Sandbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sandboxes) >= MaxSandboxes {
		return nil, errors.New("security: sandbox table full")
	}
	sb := newSandbox(pid, cfg)
	m.sandboxes[pid] = sb
	return sb, nil
}

func (m *SandboxManager) Get(pid uint64) (*Sandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sb, ok := m.sandboxes[pid]
	return sb, ok
}

func (m *SandboxManager) Destroy(pid uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sandboxes, pid)
}

// CheckAccess looks up pid's sandbox and evaluates CheckResourceAccess
// against it, mirroring SandboxManager::check_access.
func (m *SandboxManager) CheckAccess(pid uint64, resourceType, resourceID string) (bool, error) {
	sb, ok := m.Get(pid)
	if !ok {
		return false, errors.Errorf("security: no sandbox for pid %d", pid)
	}
	return sb.CheckResourceAccess(resourceType, resourceID), nil
}
