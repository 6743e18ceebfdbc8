package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckResourceAccessDispatchesByType(t *testing.T) {
	cfg := DefaultSandboxConfig()
	cfg.AddAllowedPath("/home/user")
	cfg.CanNetwork = true
	sb := newSandbox(1, cfg)

	type testData struct {
		resourceType string
		resourceID   string
		expected     bool
	}
	data := []testData{
		{"file", "/home/user/doc.txt", true},
		{"file", "/etc/shadow", false},
		{"network", "", true},
		{"device", "", false},
		{"fork", "", false},
		{"exec", "", false},
		{"unknown", "", false},
	}
	for _, d := range data {
		assert.Equal(t, d.expected, sb.CheckResourceAccess(d.resourceType, d.resourceID))
	}
}

func TestPermissiveSandboxAllowsEverythingCoarse(t *testing.T) {
	sb := newSandbox(1, PermissiveSandboxConfig())
	assert.True(t, sb.CheckResourceAccess("network", ""))
	assert.True(t, sb.CheckResourceAccess("device", ""))
	assert.True(t, sb.CheckResourceAccess("fork", ""))
	assert.True(t, sb.CheckResourceAccess("exec", ""))
}

func TestCheckLimitAndCharge(t *testing.T) {
	cfg := DefaultSandboxConfig()
	cfg.MemoryLimitBytes = 100
	sb := newSandbox(1, cfg)

	assert.True(t, sb.CheckLimit("memory", 50))
	assert.NoError(t, sb.Charge("memory", 50))
	assert.True(t, sb.CheckLimit("memory", 50))
	assert.NoError(t, sb.Charge("memory", 50))

	assert.False(t, sb.CheckLimit("memory", 1))
	assert.Error(t, sb.Charge("memory", 1))
}

func TestSandboxManagerCreateGetDestroy(t *testing.T) {
	m := NewSandboxManager()
	sb, err := m.Create(1, DefaultSandboxConfig())
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), sb.PID)

	got, ok := m.Get(1)
	assert.True(t, ok)
	assert.Same(t, sb, got)

	m.Destroy(1)
	_, ok = m.Get(1)
	assert.False(t, ok)
}

func TestSandboxManagerCheckAccessUnknownPID(t *testing.T) {
	m := NewSandboxManager()
	_, err := m.CheckAccess(999, "file", "/tmp")
	assert.Error(t, err)
}
