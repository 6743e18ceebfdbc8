package security

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAttenuateNarrowsPermissionsAndKeepsIdentityDistinct(t *testing.T) {
	cap := NewCapability(CapFileRead, 1, 100)
	narrowed := cap.Attenuate(0x01)

	assert.Equal(t, uint64(0x01), narrowed.Permissions&0x01)
	assert.Equal(t, FullPermissions, cap.Permissions, "original capability must stay immutable")
	assert.NotEqual(t, cap.ID, narrowed.ID)
}

func TestDelegateDecrementsDepthAndFailsAtZero(t *testing.T) {
	cap := NewCapability(CapFileRead, 1, 100)
	assert.Equal(t, DefaultDelegationDepth, cap.DelegationDepth)

	d1, err := cap.Delegate(200)
	assert.NoError(t, err)
	assert.Equal(t, uint64(200), d1.OwnerPID)
	assert.Equal(t, DefaultDelegationDepth-1, d1.DelegationDepth)

	d2, err := d1.Delegate(300)
	assert.NoError(t, err)
	d3, err := d2.Delegate(400)
	assert.NoError(t, err)
	assert.Equal(t, uint8(0), d3.DelegationDepth)

	_, err = d3.Delegate(500)
	assert.Error(t, err)
}

func TestIsExpired(t *testing.T) {
	cap := NewCapability(CapFileRead, 1, 100)
	assert.False(t, cap.IsExpired(), "zero expiration never expires")

	cap.Expiration = time.Now().Add(-time.Minute)
	assert.True(t, cap.IsExpired())

	cap.Expiration = time.Now().Add(time.Minute)
	assert.False(t, cap.IsExpired())
}

func TestCapabilityTableVerifyRespectsExpirationAndPermissions(t *testing.T) {
	table := newCapabilityTable()
	cap := NewCapability(CapNetworkSend, 7, 1)
	cap.Permissions = 0x0F
	assert.NoError(t, table.Add(cap))

	assert.True(t, table.Verify(CapNetworkSend, 7, 0x01))
	assert.False(t, table.Verify(CapNetworkSend, 7, 0x10), "required bit not held")
	assert.False(t, table.Verify(CapNetworkSend, 99, 0x01), "wrong resource")

	expired := NewCapability(CapNetworkSend, 8, 1)
	expired.Expiration = time.Now().Add(-time.Minute)
	assert.NoError(t, table.Add(expired))
	assert.False(t, table.Verify(CapNetworkSend, 8, 0x01))
}

func TestManagerGrantCheckRevoke(t *testing.T) {
	m := NewManager()
	m.InitProcess(1)

	cap, err := m.Grant(1, CapFileRead, 42)
	assert.NoError(t, err)

	ok, err := m.Check(1, CapFileRead, 42, FullPermissions)
	assert.NoError(t, err)
	assert.True(t, ok)

	assert.NoError(t, m.Revoke(1, cap.ID.String()))

	ok, err = m.Check(1, CapFileRead, 42, FullPermissions)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestManagerCheckFailsForUnknownProcess(t *testing.T) {
	m := NewManager()
	_, err := m.Check(999, CapFileRead, 1, FullPermissions)
	assert.Error(t, err)
}
