// Package security implements the capability and sandbox model: 128-bit
// unforgeable capability tokens with attenuation and delegation, and
// per-process sandboxes that gate resource access against allow-lists
// and numeric limits.
//
// Grounded on services/security/src/capability.rs's CapabilityType/
// Capability/CapabilityTable/CapabilityManager and sandbox.rs's
// SandboxConfig/Sandbox/SandboxManager, reworked from fixed Rust
// arrays (MAX_CAPABILITIES=4096, process_tables:[Option<..>;256]) into
// Go maps guarded by a mutex, in the style the rest of this codebase
// uses for every other shared table.
package security

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

var secLog = logrus.WithField("source", "security")

func logger() *logrus.Entry {
	return secLog.WithField("subsystem", "security")
}

// CapabilityType enumerates the resources a Capability can authorize
// access to, mirrored 1:1 from capability.rs's CapabilityType enum.
type CapabilityType uint32

const (
	CapFileRead        CapabilityType = 1
	CapFileWrite       CapabilityType = 2
	CapFileExecute     CapabilityType = 3
	CapFileDelete      CapabilityType = 4
	CapDirectoryCreate CapabilityType = 5
	CapDirectoryList   CapabilityType = 6

	CapNetworkSend    CapabilityType = 10
	CapNetworkReceive CapabilityType = 11
	CapNetworkBind    CapabilityType = 12
	CapNetworkListen  CapabilityType = 13

	CapDeviceRead    CapabilityType = 20
	CapDeviceWrite   CapabilityType = 21
	CapDeviceControl CapabilityType = 22

	CapProcessCreate CapabilityType = 30
	CapProcessKill   CapabilityType = 31
	CapProcessDebug  CapabilityType = 32

	CapMemoryAllocate CapabilityType = 40
	CapMemoryMap      CapabilityType = 41
	CapMemoryDMA      CapabilityType = 42

	CapIpcSend       CapabilityType = 50
	CapIpcReceive    CapabilityType = 51
	CapIpcCreatePort CapabilityType = 52

	CapSystemShutdown CapabilityType = 60
	CapSystemReboot   CapabilityType = 61
	CapSystemTime     CapabilityType = 62

	CapHardwareMMIO CapabilityType = 70
	CapHardwareIRQ  CapabilityType = 71
	CapHardwareDMA  CapabilityType = 72
)

// FullPermissions grants every bit, matching Capability::new's default
// of an all-ones permission mask.
const FullPermissions uint64 = ^uint64(0)

// DefaultDelegationDepth bounds how many times a capability may be
// re-delegated before delegation fails, mirrored from
// Capability::new's delegation_depth = 3.
const DefaultDelegationDepth uint8 = 3

// Capability is an unforgeable, 128-bit-identified token authorizing
// a specific permission mask on a specific resource, owned by a
// single process at a time.
type Capability struct {
	ID             uuid.UUID
	Type           CapabilityType
	ResourceID     uint64
	Permissions    uint64
	OwnerPID       uint64
	IssuedAt       time.Time
	Expiration     time.Time // zero means never expires
	DelegationDepth uint8
}

// NewCapability mints a fresh capability for pid, owning resourceID
// under typ with the full permission mask and the default delegation
// depth, mirroring Capability::new.
func NewCapability(typ CapabilityType, resourceID, pid uint64) Capability {
	return Capability{
		ID:              newCapabilityID(),
		Type:            typ,
		ResourceID:      resourceID,
		Permissions:     FullPermissions,
		OwnerPID:        pid,
		IssuedAt:        time.Now(),
		DelegationDepth: DefaultDelegationDepth,
	}
}

func newCapabilityID() uuid.UUID {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is unrecoverable on this platform; fall
		// back to a time-seeded id rather than minting a forgeable
		// all-zero token.
		binary.BigEndian.PutUint64(b[:8], uint64(time.Now().UnixNano()))
	}
	id, _ := uuid.FromBytes(b[:])
	return id
}

// IsExpired reports whether the capability's expiration has passed.
// A zero Expiration means the capability never expires.
func (c Capability) IsExpired() bool {
	return !c.Expiration.IsZero() && time.Now().After(c.Expiration)
}

// Attenuate returns a new capability narrowed to the intersection of
// the current permissions and newPermissions. Per the invariant that
// capabilities are immutable, the receiver is left untouched,
// mirroring capability.rs's attenuate returning a copy with
// `permissions &= new_permissions`.
func (c Capability) Attenuate(newPermissions uint64) Capability {
	out := c
	out.ID = newCapabilityID()
	out.Permissions &= newPermissions
	return out
}

// Delegate returns a copy of the capability re-owned by targetPID with
// one less delegation depth remaining, failing once depth has reached
// zero, mirroring capability.rs's delegate.
func (c Capability) Delegate(targetPID uint64) (Capability, error) {
	if c.DelegationDepth == 0 {
		return Capability{}, errors.New("security: capability delegation depth exhausted")
	}
	out := c
	out.ID = newCapabilityID()
	out.OwnerPID = targetPID
	out.DelegationDepth--
	return out, nil
}
