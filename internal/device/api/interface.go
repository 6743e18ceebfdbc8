// Package api defines the contracts the device manager uses to talk
// to devices and to the driver manager, mirrored from
// device/api/interface.go's Device/DeviceManager/DeviceReceiver triad.
package api

import (
	"context"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
)

// Device is anything the device manager can attach, detach, and
// reference-count. DeviceID/DeviceType/GetDeviceInfo mirror the
// original accessor set; Reference/Dereference back the attach-count
// bookkeeping used by the driver-crash restart path.
type Device interface {
	DeviceID() string
	DeviceType() config.DeviceType
	GetDeviceInfo() config.DeviceInfo

	Attach(ctx context.Context) error
	Detach(ctx context.Context) error

	Reference() int
	Dereference() int
	GetAttachCount() int
}

// DeviceReceiver is implemented by whatever owns the device table on
// behalf of a driver process — the original's hypervisor-hotplug
// analogue here is the per-driver device manager client.
type DeviceReceiver interface {
	HotplugAddDevice(ctx context.Context, dev Device) error
	HotplugRemoveDevice(ctx context.Context, dev Device) error
}

// Manager is the device manager's public contract: create, attach,
// detach, and look up devices by id, mirroring
// device/api/interface.go's DeviceManager interface.
type Manager interface {
	NewDevice(info config.DeviceInfo) (Device, error)
	RemoveDevice(id string) error
	AttachDevice(ctx context.Context, id string) error
	DetachDevice(ctx context.Context, id string) error
	IsDeviceAttached(id string) bool
	GetDeviceByID(id string) (Device, error)
	GetAllDevices() []Device
}
