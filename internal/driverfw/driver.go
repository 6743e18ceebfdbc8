// Package driverfw is the driver-facing half of the device framework:
// the Driver contract every driver process implements, the DeviceInfo
// a bus driver hands to candidate drivers during probing, and the
// thin DMA/MMIO/interrupt wrappers drivers use to touch hardware.
//
// Grounded on drivers/framework/src/lib.rs, dma.rs, mmio.rs and
// interrupts.rs from the original implementation, reworked in the
// idiom of device/api/interface.go: a small set of Go interfaces
// instead of a single Rust trait, context-aware blocking calls, and
// errors returned rather than encoded as small integers.
package driverfw

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DeviceClass mirrors the original DeviceType enum distinguishing the
// bus a device was discovered on.
type DeviceClass uint32

const (
	ClassPCI DeviceClass = iota + 1
	ClassUSB
	ClassI2C
	ClassSPI
	ClassSerial
)

// DeviceInfo is the descriptor a bus driver builds while enumerating
// and hands to every registered driver's Probe method.
type DeviceInfo struct {
	Class    DeviceClass
	VendorID uint16
	DeviceID uint16

	ClassCode uint8
	Subclass  uint8
	Interface uint8

	Bus, Device, Function uint8

	BARs    [6]uint64
	IRQLine uint8
	IRQPin  uint8
}

// Driver is the contract every driver process implements, mirrored
// from the original Driver trait (init/probe/start/stop/name/version).
type Driver interface {
	Name() string
	Version() string
	// Probe reports whether this driver can manage dev.
	Probe(dev DeviceInfo) bool
	Init(ctx context.Context, dev DeviceInfo) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

var fwLog = logrus.WithField("source", "driverfw")

// Logger returns the package-level entry tagged with the driver's
// name, following the devLogger/DeviceLogger accessor pattern used
// throughout the device manager.
func Logger(driverName string) *logrus.Entry {
	return fwLog.WithFields(logrus.Fields{
		"subsystem": "driverfw",
		"driver":    driverName,
	})
}
