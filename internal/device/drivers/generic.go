// Package drivers holds the device-kind implementations the device
// manager hands out — block and NIC devices today — built by
// embedding a GenericDevice the way device/drivers/block.go embeds
// *GenericDevice into BlockDevice.
package drivers

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
)

var devLog = logrus.WithField("source", "device/drivers")

func logger() *logrus.Entry {
	return devLog.WithField("subsystem", "device")
}

// GenericDevice carries the bookkeeping every concrete device shares:
// its descriptor, attachment state, and attach-count reference
// tracking. Concrete devices embed it and add their own Attach/Detach
// bodies, mirroring device/drivers/generic.go and block.go.
type GenericDevice struct {
	mu          sync.Mutex
	Info        config.DeviceInfo
	attached    bool
	attachCount int
}

func NewGenericDevice(info config.DeviceInfo) *GenericDevice {
	return &GenericDevice{Info: info}
}

func (d *GenericDevice) DeviceID() string                 { return d.Info.ID }
func (d *GenericDevice) DeviceType() config.DeviceType     { return d.Info.Type }
func (d *GenericDevice) GetDeviceInfo() config.DeviceInfo  { return d.Info }

// Reference bumps the attach count, following bumpAttachCount's
// pattern of tracking how many consumers currently hold the device
// open.
func (d *GenericDevice) Reference() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attachCount++
	return d.attachCount
}

// Dereference drops the attach count, floored at zero.
func (d *GenericDevice) Dereference() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.attachCount > 0 {
		d.attachCount--
	}
	return d.attachCount
}

func (d *GenericDevice) GetAttachCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attachCount
}

func (d *GenericDevice) markAttached(ctx context.Context, v bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if v && d.attached {
		return errors.Errorf("device %s: already attached", d.Info.ID)
	}
	if !v && !d.attached {
		return errors.Errorf("device %s: already detached", d.Info.ID)
	}
	d.attached = v
	return nil
}
