package drivers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
)

func TestLoadFixture(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "pci-fixture-*.ini")
	require.NoError(t, err)
	_, err = f.WriteString(`[device0]
vendor_id = 0x8086
device_id = 0x100e
class_code = 0x02
subclass = 0x00
interface = 0x00
bus = 0
device = 3
function = 0
`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	devices, err := LoadFixture(f.Name())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, uint16(0x8086), d.VendorID)
	assert.Equal(t, uint16(0x100e), d.DeviceID)
	assert.Equal(t, uint8(0x02), d.ClassCode)
	assert.Equal(t, uint8(0), d.Bus)
	assert.Equal(t, uint8(3), d.Device)
	assert.Equal(t, uint8(0), d.Function)
}

func TestFindDevice(t *testing.T) {
	devices := []config.BusCoordinates{
		{VendorID: 0x8086, DeviceID: 0x100e, Bus: 0, Device: 3, Function: 0},
	}
	d, ok := FindDevice(devices, 0x8086, 0x100e)
	require.True(t, ok)
	assert.Equal(t, uint8(3), d.Device)

	_, ok = FindDevice(devices, 0x1234, 0x5678)
	assert.False(t, ok)
}
