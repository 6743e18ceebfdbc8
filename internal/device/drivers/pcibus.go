package drivers

import (
	"strconv"

	"github.com/go-ini/ini"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
)

// ConfigSpaceReader abstracts reading PCI configuration space so the
// enumerator can be exercised with a fake bus in tests, mirroring how
// drivers/pci/src/main.rs reads vendor/device/class registers through
// a single port-IO primitive.
type ConfigSpaceReader interface {
	ReadConfig32(bus, device, function uint8, offset uint8) uint32
}

// ConfigSpaceWriter abstracts writing PCI configuration space, kept
// separate from ConfigSpaceReader since enumeration never needs it and
// a read-only fake bus in tests shouldn't have to implement it.
type ConfigSpaceWriter interface {
	WriteConfig32(bus, device, function uint8, offset uint8, value uint32)
}

// EnumeratePCI walks every bus/device/function slot and returns a
// BusCoordinates for each slot whose vendor id is not the "no device"
// sentinel 0xFFFF, mirroring the brute-force bus/device/function scan
// in drivers/pci/src/main.rs.
func EnumeratePCI(r ConfigSpaceReader) []config.BusCoordinates {
	var found []config.BusCoordinates
	for bus := 0; bus < 256; bus++ {
		for dev := 0; dev < 32; dev++ {
			for fn := 0; fn < 8; fn++ {
				b, d, f := uint8(bus), uint8(dev), uint8(fn)
				reg0 := r.ReadConfig32(b, d, f, 0x00)
				vendorID := uint16(reg0 & 0xFFFF)
				if vendorID == 0xFFFF {
					if fn == 0 {
						break // no function 0 means no device in this slot
					}
					continue
				}
				deviceID := uint16(reg0 >> 16)

				reg2 := r.ReadConfig32(b, d, f, 0x08)
				classCode := uint8(reg2 >> 24)
				subclass := uint8(reg2 >> 16)
				iface := uint8(reg2 >> 8)

				reg3 := r.ReadConfig32(b, d, f, 0x0C)
				headerType := uint8(reg3 >> 16)

				bc := config.BusCoordinates{
					VendorID:  vendorID,
					DeviceID:  deviceID,
					ClassCode: classCode,
					Subclass:  subclass,
					Interface: iface,
					Bus:       b,
					Device:    d,
					Function:  f,
				}
				for barIdx := 0; barIdx < 6; barIdx++ {
					bc.BARs[barIdx] = uint64(r.ReadConfig32(b, d, f, uint8(0x10+4*barIdx)))
				}
				found = append(found, bc)

				// Multi-function bit is bit 7 of the header type byte;
				// if unset, function 0 is the only function present.
				if fn == 0 && headerType&0x80 == 0 {
					break
				}
			}
		}
	}
	return found
}

// LoadFixture reads a static bus snapshot from an INI file, one
// section per device, the same section/key shape
// device/config.(DeviceInfo).getHostPath reads out of a sysfs
// "uevent" file with go-ini — except here every field the real
// CONFIG_ADDRESS/CONFIG_DATA scan would have read off a register
// comes from a key instead. cmd/pcibusd reads this instead of scanning
// when given --fixture, needing no iopl privilege, so the rest
// of the PCI protocol (READ_CONFIG/WRITE_CONFIG/FIND_DEVICE) can still
// be exercised against a known device list in tests and local runs.
//
// Expected shape:
//
//	[device0]
//	vendor_id = 0x8086
//	device_id = 0x100e
//	class_code = 0x02
//	subclass = 0x00
//	interface = 0x00
//	bus = 0
//	device = 3
//	function = 0
func LoadFixture(path string) ([]config.BusCoordinates, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, err
	}

	var found []config.BusCoordinates
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		bc := config.BusCoordinates{
			VendorID:  hexKey(section, "vendor_id"),
			DeviceID:  hexKey(section, "device_id"),
			ClassCode: uint8(hexKey(section, "class_code")),
			Subclass:  uint8(hexKey(section, "subclass")),
			Interface: uint8(hexKey(section, "interface")),
			Bus:       uint8(decKey(section, "bus")),
			Device:    uint8(decKey(section, "device")),
			Function:  uint8(decKey(section, "function")),
		}
		found = append(found, bc)
	}
	return found, nil
}

func hexKey(section *ini.Section, name string) uint16 {
	key, err := section.GetKey(name)
	if err != nil {
		return 0
	}
	v, err := strconv.ParseUint(stripHexPrefix(key.String()), 16, 16)
	if err != nil {
		return 0
	}
	return uint16(v)
}

func decKey(section *ini.Section, name string) uint64 {
	key, err := section.GetKey(name)
	if err != nil {
		return 0
	}
	v, _ := key.Uint64()
	return v
}

func stripHexPrefix(s string) string {
	if len(s) > 2 && (s[0:2] == "0x" || s[0:2] == "0X") {
		return s[2:]
	}
	return s
}

// FindDevice scans an already-enumerated device list for a matching
// vendor/device id pair, mirroring spec §4.3's FIND_DEVICE lookup.
func FindDevice(devices []config.BusCoordinates, vendorID, deviceID uint16) (config.BusCoordinates, bool) {
	for _, d := range devices {
		if d.VendorID == vendorID && d.DeviceID == deviceID {
			return d, true
		}
	}
	return config.BusCoordinates{}, false
}
