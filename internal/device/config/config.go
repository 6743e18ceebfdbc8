// Package config holds the device descriptors shared between the
// device manager, the driver manager, and individual drivers.
//
// Grounded on device/config/config.go's DeviceType/DeviceInfo/
// BlockDrive triad, narrowed to the fields this system's block and
// NIC drivers actually need, plus the bus coordinates carried by
// drivers/framework/src/lib.rs's DeviceInfo (vendor/device id,
// class/subclass/interface, bus/device/function, BARs, IRQ line).
package config

// DeviceType enumerates the device categories the device manager can
// hold a DeviceRecord for.
type DeviceType string

const (
	DeviceBlock   DeviceType = "block"
	DeviceNIC     DeviceType = "nic"
	DeviceInput   DeviceType = "input"
	DeviceDisplay DeviceType = "display"
	DevicePCIBus  DeviceType = "pcibus"
	DeviceGeneric DeviceType = "generic"
)

// BusCoordinates identifies where on the PCI bus a device was
// enumerated, mirrored from the original PCI-aware DeviceInfo.
type BusCoordinates struct {
	VendorID  uint16
	DeviceID  uint16
	ClassCode uint8
	Subclass  uint8
	Interface uint8
	Bus       uint8
	Device    uint8
	Function  uint8
	BARs      [6]uint64
	IRQLine   uint8
}

// BlockDrive describes a block device's backing store and addressing,
// narrowed from persist/api's BlockDrive to the fields relevant to a
// software block driver rather than a hypervisor-attached disk.
type BlockDrive struct {
	BackingFile string
	SectorSize  uint32
	SectorCount uint64
	ReadOnly    bool
}

// NICInfo describes an Ethernet-capable network device.
type NICInfo struct {
	MACAddress [6]byte
	MTU        uint32
}

// DeviceInfo is the descriptor the device manager stores per device,
// merging bus coordinates with driver-specific attributes the way
// device/config.DeviceInfo merges HostPath/Major/Minor with
// DriverOptions.
type DeviceInfo struct {
	ID             string
	Type           DeviceType
	Bus            BusCoordinates
	Block          *BlockDrive `json:",omitempty"`
	NIC            *NICInfo    `json:",omitempty"`
	DriverOptions  map[string]string
}
