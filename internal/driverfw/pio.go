package driverfw

// PIO models a device's legacy x86 port-I/O register window, the
// in/out-instruction counterpart to MMIORegion for chipsets (PCI
// config space, ATA's legacy command block) addressed by port number
// rather than a memory-mapped window. The actual IN/OUT instructions
// need a cgo or assembly shim this repository does not provide, the
// same gap cmd/pcibusd's outl/inl placeholders document; PIO exists so
// callers have one typed seam to plug that shim into rather than each
// inventing their own port arithmetic.
type PIO struct {
	base uint16
}

// NewPIO returns a PIO window starting at the given base port.
func NewPIO(base uint16) *PIO { return &PIO{base: base} }

// In8/In16/In32 read a single port-mapped register. Unimplemented
// pending a native IN instruction; callers get the all-ones pattern a
// disconnected bus returns rather than a silently wrong zero.
func (p *PIO) In8(offset uint16) uint8   { return 0xFF }
func (p *PIO) In16(offset uint16) uint16 { return 0xFFFF }
func (p *PIO) In32(offset uint16) uint32 { return 0xFFFFFFFF }

// Out8/Out16/Out32 write a single port-mapped register. No-ops
// pending a native OUT instruction.
func (p *PIO) Out8(offset uint16, v uint8)   {}
func (p *PIO) Out16(offset uint16, v uint16) {}
func (p *PIO) Out32(offset uint16, v uint32) {}

// Port returns the absolute port number for offset within this window.
func (p *PIO) Port(offset uint16) uint16 { return p.base + offset }
