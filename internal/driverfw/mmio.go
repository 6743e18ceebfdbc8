package driverfw

import "github.com/pkg/errors"

// MMIORegion is a bounds-checked view over a mapped device register
// window, mirrored from mmio.rs's Read8/16/32/64 and Write8/16/32/64.
type MMIORegion struct {
	base   uint64
	region []byte
	mapped bool
}

// MapMMIO models mapping size bytes of device register space starting
// at base. The backing slice stands in for the real mapping a
// production build would obtain from the kernel.
func MapMMIO(base uint64, size int) *MMIORegion {
	return &MMIORegion{base: base, region: make([]byte, size), mapped: true}
}

func (r *MMIORegion) bounds(off uint64, width int) error {
	if !r.mapped {
		return ErrNotInitialized
	}
	if off+uint64(width) > uint64(len(r.region)) {
		return errors.Wrapf(ErrInvalidArgument, "mmio: offset %#x width %d out of range (region size %d)", off, width, len(r.region))
	}
	return nil
}

func (r *MMIORegion) Read8(off uint64) (uint8, error) {
	if err := r.bounds(off, 1); err != nil {
		return 0, err
	}
	return r.region[off], nil
}

func (r *MMIORegion) Write8(off uint64, v uint8) error {
	if err := r.bounds(off, 1); err != nil {
		return err
	}
	r.region[off] = v
	return nil
}

func (r *MMIORegion) Read16(off uint64) (uint16, error) {
	if err := r.bounds(off, 2); err != nil {
		return 0, err
	}
	b := r.region[off : off+2]
	return uint16(b[0]) | uint16(b[1])<<8, nil
}

func (r *MMIORegion) Write16(off uint64, v uint16) error {
	if err := r.bounds(off, 2); err != nil {
		return err
	}
	b := r.region[off : off+2]
	b[0], b[1] = byte(v), byte(v>>8)
	return nil
}

func (r *MMIORegion) Read32(off uint64) (uint32, error) {
	if err := r.bounds(off, 4); err != nil {
		return 0, err
	}
	b := r.region[off : off+4]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, nil
}

func (r *MMIORegion) Write32(off uint64, v uint32) error {
	if err := r.bounds(off, 4); err != nil {
		return err
	}
	b := r.region[off : off+4]
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	return nil
}

func (r *MMIORegion) Read64(off uint64) (uint64, error) {
	lo, err := r.Read32(off)
	if err != nil {
		return 0, err
	}
	hi, err := r.Read32(off + 4)
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (r *MMIORegion) Write64(off uint64, v uint64) error {
	if err := r.Write32(off, uint32(v)); err != nil {
		return err
	}
	return r.Write32(off+4, uint32(v>>32))
}

// Base returns the region's base address.
func (r *MMIORegion) Base() uint64 { return r.base }

// Unmap releases the region. Further reads/writes fail with
// ErrNotInitialized, mirroring the original's Drop-unmaps contract.
func (r *MMIORegion) Unmap() {
	r.mapped = false
	r.region = nil
}
