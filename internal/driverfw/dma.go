package driverfw

import "sync"

// PhysAddr is a device-visible bus address, kept distinct from uint64
// so a driver can never hand a virtual pointer or an offset to a
// device register expecting an address a DMA engine would walk. Only
// DMABuffer.PhysAddr and AllocDMABuffer produce or consume one.
type PhysAddr uint64

// DMABuffer is a host-memory region a driver allocates for device DMA.
// Grounded on dma.rs: allocate once, hand the physical address to the
// device, free on Release. We model the buffer in host memory since
// this repository runs as a user-space process tree rather than owning
// physical pages directly; physAddr is a stand-in a real backend would
// fill from an IOMMU mapping.
type DMABuffer struct {
	mu       sync.Mutex
	data     []byte
	physAddr PhysAddr
	released bool
}

// AllocDMABuffer reserves size bytes of DMA-capable memory.
func AllocDMABuffer(size int, physAddr PhysAddr) *DMABuffer {
	return &DMABuffer{data: make([]byte, size), physAddr: physAddr}
}

// Bytes returns the buffer's backing slice. Panics if called after
// Release, mirroring the original's Drop-invalidates-pointer contract.
func (b *DMABuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		panic("driverfw: use of DMA buffer after release")
	}
	return b.data
}

// PhysAddr returns the address a device should be programmed with.
func (b *DMABuffer) PhysAddr() PhysAddr { return b.physAddr }

// Release frees the buffer. Safe to call once; a second call panics,
// mirroring the single-ownership semantics of the original Drop impl.
func (b *DMABuffer) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		panic("driverfw: double release of DMA buffer")
	}
	b.released = true
	b.data = nil
}
