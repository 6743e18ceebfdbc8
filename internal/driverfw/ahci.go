package driverfw

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// AHCI FIS types, mirrored verbatim from ahci_structures.rs.
const (
	FisTypeRegH2D      uint8 = 0x27
	FisTypeRegD2H      uint8 = 0x34
	FisTypeDmaActivate uint8 = 0x39
	FisTypeDmaSetup    uint8 = 0x41
	FisTypeData        uint8 = 0x46
	FisTypeBist        uint8 = 0x58
	FisTypePioSetup    uint8 = 0x5F
	FisTypeDevBits     uint8 = 0xA1
)

const (
	cmdHeaderSize = 32
	cmdTableSize  = 128
	prdtEntrySize = 16
	fisRegionSize = 256

	// ahciAlignment is the DMA alignment the command-list and
	// received-FIS regions require, mirrored from the AHCI
	// specification's 1KB/256B alignment rules and simplified to one
	// bound since this controller is simulated.
	ahciAlignment = 1024

	regCLB = 0x00
	regFB  = 0x08
	regCI  = 0x18

	// DefaultCommandDeadline is spec §4.7's default one-second
	// per-command deadline.
	DefaultCommandDeadline = time.Second
)

// AhciOp identifies the direction of a command FIS.
type AhciOp uint8

const (
	AhciOpRead AhciOp = iota + 1
	AhciOpWrite
)

// BlockBackend performs the sector I/O a command's PRDT ultimately
// addresses, standing in for the physical disk a real AHCI controller
// would reach over bus-mastering DMA.
type BlockBackend interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
}

// AhciPort models one AHCI port's command-issue machinery: an MMIO
// register window plus DMA-allocated command-list, received-FIS, and
// command-table regions, mirrored from ahci_structures.rs's
// AhciCmdHeader/AhciCmdTable/AhciPrdtEntry layouts. Register encodings
// are simulated in host memory since this repository has no chipset
// to program; Execute drives the backend directly once a command is
// "issued" rather than waiting on a real completion interrupt.
type AhciPort struct {
	mu sync.Mutex

	backend    BlockBackend
	sectorSize int64
	phys       *physAllocator
	deadline   time.Duration

	mmio        *MMIORegion
	commandList *DMABuffer
	fisBase     *DMABuffer
	cmdTable    *DMABuffer

	resets int
}

// NewAhciPort allocates a port's command-list/FIS-base/command-table
// rings over backend, mirroring the per-port setup the AHCI spec
// requires before a port can issue its first command.
func NewAhciPort(backend BlockBackend, sectorSize int64) *AhciPort {
	p := &AhciPort{
		backend:    backend,
		sectorSize: sectorSize,
		phys:       newPhysAllocator(),
		deadline:   DefaultCommandDeadline,
	}
	p.buildRings()
	return p
}

func (p *AhciPort) buildRings() {
	p.mmio = MapMMIO(0, 0x80)
	p.commandList = AllocDMABuffer(cmdHeaderSize, p.phys.alloc(cmdHeaderSize))
	p.fisBase = AllocDMABuffer(fisRegionSize, p.phys.alloc(fisRegionSize))
	p.cmdTable = AllocDMABuffer(cmdTableSize+prdtEntrySize, p.phys.alloc(cmdTableSize+prdtEntrySize))
	_ = p.mmio.Write32(regCLB, uint32(p.commandList.PhysAddr()))
	_ = p.mmio.Write32(regFB, uint32(p.fisBase.PhysAddr()))
}

// reset tears down and rebuilds the port's rings, mirroring spec
// §4.7's "on deadline the driver asserts controller reset... and
// rebuilds the port rings."
func (p *AhciPort) reset() {
	p.mmio.Unmap()
	p.buildRings()
	p.resets++
}

// Resets reports how many controller resets this port has performed.
func (p *AhciPort) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// SetDeadline overrides the default one-second command deadline, for
// tests that want a timeout path without waiting a full second.
func (p *AhciPort) SetDeadline(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deadline = d
}

// Execute sets up one command-descriptor and PRDT entry for op against
// lba/count sectors, writes the command-issue register, and waits for
// completion or the port's deadline. Commands queue behind the active
// one since this model keeps a single command slot per port — spec
// §4.7's baseline ordering before a fuller NCQ implementation. On
// op == AhciOpWrite, data supplies the bytes to transfer; on
// AhciOpRead, data is ignored and the read bytes are returned.
func (p *AhciPort) Execute(ctx context.Context, op AhciOp, lba uint64, count uint32, data []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Command header: PRDT length 1, command-table base address —
	// AhciCmdHeader's flags/prdtl/ctba fields.
	header := p.commandList.Bytes()
	binary.LittleEndian.PutUint16(header[0:2], 1)
	binary.LittleEndian.PutUint16(header[2:4], 1)
	binary.LittleEndian.PutUint32(header[4:8], 0)
	binary.LittleEndian.PutUint32(header[8:12], uint32(p.cmdTable.PhysAddr()))

	// Command FIS inside the command table — AhciFisH2D's
	// command/lba/count fields.
	table := p.cmdTable.Bytes()
	cfis := table[0:64]
	cfis[0] = FisTypeRegH2D
	cfis[2] = byte(op)
	cfis[4], cfis[5], cfis[6] = byte(lba), byte(lba>>8), byte(lba>>16)
	cfis[8], cfis[9], cfis[10] = byte(lba>>24), byte(lba>>32), byte(lba>>40)
	binary.LittleEndian.PutUint16(cfis[12:14], uint16(count))

	// PRDT entry — AhciPrdtEntry's dba/dbc fields. The data buffer it
	// addresses is a fresh per-command DMA allocation rather than part
	// of the fixed per-port rings, the same way a real controller's
	// PRDT points at buffers supplied per request.
	want := int64(count) * p.sectorSize
	xfer := AllocDMABuffer(int(want), p.phys.alloc(int(want)))
	defer xfer.Release()
	if op == AhciOpWrite {
		copy(xfer.Bytes(), data)
	}
	prdt := table[cmdTableSize : cmdTableSize+prdtEntrySize]
	binary.LittleEndian.PutUint64(prdt[0:8], uint64(xfer.PhysAddr()))
	if want > 0 {
		binary.LittleEndian.PutUint32(prdt[12:16], uint32(want-1))
	}

	// Write the command-issue register, then wait for the completion
	// bit or the deadline — spec §4.7's "writes the command-issue
	// register, then waits for the completion bit (driven either by
	// the controller's interrupt or a polled timeout)."
	_ = p.mmio.Write32(regCI, 1)

	done := make(chan error, 1)
	go func() {
		off := int64(lba) * p.sectorSize
		if op == AhciOpRead {
			_, err := p.backend.ReadAt(xfer.Bytes(), off)
			done <- err
			return
		}
		_, err := p.backend.WriteAt(xfer.Bytes(), off)
		done <- err
	}()

	select {
	case err := <-done:
		_ = p.mmio.Write32(regCI, 0)
		if err != nil {
			return nil, errors.Wrap(ErrIOError, err.Error())
		}
		if op == AhciOpRead {
			out := make([]byte, want)
			copy(out, xfer.Bytes())
			return out, nil
		}
		return nil, nil
	case <-time.After(p.deadline):
		p.reset()
		return nil, errors.Wrap(ErrTimeout, "ahci: command deadline exceeded, controller reset")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// physAllocator hands out fake, monotonically increasing physical
// addresses for DMA buffers — there is no IOMMU here to ask.
type physAllocator struct {
	next PhysAddr
}

func newPhysAllocator() *physAllocator { return &physAllocator{next: 0x1000} }

func (a *physAllocator) alloc(size int) PhysAddr {
	addr := a.next
	aligned := (PhysAddr(size) + ahciAlignment - 1) / ahciAlignment * ahciAlignment
	if aligned == 0 {
		aligned = ahciAlignment
	}
	a.next += aligned
	return addr
}
