package drivers

import (
	"context"
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
	"github.com/Whoisraeen/Scarlett-OS/internal/driverfw"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
)

// BlockDevice talks to a block driver process over its request port,
// embedding *GenericDevice for the shared attach bookkeeping the way
// device/drivers/block.go's BlockDevice embeds *GenericDevice.
type BlockDevice struct {
	*GenericDevice
	driverPort *ipc.Port
}

func NewBlockDevice(info config.DeviceInfo, driverPort *ipc.Port) *BlockDevice {
	return &BlockDevice{GenericDevice: NewGenericDevice(info), driverPort: driverPort}
}

func (d *BlockDevice) Attach(ctx context.Context) error {
	if err := d.markAttached(ctx, true); err != nil {
		return err
	}
	d.Reference()
	logger().WithField("device", d.DeviceID()).Debug("block device attached")
	return nil
}

func (d *BlockDevice) Detach(ctx context.Context) error {
	if d.Dereference() > 0 {
		return nil
	}
	return d.markAttached(ctx, false)
}

// ReadBlocks packs LBA, block count and a read opcode into a request
// message, after services/vfs/src/block_device.rs's read_blocks, and
// makes at most maxRetries attempts in all when the IPC send or
// receive fails.
func (d *BlockDevice) ReadBlocks(ctx context.Context, replyPort *ipc.Port, lba uint64, count uint32, buf []byte) error {
	if uint64(len(buf)) < uint64(count)*uint64(blockSectorSize(d)) {
		return errors.Wrap(driverfw.ErrInvalidArgument, "block: buffer too small for requested blocks")
	}

	var inline [13]byte
	binary.LittleEndian.PutUint64(inline[0:8], lba)
	binary.LittleEndian.PutUint32(inline[8:12], count)
	inline[12] = 1 // opcode: read

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req := ipc.Message{ReplyPort: replyPort.ID(), Type: ipc.KindRequest}
		if err := req.SetInline(inline[:]); err != nil {
			return err
		}
		if err := ipc.Send(ctx, d.driverPort, req); err != nil {
			lastErr = err
			continue
		}
		resp, err := ipc.Receive(ctx, replyPort)
		if err != nil {
			lastErr = err
			continue
		}
		if status := resp.Payload(); len(status) < 1 || status[0] != 0 {
			return errors.Wrap(driverfw.ErrIOError, "block: read_blocks failed")
		}
		copy(buf, resp.Buffer)
		return nil
	}
	return errors.Wrap(lastErr, "block: read_blocks failed after retries")
}

// WriteBlocks packs a block-write request. Per the specification's
// block-write Open Question, the payload always rides the message's
// out-of-line Buffer rather than the inline control words — a
// conforming block driver must refuse a write whose data arrived
// packed into the inline bytes instead, since the inline cap is far
// smaller than any real sector payload.
func (d *BlockDevice) WriteBlocks(ctx context.Context, replyPort *ipc.Port, lba uint64, count uint32, data []byte) error {
	want := uint64(count) * uint64(blockSectorSize(d))
	if uint64(len(data)) != want {
		return errors.Wrap(driverfw.ErrInvalidArgument, "block: write_blocks payload size does not match count*sector_size")
	}

	var inline [13]byte
	binary.LittleEndian.PutUint64(inline[0:8], lba)
	binary.LittleEndian.PutUint32(inline[8:12], count)
	inline[12] = 2 // opcode: write

	const maxRetries = 3
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		req := ipc.Message{ReplyPort: replyPort.ID(), Type: ipc.KindRequest, Buffer: data}
		if err := req.SetInline(inline[:]); err != nil {
			return err
		}
		if err := ipc.Send(ctx, d.driverPort, req); err != nil {
			lastErr = err
			continue
		}
		resp, err := ipc.Receive(ctx, replyPort)
		if err != nil {
			lastErr = err
			continue
		}
		if len(resp.Payload()) < 1 || resp.Payload()[0] != 0 {
			return errors.Wrap(driverfw.ErrIOError, "block: write_blocks failed")
		}
		return nil
	}
	return errors.Wrap(lastErr, "block: write_blocks failed after retries")
}

// BlockInfo is the sector size and capacity GET_INFO reports.
type BlockInfo struct {
	SectorSize  uint32
	SectorCount uint64
}

// GetInfo asks the driver for its sector size and capacity, the
// GET_INFO operation spec §4.7's block-device table names.
func (d *BlockDevice) GetInfo(ctx context.Context, replyPort *ipc.Port) (BlockInfo, error) {
	req := ipc.Message{ReplyPort: replyPort.ID(), Type: ipc.KindRequest}
	if err := req.SetInline([]byte{3}); err != nil {
		return BlockInfo{}, err
	}
	if err := ipc.Send(ctx, d.driverPort, req); err != nil {
		return BlockInfo{}, errors.Wrap(err, "block: get_info send failed")
	}
	resp, err := ipc.Receive(ctx, replyPort)
	if err != nil {
		return BlockInfo{}, errors.Wrap(err, "block: get_info receive failed")
	}
	payload := resp.Payload()
	if len(payload) < 13 || payload[0] != 0 {
		return BlockInfo{}, errors.Wrap(driverfw.ErrIOError, "block: get_info failed")
	}
	return BlockInfo{
		SectorSize:  binary.LittleEndian.Uint32(payload[1:5]),
		SectorCount: binary.LittleEndian.Uint64(payload[5:13]),
	}, nil
}

func blockSectorSize(d *BlockDevice) uint32 {
	if d.Info.Block == nil || d.Info.Block.SectorSize == 0 {
		return 512
	}
	return d.Info.Block.SectorSize
}
