package drivers

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
)

// fakeBlockDriver serves read/write requests out of an in-memory disk
// image, enough to exercise BlockDevice's wire encoding without a real
// controller.
func fakeBlockDriver(t *testing.T, port *ipc.Port, disk []byte, sectorSize int) {
	t.Helper()
	go func() {
		for {
			msg, err := ipc.Receive(context.Background(), port)
			if err != nil {
				return
			}
			payload := msg.Payload()
			if len(payload) == 1 && payload[0] == 3 {
				var inline [13]byte
				binary.LittleEndian.PutUint32(inline[1:5], uint32(sectorSize))
				binary.LittleEndian.PutUint64(inline[5:13], uint64(len(disk)/sectorSize))
				resp := ipc.Message{Type: ipc.KindResponse}
				_ = resp.SetInline(inline[:])
				_ = ipc.ReplyToRequest(context.Background(), msg, resp)
				continue
			}
			require.GreaterOrEqual(t, len(payload), 13)
			lba := uint64(payload[0]) | uint64(payload[1])<<8 | uint64(payload[2])<<16 | uint64(payload[3])<<24 |
				uint64(payload[4])<<32 | uint64(payload[5])<<40 | uint64(payload[6])<<48 | uint64(payload[7])<<56
			count := uint32(payload[8]) | uint32(payload[9])<<8 | uint32(payload[10])<<16 | uint32(payload[11])<<24
			opcode := payload[12]

			off := int(lba) * sectorSize
			n := int(count) * sectorSize

			switch opcode {
			case 1:
				resp := ipc.Message{Type: ipc.KindResponse, Buffer: append([]byte{}, disk[off:off+n]...)}
				_ = resp.SetInline([]byte{0})
				_ = ipc.ReplyToRequest(context.Background(), msg, resp)
			case 2:
				copy(disk[off:off+n], msg.Buffer)
				resp := ipc.Message{Type: ipc.KindResponse}
				_ = resp.SetInline([]byte{0})
				_ = ipc.ReplyToRequest(context.Background(), msg, resp)
			}
		}
	}()
}

func TestBlockDeviceReadWriteRoundTrip(t *testing.T) {
	const sectorSize = 512
	disk := make([]byte, sectorSize*4)

	driverPort := ipc.CreatePort(9100)
	defer driverPort.Close()
	fakeBlockDriver(t, driverPort, disk, sectorSize)

	replyPort := ipc.CreateEphemeralPort()
	defer replyPort.Close()

	info := config.DeviceInfo{
		ID:    "blk0",
		Type:  config.DeviceBlock,
		Block: &config.BlockDrive{SectorSize: sectorSize},
	}
	dev := NewBlockDevice(info, driverPort)

	write := make([]byte, sectorSize)
	for i := range write {
		write[i] = byte(i)
	}

	ctx := context.Background()

	require.NoError(t, dev.WriteBlocks(ctx, replyPort, 1, 1, write))

	read := make([]byte, sectorSize)
	require.NoError(t, dev.ReadBlocks(ctx, replyPort, 1, 1, read))

	assert.Equal(t, write, read)
}

func TestBlockDeviceGetInfo(t *testing.T) {
	const sectorSize = 512
	disk := make([]byte, sectorSize*8)

	driverPort := ipc.CreatePort(9102)
	defer driverPort.Close()
	fakeBlockDriver(t, driverPort, disk, sectorSize)

	replyPort := ipc.CreateEphemeralPort()
	defer replyPort.Close()

	dev := NewBlockDevice(config.DeviceInfo{Block: &config.BlockDrive{SectorSize: sectorSize}}, driverPort)

	info, err := dev.GetInfo(context.Background(), replyPort)
	require.NoError(t, err)
	assert.Equal(t, uint32(sectorSize), info.SectorSize)
	assert.Equal(t, uint64(8), info.SectorCount)
}

func TestBlockDeviceWriteRejectsSizeMismatch(t *testing.T) {
	info := config.DeviceInfo{Block: &config.BlockDrive{SectorSize: 512}}
	driverPort := ipc.CreatePort(9101)
	defer driverPort.Close()
	dev := NewBlockDevice(info, driverPort)

	replyPort := ipc.CreateEphemeralPort()
	defer replyPort.Close()

	err := dev.WriteBlocks(context.Background(), replyPort, 0, 2, make([]byte, 512))
	assert.Error(t, err, "payload shorter than count*sector_size must be rejected")
}
