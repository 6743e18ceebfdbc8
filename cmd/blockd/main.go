// Command blockd is a block device driver process: it drives an
// AHCI-style command pipeline (MMIO port registers, a DMA-allocated
// command-list/FIS-base/command-table ring, and a per-command
// deadline with controller-reset-on-timeout) over a backing file
// standing in for the physical disk, and serves read/write/get-info
// requests against it over its IPC port.
package main

import (
	"context"
	"encoding/binary"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/driverfw"
	"github.com/Whoisraeen/Scarlett-OS/internal/drivermanager"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
)

var log = logrus.WithField("source", "blockd")

const driverPort = 110

const (
	opRead    byte = 1
	opWrite   byte = 2
	opGetInfo byte = 3
)

func serve(ctx context.Context, port *ipc.Port, ahci *driverfw.AhciPort, sectorCount uint64, sectorSize int64) error {
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		reply, err := handleRequest(ctx, msg, ahci, sectorCount, sectorSize)
		if err != nil {
			log.WithError(err).Warn("block request failed")
			continue
		}
		if err := ipc.ReplyToRequest(ctx, msg, reply); err != nil {
			log.WithError(err).Warn("failed to reply to block request")
		}
	}
}

func handleRequest(ctx context.Context, msg ipc.Message, ahci *driverfw.AhciPort, sectorCount uint64, sectorSize int64) (ipc.Message, error) {
	payload := msg.Payload()
	if len(payload) == 1 && payload[0] == opGetInfo {
		return getInfoReply(sectorSize, sectorCount), nil
	}
	if len(payload) < 13 {
		return ipc.Message{}, os.ErrInvalid
	}
	lba := binary.LittleEndian.Uint64(payload[0:8])
	count := binary.LittleEndian.Uint32(payload[8:12])
	opcode := payload[12]

	switch opcode {
	case opRead:
		data, err := ahci.Execute(ctx, driverfw.AhciOpRead, lba, count, nil)
		if err != nil {
			log.WithError(err).Warn("ahci read failed")
			return statusReply(driverfw.CodeOf(err)), nil
		}
		resp := ipc.Message{Type: ipc.KindResponse, Buffer: data}
		_ = resp.SetInline([]byte{0})
		return resp, nil
	case opWrite:
		// Write data rides the out-of-line buffer, never the inline
		// bytes.
		want := int64(count) * sectorSize
		if int64(len(msg.Buffer)) != want {
			log.WithField("got", len(msg.Buffer)).Warn("write payload size mismatch")
			return statusReply(1), nil
		}
		if _, err := ahci.Execute(ctx, driverfw.AhciOpWrite, lba, count, msg.Buffer); err != nil {
			log.WithError(err).Warn("ahci write failed")
			return statusReply(driverfw.CodeOf(err)), nil
		}
		return statusReply(0), nil
	default:
		return ipc.Message{}, os.ErrInvalid
	}
}

// statusReply builds a one-byte status response, mirroring the
// block-device wire protocol's {status:1} response shape for writes
// and failed reads.
func statusReply(status byte) ipc.Message {
	resp := ipc.Message{Type: ipc.KindResponse}
	_ = resp.SetInline([]byte{status})
	return resp
}

// getInfoReply answers GET_INFO with {status:1, sector_size:4,
// sector_count:8}, the "sector size, capacity" response spec §4.7's
// table names.
func getInfoReply(sectorSize int64, sectorCount uint64) ipc.Message {
	var inline [13]byte
	inline[0] = 0
	binary.LittleEndian.PutUint32(inline[1:5], uint32(sectorSize))
	binary.LittleEndian.PutUint64(inline[5:13], sectorCount)
	resp := ipc.Message{Type: ipc.KindResponse}
	_ = resp.SetInline(inline[:])
	return resp
}

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	backing, err := os.OpenFile(c.String("image"), os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer backing.Close()

	const sectorSize = 512
	fi, err := backing.Stat()
	if err != nil {
		return err
	}
	sectorCount := uint64(fi.Size()) / sectorSize

	ahci := driverfw.NewAhciPort(backing, sectorSize)

	port := ipc.CreatePort(driverPort)
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := drivermanager.RegisterSelf(ctx, cfg.DriverManagerPort, drivermanager.DriverStorage, driverPort); err != nil {
		log.WithError(err).Warn("failed to register with driver manager, continuing unregistered")
	}

	log.WithField("image", c.String("image")).Info("block driver ready")
	return serve(ctx, port, ahci, sectorCount, sectorSize)
}

func main() {
	app := &cli.App{
		Name:  "blockd",
		Usage: "block device driver",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
			&cli.StringFlag{Name: "image", Usage: "path to the backing disk image", Required: true},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("blockd exiting")
	}
}
