// Command devicemanagerd owns the device table: it receives device
// descriptors enumerated by bus drivers, matches them against
// registered driver probes, spawns the matched driver binary, and
// answers enumerate/lookup/load-driver requests from other services.
package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
	"github.com/Whoisraeen/Scarlett-OS/internal/device/manager"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
)

var log = logrus.WithField("source", "devicemanagerd")

// managerPort is the device manager's well-known IPC port.
const managerPort = 130

// Request opcodes carried in a message's first inline byte, covering
// spec §4.4's full client API: a bus driver calls opAddDevice as it
// enumerates, everyone else calls the remaining five to discover or
// force-bind a device's driver.
const (
	opAddDevice byte = iota + 1
	opEnumerateDevices
	opGetDevice
	opFindDevice
	opLoadDriver
	opRegisterConsumer
)

// opNotifyBound is the one-way notification this service pushes to
// every consumer port registered via opRegisterConsumer once a device
// of their category is bound to a running driver — not a request a
// client ever sends, so it lives outside the request opcode block
// above, the same separation drivermanager.MsgDriverCrashed draws
// between request and notification message kinds.
const opNotifyBound byte = 0xF0

// decodeAddDevice unpacks a bus-enumeration request: a 4-byte device
// sequence number followed by class code, subclass, and programming
// interface, mirroring the compact descriptor a bus driver would hand
// the device manager over IPC rather than the full JSON DeviceInfo
// this package persists to disk.
func decodeAddDevice(payload []byte) (config.DeviceInfo, error) {
	if len(payload) < 8 {
		return config.DeviceInfo{}, fmt.Errorf("devicemanagerd: short add-device payload (%d bytes)", len(payload))
	}
	seq := uint32(payload[1])<<24 | uint32(payload[2])<<16 | uint32(payload[3])<<8 | uint32(payload[4])
	typ := config.DeviceGeneric
	switch {
	case payload[5] == 0x01 && payload[6] == 0x06:
		typ = config.DeviceBlock
	case payload[5] == 0x02:
		typ = config.DeviceNIC
	}
	return config.DeviceInfo{
		ID:   fmt.Sprintf("dev%d", seq),
		Type: typ,
		Bus: config.BusCoordinates{
			ClassCode: payload[5],
			Subclass:  payload[6],
			Interface: payload[7],
		},
	}, nil
}

// encodeDeviceRecord packs a DeviceRecord as
// IDLen(2)||ID || TypeLen(2)||Type || NameLen(2)||DriverName ||
// Port(4) || Bound(1) || Attached(1), the same length-prefixed-field
// shape internal/vfs/proto.go's EncodeDirEntries uses for variable-
// width records.
func encodeDeviceRecord(rec *manager.DeviceRecord) []byte {
	var buf []byte
	appendField := func(s string) {
		l := make([]byte, 2)
		binary.LittleEndian.PutUint16(l, uint16(len(s)))
		buf = append(buf, l...)
		buf = append(buf, s...)
	}
	appendField(rec.Info.ID)
	appendField(string(rec.Info.Type))
	appendField(rec.DriverName)
	portBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(portBuf, rec.DriverPort)
	buf = append(buf, portBuf...)
	boundByte := byte(0)
	if rec.Bound {
		boundByte = 1
	}
	attachedByte := byte(0)
	if rec.Attached {
		attachedByte = 1
	}
	buf = append(buf, boundByte, attachedByte)
	return buf
}

func serve(ctx context.Context, port *ipc.Port, m *manager.Manager) error {
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		dispatch(ctx, port, m, msg)
	}
}

func dispatch(ctx context.Context, port *ipc.Port, m *manager.Manager, msg ipc.Message) {
	payload := msg.Payload()
	if len(payload) == 0 {
		return
	}

	var reply ipc.Message
	switch payload[0] {
	case opAddDevice:
		info, err := decodeAddDevice(payload)
		if err != nil {
			log.WithError(err).Warn("dropping malformed add-device request")
			return
		}
		rec, notify := m.AddDevice(info)
		if err := m.ToDisk(); err != nil {
			log.WithError(err).Warn("failed to persist device table")
		}
		notifyConsumers(ctx, notify, rec)
		if err := reply.SetInline([]byte(rec.DriverName)); err != nil {
			log.WithError(err).Warn("driver name too long to reply inline")
			return
		}

	case opEnumerateDevices:
		var buf []byte
		for _, rec := range m.ListDevices() {
			entry := encodeDeviceRecord(rec)
			lenBuf := make([]byte, 2)
			binary.LittleEndian.PutUint16(lenBuf, uint16(len(entry)))
			buf = append(buf, lenBuf...)
			buf = append(buf, entry...)
		}
		reply.Buffer = buf

	case opGetDevice:
		rec, ok := m.GetDevice(string(msg.Buffer))
		if !ok {
			_ = reply.SetInline([]byte{1})
			break
		}
		_ = reply.SetInline([]byte{0})
		reply.Buffer = encodeDeviceRecord(rec)

	case opFindDevice:
		rec, ok := m.FindDeviceByType(config.DeviceType(msg.Buffer))
		if !ok {
			_ = reply.SetInline([]byte{1})
			break
		}
		_ = reply.SetInline([]byte{0})
		reply.Buffer = encodeDeviceRecord(rec)

	case opLoadDriver:
		rec, notify, err := m.LoadDriver(string(msg.Buffer))
		if err != nil {
			log.WithError(err).Debug("load-driver request failed")
			_ = reply.SetInline([]byte{1})
			break
		}
		notifyConsumers(ctx, notify, rec)
		_ = reply.SetInline([]byte{0})

	case opRegisterConsumer:
		if len(payload) < 5 {
			log.Warn("malformed register-consumer request")
			return
		}
		consumerPort := binary.LittleEndian.Uint32(payload[1:5])
		m.RegisterConsumer(config.DeviceType(msg.Buffer), consumerPort)
		_ = reply.SetInline([]byte{0})

	default:
		log.WithField("opcode", payload[0]).Warn("unknown device manager request")
		return
	}

	if err := ipc.ReplyToRequest(ctx, msg, reply); err != nil {
		log.WithError(err).Warn("failed to reply to device manager request")
	}
}

// notifyConsumers pushes a one-way opNotifyBound message carrying
// rec's encoding to every port in ports, completing spec §4.4's
// "notify every registered consumer service of the category" step.
// Best-effort: a consumer that hasn't opened its port yet, or that
// has gone away, does not block the device manager's own request
// loop — it is logged and skipped.
func notifyConsumers(ctx context.Context, ports []uint32, rec *manager.DeviceRecord) {
	if rec == nil || !rec.Bound {
		return
	}
	for _, p := range ports {
		target, ok := ipc.Lookup(p)
		if !ok {
			log.WithField("port", p).Warn("consumer port not registered, skipping bound-device notification")
			continue
		}
		notif := ipc.Message{Type: ipc.KindNotification, Buffer: encodeDeviceRecord(rec)}
		if err := notif.SetInline([]byte{opNotifyBound}); err != nil {
			continue
		}
		if err := ipc.Send(ctx, target, notif); err != nil {
			log.WithError(err).WithField("port", p).Warn("failed to notify consumer of bound device")
		}
	}
}

// registerBuiltinDrivers installs the probe table entries this system
// ships, mirrored from services/device_manager/src/driver.rs's static
// DRIVERS table (an AHCI-class storage probe and an Ethernet-class
// network probe) translated to this repository's block/NIC driver
// split.
func registerBuiltinDrivers(m *manager.Manager) {
	m.RegisterDriver(manager.DriverRegistration{
		Name:   "ahci-block",
		Type:   config.DeviceBlock,
		Port:   110,
		Binary: "blockd",
		Probe: func(b config.BusCoordinates) bool {
			return b.ClassCode == 0x01 && b.Subclass == 0x06 && b.Interface == 0x01
		},
	})
	m.RegisterDriver(manager.DriverRegistration{
		Name:   "ethernet-nic",
		Type:   config.DeviceNIC,
		Port:   120,
		Binary: "nicd",
		Probe: func(b config.BusCoordinates) bool {
			return b.ClassCode == 0x02 && b.Subclass == 0x00
		},
	})
}

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	m := manager.New(filepath.Join(cfg.StateDir, "devices.json"))
	if err := m.FromDisk(); err != nil {
		log.WithError(err).Warn("could not restore device table, starting empty")
	}
	registerBuiltinDrivers(m)

	port := ipc.CreatePort(managerPort)
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("device manager ready")
	return serve(ctx, port, m)
}

func main() {
	app := &cli.App{
		Name:  "devicemanagerd",
		Usage: "device table and driver matching service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("devicemanagerd exiting")
	}
}
