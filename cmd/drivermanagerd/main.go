// Command drivermanagerd runs the driver manager service: it accepts
// driver registrations, device assignments, and crash notifications on
// the well-known driver manager port.
package main

import (
	"context"
	"encoding/binary"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/drivermanager"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
	"github.com/Whoisraeen/Scarlett-OS/internal/persist"
)

var log = logrus.WithField("source", "drivermanagerd")

var crashesRestarted = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "scarlett_driver_restarts_total",
	Help: "Number of driver crashes that were automatically restarted.",
})

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	reg := observability.NewRegistry()
	reg.MustRegister(crashesRestarted)

	dm := drivermanager.New()
	store := persist.NewStore(cfg.StateDir, "drivermanager")
	_ = store // reserved for restart-surviving driver-table persistence

	port := ipc.CreatePort(cfg.DriverManagerPort)
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.WithField("port", cfg.DriverManagerPort).Info("driver manager listening")
	return serve(ctx, dm, port)
}

func serve(ctx context.Context, dm *drivermanager.Manager, port *ipc.Port) error {
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		dispatch(ctx, dm, msg)
	}
}

// encodeDevice mirrors drivermanager.Device onto the wire as
// DeviceID(8) || Type(1) || DriverID(8), the layout enumerate-devices
// replies repeat once per known device.
func encodeDevice(d drivermanager.Device) []byte {
	buf := make([]byte, 17)
	binary.LittleEndian.PutUint64(buf[0:8], d.DeviceID)
	buf[8] = byte(d.Type)
	binary.LittleEndian.PutUint64(buf[9:17], d.DriverID)
	return buf
}

func dispatch(ctx context.Context, dm *drivermanager.Manager, msg ipc.Message) {
	payload := msg.Payload()
	if len(payload) < 1 {
		return
	}

	var reply ipc.Message
	switch uint32(payload[0]) {
	case drivermanager.MsgRegisterDriver:
		if len(payload) < 14 {
			log.Warn("malformed register-driver request")
			return
		}
		typ := drivermanager.DriverType(payload[1])
		driverPort := binary.LittleEndian.Uint32(payload[2:6])
		pid := binary.LittleEndian.Uint64(payload[6:14])
		driverID := dm.RegisterDriver(typ, driverPort, pid)
		// A driver capable of placing this IPC call has, by definition,
		// already opened its listening port, so it is immediately
		// Running rather than merely Registered.
		if err := dm.MarkRunning(driverID); err != nil {
			log.WithError(err).Warn("failed to mark newly registered driver running")
		}
		if err := reply.SetInline(encodeUint64(driverID)); err != nil {
			log.WithError(err).Warn("driver id too large to reply inline")
			return
		}

	case drivermanager.MsgUnregisterDriver:
		if len(payload) < 9 {
			log.Warn("malformed unregister-driver request")
			return
		}
		driverID := binary.LittleEndian.Uint64(payload[1:9])
		status := byte(0)
		if err := dm.UnregisterDriver(driverID); err != nil {
			log.WithError(err).Warn("unregister request for unknown driver")
			status = 1
		}
		_ = reply.SetInline([]byte{status})

	case drivermanager.MsgDeviceRequest:
		if len(payload) < 2 {
			log.Warn("malformed device-request message")
			return
		}
		resp, err := forwardDeviceRequest(ctx, dm, drivermanager.DriverType(payload[1]), payload[2:], msg.Buffer)
		if err != nil {
			log.WithError(err).Warn("device request indirection failed")
			return
		}
		reply = resp

	case drivermanager.MsgEnumerateDevices:
		devices := dm.EnumerateDevices()
		buf := make([]byte, 0, len(devices)*17)
		for _, d := range devices {
			buf = append(buf, encodeDevice(d)...)
		}
		reply.Buffer = buf

	case drivermanager.MsgDriverCrashed:
		if len(payload) < 9 {
			log.Warn("malformed driver-crashed notification")
			return
		}
		driverID := binary.LittleEndian.Uint64(payload[1:9])
		restarted, err := dm.HandleDriverCrash(driverID)
		if err != nil {
			log.WithError(err).Warn("crash notification for unknown driver")
			return
		}
		if restarted {
			crashesRestarted.Inc()
		}
		_ = reply.SetInline([]byte{0})

	default:
		log.WithField("msg_id", payload[0]).Debug("unhandled driver manager message")
		return
	}

	if err := ipc.ReplyToRequest(ctx, msg, reply); err != nil {
		log.WithError(err).Warn("failed to reply to driver manager request")
	}
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// forwardDeviceRequest is the driver manager's defining indirection: a
// client names a driver category rather than a specific driver, and
// the driver manager forwards the request payload on to whichever
// driver of that type is currently running, waits for its reply, and
// hands that reply back verbatim. The temporary ephemeral port exists
// only to receive that one reply.
func forwardDeviceRequest(ctx context.Context, dm *drivermanager.Manager, typ drivermanager.DriverType, inline, buffer []byte) (ipc.Message, error) {
	driver, ok := dm.FindDriverByType(typ)
	if !ok {
		return ipc.Message{}, errors.Errorf("drivermanagerd: no running driver of type %d", typ)
	}
	driverPort, ok := ipc.Lookup(driver.Port)
	if !ok {
		return ipc.Message{}, errors.Errorf("drivermanagerd: driver %d's port %d is not registered", driver.DriverID, driver.Port)
	}

	reply := ipc.CreateEphemeralPort()
	defer reply.Close()

	req := ipc.Message{ReplyPort: reply.ID(), Type: ipc.KindRequest, Buffer: buffer}
	if err := req.SetInline(inline); err != nil {
		return ipc.Message{}, errors.Wrap(err, "drivermanagerd: forwarded payload too large")
	}
	if err := ipc.Send(ctx, driverPort, req); err != nil {
		return ipc.Message{}, errors.Wrap(err, "drivermanagerd: forwarding device request")
	}

	resp, err := ipc.Receive(ctx, reply)
	if err != nil {
		return ipc.Message{}, errors.Wrap(err, "drivermanagerd: awaiting driver reply")
	}
	return resp, nil
}

func main() {
	app := &cli.App{
		Name:  "drivermanagerd",
		Usage: "driver registration and crash-restart policy service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("drivermanagerd exiting")
	}
}
