// Command nicd is an Ethernet NIC driver process: it serves spec
// §4.8's SEND/RECEIVE/GET_MAC/SET_IP requests against a simulated
// device with RX/TX descriptor rings, and registers itself with the
// driver manager so category-addressed requests can find it.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/drivermanager"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
)

var log = logrus.WithField("source", "nicd")

const driverPort = 120

// Request opcodes, first inline byte, mirroring cmd/blockd's wire
// convention.
const (
	opSend byte = iota + 1
	opReceive
	opGetMAC
	opSetIP
)

// maxFrameLen is the 14-byte Ethernet header plus the standard
// 1500-byte MTU; spec §4.8 requires oversize frames to be dropped
// rather than queued.
const maxFrameLen = 14 + 1500

// ringCapacity bounds both RX and TX rings the way a real NIC's
// descriptor ring is sized against a fixed hardware count rather than
// growing without bound; the oldest entry is dropped once full.
const ringCapacity = 256

var broadcastMAC = [6]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}

// ring is a fixed-capacity FIFO of frames standing in for the
// descriptor ring a hardware NIC driver would walk off an MMIO
// doorbell register.
type ring struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *ring) push(frame []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= ringCapacity {
		r.frames = r.frames[1:]
	}
	r.frames = append(r.frames, frame)
}

func (r *ring) pop() ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) == 0 {
		return nil, false
	}
	f := r.frames[0]
	r.frames = r.frames[1:]
	return f, true
}

// nic is this process's simulated Ethernet device: a MAC/IP pair plus
// the RX/TX rings spec §4.8 names.
type nic struct {
	mu  sync.Mutex
	mac [6]byte
	ip  [4]byte

	rx, tx ring
}

func newNIC() *nic {
	return &nic{mac: [6]byte{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}}
}

// transmit pushes frame onto the TX ring and, since this process has
// no real link partner to deliver it to, loopback-delivers it to the
// RX ring when addressed to this interface's own MAC or to broadcast —
// the same self-delivery real hardware performs for traffic that
// happens to target the local address, giving netstackd something to
// actually receive without a second host on the wire.
func (n *nic) transmit(frame []byte) error {
	if len(frame) > maxFrameLen {
		return errOversizeFrame
	}
	n.tx.push(frame)
	if len(frame) < 6 {
		return nil
	}
	var dst [6]byte
	copy(dst[:], frame[0:6])
	n.mu.Lock()
	mine := dst == n.mac || dst == broadcastMAC
	n.mu.Unlock()
	if mine {
		n.rx.push(append([]byte{}, frame...))
	}
	return nil
}

var errOversizeFrame = errOversize{}

type errOversize struct{}

func (errOversize) Error() string { return "nicd: frame exceeds interface MTU" }

func serve(ctx context.Context, n *nic, port *ipc.Port) error {
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		dispatch(ctx, n, msg)
	}
}

func dispatch(ctx context.Context, n *nic, msg ipc.Message) {
	payload := msg.Payload()
	if len(payload) < 1 {
		return
	}

	var reply ipc.Message
	switch payload[0] {
	case opSend:
		if err := n.transmit(msg.Buffer); err != nil {
			log.WithError(err).WithField("len", len(msg.Buffer)).Warn("dropping frame")
			_ = reply.SetInline([]byte{1})
			break
		}
		_ = reply.SetInline([]byte{0})

	case opReceive:
		frame, ok := n.rx.pop()
		if !ok {
			_ = reply.SetInline([]byte{1})
			break
		}
		_ = reply.SetInline([]byte{0})
		reply.Buffer = frame

	case opGetMAC:
		n.mu.Lock()
		mac := n.mac
		n.mu.Unlock()
		buf := make([]byte, 7)
		copy(buf[1:], mac[:])
		_ = reply.SetInline(buf)

	case opSetIP:
		if len(payload) < 5 {
			log.Warn("malformed set-ip request")
			return
		}
		n.mu.Lock()
		copy(n.ip[:], payload[1:5])
		n.mu.Unlock()
		_ = reply.SetInline([]byte{0})

	default:
		log.WithField("opcode", payload[0]).Debug("unhandled nic message")
		return
	}

	if err := ipc.ReplyToRequest(ctx, msg, reply); err != nil {
		log.WithError(err).Warn("failed to reply to nic request")
	}
}

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	port := ipc.CreatePort(driverPort)
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if _, err := drivermanager.RegisterSelf(ctx, cfg.DriverManagerPort, drivermanager.DriverNetwork, driverPort); err != nil {
		log.WithError(err).Warn("failed to register with driver manager, continuing unregistered")
	}

	log.Info("nic driver ready")
	return serve(ctx, newNIC(), port)
}

func main() {
	app := &cli.App{
		Name:  "nicd",
		Usage: "ethernet NIC driver",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("nicd exiting")
	}
}
