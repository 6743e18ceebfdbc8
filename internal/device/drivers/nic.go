package drivers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
	"github.com/Whoisraeen/Scarlett-OS/internal/driverfw"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
)

// NIC driver wire opcodes, mirrored from cmd/nicd's dispatch — the
// same first-inline-byte-is-opcode convention BlockDevice uses against
// cmd/blockd.
const (
	nicOpSend byte = iota + 1
	nicOpReceive
	nicOpGetMAC
	nicOpSetIP
)

// NICDevice represents an attached Ethernet-capable device, issuing
// spec §4.8's SEND/RECEIVE/GET_MAC/SET_IP requests to its driver
// process over driverPort.
type NICDevice struct {
	*GenericDevice
	driverPort *ipc.Port
}

func NewNICDevice(info config.DeviceInfo, driverPort *ipc.Port) *NICDevice {
	return &NICDevice{GenericDevice: NewGenericDevice(info), driverPort: driverPort}
}

func (d *NICDevice) Attach(ctx context.Context) error {
	if err := d.markAttached(ctx, true); err != nil {
		return err
	}
	d.Reference()
	return nil
}

func (d *NICDevice) Detach(ctx context.Context) error {
	if d.Dereference() > 0 {
		return nil
	}
	return d.markAttached(ctx, false)
}

// SendFrame transmits a raw Ethernet frame via the driver's TX ring.
// A non-nil error means either that the IPC send or receive failed or
// that the driver rejected the frame (a non-zero status, such as for
// an oversize frame exceeding its MTU).
func (d *NICDevice) SendFrame(ctx context.Context, replyPort *ipc.Port, frame []byte) error {
	req := ipc.Message{ReplyPort: replyPort.ID(), Type: ipc.KindRequest, Buffer: frame}
	if err := req.SetInline([]byte{nicOpSend}); err != nil {
		return err
	}
	if err := ipc.Send(ctx, d.driverPort, req); err != nil {
		return errors.Wrap(err, "nic: send_frame")
	}
	resp, err := ipc.Receive(ctx, replyPort)
	if err != nil {
		return errors.Wrap(err, "nic: await send_frame reply")
	}
	if len(resp.Payload()) < 1 || resp.Payload()[0] != 0 {
		return errors.Wrap(driverfw.ErrIOError, "nic: send_frame rejected")
	}
	return nil
}

// ReceiveFrame polls the driver's RX ring once. ok is false, with a
// nil error, when the ring is currently empty — the cooperative
// single-threaded-per-service model this codebase runs under cannot
// block a request/response round trip waiting on a frame that may
// never arrive, so callers (netstackd's RX loop) poll on their own
// cadence instead of expecting this call to block.
func (d *NICDevice) ReceiveFrame(ctx context.Context, replyPort *ipc.Port) (frame []byte, ok bool, err error) {
	req := ipc.Message{ReplyPort: replyPort.ID(), Type: ipc.KindRequest}
	if err := req.SetInline([]byte{nicOpReceive}); err != nil {
		return nil, false, err
	}
	if err := ipc.Send(ctx, d.driverPort, req); err != nil {
		return nil, false, errors.Wrap(err, "nic: receive_frame")
	}
	resp, err := ipc.Receive(ctx, replyPort)
	if err != nil {
		return nil, false, errors.Wrap(err, "nic: await receive_frame reply")
	}
	if len(resp.Payload()) < 1 || resp.Payload()[0] != 0 {
		return nil, false, nil
	}
	return resp.Buffer, true, nil
}

// GetMAC retrieves the driver's hardware address.
func (d *NICDevice) GetMAC(ctx context.Context, replyPort *ipc.Port) ([6]byte, error) {
	req := ipc.Message{ReplyPort: replyPort.ID(), Type: ipc.KindRequest}
	if err := req.SetInline([]byte{nicOpGetMAC}); err != nil {
		return [6]byte{}, err
	}
	if err := ipc.Send(ctx, d.driverPort, req); err != nil {
		return [6]byte{}, errors.Wrap(err, "nic: get_mac")
	}
	resp, err := ipc.Receive(ctx, replyPort)
	if err != nil {
		return [6]byte{}, errors.Wrap(err, "nic: await get_mac reply")
	}
	body := resp.Payload()
	if len(body) < 7 || body[0] != 0 {
		return [6]byte{}, errors.Wrap(driverfw.ErrIOError, "nic: get_mac failed")
	}
	var mac [6]byte
	copy(mac[:], body[1:7])
	return mac, nil
}

// SetIP assigns the driver's IPv4 address.
func (d *NICDevice) SetIP(ctx context.Context, replyPort *ipc.Port, ip [4]byte) error {
	inline := make([]byte, 5)
	inline[0] = nicOpSetIP
	copy(inline[1:], ip[:])
	req := ipc.Message{ReplyPort: replyPort.ID(), Type: ipc.KindRequest}
	if err := req.SetInline(inline); err != nil {
		return err
	}
	if err := ipc.Send(ctx, d.driverPort, req); err != nil {
		return errors.Wrap(err, "nic: set_ip")
	}
	resp, err := ipc.Receive(ctx, replyPort)
	if err != nil {
		return errors.Wrap(err, "nic: await set_ip reply")
	}
	if len(resp.Payload()) < 1 || resp.Payload()[0] != 0 {
		return errors.Wrap(driverfw.ErrIOError, "nic: set_ip failed")
	}
	return nil
}
