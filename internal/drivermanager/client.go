package drivermanager

import (
	"context"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
)

// RegisterSelf is the client half of MsgRegisterDriver: a driver
// process calls this once it has opened its own listening port, so the
// driver manager can route DEVICE_REQUEST indirection and crash/restart
// accounting to it. It blocks until the driver manager replies with the
// assigned driver id.
func RegisterSelf(ctx context.Context, driverManagerPort uint32, typ DriverType, ownPort uint32) (uint64, error) {
	target, ok := ipc.Lookup(driverManagerPort)
	if !ok {
		return 0, errors.Errorf("drivermanager: manager port %d not registered", driverManagerPort)
	}

	reply := ipc.CreateEphemeralPort()
	defer reply.Close()

	payload := make([]byte, 14)
	payload[0] = byte(MsgRegisterDriver)
	payload[1] = byte(typ)
	binary.LittleEndian.PutUint32(payload[2:6], ownPort)
	binary.LittleEndian.PutUint64(payload[6:14], uint64(os.Getpid()))

	req := ipc.Message{ReplyPort: reply.ID(), Type: ipc.KindRequest}
	if err := req.SetInline(payload); err != nil {
		return 0, errors.Wrap(err, "drivermanager: encode register-driver request")
	}
	if err := ipc.Send(ctx, target, req); err != nil {
		return 0, errors.Wrap(err, "drivermanager: send register-driver request")
	}

	resp, err := ipc.Receive(ctx, reply)
	if err != nil {
		return 0, errors.Wrap(err, "drivermanager: await register-driver reply")
	}
	body := resp.Payload()
	if len(body) < 8 {
		return 0, errors.New("drivermanager: short register-driver reply")
	}
	return binary.LittleEndian.Uint64(body[:8]), nil
}

// NotifyCrashed is the client half of MsgDriverCrashed: a supervisor or
// the driver itself (on recovering from a panic) reports driverID as
// crashed so the manager's restart-budget policy can run.
func NotifyCrashed(ctx context.Context, driverManagerPort uint32, driverID uint64) error {
	target, ok := ipc.Lookup(driverManagerPort)
	if !ok {
		return errors.Errorf("drivermanager: manager port %d not registered", driverManagerPort)
	}
	payload := make([]byte, 9)
	payload[0] = byte(MsgDriverCrashed)
	binary.LittleEndian.PutUint64(payload[1:9], driverID)

	msg := ipc.Message{Type: ipc.KindNotification}
	if err := msg.SetInline(payload); err != nil {
		return errors.Wrap(err, "drivermanager: encode driver-crashed notification")
	}
	return ipc.Send(ctx, target, msg)
}
