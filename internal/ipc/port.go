package ipc

import (
	"context"
	"sync"

	"github.com/pkg/errors"
)

// Port is a bounded mailbox of Messages. Ports are the only channel
// through which drivers, services, and the supervisor communicate;
// there is no shared memory between them except the explicit Buffer
// field on a Message.
type Port struct {
	id    uint32
	queue chan Message
}

// DefaultQueueDepth bounds how many messages may be pending on a port
// before Send blocks. Chosen to absorb a burst of interrupt-driven
// notifications without unbounded growth.
const DefaultQueueDepth = 64

// CreatePort allocates a new port under the given well-known or
// dynamically assigned id and registers it for Lookup.
func CreatePort(id uint32) *Port {
	p := &Port{id: id, queue: make(chan Message, DefaultQueueDepth)}
	register(p)
	return p
}

// firstEphemeralPort is chosen well above the highest well-known port
// any service in this repository binds, so ephemeral allocations never
// collide with a statically configured port.
const firstEphemeralPort = 1 << 20

var (
	ephemeralMu   sync.Mutex
	nextEphemeral uint32 = firstEphemeralPort
)

// CreateEphemeralPort allocates a port under a dynamically assigned id,
// for a caller that needs a private reply destination rather than a
// well-known one — the shape a driver-manager style indirection needs
// when it forwards a request on and must wait for that driver's own
// reply before answering the original caller.
func CreateEphemeralPort() *Port {
	ephemeralMu.Lock()
	id := nextEphemeral
	nextEphemeral++
	ephemeralMu.Unlock()
	return CreatePort(id)
}

// Close removes the port from the registry and makes further sends
// fail. It does not attempt to drain pending messages.
func (p *Port) Close() {
	unregister(p.id)
	close(p.queue)
}

// ID returns the port's numeric identifier.
func (p *Port) ID() uint32 { return p.id }

// Send enqueues msg on the port, blocking until there is room or ctx
// is done.
func Send(ctx context.Context, p *Port, msg Message) (err error) {
	if p == nil {
		return errors.New("ipc: send to nil port")
	}
	defer func() {
		// Sending on a closed port's queue panics; report it as a
		// failed send instead.
		if recover() != nil {
			err = errors.Errorf("ipc: port %d is closed", p.id)
		}
	}()
	select {
	case p.queue <- msg:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "ipc: send")
	}
}

// Receive blocks until a message arrives on p or ctx is done.
func Receive(ctx context.Context, p *Port) (Message, error) {
	if p == nil {
		return Message{}, errors.New("ipc: receive from nil port")
	}
	select {
	case msg, ok := <-p.queue:
		if !ok {
			return Message{}, errors.New("ipc: port closed")
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, errors.Wrap(ctx.Err(), "ipc: receive")
	}
}

// Reply sends msg back to whatever port the original request named as
// its reply destination. Per the concurrency model, routing is always
// by explicit reply-port reference carried in the request — never by
// sender id — so callers must pass the port they intend to reply on.
func Reply(ctx context.Context, replyPort *Port, msg Message) error {
	msg.Type = KindResponse
	return Send(ctx, replyPort, msg)
}

// ReplyToRequest sends resp back to the port request.ReplyPort names,
// failing if that port is not registered. This is the common case of
// Reply: a handler has a request in hand and wants to answer it
// without separately resolving the destination port itself.
func ReplyToRequest(ctx context.Context, request Message, resp Message) error {
	replyPort, ok := Lookup(request.ReplyPort)
	if !ok {
		return errors.Errorf("ipc: reply port %d not registered", request.ReplyPort)
	}
	return Reply(ctx, replyPort, resp)
}
