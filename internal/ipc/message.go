// Package ipc implements the microkernel's message-passing substrate:
// fixed-size inline messages with an optional out-of-line buffer,
// delivered over ports. It is the lowest layer every service and
// driver in this repository is built on.
package ipc

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// InlineCapacity is the number of bytes a Message carries inline
// before a caller must fall back to an out-of-line Buffer.
const InlineCapacity = 64

// Message kinds, mirrored from the original IPC_MSG_* wire constants.
const (
	KindData Kind = iota
	KindRequest
	KindResponse
	KindNotification
)

// Kind distinguishes the four message categories carried over a Port.
type Kind uint32

// Message is the unit of communication between ports. Payloads up to
// InlineCapacity bytes travel in Inline; larger payloads are handed
// over Buffer, whose ownership transfers to the receiver.
//
// ReplyPort, not SenderTID, is what Reply routes against: a sender
// names the port it wants its answer delivered to explicitly, rather
// than the receiver inferring a return address from who sent the
// request. SenderTID is carried for logging/accounting only.
type Message struct {
	SenderTID uint64
	ReplyPort uint32
	MsgID     uint64
	Type      Kind
	InlineLen uint32
	Inline    [InlineCapacity]byte
	Buffer    []byte
}

// SetInline copies p into the message's inline storage, failing if p
// does not fit — callers needing more than InlineCapacity bytes must
// use Buffer instead.
func (m *Message) SetInline(p []byte) error {
	if len(p) > InlineCapacity {
		return errors.Errorf("ipc: inline payload of %d bytes exceeds %d-byte capacity", len(p), InlineCapacity)
	}
	m.InlineLen = uint32(copy(m.Inline[:], p))
	return nil
}

// Payload returns the inline bytes actually in use.
func (m *Message) Payload() []byte {
	return m.Inline[:m.InlineLen]
}

var ipcLog = logrus.WithField("source", "ipc")

func logger() *logrus.Entry {
	return ipcLog.WithField("subsystem", "ipc")
}

// registry of every Port ever created, keyed by its numeric id. The
// original kernel keeps this as a fixed-size array of well-known
// ports; we keep the same "every port lives in one global table"
// shape but back it with a mutex-guarded map, following the pattern
// used throughout the device/persist packages for shared state.
var (
	portsMu sync.Mutex
	ports   = map[uint32]*Port{}
)

func register(p *Port) {
	portsMu.Lock()
	defer portsMu.Unlock()
	ports[p.id] = p
}

func unregister(id uint32) {
	portsMu.Lock()
	defer portsMu.Unlock()
	delete(ports, id)
}

// Lookup finds a previously created port by its well-known id.
func Lookup(id uint32) (*Port, bool) {
	portsMu.Lock()
	defer portsMu.Unlock()
	p, ok := ports[id]
	return p, ok
}
