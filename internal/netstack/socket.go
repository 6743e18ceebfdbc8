package netstack

import (
	"sync"

	"github.com/pkg/errors"
)

// SocketType mirrors the BSD-style distinction socket.rs makes
// between a datagram and a stream socket.
type SocketType uint8

const (
	SockDgram SocketType = iota + 1
	SockStream
)

// Socket is a user-facing handle over either a UDP association or a
// TCP connection, mirrored from socket.rs's Socket abstraction
// layered over the datagram/stream primitives below it.
type Socket struct {
	Type SocketType
	Fd   int

	LocalIP    IPv4
	LocalPort  uint16
	RemoteIP   IPv4
	RemotePort uint16

	tcp *TcpConnection
}

// SocketTable assigns and tracks per-process socket file descriptors.
type SocketTable struct {
	mu      sync.Mutex
	sockets map[int]*Socket
	nextFd  int
}

func NewSocketTable() *SocketTable {
	return &SocketTable{sockets: map[int]*Socket{}, nextFd: 3}
}

// NewSocket allocates a socket of the given type and assigns it a
// fresh descriptor.
func (t *SocketTable) NewSocket(typ SocketType) *Socket {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.nextFd
	t.nextFd++
	s := &Socket{Type: typ, Fd: fd}
	t.sockets[fd] = s
	return s
}

func (t *SocketTable) Get(fd int) (*Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sockets[fd]
	if !ok {
		return nil, errors.Errorf("netstack: no socket with fd %d", fd)
	}
	return s, nil
}

// Close releases the descriptor, detaching any underlying TCP
// connection from the table it's tracked in is the caller's
// responsibility.
func (t *SocketTable) Close(fd int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.sockets[fd]; !ok {
		return errors.Errorf("netstack: no socket with fd %d", fd)
	}
	delete(t.sockets, fd)
	return nil
}

// Bind assigns the local address a socket will use.
func (s *Socket) Bind(ip IPv4, port uint16) {
	s.LocalIP, s.LocalPort = ip, port
}

// AttachConnection associates a stream socket with its underlying
// TCP connection once the handshake has completed.
func (s *Socket) AttachConnection(c *TcpConnection) error {
	if s.Type != SockStream {
		return errors.New("netstack: AttachConnection requires a stream socket")
	}
	s.tcp = c
	s.RemoteIP, s.RemotePort = c.RemoteIP, c.RemotePort
	return nil
}

// Read reads from a stream socket's underlying connection.
func (s *Socket) Read(p []byte) (int, error) {
	if s.Type != SockStream || s.tcp == nil {
		return 0, errors.New("netstack: read requires a connected stream socket")
	}
	return s.tcp.Read(p)
}

// Write writes to a stream socket's underlying connection.
func (s *Socket) Write(p []byte) (int, error) {
	if s.Type != SockStream || s.tcp == nil {
		return 0, errors.New("netstack: write requires a connected stream socket")
	}
	return s.tcp.Write(p)
}

// Connection returns the TCP connection a stream socket is attached
// to, or nil before AttachConnection has been called.
func (s *Socket) Connection() *TcpConnection {
	return s.tcp
}
