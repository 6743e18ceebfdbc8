package netstack

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
)

// TcpState enumerates the eleven states of the RFC 793 state machine,
// mirrored 1:1 from tcp.rs's TcpState enum. The original's tcp_send/
// tcp_receive/tcp_handle_packet were left as TODO-commented
// placeholders with duplicate function definitions; this file is a
// full implementation of the segment header, flag bits, and state
// transitions the placeholder only declared.
type TcpState uint8

const (
	TcpClosed TcpState = iota
	TcpListen
	TcpSynSent
	TcpSynReceived
	TcpEstablished
	TcpFinWait1
	TcpFinWait2
	TcpCloseWait
	TcpClosing
	TcpLastAck
	TcpTimeWait
)

// TCP flag bits, mirrored from tcp.rs's TCP_FLAG_* constants.
const (
	FlagFIN uint8 = 1 << 0
	FlagSYN uint8 = 1 << 1
	FlagRST uint8 = 1 << 2
	FlagPSH uint8 = 1 << 3
	FlagACK uint8 = 1 << 4
	FlagURG uint8 = 1 << 5
)

// MaxTCPConnections bounds the connection table, mirrored verbatim
// from tcp.rs's MAX_TCP_CONNECTIONS.
const MaxTCPConnections = 32

const tcpHeaderLen = 20

// TcpSegment is the parsed subset of a TCP segment this stack acts on.
type TcpSegment struct {
	SrcPort    uint16
	DstPort    uint16
	SeqNum     uint32
	AckNum     uint32
	Flags      uint8
	WindowSize uint16
	Payload    []byte
}

// ParseTCP decodes a TCP segment.
func ParseTCP(raw []byte) (TcpSegment, error) {
	if len(raw) < tcpHeaderLen {
		return TcpSegment{}, errors.New("netstack: tcp segment too short")
	}
	dataOffset := int(raw[12]>>4) * 4
	if dataOffset < tcpHeaderLen || len(raw) < dataOffset {
		return TcpSegment{}, errors.New("netstack: invalid tcp data offset")
	}
	return TcpSegment{
		SrcPort:    uint16(raw[0])<<8 | uint16(raw[1]),
		DstPort:    uint16(raw[2])<<8 | uint16(raw[3]),
		SeqNum:     uint32(raw[4])<<24 | uint32(raw[5])<<16 | uint32(raw[6])<<8 | uint32(raw[7]),
		AckNum:     uint32(raw[8])<<24 | uint32(raw[9])<<16 | uint32(raw[10])<<8 | uint32(raw[11]),
		Flags:      raw[13],
		WindowSize: uint16(raw[14])<<8 | uint16(raw[15]),
		Payload:    raw[dataOffset:],
	}, nil
}

// BuildTCP serializes a TCP segment with a 20-byte header (no
// options).
func BuildTCP(s TcpSegment) []byte {
	out := make([]byte, tcpHeaderLen+len(s.Payload))
	out[0] = byte(s.SrcPort >> 8)
	out[1] = byte(s.SrcPort)
	out[2] = byte(s.DstPort >> 8)
	out[3] = byte(s.DstPort)
	out[4] = byte(s.SeqNum >> 24)
	out[5] = byte(s.SeqNum >> 16)
	out[6] = byte(s.SeqNum >> 8)
	out[7] = byte(s.SeqNum)
	out[8] = byte(s.AckNum >> 24)
	out[9] = byte(s.AckNum >> 16)
	out[10] = byte(s.AckNum >> 8)
	out[11] = byte(s.AckNum)
	out[12] = 5 << 4 // data offset: 5 32-bit words, no options
	out[13] = s.Flags
	out[14] = byte(s.WindowSize >> 8)
	out[15] = byte(s.WindowSize)
	copy(out[tcpHeaderLen:], s.Payload)
	return out
}

// TcpConnection is one entry in the connection table, mirrored from
// tcp.rs's TcpConnection fields plus the send/receive buffers needed
// to actually move a byte stream, which the placeholder never added.
// Receive buffering is a simple in-order byte queue: out-of-order
// segments are dropped rather than reassembled, the simplest choice
// that satisfies the state machine and socket-read contract without
// requiring a reassembly queue the rest of the stack has no use for.
type TcpConnection struct {
	mu sync.Mutex

	LocalIP, RemoteIP     IPv4
	LocalPort, RemotePort uint16

	State TcpState

	SndNxt uint32 // next sequence number to send
	SndUna uint32 // oldest unacknowledged sequence number
	RcvNxt uint32 // next sequence number expected from the peer

	WindowSize uint16

	recvBuf bytes.Buffer
	sendBuf bytes.Buffer
}

// NewConnection creates a connection in TcpClosed, ready to either
// Listen (server) or Connect (client).
func NewConnection(localIP IPv4, localPort uint16) *TcpConnection {
	return &TcpConnection{LocalIP: localIP, LocalPort: localPort, State: TcpClosed, WindowSize: 65535}
}

// Listen transitions a closed connection to TcpListen.
func (c *TcpConnection) Listen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != TcpClosed {
		return errors.New("netstack: listen requires a closed connection")
	}
	c.State = TcpListen
	return nil
}

// Connect begins an active open: moves to SynSent and returns the SYN
// segment to transmit. isn is the initial sequence number, normally
// drawn from a random or clock-derived source by the caller.
func (c *TcpConnection) Connect(remoteIP IPv4, remotePort uint16, isn uint32) (TcpSegment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != TcpClosed {
		return TcpSegment{}, errors.New("netstack: connect requires a closed connection")
	}
	c.RemoteIP, c.RemotePort = remoteIP, remotePort
	c.SndUna, c.SndNxt = isn, isn+1
	c.State = TcpSynSent
	return TcpSegment{
		SrcPort: c.LocalPort, DstPort: c.RemotePort,
		SeqNum: isn, Flags: FlagSYN, WindowSize: c.WindowSize,
	}, nil
}

// HandleSegment advances the state machine on an incoming segment and
// returns the segment (if any) that should be sent in response.
func (c *TcpConnection) HandleSegment(seg TcpSegment, isn uint32) (reply *TcpSegment, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State {
	case TcpListen:
		if seg.Flags&FlagSYN == 0 {
			return nil, errors.New("netstack: expected SYN in LISTEN")
		}
		c.RcvNxt = seg.SeqNum + 1
		c.SndUna, c.SndNxt = isn, isn+1
		c.State = TcpSynReceived
		return &TcpSegment{
			SrcPort: c.LocalPort, DstPort: seg.SrcPort,
			SeqNum: isn, AckNum: c.RcvNxt, Flags: FlagSYN | FlagACK, WindowSize: c.WindowSize,
		}, nil

	case TcpSynSent:
		if seg.Flags&(FlagSYN|FlagACK) != (FlagSYN | FlagACK) {
			return nil, errors.New("netstack: expected SYN-ACK in SYN_SENT")
		}
		c.RcvNxt = seg.SeqNum + 1
		c.SndUna = seg.AckNum
		c.State = TcpEstablished
		return &TcpSegment{
			SrcPort: c.LocalPort, DstPort: seg.SrcPort,
			SeqNum: c.SndNxt, AckNum: c.RcvNxt, Flags: FlagACK, WindowSize: c.WindowSize,
		}, nil

	case TcpSynReceived:
		if seg.Flags&FlagACK == 0 {
			return nil, errors.New("netstack: expected ACK in SYN_RECEIVED")
		}
		c.State = TcpEstablished
		return nil, nil

	case TcpEstablished:
		return c.handleEstablished(seg)

	case TcpFinWait1:
		if seg.Flags&FlagACK != 0 && seg.Flags&FlagFIN == 0 {
			c.State = TcpFinWait2
			return nil, nil
		}
		if seg.Flags&FlagFIN != 0 {
			c.RcvNxt = seg.SeqNum + 1
			c.State = TcpClosing
			return &TcpSegment{SrcPort: c.LocalPort, DstPort: seg.SrcPort, SeqNum: c.SndNxt, AckNum: c.RcvNxt, Flags: FlagACK}, nil
		}
		return nil, nil

	case TcpFinWait2:
		if seg.Flags&FlagFIN != 0 {
			c.RcvNxt = seg.SeqNum + 1
			c.State = TcpTimeWait
			return &TcpSegment{SrcPort: c.LocalPort, DstPort: seg.SrcPort, SeqNum: c.SndNxt, AckNum: c.RcvNxt, Flags: FlagACK}, nil
		}
		return nil, nil

	case TcpCloseWait, TcpClosing:
		if seg.Flags&FlagACK != 0 {
			if c.State == TcpClosing {
				c.State = TcpTimeWait
			}
		}
		return nil, nil

	case TcpLastAck:
		if seg.Flags&FlagACK != 0 {
			c.State = TcpClosed
		}
		return nil, nil

	default:
		return nil, errors.New("netstack: segment received in terminal state")
	}
}

func (c *TcpConnection) handleEstablished(seg TcpSegment) (*TcpSegment, error) {
	if seg.Flags&FlagFIN != 0 {
		c.recvBuf.Write(seg.Payload)
		c.RcvNxt = seg.SeqNum + uint32(len(seg.Payload)) + 1
		c.State = TcpCloseWait
		return &TcpSegment{SrcPort: c.LocalPort, DstPort: seg.SrcPort, SeqNum: c.SndNxt, AckNum: c.RcvNxt, Flags: FlagACK}, nil
	}
	if len(seg.Payload) == 0 {
		if seg.Flags&FlagACK != 0 {
			c.SndUna = seg.AckNum
		}
		return nil, nil
	}
	if seg.SeqNum != c.RcvNxt {
		// Out-of-order: dropped rather than reassembled, see the
		// receive-buffering note on TcpConnection.
		return nil, nil
	}
	c.recvBuf.Write(seg.Payload)
	c.RcvNxt += uint32(len(seg.Payload))
	return &TcpSegment{SrcPort: c.LocalPort, DstPort: seg.SrcPort, SeqNum: c.SndNxt, AckNum: c.RcvNxt, Flags: FlagACK}, nil
}

// Close begins an active close from Established, returning the FIN
// segment to send.
func (c *TcpConnection) Close() (TcpSegment, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.State {
	case TcpEstablished:
		c.State = TcpFinWait1
	case TcpCloseWait:
		c.State = TcpLastAck
	default:
		return TcpSegment{}, errors.New("netstack: close requires an open connection")
	}
	seg := TcpSegment{SrcPort: c.LocalPort, DstPort: c.RemotePort, SeqNum: c.SndNxt, AckNum: c.RcvNxt, Flags: FlagFIN | FlagACK}
	c.SndNxt++
	return seg, nil
}

// DrainSend pops up to maxLen bytes queued by Write and returns the
// data segment to transmit, advancing SndNxt the way Close advances it
// for a FIN. ok is false when nothing is queued.
func (c *TcpConnection) DrainSend(maxLen int) (seg TcpSegment, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendBuf.Len() == 0 {
		return TcpSegment{}, false
	}
	n := c.sendBuf.Len()
	if n > maxLen {
		n = maxLen
	}
	payload := make([]byte, n)
	_, _ = c.sendBuf.Read(payload)
	seg = TcpSegment{
		SrcPort: c.LocalPort, DstPort: c.RemotePort,
		SeqNum: c.SndNxt, AckNum: c.RcvNxt, Flags: FlagACK | FlagPSH, WindowSize: c.WindowSize,
		Payload: payload,
	}
	c.SndNxt += uint32(n)
	return seg, true
}

// Read drains up to len(p) bytes from the receive buffer.
func (c *TcpConnection) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recvBuf.Read(p)
}

// Write appends p to data queued for transmission.
func (c *TcpConnection) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != TcpEstablished && c.State != TcpCloseWait {
		return 0, errors.New("netstack: write requires an open connection")
	}
	return c.sendBuf.Write(p)
}

// ConnectionTable holds every active TcpConnection, bounded at
// MaxTCPConnections.
type ConnectionTable struct {
	mu    sync.Mutex
	conns map[string]*TcpConnection
}

func NewConnectionTable() *ConnectionTable {
	return &ConnectionTable{conns: map[string]*TcpConnection{}}
}

func connKey(localIP IPv4, localPort uint16, remoteIP IPv4, remotePort uint16) string {
	return fmt.Sprintf("%v:%d-%v:%d", localIP, localPort, remoteIP, remotePort)
}

// Add inserts a connection, failing once MaxTCPConnections is reached.
func (t *ConnectionTable) Add(c *TcpConnection) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) >= MaxTCPConnections {
		return errors.New("netstack: tcp connection table full")
	}
	key := connKey(c.LocalIP, c.LocalPort, c.RemoteIP, c.RemotePort)
	t.conns[key] = c
	return nil
}

func (t *ConnectionTable) Get(localIP IPv4, localPort uint16, remoteIP IPv4, remotePort uint16) (*TcpConnection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.conns[connKey(localIP, localPort, remoteIP, remotePort)]
	return c, ok
}

func (t *ConnectionTable) Remove(c *TcpConnection) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, connKey(c.LocalIP, c.LocalPort, c.RemoteIP, c.RemotePort))
}
