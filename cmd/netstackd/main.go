// Command netstackd is the network stack service: an Ethernet RX
// fiber drives ARP/IP/ICMP/UDP/TCP demultiplexing against the NIC
// driver's descriptor rings, and a socket-layer request port serves
// the BSD-style create/bind/listen/accept/connect/send/recv/sendto/
// recvfrom/close operations spec §4.11 names.
package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Whoisraeen/Scarlett-OS/internal/appconfig"
	"github.com/Whoisraeen/Scarlett-OS/internal/device/config"
	"github.com/Whoisraeen/Scarlett-OS/internal/device/drivers"
	"github.com/Whoisraeen/Scarlett-OS/internal/ipc"
	"github.com/Whoisraeen/Scarlett-OS/internal/netstack"
	"github.com/Whoisraeen/Scarlett-OS/internal/observability"
)

var log = logrus.WithField("source", "netstackd")

// wellKnownPort, like cmd/securityd's, has no entry in spec.md's
// well-known port table; 140 extends the out-of-table convention
// cmd/blockd (110)/cmd/nicd (120)/cmd/devicemanagerd (130) established.
const wellKnownPort = 140

// nicPort is cmd/nicd's well-known port, looked up directly the way
// cmd/keyboardd looks up wmd's input hub rather than going through the
// device manager's category indirection — there is exactly one NIC in
// this system and its port is a fixed well-known constant.
const nicPort = 120

var localMAC = netstack.MACAddress{0x52, 0x54, 0x00, 0x12, 0x34, 0x99}
var localIP = netstack.IPv4{10, 0, 2, 15}

// tcpMaxSegmentPayload is the largest TCP payload that fits in one
// Ethernet frame: 1500-byte MTU minus a 20-byte IP header and a
// 20-byte TCP header (no options).
const tcpMaxSegmentPayload = 1500 - 20 - 20

// maxQueuedDatagrams bounds each UDP socket's undelivered-datagram
// queue, the same fixed-capacity-with-oldest-dropped policy cmd/nicd's
// descriptor rings use.
const maxQueuedDatagrams = 64

// firstEphemeralPort is IANA's low bound for dynamically assigned
// ports, used for sockets that send or connect without calling Bind
// first.
const firstEphemeralPort = 49152

// Socket-layer request opcodes, first inline byte.
const (
	opSockCreate byte = iota + 1
	opSockBind
	opSockListen
	opSockAccept
	opSockConnect
	opSockSend
	opSockRecv
	opSockSendTo
	opSockRecvFrom
	opSockClose
)

type udpDatagram struct {
	srcIP   netstack.IPv4
	srcPort uint16
	payload []byte
}

// netStack is this process's entire network state: the NIC handle
// every frame flows through, the protocol tables internal/netstack
// already implements, and the listener/accept/datagram bookkeeping
// the socket layer needs that doesn't belong inside those tables.
type netStack struct {
	nic       *drivers.NICDevice
	replyPort *ipc.Port

	arp     *netstack.ArpCache
	conns   *netstack.ConnectionTable
	sockets *netstack.SocketTable
	dns     *netstack.Cache

	mu                 sync.Mutex
	listeners          map[uint16]bool
	acceptQueue        map[uint16][]*netstack.TcpConnection
	udpQueues          map[uint16][]udpDatagram
	nextEphemeralPort  uint16
}

func newNetStack(nic *drivers.NICDevice, replyPort *ipc.Port) *netStack {
	return &netStack{
		nic:               nic,
		replyPort:         replyPort,
		arp:               netstack.NewArpCache(),
		conns:             netstack.NewConnectionTable(),
		sockets:           netstack.NewSocketTable(),
		dns:               netstack.NewCache(),
		listeners:         map[uint16]bool{},
		acceptQueue:       map[uint16][]*netstack.TcpConnection{},
		udpQueues:         map[uint16][]udpDatagram{},
		nextEphemeralPort: firstEphemeralPort,
	}
}

func isn() uint32 {
	return uint32(time.Now().UnixNano())
}

func (n *netStack) allocEphemeralPort() uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	p := n.nextEphemeralPort
	n.nextEphemeralPort++
	if n.nextEphemeralPort == 0 {
		n.nextEphemeralPort = firstEphemeralPort
	}
	return p
}

func (n *netStack) sendFrame(ctx context.Context, dst netstack.MACAddress, etherType uint16, payload []byte) {
	frame := netstack.BuildFrame(netstack.Frame{Dst: dst, Src: localMAC, EtherType: etherType, Payload: payload})
	if err := n.nic.SendFrame(ctx, n.replyPort, frame); err != nil {
		log.WithError(err).Warn("send_frame failed")
	}
}

func (n *netStack) sendARPRequest(ctx context.Context, target netstack.IPv4) {
	req := netstack.BuildRequest(localMAC, localIP, target)
	n.sendFrame(ctx, netstack.BroadcastMAC, netstack.EtherTypeARP, netstack.EncodeArp(req))
}

// resolve returns the MAC cached for ip, or broadcasts an ARP request
// and falls back to the broadcast address for this send — best effort
// until the cache is populated by the reply; there is no per-packet
// retransmit queue, so a send issued before resolution completes is
// dropped by the peer rather than retried.
func (n *netStack) resolve(ctx context.Context, ip netstack.IPv4) netstack.MACAddress {
	if mac, ok := n.arp.Lookup(ip); ok {
		return mac
	}
	n.sendARPRequest(ctx, ip)
	return netstack.BroadcastMAC
}

// rxLoop is the Ethernet RX fiber: it polls the NIC driver's RX ring
// and demultiplexes every frame it sees. ReceiveFrame is a non-
// blocking poll (see internal/device/drivers/nic.go), so this loop
// drains the ring completely before sleeping for the next tick rather
// than polling once per tick.
func (n *netStack) rxLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			frame, ok, err := n.nic.ReceiveFrame(ctx, n.replyPort)
			if err != nil {
				log.WithError(err).Warn("receive_frame failed")
				break
			}
			if !ok {
				break
			}
			n.handleFrame(ctx, frame)
		}
	}
}

func (n *netStack) handleFrame(ctx context.Context, raw []byte) {
	f, err := netstack.ParseFrame(raw)
	if err != nil {
		log.WithError(err).Debug("dropping malformed ethernet frame")
		return
	}
	switch f.EtherType {
	case netstack.EtherTypeARP:
		n.handleARP(ctx, f)
	case netstack.EtherTypeIPv4:
		n.handleIPv4(ctx, f)
	default:
		log.WithField("ethertype", f.EtherType).Debug("dropping frame of unhandled ethertype")
	}
}

func (n *netStack) handleARP(ctx context.Context, f netstack.Frame) {
	hdr, err := netstack.DecodeArp(f.Payload)
	if err != nil {
		log.WithError(err).Debug("dropping malformed arp packet")
		return
	}
	n.arp.Learn(hdr.SenderIP, hdr.SenderMAC)
	if hdr.Opcode == netstack.ArpOpRequest && hdr.TargetIP == localIP {
		reply := netstack.BuildReply(hdr, localMAC, localIP)
		n.sendFrame(ctx, f.Src, netstack.EtherTypeARP, netstack.EncodeArp(reply))
	}
}

func (n *netStack) handleIPv4(ctx context.Context, f netstack.Frame) {
	hdr, payload, err := netstack.ParseIPv4(f.Payload)
	if err != nil {
		log.WithError(err).Debug("dropping malformed ip packet")
		return
	}
	if len(f.Payload) >= int(hdr.HeaderLen) && netstack.InternetChecksum(f.Payload[:hdr.HeaderLen]) != 0 {
		log.Debug("dropping ip packet with bad header checksum")
		return
	}
	if hdr.Dst != localIP {
		return // no forwarding: only packets addressed to us are handled
	}
	n.arp.Learn(hdr.Src, f.Src)

	switch hdr.Protocol {
	case netstack.ProtoICMP:
		n.handleICMP(ctx, hdr, f.Src, payload)
	case netstack.ProtoUDP:
		n.handleUDP(hdr, payload)
	case netstack.ProtoTCP:
		n.handleTCP(ctx, hdr, f.Src, payload)
	default:
		log.WithField("protocol", hdr.Protocol).Debug("dropping packet of unhandled ip protocol")
	}
}

// handleICMP answers echo requests and otherwise drops the packet;
// spec §4.11 routes dest-unreachable/time-exceeded to the owning
// connection as a failure signal, which this stack has no place to
// deliver to since TcpConnection carries no error channel — logged
// instead.
func (n *netStack) handleICMP(ctx context.Context, hdr netstack.IPv4Header, srcMAC netstack.MACAddress, payload []byte) {
	echo, err := netstack.ParseIcmpEcho(payload)
	if err != nil {
		log.WithError(err).Debug("dropping malformed icmp packet")
		return
	}
	switch echo.Type {
	case netstack.IcmpEchoRequest:
		reply := netstack.EchoReplyFor(echo)
		ipPkt := netstack.BuildIPv4(localIP, hdr.Src, netstack.ProtoICMP, netstack.DefaultTTL, netstack.BuildIcmpEcho(reply))
		n.sendFrame(ctx, srcMAC, netstack.EtherTypeIPv4, ipPkt)
	default:
		log.WithFields(logrus.Fields{"type": echo.Type, "from": hdr.Src}).Debug("dropping unhandled icmp message")
	}
}

func (n *netStack) handleUDP(hdr netstack.IPv4Header, payload []byte) {
	dgram, err := netstack.ParseUDP(payload)
	if err != nil {
		log.WithError(err).Debug("dropping malformed udp datagram")
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	q := n.udpQueues[dgram.DstPort]
	if len(q) >= maxQueuedDatagrams {
		q = q[1:]
	}
	n.udpQueues[dgram.DstPort] = append(q, udpDatagram{srcIP: hdr.Src, srcPort: dgram.SrcPort, payload: dgram.Payload})
}

func (n *netStack) handleTCP(ctx context.Context, hdr netstack.IPv4Header, srcMAC netstack.MACAddress, payload []byte) {
	seg, err := netstack.ParseTCP(payload)
	if err != nil {
		log.WithError(err).Debug("dropping malformed tcp segment")
		return
	}

	if seg.Flags&netstack.FlagRST != 0 {
		if c, ok := n.conns.Get(localIP, seg.DstPort, hdr.Src, seg.SrcPort); ok {
			n.conns.Remove(c)
		}
		return
	}

	conn, ok := n.conns.Get(localIP, seg.DstPort, hdr.Src, seg.SrcPort)
	if !ok {
		n.mu.Lock()
		listening := n.listeners[seg.DstPort]
		n.mu.Unlock()
		if !listening || seg.Flags&netstack.FlagSYN == 0 {
			log.WithField("port", seg.DstPort).Debug("dropping tcp segment for unknown connection")
			return
		}
		conn = netstack.NewConnection(localIP, seg.DstPort)
		conn.RemoteIP, conn.RemotePort = hdr.Src, seg.SrcPort
		if err := conn.Listen(); err != nil {
			log.WithError(err).Warn("failed to open passive connection")
			return
		}
		if err := n.conns.Add(conn); err != nil {
			log.WithError(err).Warn("tcp connection table full")
			return
		}
	}

	prevState := conn.State
	reply, err := conn.HandleSegment(seg, isn())
	if err != nil {
		log.WithError(err).Debug("tcp segment rejected by state machine")
		return
	}
	if reply != nil {
		reply.SrcPort, reply.DstPort = conn.LocalPort, conn.RemotePort
		ipPkt := netstack.BuildIPv4(localIP, conn.RemoteIP, netstack.ProtoTCP, netstack.DefaultTTL, netstack.BuildTCP(*reply))
		n.sendFrame(ctx, srcMAC, netstack.EtherTypeIPv4, ipPkt)
	}
	// A passive-open handshake completes exactly when SYN_RECEIVED sees
	// its ACK; that is the one transition into Established a listener's
	// Accept should ever see queued to it.
	if prevState == netstack.TcpSynReceived && conn.State == netstack.TcpEstablished {
		n.mu.Lock()
		n.acceptQueue[conn.LocalPort] = append(n.acceptQueue[conn.LocalPort], conn)
		n.mu.Unlock()
	}
}

// flushSend drains every byte Write queued on s's connection into
// MTU-sized segments and transmits them immediately.
func (n *netStack) flushSend(ctx context.Context, s *netstack.Socket) {
	conn := s.Connection()
	if conn == nil {
		return
	}
	for {
		seg, ok := conn.DrainSend(tcpMaxSegmentPayload)
		if !ok {
			return
		}
		ipPkt := netstack.BuildIPv4(conn.LocalIP, conn.RemoteIP, netstack.ProtoTCP, netstack.DefaultTTL, netstack.BuildTCP(seg))
		n.sendFrame(ctx, n.resolve(ctx, conn.RemoteIP), netstack.EtherTypeIPv4, ipPkt)
	}
}

func (n *netStack) serveSockets(ctx context.Context, port *ipc.Port) error {
	for {
		msg, err := ipc.Receive(ctx, port)
		if err != nil {
			return err
		}
		n.dispatchSocket(ctx, msg)
	}
}

func (n *netStack) dispatchSocket(ctx context.Context, msg ipc.Message) {
	payload := msg.Payload()
	if len(payload) < 1 {
		return
	}

	var reply ipc.Message
	switch payload[0] {
	case opSockCreate:
		reply = n.sockCreate(payload)
	case opSockBind:
		reply = n.sockBind(payload)
	case opSockListen:
		reply = n.sockListen(payload)
	case opSockAccept:
		reply = n.sockAccept(payload)
	case opSockConnect:
		reply = n.sockConnect(ctx, payload)
	case opSockSend:
		reply = n.sockSend(ctx, payload, msg.Buffer)
	case opSockRecv:
		reply = n.sockRecv(payload)
	case opSockSendTo:
		reply = n.sockSendTo(ctx, payload, msg.Buffer)
	case opSockRecvFrom:
		reply = n.sockRecvFrom(payload)
	case opSockClose:
		reply = n.sockClose(ctx, payload)
	default:
		log.WithField("opcode", payload[0]).Debug("unhandled socket message")
		return
	}

	if err := ipc.ReplyToRequest(ctx, msg, reply); err != nil {
		log.WithError(err).Warn("failed to reply to socket request")
	}
}

func failStatus(n int) ipc.Message {
	var reply ipc.Message
	body := make([]byte, n)
	body[0] = 1
	_ = reply.SetInline(body)
	return reply
}

// sockCreate: {type:1} -> {status:1, fd:4}.
func (n *netStack) sockCreate(payload []byte) ipc.Message {
	if len(payload) < 2 {
		return failStatus(5)
	}
	typ := netstack.SocketType(payload[1])
	if typ != netstack.SockDgram && typ != netstack.SockStream {
		return failStatus(5)
	}
	s := n.sockets.NewSocket(typ)
	body := make([]byte, 5)
	putLE32(body[1:], uint32(s.Fd))
	var reply ipc.Message
	_ = reply.SetInline(body)
	return reply
}

// sockBind: {fd:4, ip:4, port:2} -> {status:1}.
func (n *netStack) sockBind(payload []byte) ipc.Message {
	if len(payload) < 11 {
		return failStatus(1)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil {
		return failStatus(1)
	}
	var ip netstack.IPv4
	copy(ip[:], payload[5:9])
	s.Bind(ip, leUint16(payload[9:11]))
	var reply ipc.Message
	_ = reply.SetInline([]byte{0})
	return reply
}

// sockListen: {fd:4} -> {status:1}.
func (n *netStack) sockListen(payload []byte) ipc.Message {
	if len(payload) < 5 {
		return failStatus(1)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil || s.Type != netstack.SockStream {
		return failStatus(1)
	}
	n.mu.Lock()
	n.listeners[s.LocalPort] = true
	n.mu.Unlock()
	var reply ipc.Message
	_ = reply.SetInline([]byte{0})
	return reply
}

// sockAccept: {fd:4} -> {status:1}, status 1 meaning would-block; on
// success the body also carries {newfd:4, remoteIP:4, remotePort:2}.
func (n *netStack) sockAccept(payload []byte) ipc.Message {
	if len(payload) < 5 {
		return failStatus(1)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil || s.Type != netstack.SockStream {
		return failStatus(1)
	}

	n.mu.Lock()
	q := n.acceptQueue[s.LocalPort]
	if len(q) == 0 {
		n.mu.Unlock()
		return failStatus(1)
	}
	conn := q[0]
	n.acceptQueue[s.LocalPort] = q[1:]
	n.mu.Unlock()

	accepted := n.sockets.NewSocket(netstack.SockStream)
	_ = accepted.AttachConnection(conn)

	body := make([]byte, 11)
	putLE32(body[1:5], uint32(accepted.Fd))
	copy(body[5:9], conn.RemoteIP[:])
	putLE16(body[9:11], conn.RemotePort)
	var reply ipc.Message
	_ = reply.SetInline(body)
	return reply
}

// sockConnect: {fd:4, ip:4, port:2} -> {status:1}. Status 0 means the
// SYN was sent, not that the handshake has completed — callers poll
// Send/Recv the way a non-blocking POSIX connect's EINPROGRESS works.
func (n *netStack) sockConnect(ctx context.Context, payload []byte) ipc.Message {
	if len(payload) < 11 {
		return failStatus(1)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil || s.Type != netstack.SockStream {
		return failStatus(1)
	}
	var remoteIP netstack.IPv4
	copy(remoteIP[:], payload[5:9])
	remotePort := leUint16(payload[9:11])

	localPort := s.LocalPort
	if localPort == 0 {
		localPort = n.allocEphemeralPort()
		s.Bind(localIP, localPort)
	}
	conn := netstack.NewConnection(localIP, localPort)
	syn, err := conn.Connect(remoteIP, remotePort, isn())
	if err != nil {
		return failStatus(1)
	}
	if err := n.conns.Add(conn); err != nil {
		return failStatus(1)
	}
	_ = s.AttachConnection(conn)

	ipPkt := netstack.BuildIPv4(localIP, remoteIP, netstack.ProtoTCP, netstack.DefaultTTL, netstack.BuildTCP(syn))
	n.sendFrame(ctx, n.resolve(ctx, remoteIP), netstack.EtherTypeIPv4, ipPkt)

	var reply ipc.Message
	_ = reply.SetInline([]byte{0})
	return reply
}

// sockSend: {fd:4}, buffer carries the data -> {status:1, n:4}.
func (n *netStack) sockSend(ctx context.Context, payload []byte, data []byte) ipc.Message {
	if len(payload) < 5 {
		return failStatus(5)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil || s.Type != netstack.SockStream {
		return failStatus(5)
	}
	written, err := s.Write(data)
	if err != nil {
		return failStatus(5)
	}
	n.flushSend(ctx, s)
	body := make([]byte, 5)
	putLE32(body[1:], uint32(written))
	var reply ipc.Message
	_ = reply.SetInline(body)
	return reply
}

// sockRecv: {fd:4} -> {status:1, n:4} + buffer; status 1 means
// would-block.
func (n *netStack) sockRecv(payload []byte) ipc.Message {
	if len(payload) < 5 {
		return failStatus(5)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil || s.Type != netstack.SockStream {
		return failStatus(5)
	}
	buf := make([]byte, tcpMaxSegmentPayload)
	count, err := s.Read(buf)
	if err != nil || count == 0 {
		return failStatus(5)
	}
	body := make([]byte, 5)
	putLE32(body[1:], uint32(count))
	var reply ipc.Message
	_ = reply.SetInline(body)
	reply.Buffer = buf[:count]
	return reply
}

// sockSendTo: {fd:4, ip:4, port:2}, buffer carries the data ->
// {status:1, n:4}.
func (n *netStack) sockSendTo(ctx context.Context, payload []byte, data []byte) ipc.Message {
	if len(payload) < 11 {
		return failStatus(5)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil || s.Type != netstack.SockDgram {
		return failStatus(5)
	}
	var dstIP netstack.IPv4
	copy(dstIP[:], payload[5:9])
	dstPort := leUint16(payload[9:11])

	srcPort := s.LocalPort
	if srcPort == 0 {
		srcPort = n.allocEphemeralPort()
		s.Bind(localIP, srcPort)
	}
	udpPkt := netstack.BuildUDP(netstack.UdpDatagram{SrcPort: srcPort, DstPort: dstPort, Payload: data})
	ipPkt := netstack.BuildIPv4(localIP, dstIP, netstack.ProtoUDP, netstack.DefaultTTL, udpPkt)
	n.sendFrame(ctx, n.resolve(ctx, dstIP), netstack.EtherTypeIPv4, ipPkt)

	body := make([]byte, 5)
	putLE32(body[1:], uint32(len(data)))
	var reply ipc.Message
	_ = reply.SetInline(body)
	return reply
}

// sockRecvFrom: {fd:4} -> {status:1, ip:4, port:2, n:4} + buffer;
// status 1 means would-block.
func (n *netStack) sockRecvFrom(payload []byte) ipc.Message {
	if len(payload) < 5 {
		return failStatus(1)
	}
	s, err := n.sockets.Get(int(leUint32(payload[1:5])))
	if err != nil || s.Type != netstack.SockDgram {
		return failStatus(1)
	}

	n.mu.Lock()
	q := n.udpQueues[s.LocalPort]
	if len(q) == 0 {
		n.mu.Unlock()
		return failStatus(1)
	}
	d := q[0]
	n.udpQueues[s.LocalPort] = q[1:]
	n.mu.Unlock()

	body := make([]byte, 11)
	copy(body[1:5], d.srcIP[:])
	putLE16(body[5:7], d.srcPort)
	putLE32(body[7:11], uint32(len(d.payload)))
	var reply ipc.Message
	_ = reply.SetInline(body)
	reply.Buffer = d.payload
	return reply
}

// sockClose: {fd:4} -> {status:1}.
func (n *netStack) sockClose(ctx context.Context, payload []byte) ipc.Message {
	if len(payload) < 5 {
		return failStatus(1)
	}
	fd := int(leUint32(payload[1:5]))
	if s, err := n.sockets.Get(fd); err == nil && s.Type == netstack.SockStream {
		if conn := s.Connection(); conn != nil {
			if fin, cerr := conn.Close(); cerr == nil {
				ipPkt := netstack.BuildIPv4(conn.LocalIP, conn.RemoteIP, netstack.ProtoTCP, netstack.DefaultTTL, netstack.BuildTCP(fin))
				n.sendFrame(ctx, n.resolve(ctx, conn.RemoteIP), netstack.EtherTypeIPv4, ipPkt)
			}
		}
	}
	if err := n.sockets.Close(fd); err != nil {
		return failStatus(1)
	}
	var reply ipc.Message
	_ = reply.SetInline([]byte{0})
	return reply
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func putLE16(b []byte, v uint16) {
	b[0], b[1] = byte(v), byte(v>>8)
}
func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func putLE32(b []byte, v uint32) {
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}

func run(c *cli.Context) error {
	cfg, err := appconfig.Load(c.String("config"))
	if err != nil {
		return err
	}
	observability.ConfigureLogging(cfg)

	driverPort, ok := ipc.Lookup(nicPort)
	if !ok {
		return errors.Errorf("netstackd: nic driver not found on port %d", nicPort)
	}
	replyPort := ipc.CreateEphemeralPort()
	defer replyPort.Close()

	nic := drivers.NewNICDevice(config.DeviceInfo{ID: "nic0", Type: config.DeviceNIC}, driverPort)
	bg := context.Background()
	if err := nic.Attach(bg); err != nil {
		log.WithError(err).Warn("nic attach failed")
	}
	if err := nic.SetIP(bg, replyPort, localIP); err != nil {
		log.WithError(err).Warn("set_ip failed")
	}

	ns := newNetStack(nic, replyPort)

	port := ipc.CreatePort(wellKnownPort)
	defer port.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	go ns.rxLoop(ctx)

	log.WithField("port", wellKnownPort).Info("network service ready")
	return ns.serveSockets(ctx, port)
}

func main() {
	app := &cli.App{
		Name:  "netstackd",
		Usage: "network stack service",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config.toml"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatal("netstackd exiting")
	}
}
