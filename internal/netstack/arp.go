package netstack

import (
	"errors"
	"sync"
	"time"
)

// arpPacketLen is the fixed on-wire size of an Ethernet/IPv4 ARP
// packet: 8-byte fixed header plus two 6-byte MACs and two 4-byte IPs.
const arpPacketLen = 8 + 6 + 4 + 6 + 4

// ARP opcodes and hardware/protocol type constants, mirrored from
// arp.rs's ARP_OP_REQUEST/REPLY, ARP_HW_ETHERNET, ARP_PROTO_IPV4.
const (
	ArpOpRequest uint16 = 1
	ArpOpReply   uint16 = 2

	ArpHwEthernet uint16 = 1
	ArpProtoIPv4  uint16 = 0x0800
)

// ArpCacheSize and ArpCacheTimeout are mirrored verbatim from arp.rs's
// ARP_CACHE_SIZE (256) and ARP_CACHE_TIMEOUT (300 seconds).
const (
	ArpCacheSize    = 256
	ArpCacheTimeout = 300 * time.Second
)

// ArpHeader is the on-wire ARP packet layout.
type ArpHeader struct {
	HardwareType uint16
	ProtocolType uint16
	HwAddrLen    uint8
	ProtoAddrLen uint8
	Opcode       uint16
	SenderMAC    MACAddress
	SenderIP     IPv4
	TargetMAC    MACAddress
	TargetIP     IPv4
}

type arpCacheEntry struct {
	mac     MACAddress
	learnedAt time.Time
}

// ArpCache resolves IPv4 addresses to MAC addresses, evicting entries
// older than ArpCacheTimeout and bounding itself to ArpCacheSize
// entries by evicting the oldest entry once full — the same
// fixed-capacity, timestamp-based eviction arp.rs implements over a
// static array, here backed by a map.
type ArpCache struct {
	mu      sync.Mutex
	entries map[IPv4]arpCacheEntry
}

func NewArpCache() *ArpCache {
	return &ArpCache{entries: map[IPv4]arpCacheEntry{}}
}

// Lookup returns the MAC address cached for ip, if any and not
// expired.
func (c *ArpCache) Lookup(ip IPv4) (MACAddress, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[ip]
	if !ok {
		return MACAddress{}, false
	}
	if time.Since(e.learnedAt) > ArpCacheTimeout {
		delete(c.entries, ip)
		return MACAddress{}, false
	}
	return e.mac, true
}

// Learn records ip -> mac, evicting the oldest entry if the cache is
// at capacity.
func (c *ArpCache) Learn(ip IPv4, mac MACAddress) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[ip]; !exists && len(c.entries) >= ArpCacheSize {
		var oldestIP IPv4
		var oldestTime time.Time
		first := true
		for k, v := range c.entries {
			if first || v.learnedAt.Before(oldestTime) {
				oldestIP, oldestTime, first = k, v.learnedAt, false
			}
		}
		delete(c.entries, oldestIP)
	}
	c.entries[ip] = arpCacheEntry{mac: mac, learnedAt: time.Now()}
}

// BuildRequest constructs a broadcast ARP request for targetIP,
// mirroring arp_request's packet construction.
func BuildRequest(senderMAC MACAddress, senderIP, targetIP IPv4) ArpHeader {
	return ArpHeader{
		HardwareType: ArpHwEthernet,
		ProtocolType: ArpProtoIPv4,
		HwAddrLen:    6,
		ProtoAddrLen: 4,
		Opcode:       ArpOpRequest,
		SenderMAC:    senderMAC,
		SenderIP:     senderIP,
		TargetMAC:    MACAddress{},
		TargetIP:     targetIP,
	}
}

// BuildReply answers req from this host's address, setting the
// opcode to ArpOpReply and swapping sender/target.
func BuildReply(req ArpHeader, myMAC MACAddress, myIP IPv4) ArpHeader {
	return ArpHeader{
		HardwareType: ArpHwEthernet,
		ProtocolType: ArpProtoIPv4,
		HwAddrLen:    6,
		ProtoAddrLen: 4,
		Opcode:       ArpOpReply,
		SenderMAC:    myMAC,
		SenderIP:     myIP,
		TargetMAC:    req.SenderMAC,
		TargetIP:     req.SenderIP,
	}
}

// EncodeArp serializes h to its on-wire form, the Ethernet frame
// payload ethernet.go's BuildFrame expects for EtherTypeARP.
func EncodeArp(h ArpHeader) []byte {
	out := make([]byte, arpPacketLen)
	out[0], out[1] = byte(h.HardwareType>>8), byte(h.HardwareType)
	out[2], out[3] = byte(h.ProtocolType>>8), byte(h.ProtocolType)
	out[4] = h.HwAddrLen
	out[5] = h.ProtoAddrLen
	out[6], out[7] = byte(h.Opcode>>8), byte(h.Opcode)
	copy(out[8:14], h.SenderMAC[:])
	copy(out[14:18], h.SenderIP[:])
	copy(out[18:24], h.TargetMAC[:])
	copy(out[24:28], h.TargetIP[:])
	return out
}

// DecodeArp parses raw into an ArpHeader, rejecting anything shorter
// than a fixed Ethernet/IPv4 ARP packet or carrying hardware/protocol
// types this stack doesn't speak.
func DecodeArp(raw []byte) (ArpHeader, error) {
	if len(raw) < arpPacketLen {
		return ArpHeader{}, errors.New("netstack: arp packet too short")
	}
	h := ArpHeader{
		HardwareType: uint16(raw[0])<<8 | uint16(raw[1]),
		ProtocolType: uint16(raw[2])<<8 | uint16(raw[3]),
		HwAddrLen:    raw[4],
		ProtoAddrLen: raw[5],
		Opcode:       uint16(raw[6])<<8 | uint16(raw[7]),
	}
	if h.HardwareType != ArpHwEthernet || h.ProtocolType != ArpProtoIPv4 {
		return ArpHeader{}, errors.New("netstack: unsupported arp hardware/protocol type")
	}
	copy(h.SenderMAC[:], raw[8:14])
	copy(h.SenderIP[:], raw[14:18])
	copy(h.TargetMAC[:], raw[18:24])
	copy(h.TargetIP[:], raw[24:28])
	return h, nil
}
