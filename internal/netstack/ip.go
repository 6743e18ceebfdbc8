package netstack

import "errors"

// IPv4 is a 4-byte IPv4 address, used as a map key throughout the
// stack (notably by ArpCache).
type IPv4 [4]byte

// IP protocol numbers recognized by the demultiplexer.
const (
	ProtoICMP uint8 = 1
	ProtoTCP  uint8 = 6
	ProtoUDP  uint8 = 17
)

const ipv4MinHeaderLen = 20

// DefaultTTL is used for packets this stack originates.
const DefaultTTL uint8 = 64

// IPv4Header is the parsed subset of an IPv4 header this stack acts
// on, mirrored from ip.rs.
type IPv4Header struct {
	HeaderLen  uint8
	TotalLen   uint16
	TTL        uint8
	Protocol   uint8
	Checksum   uint16
	Src        IPv4
	Dst        IPv4
}

// ParseIPv4 decodes an IPv4 header and returns it along with the
// payload that follows it.
func ParseIPv4(raw []byte) (IPv4Header, []byte, error) {
	if len(raw) < ipv4MinHeaderLen {
		return IPv4Header{}, nil, errors.New("netstack: ipv4 packet too short")
	}
	ihl := raw[0] & 0x0F
	headerLen := int(ihl) * 4
	if headerLen < ipv4MinHeaderLen || len(raw) < headerLen {
		return IPv4Header{}, nil, errors.New("netstack: invalid ipv4 header length")
	}
	h := IPv4Header{
		HeaderLen: uint8(headerLen),
		TotalLen:  uint16(raw[2])<<8 | uint16(raw[3]),
		TTL:       raw[8],
		Protocol:  raw[9],
		Checksum:  uint16(raw[10])<<8 | uint16(raw[11]),
	}
	copy(h.Src[:], raw[12:16])
	copy(h.Dst[:], raw[16:20])
	return h, raw[headerLen:], nil
}

// BuildIPv4 serializes an IPv4 header plus payload, computing the
// header checksum over the finished header.
func BuildIPv4(src, dst IPv4, protocol uint8, ttl uint8, payload []byte) []byte {
	total := ipv4MinHeaderLen + len(payload)
	out := make([]byte, total)
	out[0] = 0x45 // version 4, IHL 5 (no options)
	out[1] = 0
	out[2] = byte(total >> 8)
	out[3] = byte(total)
	out[4], out[5] = 0, 0 // identification
	out[6], out[7] = 0, 0 // flags/fragment offset
	out[8] = ttl
	out[9] = protocol
	out[10], out[11] = 0, 0 // checksum placeholder
	copy(out[12:16], src[:])
	copy(out[16:20], dst[:])
	copy(out[20:], payload)

	sum := InternetChecksum(out[:ipv4MinHeaderLen])
	out[10] = byte(sum >> 8)
	out[11] = byte(sum)
	return out
}

// InternetChecksum computes the one's-complement checksum used by
// IPv4, ICMP, and (pseudo-header-extended) UDP/TCP, mirrored from the
// standard RFC 1071 algorithm the original's ip.rs/icmp.rs implement.
func InternetChecksum(data []byte) uint16 {
	var sum uint32
	n := len(data)
	for i := 0; i+1 < n; i += 2 {
		sum += uint32(data[i])<<8 | uint32(data[i+1])
	}
	if n%2 == 1 {
		sum += uint32(data[n-1]) << 8
	}
	for sum>>16 != 0 {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
