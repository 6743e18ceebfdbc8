package netstack

import "errors"

const udpHeaderLen = 8

// UdpDatagram is a parsed UDP packet.
type UdpDatagram struct {
	SrcPort uint16
	DstPort uint16
	Payload []byte
}

// ParseUDP decodes a UDP datagram.
func ParseUDP(raw []byte) (UdpDatagram, error) {
	if len(raw) < udpHeaderLen {
		return UdpDatagram{}, errors.New("netstack: udp datagram too short")
	}
	length := uint16(raw[4])<<8 | uint16(raw[5])
	if int(length) > len(raw) {
		return UdpDatagram{}, errors.New("netstack: udp length field exceeds buffer")
	}
	return UdpDatagram{
		SrcPort: uint16(raw[0])<<8 | uint16(raw[1]),
		DstPort: uint16(raw[2])<<8 | uint16(raw[3]),
		Payload: raw[udpHeaderLen:length],
	}, nil
}

// BuildUDP serializes a UDP datagram. Checksum is left zero, which
// RFC 768 permits for IPv4 and which the original udp.rs also leaves
// unset.
func BuildUDP(d UdpDatagram) []byte {
	total := udpHeaderLen + len(d.Payload)
	out := make([]byte, total)
	out[0] = byte(d.SrcPort >> 8)
	out[1] = byte(d.SrcPort)
	out[2] = byte(d.DstPort >> 8)
	out[3] = byte(d.DstPort)
	out[4] = byte(total >> 8)
	out[5] = byte(total)
	out[6], out[7] = 0, 0 // checksum left unset
	copy(out[udpHeaderLen:], d.Payload)
	return out
}
