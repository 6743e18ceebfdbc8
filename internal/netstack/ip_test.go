package netstack

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInternetChecksumKnownVector(t *testing.T) {
	// The canonical RFC 1071 example header checksums to zero when the
	// checksum field itself is included in the sum.
	header := []byte{
		0x45, 0x00, 0x00, 0x3c, 0x1c, 0x46, 0x40, 0x00,
		0x40, 0x06, 0xb1, 0xe6, 0xac, 0x10, 0x0a, 0x63,
		0xac, 0x10, 0x0a, 0x0c,
	}
	assert.Equal(t, uint16(0), InternetChecksum(header))
}

func TestBuildParseIPv4RoundTrip(t *testing.T) {
	src := IPv4{10, 0, 0, 1}
	dst := IPv4{10, 0, 0, 2}
	payload := []byte("hello world")

	raw := BuildIPv4(src, dst, ProtoUDP, DefaultTTL, payload)
	hdr, body, err := ParseIPv4(raw)
	assert.NoError(t, err)
	assert.Equal(t, src, hdr.Src)
	assert.Equal(t, dst, hdr.Dst)
	assert.Equal(t, ProtoUDP, hdr.Protocol)
	assert.Equal(t, DefaultTTL, hdr.TTL)
	assert.Equal(t, payload, body)

	// the checksum over the whole header (checksum field included)
	// must come out to zero for a correctly-computed checksum.
	assert.Equal(t, uint16(0), InternetChecksum(raw[:hdr.HeaderLen]))
}

func TestParseIPv4RejectsShortPacket(t *testing.T) {
	_, _, err := ParseIPv4([]byte{0x45, 0x00})
	assert.Error(t, err)
}
