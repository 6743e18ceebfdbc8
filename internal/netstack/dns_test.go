package netstack

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainNameRoundTrip(t *testing.T) {
	type testData struct {
		name string
	}
	data := []testData{
		{"example.com"},
		{"www.example.com"},
		{"a.b.c.d"},
		{""},
	}

	for _, d := range data {
		encoded, err := EncodeDomainName(d.name)
		assert.NoError(t, err)
		decoded, next, err := DecodeDomainName(encoded, 0)
		assert.NoError(t, err)
		assert.Equal(t, d.name, decoded)
		assert.Equal(t, len(encoded), next)
	}
}

func TestDecodeDomainNameFollowsCompressionPointer(t *testing.T) {
	// "example.com" at offset 0, then a pointer to it at offset 13.
	msg := append([]byte{}, mustEncode(t, "example.com")...)
	pointerOffset := len(msg)
	msg = append(msg, 0xC0, 0x00)

	decoded, next, err := DecodeDomainName(msg, pointerOffset)
	assert.NoError(t, err)
	assert.Equal(t, "example.com", decoded)
	assert.Equal(t, pointerOffset+2, next)
}

func TestDecodeDomainNameRejectsCyclicPointers(t *testing.T) {
	// Two bytes that point at each other forever.
	msg := []byte{0xC0, 0x00}
	_, _, err := DecodeDomainName(msg, 0)
	assert.Error(t, err)
}

func TestEncodeDomainNameRejectsOverlongLabel(t *testing.T) {
	overlong := make([]byte, 64)
	for i := range overlong {
		overlong[i] = 'a'
	}
	_, err := EncodeDomainName(string(overlong))
	assert.Error(t, err)
}

func TestDnsCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewCache()
	for i := 0; i < DnsCacheSize; i++ {
		c.Add(nameFor(i), IPv4{1, 2, 3, byte(i)}, DnsDefaultTTL)
	}
	// cache is now full; adding one more should evict entry 0.
	c.Add("overflow.example", IPv4{9, 9, 9, 9}, DnsDefaultTTL)

	_, ok := c.Lookup(nameFor(0))
	assert.False(t, ok)

	ip, ok := c.Lookup("overflow.example")
	assert.True(t, ok)
	assert.Equal(t, IPv4{9, 9, 9, 9}, ip)
}

func mustEncode(t *testing.T, name string) []byte {
	t.Helper()
	b, err := EncodeDomainName(name)
	assert.NoError(t, err)
	return b
}

func nameFor(i int) string {
	return fmt.Sprintf("host%d.example", i)
}
