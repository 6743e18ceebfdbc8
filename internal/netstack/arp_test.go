package netstack

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestArpCacheLearnAndLookup(t *testing.T) {
	c := NewArpCache()
	ip := IPv4{192, 168, 1, 1}
	mac := MACAddress{0, 1, 2, 3, 4, 5}

	_, ok := c.Lookup(ip)
	assert.False(t, ok)

	c.Learn(ip, mac)
	got, ok := c.Lookup(ip)
	assert.True(t, ok)
	assert.Equal(t, mac, got)
}

func TestArpCacheEvictsOldestWhenFull(t *testing.T) {
	c := NewArpCache()
	base := time.Now()
	for i := 0; i < ArpCacheSize; i++ {
		ip := IPv4{10, 0, byte(i / 256), byte(i % 256)}
		c.entries[ip] = arpCacheEntry{mac: MACAddress{byte(i)}, learnedAt: base.Add(time.Duration(i) * time.Second)}
	}

	oldest := IPv4{10, 0, 0, 0}
	_, ok := c.Lookup(oldest)
	assert.True(t, ok)

	c.Learn(IPv4{172, 16, 0, 1}, MACAddress{9, 9, 9, 9, 9, 9})

	_, ok = c.Lookup(oldest)
	assert.False(t, ok, "oldest entry should have been evicted to make room")

	got, ok := c.Lookup(IPv4{172, 16, 0, 1})
	assert.True(t, ok)
	assert.Equal(t, MACAddress{9, 9, 9, 9, 9, 9}, got)
}

func TestArpCacheExpiresAfterTimeout(t *testing.T) {
	c := NewArpCache()
	ip := IPv4{192, 168, 1, 1}
	c.entries[ip] = arpCacheEntry{mac: MACAddress{1}, learnedAt: time.Now().Add(-ArpCacheTimeout - time.Second)}

	_, ok := c.Lookup(ip)
	assert.False(t, ok)
}

func TestBuildReplySwapsSenderAndTarget(t *testing.T) {
	req := BuildRequest(MACAddress{1, 1, 1, 1, 1, 1}, IPv4{10, 0, 0, 1}, IPv4{10, 0, 0, 2})
	reply := BuildReply(req, MACAddress{2, 2, 2, 2, 2, 2}, IPv4{10, 0, 0, 2})

	assert.Equal(t, ArpOpReply, reply.Opcode)
	assert.Equal(t, req.SenderMAC, reply.TargetMAC)
	assert.Equal(t, req.SenderIP, reply.TargetIP)
	assert.Equal(t, MACAddress{2, 2, 2, 2, 2, 2}, reply.SenderMAC)
}
