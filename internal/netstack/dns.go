package netstack

import (
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// DNS resource record types this resolver understands, mirrored from
// dns.rs's query-type constants.
const (
	DnsTypeA     uint16 = 1
	DnsTypeNS    uint16 = 2
	DnsTypeCNAME uint16 = 5
	DnsTypeSOA   uint16 = 6
	DnsTypePTR   uint16 = 12
	DnsTypeMX    uint16 = 15
	DnsTypeAAAA  uint16 = 28
)

// DnsClassIN is the only record class this resolver issues queries
// for, mirrored from dns.rs's DNS_CLASS_IN.
const DnsClassIN uint16 = 1

// DnsServerPort is the well-known UDP port DNS queries are sent to.
const DnsServerPort uint16 = 53

// maxCompressionJumps bounds how many compression pointers
// decodeDomainName will follow before giving up, mirrored from
// dns.rs's decode_domain_name jump_count > 10 guard against malformed
// or cyclic packets.
const maxCompressionJumps = 10

// EncodeDomainName renders name as the length-prefixed label sequence
// DNS uses on the wire, terminated by a zero length byte, mirrored
// from dns.rs's encode_domain_name.
func EncodeDomainName(name string) ([]byte, error) {
	if name == "" {
		return []byte{0}, nil
	}
	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	var out []byte
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return nil, errors.Errorf("dns: invalid label length %d in %q", len(label), name)
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	out = append(out, 0)
	return out, nil
}

// DecodeDomainName parses a length-prefixed (and possibly
// compression-pointer-using) domain name starting at offset within
// msg, returning the decoded string and the offset immediately past
// the name in the original, uncompressed stream.
func DecodeDomainName(msg []byte, offset int) (string, int, error) {
	var labels []string
	pos := offset
	endPos := -1
	jumps := 0

	for {
		if pos >= len(msg) {
			return "", 0, errors.New("dns: name decode ran past end of message")
		}
		length := msg[pos]

		if length&0xC0 == 0xC0 { // compression pointer
			if pos+1 >= len(msg) {
				return "", 0, errors.New("dns: truncated compression pointer")
			}
			if endPos == -1 {
				endPos = pos + 2
			}
			jumps++
			if jumps > maxCompressionJumps {
				return "", 0, errors.New("dns: too many compression jumps, possible cycle")
			}
			pos = int(length&0x3F)<<8 | int(msg[pos+1])
			continue
		}

		if length == 0 {
			pos++
			break
		}

		start := pos + 1
		end := start + int(length)
		if end > len(msg) {
			return "", 0, errors.New("dns: label runs past end of message")
		}
		labels = append(labels, string(msg[start:end]))
		pos = end
	}

	if endPos == -1 {
		endPos = pos
	}
	return strings.Join(labels, "."), endPos, nil
}

// DnsCacheSize bounds the resolver cache, mirrored from dns.rs's
// DNS_CACHE_SIZE.
const DnsCacheSize = 128

// DnsDefaultTTL is used when a cache entry's source record carries no
// explicit TTL.
const DnsDefaultTTL = 300 * time.Second

type dnsCacheEntry struct {
	ip       IPv4
	expires  time.Time
}

// Cache is a fixed-capacity resolver cache keyed by queried name,
// evicting the oldest entry once full the way dns_cache_add's
// array-backed implementation evicts to slot 0 when full.
type Cache struct {
	mu      sync.Mutex
	entries map[string]dnsCacheEntry
	order   []string
}

func NewCache() *Cache {
	return &Cache{entries: map[string]dnsCacheEntry{}}
}

// Lookup returns a cached, unexpired answer for name.
func (c *Cache) Lookup(name string) (IPv4, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok || time.Now().After(e.expires) {
		return IPv4{}, false
	}
	return e.ip, true
}

// Add records name -> ip with the given ttl, evicting the oldest
// entry if the cache is at capacity.
func (c *Cache) Add(name string, ip IPv4, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[name]; !exists {
		if len(c.order) >= DnsCacheSize {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, name)
	}
	c.entries[name] = dnsCacheEntry{ip: ip, expires: time.Now().Add(ttl)}
}

// DnsHeader is the 12-byte fixed header every DNS message starts
// with.
type DnsHeader struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// Flag bits used when building a query.
const (
	FlagRecursionDesired uint16 = 1 << 8
	FlagResponse         uint16 = 1 << 15
)

// BuildQuery constructs a single-question A-record query for name.
func BuildQuery(id uint16, name string) ([]byte, error) {
	encodedName, err := EncodeDomainName(name)
	if err != nil {
		return nil, err
	}
	h := DnsHeader{ID: id, Flags: FlagRecursionDesired, QDCount: 1}
	out := make([]byte, 12)
	out[0], out[1] = byte(h.ID>>8), byte(h.ID)
	out[2], out[3] = byte(h.Flags>>8), byte(h.Flags)
	out[4], out[5] = byte(h.QDCount>>8), byte(h.QDCount)
	out = append(out, encodedName...)
	out = append(out, byte(DnsTypeA>>8), byte(DnsTypeA))
	out = append(out, byte(DnsClassIN>>8), byte(DnsClassIN))
	return out, nil
}

// ParseAResponse extracts the first A record's address from a DNS
// response message, following the question and resource-record
// sections by decoding names with DecodeDomainName.
func ParseAResponse(msg []byte) (IPv4, time.Duration, error) {
	if len(msg) < 12 {
		return IPv4{}, 0, errors.New("dns: response too short")
	}
	anCount := int(msg[6])<<8 | int(msg[7])
	if anCount == 0 {
		return IPv4{}, 0, errors.New("dns: response carries no answers")
	}

	_, pos, err := DecodeDomainName(msg, 12)
	if err != nil {
		return IPv4{}, 0, err
	}
	pos += 4 // skip QTYPE/QCLASS

	for i := 0; i < anCount; i++ {
		_, next, err := DecodeDomainName(msg, pos)
		if err != nil {
			return IPv4{}, 0, err
		}
		pos = next
		if pos+10 > len(msg) {
			return IPv4{}, 0, errors.New("dns: truncated resource record")
		}
		rrType := uint16(msg[pos])<<8 | uint16(msg[pos+1])
		ttl := uint32(msg[pos+4])<<24 | uint32(msg[pos+5])<<16 | uint32(msg[pos+6])<<8 | uint32(msg[pos+7])
		rdLength := int(msg[pos+8])<<8 | int(msg[pos+9])
		pos += 10
		if pos+rdLength > len(msg) {
			return IPv4{}, 0, errors.New("dns: truncated record data")
		}
		if rrType == DnsTypeA && rdLength == 4 {
			var ip IPv4
			copy(ip[:], msg[pos:pos+4])
			return ip, time.Duration(ttl) * time.Second, nil
		}
		pos += rdLength
	}
	return IPv4{}, 0, errors.New("dns: no A record in response")
}
