package arp

import (
	"fmt"

	"github.com/ivanv/edgerouter/pkg/common"
)

// MaxCacheEntries bounds the ARP cache the same way the original vector did:
// the table holds a fixed number of resolved slots and silently stops
// growing once full.
const MaxCacheEntries = 100

// CacheEntry is one resolved IPv4-to-MAC mapping.
type CacheEntry struct {
	IP  common.IPv4Address
	MAC common.MACAddress
}

// Cache is a bounded, append-only table of ARP resolutions. It is
// deliberately not a map: Add never checks whether ip is already present
// before appending, and Get returns the first match found scanning from the
// oldest entry. A second reply for an IP already in the cache leaves the
// original entry in place ahead of the new one — both are kept, Get always
// resolves to the older, and the duplicate can never be reached or evicted.
// The router has no concurrent access to guard against, so there is no
// lock here.
type Cache struct {
	entries []CacheEntry
}

// NewCache creates an empty ARP cache.
func NewCache() *Cache {
	return &Cache{entries: make([]CacheEntry, 0, MaxCacheEntries)}
}

// Add appends a resolution to the cache. Once the cache holds
// MaxCacheEntries entries, further resolutions are silently dropped.
func (c *Cache) Add(ip common.IPv4Address, mac common.MACAddress) {
	if len(c.entries) >= MaxCacheEntries {
		return
	}
	c.entries = append(c.entries, CacheEntry{IP: ip, MAC: mac})
}

// Get scans the cache from oldest to newest entry and returns the MAC
// address of the first match.
func (c *Cache) Get(ip common.IPv4Address) (common.MACAddress, bool) {
	for _, e := range c.entries {
		if e.IP == ip {
			return e.MAC, true
		}
	}
	return common.MACAddress{}, false
}

// Size returns the number of entries currently stored, including any
// duplicate shadow entries.
func (c *Cache) Size() int {
	return len(c.entries)
}

// String returns a human-readable dump of the cache in insertion order.
func (c *Cache) String() string {
	result := fmt.Sprintf("ARP Cache (%d entries):\n", len(c.entries))
	for _, e := range c.entries {
		result += fmt.Sprintf("  %s -> %s\n", e.IP, e.MAC)
	}
	return result
}
