package netblock

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"os"
	"sort"
	"time"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/booklocker/internal/atomicfile"
)

// Expiration is the age after which a cached address may be dropped.
const Expiration = 8 * 7 * 24 * time.Hour

// ErrNoRoutes is returned when nothing resolved and nothing is cached.
var ErrNoRoutes = errors.New("route cache empty and no routes resolved")

// Entry is one cached sync address.
type Entry struct {
	IP          netip.Addr `json:"ip"`
	LastUpdated time.Time  `json:"last_updated"`
}

// Cache remembers every address the sync hosts resolved to, so they can be
// blocked while offline and unblocked after the hosts move.
type Cache struct {
	Entries []Entry
}

// LoadCache reads name from fs. A missing or empty file is an empty cache.
func LoadCache(fs billy.Filesystem, name string) (*Cache, error) {
	data, err := util.ReadFile(fs, name)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(data) == 0) {
		return &Cache{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read route cache: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse route cache %s: %w", name, err)
	}
	return &Cache{Entries: entries}, nil
}

// Save writes the cache to name in fs.
func (c *Cache) Save(fs billy.Filesystem, name string) error {
	entries := c.Entries
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode route cache: %w", err)
	}
	return atomicfile.WriteFile(fs, name, append(data, '\n'))
}

// Update merges freshly resolved addresses stamped with now, keeps the
// newest entry per address, and drops expired entries when at least two
// recent ones remain. It fails with ErrNoRoutes if the result is empty.
func (c *Cache) Update(resolved []netip.Addr, now time.Time) error {
	for _, ip := range resolved {
		c.Entries = append(c.Entries, Entry{IP: ip, LastUpdated: now})
	}
	c.Entries = dedupKeepNewest(c.Entries)
	if len(c.Entries) == 0 {
		return ErrNoRoutes
	}
	if c.recent(now) < 2 {
		return nil
	}

	kept := c.Entries[:0]
	for _, e := range c.Entries {
		if now.Sub(e.LastUpdated) <= Expiration {
			kept = append(kept, e)
		}
	}
	c.Entries = kept
	return nil
}

func (c *Cache) recent(now time.Time) int {
	n := 0
	for _, e := range c.Entries {
		if now.Sub(e.LastUpdated) < Expiration {
			n++
		}
	}
	return n
}

// IPs returns the cached addresses in address order.
func (c *Cache) IPs() []netip.Addr {
	out := make([]netip.Addr, len(c.Entries))
	for i, e := range c.Entries {
		out[i] = e.IP
	}
	return out
}

func dedupKeepNewest(entries []Entry) []Entry {
	sort.SliceStable(entries, func(i, j int) bool {
		if c := entries[i].IP.Compare(entries[j].IP); c != 0 {
			return c < 0
		}
		return entries[i].LastUpdated.After(entries[j].LastUpdated)
	})
	out := entries[:0]
	for _, e := range entries {
		if len(out) > 0 && out[len(out)-1].IP == e.IP {
			continue
		}
		out = append(out, e)
	}
	return out
}
