package link

import (
	"net/netip"
	"sort"

	"github.com/danmuck/charlink/internal/keyed"
)

// ZoneEntry is one zone served by another front-end.
type ZoneEntry struct {
	Zone string         `json:"zone"`
	Addr netip.AddrPort `json:"addr"`
}

// ZoneDirectory tracks zones announced by other front-ends through the
// authority. Zones served locally are never recorded.
type ZoneDirectory struct {
	local  map[string]struct{}
	remote *keyed.Store[string, netip.AddrPort]
}

func NewZoneDirectory(local []string) *ZoneDirectory {
	d := &ZoneDirectory{
		local:  make(map[string]struct{}, len(local)),
		remote: keyed.New[string, netip.AddrPort](),
	}
	for _, z := range local {
		d.local[z] = struct{}{}
	}
	return d
}

// Announce records zones at addr and returns how many were added or moved.
func (d *ZoneDirectory) Announce(addr netip.AddrPort, zones []string) int {
	n := 0
	for _, z := range zones {
		if z == "" {
			continue
		}
		if _, ok := d.local[z]; ok {
			continue
		}
		if prev, ok := d.remote.Put(z, addr); !ok || prev != addr {
			n++
		}
	}
	return n
}

// Withdraw removes zones announced at addr and returns how many were removed.
// A zone since re-announced at another address is kept.
func (d *ZoneDirectory) Withdraw(addr netip.AddrPort, zones []string) int {
	n := 0
	for _, z := range zones {
		cur, ok := d.remote.Get(z)
		if !ok || (addr.IsValid() && cur != addr) {
			continue
		}
		if _, ok := d.remote.Remove(z); ok {
			n++
		}
	}
	return n
}

// Clear drops every remote zone and returns how many there were.
func (d *ZoneDirectory) Clear() int {
	return len(d.remote.Drain())
}

func (d *ZoneDirectory) Lookup(zone string) (netip.AddrPort, bool) {
	return d.remote.Get(zone)
}

func (d *ZoneDirectory) Len() int {
	return d.remote.Size()
}

// Entries returns the remote zones sorted by name.
func (d *ZoneDirectory) Entries() []ZoneEntry {
	out := make([]ZoneEntry, 0, d.remote.Size())
	d.remote.ForEach(func(z string, addr netip.AddrPort) {
		out = append(out, ZoneEntry{Zone: z, Addr: addr})
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Zone < out[j].Zone })
	return out
}
