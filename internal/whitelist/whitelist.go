// Package whitelist holds the set of identities approved to buy in a sale.
//
// The registry itself performs no authorization; the sale engine gates every
// mutation on the sale owner before it reaches the registry.
package whitelist

import (
	"bytes"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Entry is one identity and its eligibility flag.
type Entry struct {
	Address     common.Address `json:"address"`
	Whitelisted bool           `json:"whitelisted"`
}

// Registry maps identities to an eligibility flag. Unknown identities are
// not whitelisted. Entries are never deleted; removal clears the flag.
type Registry struct {
	mu      sync.RWMutex
	entries map[common.Address]bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[common.Address]bool)}
}

// Add sets the flag for every address and returns the addresses whose flag
// changed. Re-adding and duplicates within the batch are no-ops.
func (r *Registry) Add(addrs []common.Address) []common.Address {
	return r.set(addrs, true)
}

// Remove clears the flag for every address and returns the addresses whose
// flag changed.
func (r *Registry) Remove(addrs []common.Address) []common.Address {
	return r.set(addrs, false)
}

func (r *Registry) set(addrs []common.Address, flag bool) []common.Address {
	r.mu.Lock()
	defer r.mu.Unlock()

	changed := make([]common.Address, 0, len(addrs))
	for _, a := range addrs {
		current, known := r.entries[a]
		if known && current == flag {
			continue
		}
		if !known && !flag {
			// Record the identity so it shows up in exports as explicitly removed.
			r.entries[a] = false
			continue
		}
		r.entries[a] = flag
		changed = append(changed, a)
	}
	return changed
}

// IsWhitelisted reports whether addr may buy.
func (r *Registry) IsWhitelisted(addr common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entries[addr]
}

// Count returns the number of currently whitelisted identities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, ok := range r.entries {
		if ok {
			n++
		}
	}
	return n
}

// Entries returns every known identity sorted by address.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for a, ok := range r.entries {
		out = append(out, Entry{Address: a, Whitelisted: ok})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].Address[:], out[j].Address[:]) < 0
	})
	return out
}

// Restore replaces the registry contents.
func (r *Registry) Restore(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = make(map[common.Address]bool, len(entries))
	for _, e := range entries {
		r.entries[e.Address] = e.Whitelisted
	}
}

// Clone returns an independent copy.
func (r *Registry) Clone() *Registry {
	c := New()
	c.Restore(r.Entries())
	return c
}
