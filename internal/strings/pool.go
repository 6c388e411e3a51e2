// Package strings implements the VM's two deduplicated string tables: the
// UTF identifier pool (class/method/field names and JNI signatures) and the
// Java String intern pool. The intern pool is a GC root; UTF pool entries
// live on the Go heap, so the class metadata holding pointers to them
// keeps them alive without any marking (spec §4.7).
package strings

import "sort"

// Utf is a deduplicated, immutable identifier. Equality of identifiers is
// pointer equality once both have passed through the pool — two Utf values
// with equal bytes are always the same *Utf after Get.
type Utf struct {
	Bytes []byte
	hash  uint64
}

func (u *Utf) String() string { return string(u.Bytes) }

// fnv1a64 is used instead of the stdlib hash/fnv to avoid an extra
// allocation per lookup on the hot class-loading path (computing the hash
// of a []byte key many times during `find_or_load_class`).
func fnv1a64(b []byte) uint64 {
	const (
		offset = 1469598103934665603
		prime  = 1099511628211
	)
	h := uint64(offset)
	for _, c := range b {
		h ^= uint64(c)
		h *= prime
	}
	return h
}

// UtfPool deduplicates immutable byte strings by hash, exactly as the
// teacher's class registries dedup by multiple keys at once.
type UtfPool struct {
	byHash map[uint64][]*Utf
	count  int
}

func NewUtfPool() *UtfPool {
	return &UtfPool{byHash: make(map[uint64][]*Utf)}
}

// Get interns the given bytes, returning the existing entry on a hit or
// inserting and returning a new one on a miss.
func (p *UtfPool) Get(b []byte) *Utf {
	h := fnv1a64(b)
	for _, u := range p.byHash[h] {
		if string(u.Bytes) == string(b) {
			return u
		}
	}
	u := &Utf{Bytes: append([]byte(nil), b...), hash: h}
	p.byHash[h] = append(p.byHash[h], u)
	p.count++
	return u
}

// GetString is a convenience wrapper over Get for Go string literals.
func (p *UtfPool) GetString(s string) *Utf { return p.Get([]byte(s)) }

// Count returns the number of distinct interned identifiers.
func (p *UtfPool) Count() int { return p.count }

// All returns every interned identifier, sorted for deterministic dumps.
func (p *UtfPool) All() []*Utf {
	out := make([]*Utf, 0, p.count)
	for _, bucket := range p.byHash {
		out = append(out, bucket...)
	}
	sort.Slice(out, func(i, j int) bool { return string(out[i].Bytes) < string(out[j].Bytes) })
	return out
}

// UtfPool has no Roots method: Utf values live on the Go heap (not the VM
// arena) so they need no marking of their own — they are roots only in the sense
// that the class metadata referencing them must itself be kept alive,
// which the class pool already guarantees.
