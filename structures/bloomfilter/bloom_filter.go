// Package bloomfilter implements the membership sketch used by a Layer's
// runs: a probabilistic set with no false negatives and a tunable false
// positive rate, keyed on the store's fixed-width int32 keys.
package bloomfilter

import (
	"encoding/binary"
	"math"

	seededhash "lsmkv/utils/seeded_hash"
)

// Filter is a Bloom filter over int32 keys. It works with byte slices
// internally so it can reuse the generic seeded hash family.
type Filter struct {
	m uint32 // size of the bit array
	k uint32 // number of hash functions
	h []seededhash.HashWithSeed
	b []byte
}

// New creates a filter sized for expectedEntries elements at the given
// target false positive rate. An expectedEntries below 1 is treated as 1,
// so the filter is sized as if for a single entry.
func New(expectedEntries int, falsePositiveRate float64) *Filter {
	if expectedEntries < 1 {
		expectedEntries = 1
	}
	m := calculateM(expectedEntries, falsePositiveRate)
	k := calculateK(expectedEntries, m)
	return &Filter{
		m: m,
		k: k,
		h: seededhash.CreateHashFunctions(uint64(k)),
		b: make([]byte, (m+7)/8),
	}
}

// calculateM returns the bit-array size minimizing the false positive rate
// for the given element count, per the standard Bloom filter sizing formula
// m = ceil(-n*ln(p) / ln(2)^2).
func calculateM(n int, p float64) uint32 {
	m := math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2))
	if m < 1 {
		m = 1
	}
	return uint32(m)
}

// calculateK returns the number of hash functions minimizing the false
// positive rate for a filter of m bits holding n elements: k = round(m/n * ln2).
func calculateK(n int, m uint32) uint32 {
	k := math.Round(float64(m) / float64(n) * math.Ln2)
	if k < 1 {
		k = 1
	}
	return uint32(k)
}

func keyBytes(key int32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(key))
	return buf
}

// Add inserts key into the filter.
func (f *Filter) Add(key int32) {
	data := keyBytes(key)
	for i := uint32(0); i < f.k; i++ {
		hash := f.h[i].Hash(data) % uint64(f.m)
		f.b[hash/8] |= 1 << (hash % 8)
	}
}

// PossiblyContains reports whether key may be a member. A false return is
// authoritative (no false negatives); a true return must be confirmed by
// the caller against the authoritative data.
func (f *Filter) PossiblyContains(key int32) bool {
	data := keyBytes(key)
	for i := uint32(0); i < f.k; i++ {
		hash := f.h[i].Hash(data) % uint64(f.m)
		if f.b[hash/8]&(1<<(hash%8)) == 0 {
			return false
		}
	}
	return true
}
