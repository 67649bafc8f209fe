package lsm

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

// BloomFilter is a probabilistic set-membership structure: false
// positives are possible, false negatives are not.
type BloomFilter struct {
	bits      []byte // packed, 8 bits per byte
	numBits   uint64
	numHashes uint32
}

// NewBloomFilter sizes a filter for expectedItems entries at the given
// false-positive rate (0.01 is the default target).
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 1
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	numBits := uint64(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if numBits < 8 {
		numBits = 8
	}
	const maxBits = 1_000_000_000
	if numBits > maxBits {
		numBits = maxBits
	}

	numHashes := uint32(math.Ceil((float64(numBits) / float64(expectedItems)) * math.Ln2))
	if numHashes < 1 {
		numHashes = 1
	}
	if numHashes > 30 {
		numHashes = 30
	}

	return &BloomFilter{
		bits:      make([]byte, (numBits+7)/8),
		numBits:   numBits,
		numHashes: numHashes,
	}
}

func (bf *BloomFilter) hash(key []byte, seed uint32) uint64 {
	h := fnv.New64a()
	var seedBytes [4]byte
	binary.LittleEndian.PutUint32(seedBytes[:], seed)
	h.Write(seedBytes[:])
	h.Write(key)
	return h.Sum64() % bf.numBits
}

// Add records key as a member.
func (bf *BloomFilter) Add(key []byte) {
	for i := uint32(0); i < bf.numHashes; i++ {
		idx := bf.hash(key, i)
		bf.bits[idx/8] |= 1 << (idx % 8)
	}
}

// MightContain reports whether key may be a member. false is
// conclusive; true may be a false positive.
func (bf *BloomFilter) MightContain(key []byte) bool {
	for i := uint32(0); i < bf.numHashes; i++ {
		idx := bf.hash(key, i)
		if bf.bits[idx/8]&(1<<(idx%8)) == 0 {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the filter as NUM_BITS(8) | NUM_HASHES(4) | BITS,
// matching the SSTable BloomFilter section layout.
func (bf *BloomFilter) MarshalBinary() []byte {
	buf := make([]byte, 12+len(bf.bits))
	binary.LittleEndian.PutUint64(buf[0:8], bf.numBits)
	binary.LittleEndian.PutUint32(buf[8:12], bf.numHashes)
	copy(buf[12:], bf.bits)
	return buf
}

// UnmarshalBloomFilter decodes a filter written by MarshalBinary.
func UnmarshalBloomFilter(data []byte) (*BloomFilter, error) {
	if len(data) < 12 {
		return nil, errShortBloom
	}
	numBits := binary.LittleEndian.Uint64(data[0:8])
	numHashes := binary.LittleEndian.Uint32(data[8:12])
	bits := append([]byte(nil), data[12:]...)
	return &BloomFilter{bits: bits, numBits: numBits, numHashes: numHashes}, nil
}
