package lcc

import (
	"hash/fnv"
	"math/rand"
)

// seedFromNodeID folds a 48-bit Node ID into an int64 seed via FNV-1a.
// The original source calls Python's `random.seed(node_id)` directly on
// the raw byte string; this engine does not attempt bit-exact parity
// with CPython's Mersenne Twister (not a meaningful property across
// languages -- see DESIGN.md), only that the same Node ID always yields
// the same candidate-alias sequence within one engine instance, which is
// all spec.md 4.D's reservation procedure requires.
func seedFromNodeID(id NodeID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(id[:])
	return int64(h.Sum64())
}

// aliasGenerator produces the candidate 12-bit aliases tried during
// reservation, per "6.2.1": generate_node_alias is `random.randint(0,
// 0xfff)`, reseeded per Node ID via update_node_id.
type aliasGenerator struct {
	rng *rand.Rand
}

func newAliasGenerator(id NodeID) *aliasGenerator {
	return &aliasGenerator{rng: rand.New(rand.NewSource(seedFromNodeID(id)))}
}

func (g *aliasGenerator) Next() Alias {
	return Alias(g.rng.Intn(0xFFF + 1))
}

// cidNibblePairs computes the four 12-bit values carried by the CID
// frames sent for sequence numbers 7,6,5,4 respectively, per
// reserve_node_alias's nibble packing of the 48-bit Node ID.
func cidNibblePairs(id NodeID) (seq7, seq6, seq5, seq4 uint16) {
	seq7 = uint16(id[0])<<4 | uint16(id[1]&0xF0)>>4
	seq6 = uint16(id[1]&0x0F)<<8 | uint16(id[2])
	seq5 = uint16(id[3])<<4 | uint16(id[4]&0xF0)>>4
	seq4 = uint16(id[4]&0x0F)<<8 | uint16(id[5])
	return
}
