package chain

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/dchest/siphash"
)

// HashFamily names the 64-bit content hash used by a store. The family is
// fixed when the store is initialized and recorded in its config marker;
// hashes from different families are not comparable.
type HashFamily string

const (
	HashXX64  HashFamily = "xxhash64"
	HashSip64 HashFamily = "siphash64"
)

// Fixed SipHash key. Content addressing needs determinism across processes,
// not secrecy.
const (
	sipK0 = 0x706f736974696f6e // "position"
	sipK1 = 0x616c2d7369702d6b // "al-sip-k"
)

// orphanMarker is the literal whose hash is the orphan-parent sentinel.
const orphanMarker = "ORPHAN_VARIATION_PARENT_MARKER"

// Hasher computes 64-bit content hashes for one store.
type Hasher struct {
	family HashFamily
}

// NewHasher returns a hasher for the given family.
func NewHasher(family HashFamily) (*Hasher, error) {
	switch family {
	case HashXX64, HashSip64:
		return &Hasher{family: family}, nil
	default:
		return nil, fmt.Errorf("unknown hash family %q", family)
	}
}

// Family returns the hash family this hasher implements.
func (h *Hasher) Family() HashFamily {
	return h.family
}

// Sum64 hashes an arbitrary byte sequence.
func (h *Hasher) Sum64(data []byte) uint64 {
	if h.family == HashSip64 {
		return siphash.Hash(sipK0, sipK1, data)
	}
	return xxhash.Sum64(data)
}

// BlobHash computes the content hash of a move blob over its full 64-byte
// serialization (parent, Zobrist, count, flags, payload, result).
func (h *Hasher) BlobHash(b *Blob) uint64 {
	buf := b.Encode()
	return h.Sum64(buf[:])
}

// InitHash returns H_init, the content hash of the canonical
// initial-position blob for initial-board Zobrist z0.
func (h *Hasher) InitHash(z0 uint64) uint64 {
	return h.BlobHash(InitBlob(z0))
}

// OrphanHash returns H_orphan, the sentinel parent hash used by variation
// chains that begin mid-game without a real parent blob.
func (h *Hasher) OrphanHash() uint64 {
	return h.Sum64([]byte(orphanMarker))
}
