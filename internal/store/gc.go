package store

import (
	"encoding/binary"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/google/renameio"

	"github.com/micaherne/positional/internal/chain"
)

// GCStats reports the outcome of a mark/sweep pass.
type GCStats struct {
	Kept    uint64
	Dropped uint64
}

// GC reclaims unreachable blobs. Mark: every blob reachable from a
// registry entry through parent hashes, plus blobs referenced by
// variation records, recursively. Sweep: rewrite the pack with only
// marked blobs, rebuild the index, and swap both files atomically.
// Metadata and strings are append-only and retained.
func (s *Store) GC() (GCStats, error) {
	var stats GCStats

	// Everything must be on disk before the pack is rewritten.
	if err := s.Flush(); err != nil {
		return stats, err
	}

	marked := make(map[uint64]bool)
	marked[s.hInit] = true
	for _, b := range s.registry.All() {
		if err := s.markChain(b.FinalBlob, marked); err != nil {
			return stats, fmt.Errorf("mark game %q: %w", b.GameID, err)
		}
		if err := s.markMetadata(b.Meta, marked, 0); err != nil {
			return stats, fmt.Errorf("mark game %q: %w", b.GameID, err)
		}
	}

	// Sweep: collect surviving blobs in pack order.
	type keptBlob struct {
		hash uint64
		data [chain.BlobSize]byte
	}
	var kept []keptBlob
	err := s.blobs.IterAll(func(hash uint64, b *chain.Blob) bool {
		if marked[hash] {
			kept = append(kept, keptBlob{hash: hash, data: b.Encode()})
		} else {
			stats.Dropped++
		}
		return true
	})
	if err != nil {
		return stats, err
	}
	stats.Kept = uint64(len(kept))

	if stats.Dropped == 0 {
		return stats, nil
	}

	packData := make([]byte, packHeaderSize+len(kept)*chain.BlobSize)
	copy(packData[0:4], packMagic)
	binary.LittleEndian.PutUint16(packData[4:6], packVersion)
	binary.LittleEndian.PutUint64(packData[6:14], uint64(len(kept)))

	entries := make([]indexEntry, len(kept))
	for i, kb := range kept {
		off := packHeaderSize + i*chain.BlobSize
		copy(packData[off:], kb.data[:])
		entries[i] = indexEntry{hash: kb.hash, offset: uint64(off)}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].hash < entries[j].hash })

	packPath := filepath.Join(s.dir, packFileName)
	idxPath := filepath.Join(s.dir, idxFileName)

	if err := s.blobs.pack.Close(); err != nil {
		return stats, err
	}
	if err := renameio.WriteFile(packPath, packData, 0644); err != nil {
		return stats, err
	}
	if err := writeIndexFile(idxPath, entries); err != nil {
		return stats, err
	}

	reopened, err := OpenBlobStore(packPath, idxPath, s.hasher)
	if err != nil {
		return stats, err
	}
	s.blobs = reopened

	s.log.Info().Uint64("kept", stats.Kept).Uint64("dropped", stats.Dropped).Msg("gc complete")
	return stats, nil
}

// markChain marks every blob on the parent walk from final.
func (s *Store) markChain(final uint64, marked map[uint64]bool) error {
	cur := final
	for steps := 0; cur != s.hInit && cur != s.hOrphan; steps++ {
		if steps >= maxChainSteps {
			return fmt.Errorf("%w: parent walk exceeds %d steps", ErrChain, maxChainSteps)
		}
		if marked[cur] {
			return nil
		}
		b, err := s.blobs.Get(cur)
		if err != nil {
			return err
		}
		marked[cur] = true
		cur = b.Parent
	}
	return nil
}

// markMetadata marks blobs referenced from a metadata blob's variation
// records, recursively.
func (s *Store) markMetadata(meta uint64, marked map[uint64]bool, depth int) error {
	if depth > maxVariationDepth {
		return fmt.Errorf("%w: variation nesting exceeds %d", ErrChain, maxVariationDepth)
	}
	md, err := s.metadata.Get(meta)
	if err != nil {
		return err
	}
	for _, rec := range md.Records {
		if rec.Kind != recVar {
			continue
		}
		if err := s.markChain(rec.VarFinal, marked); err != nil {
			return err
		}
		if rec.VarMeta != 0 {
			if err := s.markMetadata(rec.VarMeta, marked, depth+1); err != nil {
				return err
			}
		}
	}
	return nil
}
