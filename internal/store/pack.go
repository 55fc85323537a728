package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/google/renameio"

	"github.com/micaherne/positional/internal/chain"
)

// Pack file: 16-byte header (magic "CHSS", version, published blob count,
// reserved) followed by concatenated 64-byte blobs. The index file holds
// (hash, byte-offset) entries sorted by hash; a 65,536-entry in-memory
// fan-out table maps the top 16 bits of a hash to its index range.

const (
	packMagic      = "CHSS"
	packVersion    = 1
	packHeaderSize = 16
	idxEntrySize   = 16
)

type indexEntry struct {
	hash   uint64
	offset uint64
}

// BlobStore is the canonical repository of move blobs. Appends buffer in
// memory until Flush; readers of the files see the prefix defined by the
// published count in the pack header.
type BlobStore struct {
	hasher   *chain.Hasher
	packPath string
	idxPath  string
	pack     *os.File

	entries   []indexEntry
	fanout    [1 << 16]uint32
	published uint64

	pending      map[uint64]*chain.Blob
	pendingOrder []uint64
}

// OpenBlobStore opens (or creates) the pack file at packPath and loads the
// index at idxPath, if it exists.
func OpenBlobStore(packPath, idxPath string, hasher *chain.Hasher) (*BlobStore, error) {
	bs := &BlobStore{
		hasher:   hasher,
		packPath: packPath,
		idxPath:  idxPath,
		pending:  make(map[uint64]*chain.Blob),
	}

	f, err := os.OpenFile(packPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	bs.pack = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := bs.writeHeader(0); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := bs.readHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}

	if err := bs.loadIndex(); err != nil {
		f.Close()
		return nil, err
	}
	bs.rebuildFanout()

	return bs, nil
}

func (bs *BlobStore) writeHeader(count uint64) error {
	var hdr [packHeaderSize]byte
	copy(hdr[0:4], packMagic)
	binary.LittleEndian.PutUint16(hdr[4:6], packVersion)
	binary.LittleEndian.PutUint64(hdr[6:14], count)
	if _, err := bs.pack.WriteAt(hdr[:], 0); err != nil {
		return err
	}
	bs.published = count
	return nil
}

func (bs *BlobStore) readHeader() error {
	var hdr [packHeaderSize]byte
	if _, err := bs.pack.ReadAt(hdr[:], 0); err != nil {
		return fmt.Errorf("read pack header: %w", err)
	}
	if string(hdr[0:4]) != packMagic {
		return fmt.Errorf("%w: bad pack magic %q", ErrInvalidBlob, hdr[0:4])
	}
	if v := binary.LittleEndian.Uint16(hdr[4:6]); v != packVersion {
		return fmt.Errorf("%w: unsupported pack version %d", ErrInvalidBlob, v)
	}
	bs.published = binary.LittleEndian.Uint64(hdr[6:14])
	return nil
}

// loadIndex reads the sorted index, keeping only entries inside the
// published prefix (a crash may leave index entries for unpublished blobs).
func (bs *BlobStore) loadIndex() error {
	data, err := os.ReadFile(bs.idxPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	limit := packHeaderSize + bs.published*chain.BlobSize
	bs.entries = make([]indexEntry, 0, len(data)/idxEntrySize)
	var prev uint64
	for off := 0; off+idxEntrySize <= len(data); off += idxEntrySize {
		e := indexEntry{
			hash:   binary.LittleEndian.Uint64(data[off:]),
			offset: binary.LittleEndian.Uint64(data[off+8:]),
		}
		if e.offset+chain.BlobSize > limit {
			continue
		}
		if len(bs.entries) > 0 && e.hash < prev {
			return fmt.Errorf("%w: index not sorted", ErrIntegrity)
		}
		prev = e.hash
		bs.entries = append(bs.entries, e)
	}
	return nil
}

// rebuildFanout recomputes the top-16-bit fan-out table. Entry i holds the
// first index position whose hash has top 16 bits >= i.
func (bs *BlobStore) rebuildFanout() {
	idx := uint32(0)
	n := uint32(len(bs.entries))
	for t := 0; t < 1<<16; t++ {
		for idx < n && bs.entries[idx].hash>>48 < uint64(t) {
			idx++
		}
		bs.fanout[t] = idx
	}
}

// lookup finds the index entry for a hash via fan-out plus binary search.
func (bs *BlobStore) lookup(hash uint64) (indexEntry, bool) {
	t := hash >> 48
	lo := bs.fanout[t]
	hi := uint32(len(bs.entries))
	if t < 1<<16-1 {
		hi = bs.fanout[t+1]
	}
	slice := bs.entries[lo:hi]
	i := sort.Search(len(slice), func(i int) bool { return slice[i].hash >= hash })
	if i < len(slice) && slice[i].hash == hash {
		return slice[i], true
	}
	return indexEntry{}, false
}

// Exists reports whether a blob with the given hash is stored (flushed
// or pending).
func (bs *BlobStore) Exists(hash uint64) bool {
	if _, ok := bs.pending[hash]; ok {
		return true
	}
	_, ok := bs.lookup(hash)
	return ok
}

// Get fetches a blob by content hash.
func (bs *BlobStore) Get(hash uint64) (*chain.Blob, error) {
	if b, ok := bs.pending[hash]; ok {
		return b, nil
	}
	e, ok := bs.lookup(hash)
	if !ok {
		return nil, fmt.Errorf("%w: blob %016x", ErrNotFound, hash)
	}
	var buf [chain.BlobSize]byte
	if _, err := bs.pack.ReadAt(buf[:], int64(e.offset)); err != nil {
		return nil, fmt.Errorf("read blob %016x: %w", hash, err)
	}
	return chain.DecodeBlob(buf[:])
}

// Put stores a blob, returning its content hash. If an identical blob is
// already present the existing hash is returned and existed is true; this
// is the deduplication mechanism.
func (bs *BlobStore) Put(b *chain.Blob) (hash uint64, existed bool) {
	hash = bs.hasher.BlobHash(b)
	if bs.Exists(hash) {
		return hash, true
	}
	bs.pending[hash] = b
	bs.pendingOrder = append(bs.pendingOrder, hash)
	return hash, false
}

// Count returns the number of stored blobs, including pending ones.
func (bs *BlobStore) Count() uint64 {
	return bs.published + uint64(len(bs.pendingOrder))
}

// Published returns the blob count recorded in the pack header.
func (bs *BlobStore) Published() uint64 {
	return bs.published
}

// IterAll walks every stored blob (published then pending). Return false
// from the callback to stop.
func (bs *BlobStore) IterAll(fn func(hash uint64, b *chain.Blob) bool) error {
	if bs.published > 0 {
		if _, err := bs.pack.Seek(packHeaderSize, io.SeekStart); err != nil {
			return err
		}
		var buf [chain.BlobSize]byte
		for i := uint64(0); i < bs.published; i++ {
			if _, err := io.ReadFull(bs.pack, buf[:]); err != nil {
				return fmt.Errorf("read pack blob %d: %w", i, err)
			}
			b, err := chain.DecodeBlob(buf[:])
			if err != nil {
				return err
			}
			if !fn(bs.hasher.Sum64(buf[:]), b) {
				return nil
			}
		}
	}
	for _, h := range bs.pendingOrder {
		if !fn(h, bs.pending[h]) {
			return nil
		}
	}
	return nil
}

// Flush appends pending blobs to the pack, rewrites the sorted index
// atomically, and only then publishes the new blob count in the header.
func (bs *BlobStore) Flush() error {
	if err := bs.flushData(); err != nil {
		return err
	}
	return bs.publish()
}

// flushData appends pending blobs and rewrites the index without touching
// the published count. The store-level flush publishes last, after the
// other files have been appended.
func (bs *BlobStore) flushData() error {
	if len(bs.pendingOrder) == 0 {
		return nil
	}

	// Drop any unpublished bytes a previous crash or failed flush may have
	// left behind, along with their index entries, so retrying a flush
	// cannot double-append.
	base := int64(packHeaderSize + bs.published*chain.BlobSize)
	if err := bs.pack.Truncate(base); err != nil {
		return err
	}
	if _, err := bs.pack.Seek(base, io.SeekStart); err != nil {
		return err
	}
	keep := bs.entries[:0]
	for _, e := range bs.entries {
		if e.offset < uint64(base) {
			keep = append(keep, e)
		}
	}
	bs.entries = keep

	newEntries := make([]indexEntry, 0, len(bs.pendingOrder))
	off := uint64(base)
	for _, h := range bs.pendingOrder {
		buf := bs.pending[h].Encode()
		if _, err := bs.pack.Write(buf[:]); err != nil {
			return err
		}
		newEntries = append(newEntries, indexEntry{hash: h, offset: off})
		off += chain.BlobSize
	}
	if err := bs.pack.Sync(); err != nil {
		return err
	}

	bs.entries = append(bs.entries, newEntries...)
	sort.Slice(bs.entries, func(i, j int) bool { return bs.entries[i].hash < bs.entries[j].hash })

	if err := writeIndexFile(bs.idxPath, bs.entries); err != nil {
		return err
	}
	bs.rebuildFanout()
	return nil
}

// publish records the new blob count in the pack header, making the
// appended blobs visible to readers of the files.
func (bs *BlobStore) publish() error {
	if len(bs.pendingOrder) == 0 {
		return nil
	}
	count := bs.published + uint64(len(bs.pendingOrder))
	if err := bs.writeHeader(count); err != nil {
		return err
	}
	if err := bs.pack.Sync(); err != nil {
		return err
	}

	bs.pending = make(map[uint64]*chain.Blob)
	bs.pendingOrder = bs.pendingOrder[:0]
	return nil
}

// writeIndexFile atomically replaces the index file with sorted entries.
func writeIndexFile(path string, entries []indexEntry) error {
	data := make([]byte, len(entries)*idxEntrySize)
	for i, e := range entries {
		binary.LittleEndian.PutUint64(data[i*idxEntrySize:], e.hash)
		binary.LittleEndian.PutUint64(data[i*idxEntrySize+8:], e.offset)
	}
	return renameio.WriteFile(path, data, 0644)
}

// Close flushes pending blobs and closes the pack file.
func (bs *BlobStore) Close() error {
	if err := bs.Flush(); err != nil {
		return err
	}
	return bs.pack.Close()
}
