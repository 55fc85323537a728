package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/game"
)

// Metadata blob: a variable-length record bound to one game.
//
//   8B  final-move-blob hash
//   1B  STR roster count, then (1B tag id, 8B value hash) per entry
//   2B  extra tag count, then (8B name hash, 8B value hash) per entry
//   2B  annotation record count, then records in ascending mainline
//       move-index order
//
// Annotation record: uvarint move index, 1 type+flags byte, then a
// type-specific payload. Type byte: bits 0-2 type (0 comment, 1 NAG,
// 2 variation, 3 newline), bit 3 pre-comment, bit 4 semicolon delimiter,
// bit 5 newline-after.

// Annotation record kinds
const (
	recComment byte = 0
	recNAG     byte = 1
	recVar     byte = 2
	recNewline byte = 3
)

const (
	recKindMask byte = 0x07
	recFlagPre  byte = 0x08
	recFlagSemi byte = 0x10
	recFlagNL   byte = 0x20
)

// STRRef binds a Seven Tag Roster id (0..6) to a string-store hash.
type STRRef struct {
	ID    byte
	Value uint64
}

// TagRef binds an interned tag name to an interned tag value.
type TagRef struct {
	Name  uint64
	Value uint64
}

// AnnRecord is one sparse annotation record.
type AnnRecord struct {
	MoveIndex uint64
	Kind      byte

	// Comment payload
	TextHash     uint64
	Pre          bool
	Semicolon    bool
	NewlineAfter bool

	// NAG payload
	NAG byte

	// Variation payload; VarMeta is zero when the variation carries no
	// annotations of its own.
	VarFinal uint64
	VarMeta  uint64
}

// Metadata is a decoded metadata blob.
type Metadata struct {
	FinalBlob uint64
	STR       []STRRef
	Extra     []TagRef
	Records   []AnnRecord
}

// Encode serializes the metadata blob. STR entries sort by tag id and
// extra tags by name hash, so identical metadata bodies byte-compare
// equal and deduplicate.
func (m *Metadata) Encode() []byte {
	var buf bytes.Buffer
	var scratch [binary.MaxVarintLen64]byte

	u64 := func(v uint64) {
		binary.LittleEndian.PutUint64(scratch[:8], v)
		buf.Write(scratch[:8])
	}
	u16 := func(v uint16) {
		binary.LittleEndian.PutUint16(scratch[:2], v)
		buf.Write(scratch[:2])
	}

	u64(m.FinalBlob)

	str := append([]STRRef(nil), m.STR...)
	sort.Slice(str, func(i, j int) bool { return str[i].ID < str[j].ID })
	buf.WriteByte(byte(len(str)))
	for _, t := range str {
		buf.WriteByte(t.ID)
		u64(t.Value)
	}

	extra := append([]TagRef(nil), m.Extra...)
	sort.Slice(extra, func(i, j int) bool { return extra[i].Name < extra[j].Name })
	u16(uint16(len(extra)))
	for _, t := range extra {
		u64(t.Name)
		u64(t.Value)
	}

	u16(uint16(len(m.Records)))
	for _, r := range m.Records {
		n := binary.PutUvarint(scratch[:], r.MoveIndex)
		buf.Write(scratch[:n])

		tb := r.Kind & recKindMask
		switch r.Kind {
		case recComment:
			if r.Pre {
				tb |= recFlagPre
			}
			if r.Semicolon {
				tb |= recFlagSemi
			}
			if r.NewlineAfter {
				tb |= recFlagNL
			}
		case recNewline:
			tb |= recFlagNL
		}
		buf.WriteByte(tb)

		switch r.Kind {
		case recComment:
			u64(r.TextHash)
		case recNAG:
			buf.WriteByte(r.NAG)
		case recVar:
			u64(r.VarFinal)
			u64(r.VarMeta)
		}
	}

	return buf.Bytes()
}

// DecodeMetadata parses a metadata blob, enforcing ascending annotation
// move-index order.
func DecodeMetadata(data []byte) (*Metadata, error) {
	r := bytes.NewReader(data)
	var scratch [8]byte

	u64 := func() (uint64, error) {
		if _, err := io.ReadFull(r, scratch[:8]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint64(scratch[:8]), nil
	}
	u16 := func() (uint16, error) {
		if _, err := io.ReadFull(r, scratch[:2]); err != nil {
			return 0, err
		}
		return binary.LittleEndian.Uint16(scratch[:2]), nil
	}
	fail := func(err error) (*Metadata, error) {
		return nil, fmt.Errorf("%w: truncated metadata: %v", ErrInvalidBlob, err)
	}

	m := &Metadata{}
	var err error
	if m.FinalBlob, err = u64(); err != nil {
		return fail(err)
	}

	strCount, err := r.ReadByte()
	if err != nil {
		return fail(err)
	}
	if strCount > 7 {
		return nil, fmt.Errorf("%w: STR roster count %d", ErrInvalidBlob, strCount)
	}
	for i := 0; i < int(strCount); i++ {
		id, err := r.ReadByte()
		if err != nil {
			return fail(err)
		}
		if id > 6 {
			return nil, fmt.Errorf("%w: STR tag id %d", ErrInvalidBlob, id)
		}
		v, err := u64()
		if err != nil {
			return fail(err)
		}
		m.STR = append(m.STR, STRRef{ID: id, Value: v})
	}

	extraCount, err := u16()
	if err != nil {
		return fail(err)
	}
	for i := 0; i < int(extraCount); i++ {
		name, err := u64()
		if err != nil {
			return fail(err)
		}
		value, err := u64()
		if err != nil {
			return fail(err)
		}
		m.Extra = append(m.Extra, TagRef{Name: name, Value: value})
	}

	recCount, err := u16()
	if err != nil {
		return fail(err)
	}
	var prevIndex uint64
	for i := 0; i < int(recCount); i++ {
		idx, err := binary.ReadUvarint(r)
		if err != nil {
			return fail(err)
		}
		if i > 0 && idx < prevIndex {
			return nil, fmt.Errorf("%w: annotation records out of order", ErrInvalidBlob)
		}
		prevIndex = idx

		tb, err := r.ReadByte()
		if err != nil {
			return fail(err)
		}
		rec := AnnRecord{MoveIndex: idx, Kind: tb & recKindMask}
		switch rec.Kind {
		case recComment:
			rec.Pre = tb&recFlagPre != 0
			rec.Semicolon = tb&recFlagSemi != 0
			rec.NewlineAfter = tb&recFlagNL != 0
			if rec.TextHash, err = u64(); err != nil {
				return fail(err)
			}
		case recNAG:
			if rec.NAG, err = r.ReadByte(); err != nil {
				return fail(err)
			}
		case recVar:
			if rec.VarFinal, err = u64(); err != nil {
				return fail(err)
			}
			if rec.VarMeta, err = u64(); err != nil {
				return fail(err)
			}
		case recNewline:
			// no payload
		}
		m.Records = append(m.Records, rec)
	}

	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing metadata bytes", ErrInvalidBlob, r.Len())
	}
	return m, nil
}

// annKindByte maps a game-tree annotation kind to its record type.
func annKindByte(k game.AnnKind) byte {
	switch k {
	case game.AnnComment:
		return recComment
	case game.AnnNAG:
		return recNAG
	case game.AnnVariation:
		return recVar
	default:
		return recNewline
	}
}

// MetadataStore persists metadata blobs as a log of length-prefixed
// records keyed by the content hash of the serialized record.
type MetadataStore struct {
	hasher *chain.Hasher
	path   string
	file   *os.File

	blobs     map[uint64][]byte
	published uint64
	end       int64

	pendingOrder []uint64
}

// OpenMetadataStore opens (or creates) the metadata log at path.
func OpenMetadataStore(path string, hasher *chain.Hasher) (*MetadataStore, error) {
	ms := &MetadataStore{
		hasher: hasher,
		path:   path,
		blobs:  make(map[uint64][]byte),
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	ms.file = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := ms.writeCount(0); err != nil {
			f.Close()
			return nil, err
		}
		ms.end = 8
		return ms, nil
	}

	if err := ms.load(); err != nil {
		f.Close()
		return nil, err
	}
	return ms, nil
}

func (ms *MetadataStore) writeCount(count uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	if _, err := ms.file.WriteAt(buf[:], 0); err != nil {
		return err
	}
	ms.published = count
	return nil
}

func (ms *MetadataStore) load() error {
	if _, err := ms.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := io.Reader(ms.file)

	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return fmt.Errorf("read metadata count: %w", err)
	}
	ms.published = binary.LittleEndian.Uint64(countBuf[:])
	ms.end = 8

	var hdr [12]byte
	for i := uint64(0); i < ms.published; i++ {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return fmt.Errorf("read metadata record %d: %w", i, err)
		}
		hash := binary.LittleEndian.Uint64(hdr[0:8])
		length := binary.LittleEndian.Uint32(hdr[8:12])
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("read metadata record %d: %w", i, err)
		}
		ms.blobs[hash] = data
		ms.end += int64(len(hdr)) + int64(length)
	}
	return nil
}

// Put stores a metadata blob and returns its content hash. Identical
// bodies deduplicate.
func (ms *MetadataStore) Put(m *Metadata) uint64 {
	data := m.Encode()
	hash := ms.hasher.Sum64(data)
	if _, ok := ms.blobs[hash]; ok {
		return hash
	}
	ms.blobs[hash] = data
	ms.pendingOrder = append(ms.pendingOrder, hash)
	return hash
}

// Get fetches and decodes a metadata blob by hash.
func (ms *MetadataStore) Get(hash uint64) (*Metadata, error) {
	data, ok := ms.blobs[hash]
	if !ok {
		return nil, fmt.Errorf("%w: metadata %016x", ErrNotFound, hash)
	}
	return DecodeMetadata(data)
}

// Exists reports whether a metadata hash resolves.
func (ms *MetadataStore) Exists(hash uint64) bool {
	_, ok := ms.blobs[hash]
	return ok
}

// Count returns the number of metadata blobs, including pending ones.
func (ms *MetadataStore) Count() uint64 {
	return ms.published + uint64(len(ms.pendingOrder))
}

// Flush appends pending records and then publishes the new count.
func (ms *MetadataStore) Flush() error {
	if len(ms.pendingOrder) == 0 {
		return nil
	}

	if err := ms.file.Truncate(ms.end); err != nil {
		return err
	}
	if _, err := ms.file.Seek(ms.end, io.SeekStart); err != nil {
		return err
	}
	var hdr [12]byte
	for _, hash := range ms.pendingOrder {
		data := ms.blobs[hash]
		binary.LittleEndian.PutUint64(hdr[0:8], hash)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
		if _, err := ms.file.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := ms.file.Write(data); err != nil {
			return err
		}
		ms.end += int64(len(hdr)) + int64(len(data))
	}
	if err := ms.file.Sync(); err != nil {
		return err
	}

	if err := ms.writeCount(ms.published + uint64(len(ms.pendingOrder))); err != nil {
		return err
	}
	if err := ms.file.Sync(); err != nil {
		return err
	}

	ms.pendingOrder = ms.pendingOrder[:0]
	return nil
}

// Close flushes and closes the store.
func (ms *MetadataStore) Close() error {
	if err := ms.Flush(); err != nil {
		return err
	}
	return ms.file.Close()
}
