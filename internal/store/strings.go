package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/micaherne/positional/internal/chain"
)

// String store: content-addressable UTF-8 interning. On disk: an 8-byte
// published record count, then repeated (8-byte hash, 4-byte length,
// UTF-8 bytes). The whole mapping loads into memory on open; writes
// append at flush.

// StringStore maps 64-bit content hashes to byte sequences.
type StringStore struct {
	hasher *chain.Hasher
	path   string
	file   *os.File

	strings   map[uint64][]byte
	published uint64
	end       int64 // byte offset past the last published record

	pendingOrder []uint64
}

// OpenStringStore opens (or creates) the string store at path.
func OpenStringStore(path string, hasher *chain.Hasher) (*StringStore, error) {
	ss := &StringStore{
		hasher:  hasher,
		path:    path,
		strings: make(map[uint64][]byte),
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	ss.file = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := ss.writeCount(0); err != nil {
			f.Close()
			return nil, err
		}
		return ss, nil
	}

	if err := ss.load(); err != nil {
		f.Close()
		return nil, err
	}
	return ss, nil
}

func (ss *StringStore) writeCount(count uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	if _, err := ss.file.WriteAt(buf[:], 0); err != nil {
		return err
	}
	if ss.end < 8 {
		ss.end = 8
	}
	ss.published = count
	return nil
}

func (ss *StringStore) load() error {
	if _, err := ss.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := io.Reader(ss.file)

	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return fmt.Errorf("read string store count: %w", err)
	}
	ss.published = binary.LittleEndian.Uint64(countBuf[:])
	ss.end = 8

	var hdr [12]byte
	for i := uint64(0); i < ss.published; i++ {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return fmt.Errorf("read string record %d: %w", i, err)
		}
		hash := binary.LittleEndian.Uint64(hdr[0:8])
		length := binary.LittleEndian.Uint32(hdr[8:12])
		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			return fmt.Errorf("read string record %d: %w", i, err)
		}
		ss.strings[hash] = data
		ss.end += int64(len(hdr)) + int64(length)
	}
	return nil
}

// Intern stores a byte sequence and returns its content hash. Duplicate
// content collapses to the existing record.
func (ss *StringStore) Intern(data []byte) uint64 {
	hash := ss.hasher.Sum64(data)
	if _, ok := ss.strings[hash]; ok {
		return hash
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	ss.strings[hash] = stored
	ss.pendingOrder = append(ss.pendingOrder, hash)
	return hash
}

// InternString interns a string value.
func (ss *StringStore) InternString(s string) uint64 {
	return ss.Intern([]byte(s))
}

// Lookup fetches the bytes for a content hash.
func (ss *StringStore) Lookup(hash uint64) ([]byte, error) {
	data, ok := ss.strings[hash]
	if !ok {
		return nil, fmt.Errorf("%w: string %016x", ErrNotFound, hash)
	}
	return data, nil
}

// LookupString fetches a string value for a content hash.
func (ss *StringStore) LookupString(hash uint64) (string, error) {
	data, err := ss.Lookup(hash)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Count returns the number of interned strings, including pending ones.
func (ss *StringStore) Count() uint64 {
	return ss.published + uint64(len(ss.pendingOrder))
}

// Flush appends pending records and then publishes the new count.
func (ss *StringStore) Flush() error {
	if len(ss.pendingOrder) == 0 {
		return nil
	}

	// Drop unpublished bytes a previous crash may have left behind.
	if err := ss.file.Truncate(ss.end); err != nil {
		return err
	}
	if _, err := ss.file.Seek(ss.end, io.SeekStart); err != nil {
		return err
	}
	var hdr [12]byte
	for _, hash := range ss.pendingOrder {
		data := ss.strings[hash]
		binary.LittleEndian.PutUint64(hdr[0:8], hash)
		binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(data)))
		if _, err := ss.file.Write(hdr[:]); err != nil {
			return err
		}
		if _, err := ss.file.Write(data); err != nil {
			return err
		}
		ss.end += int64(len(hdr)) + int64(len(data))
	}
	if err := ss.file.Sync(); err != nil {
		return err
	}

	if err := ss.writeCount(ss.published + uint64(len(ss.pendingOrder))); err != nil {
		return err
	}
	if err := ss.file.Sync(); err != nil {
		return err
	}

	ss.pendingOrder = ss.pendingOrder[:0]
	return nil
}

// Close flushes and closes the store.
func (ss *StringStore) Close() error {
	if err := ss.Flush(); err != nil {
		return err
	}
	return ss.file.Close()
}
