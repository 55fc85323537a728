package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// Game registry: a mapping from external game id to
// (final-blob-hash, metadata-hash), with an optional source hash.
// Persisted as a length-prefixed log replayed on open:
// (2B id length, id bytes, 8B final hash, 8B metadata hash, 8B source hash).

// Binding is one registry entry.
type Binding struct {
	GameID    string
	FinalBlob uint64
	Meta      uint64
	Source    uint64
}

// Registry is the mutable game-id map.
type Registry struct {
	path string
	file *os.File

	bindings map[string]Binding
	order    []string

	published uint64
	end       int64

	pendingOrder []string
}

// OpenRegistry opens (or creates) the registry log at path.
func OpenRegistry(path string) (*Registry, error) {
	rg := &Registry{
		path:     path,
		bindings: make(map[string]Binding),
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	rg.file = f

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if info.Size() == 0 {
		if err := rg.writeCount(0); err != nil {
			f.Close()
			return nil, err
		}
		rg.end = 8
		return rg, nil
	}

	if err := rg.load(); err != nil {
		f.Close()
		return nil, err
	}
	return rg, nil
}

func (rg *Registry) writeCount(count uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], count)
	if _, err := rg.file.WriteAt(buf[:], 0); err != nil {
		return err
	}
	rg.published = count
	return nil
}

func (rg *Registry) load() error {
	if _, err := rg.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r := io.Reader(rg.file)

	var countBuf [8]byte
	if _, err := io.ReadFull(r, countBuf[:]); err != nil {
		return fmt.Errorf("read registry count: %w", err)
	}
	rg.published = binary.LittleEndian.Uint64(countBuf[:])
	rg.end = 8

	var lenBuf [2]byte
	var hashBuf [24]byte
	for i := uint64(0); i < rg.published; i++ {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return fmt.Errorf("read registry entry %d: %w", i, err)
		}
		idLen := binary.LittleEndian.Uint16(lenBuf[:])
		id := make([]byte, idLen)
		if _, err := io.ReadFull(r, id); err != nil {
			return fmt.Errorf("read registry entry %d: %w", i, err)
		}
		if _, err := io.ReadFull(r, hashBuf[:]); err != nil {
			return fmt.Errorf("read registry entry %d: %w", i, err)
		}
		b := Binding{
			GameID:    string(id),
			FinalBlob: binary.LittleEndian.Uint64(hashBuf[0:8]),
			Meta:      binary.LittleEndian.Uint64(hashBuf[8:16]),
			Source:    binary.LittleEndian.Uint64(hashBuf[16:24]),
		}
		if _, ok := rg.bindings[b.GameID]; !ok {
			rg.order = append(rg.order, b.GameID)
		}
		rg.bindings[b.GameID] = b
		rg.end += 2 + int64(idLen) + 24
	}
	return nil
}

// Bind registers a game id. Rebinding an existing id fails with
// ErrDuplicateGameID.
func (rg *Registry) Bind(b Binding) error {
	if _, ok := rg.bindings[b.GameID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGameID, b.GameID)
	}
	rg.bindings[b.GameID] = b
	rg.order = append(rg.order, b.GameID)
	rg.pendingOrder = append(rg.pendingOrder, b.GameID)
	return nil
}

// Resolve looks up a game id.
func (rg *Registry) Resolve(gameID string) (Binding, error) {
	b, ok := rg.bindings[gameID]
	if !ok {
		return Binding{}, fmt.Errorf("%w: game %q", ErrNotFound, gameID)
	}
	return b, nil
}

// All returns every binding in registration order.
func (rg *Registry) All() []Binding {
	out := make([]Binding, 0, len(rg.order))
	for _, id := range rg.order {
		out = append(out, rg.bindings[id])
	}
	return out
}

// GameIDs returns all registered ids, sorted.
func (rg *Registry) GameIDs() []string {
	ids := make([]string, 0, len(rg.bindings))
	for id := range rg.bindings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of registered games, including pending ones.
func (rg *Registry) Count() int {
	return len(rg.bindings)
}

// Flush appends pending entries and then publishes the new count.
func (rg *Registry) Flush() error {
	if len(rg.pendingOrder) == 0 {
		return nil
	}

	if err := rg.file.Truncate(rg.end); err != nil {
		return err
	}
	if _, err := rg.file.Seek(rg.end, io.SeekStart); err != nil {
		return err
	}
	var lenBuf [2]byte
	var hashBuf [24]byte
	for _, id := range rg.pendingOrder {
		b := rg.bindings[id]
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(id)))
		if _, err := rg.file.Write(lenBuf[:]); err != nil {
			return err
		}
		if _, err := rg.file.Write([]byte(id)); err != nil {
			return err
		}
		binary.LittleEndian.PutUint64(hashBuf[0:8], b.FinalBlob)
		binary.LittleEndian.PutUint64(hashBuf[8:16], b.Meta)
		binary.LittleEndian.PutUint64(hashBuf[16:24], b.Source)
		if _, err := rg.file.Write(hashBuf[:]); err != nil {
			return err
		}
		rg.end += 2 + int64(len(id)) + 24
	}
	if err := rg.file.Sync(); err != nil {
		return err
	}

	if err := rg.writeCount(rg.published + uint64(len(rg.pendingOrder))); err != nil {
		return err
	}
	if err := rg.file.Sync(); err != nil {
		return err
	}

	rg.pendingOrder = rg.pendingOrder[:0]
	return nil
}

// Close flushes and closes the registry.
func (rg *Registry) Close() error {
	if err := rg.Flush(); err != nil {
		return err
	}
	return rg.file.Close()
}
