package store

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/renameio"

	"github.com/micaherne/positional/internal/chain"
)

// Source tracking: content-addressed descriptors of imported inputs.
// Persisted as tab-separated lines:
//   <hash hex>\t<label>\t<imported-at RFC3339>\t<byte size>\t<sha256 hex>

// SourceEntry describes one imported input file.
type SourceEntry struct {
	Label      string
	ImportedAt string
	ByteSize   int64
	SHA256Hex  string
}

func (e *SourceEntry) encode() []byte {
	return []byte(strings.Join([]string{
		e.Label,
		e.ImportedAt,
		strconv.FormatInt(e.ByteSize, 10),
		e.SHA256Hex,
	}, "\n"))
}

// SourceStore is a content-addressable source index.
type SourceStore struct {
	hasher *chain.Hasher
	path   string

	sources map[uint64]SourceEntry
	order   []uint64
	dirty   bool
}

// OpenSourceStore loads the source descriptor file at path.
func OpenSourceStore(path string, hasher *chain.Hasher) (*SourceStore, error) {
	st := &SourceStore{
		hasher:  hasher,
		path:    path,
		sources: make(map[uint64]SourceEntry),
	}

	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Split(scanner.Text(), "\t")
		if len(parts) != 5 {
			continue
		}
		hash, err := strconv.ParseUint(parts[0], 16, 64)
		if err != nil {
			continue
		}
		size, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			continue
		}
		st.sources[hash] = SourceEntry{
			Label:      parts[1],
			ImportedAt: parts[2],
			ByteSize:   size,
			SHA256Hex:  parts[4],
		}
		st.order = append(st.order, hash)
	}
	return st, scanner.Err()
}

// Add records a source entry and returns its content hash.
func (st *SourceStore) Add(e SourceEntry) uint64 {
	hash := st.hasher.Sum64(e.encode())
	if _, ok := st.sources[hash]; !ok {
		st.sources[hash] = e
		st.order = append(st.order, hash)
		st.dirty = true
	}
	return hash
}

// Get looks up a source entry by hash.
func (st *SourceStore) Get(hash uint64) (SourceEntry, error) {
	e, ok := st.sources[hash]
	if !ok {
		return SourceEntry{}, fmt.Errorf("%w: source %016x", ErrNotFound, hash)
	}
	return e, nil
}

// Count returns the number of recorded sources.
func (st *SourceStore) Count() int {
	return len(st.sources)
}

// Flush rewrites the descriptor file if anything was added.
func (st *SourceStore) Flush() error {
	if !st.dirty {
		return nil
	}
	var sb strings.Builder
	for _, hash := range st.order {
		e := st.sources[hash]
		fmt.Fprintf(&sb, "%016x\t%s\t%s\t%d\t%s\n",
			hash, e.Label, e.ImportedAt, e.ByteSize, e.SHA256Hex)
	}
	if err := renameio.WriteFile(st.path, []byte(sb.String()), 0644); err != nil {
		return err
	}
	st.dirty = false
	return nil
}
