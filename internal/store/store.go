package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/chess"
	"github.com/micaherne/positional/internal/eco"
)

// Store file names inside the store directory.
const (
	packFileName     = "moves"
	idxFileName      = "idx"
	metadataFileName = "metadata"
	stringsFileName  = "strings"
	registryFileName = "registry"
	sourcesFileName  = "sources"
	configFileName   = "config"
)

const storeVersion = 1

// Config configures a Store.
type Config struct {
	HashFamily      chain.HashFamily // hash family recorded at Init, default xxhash64
	CatalogPath     string           // opening catalog TSV (optionally .zst); empty disables opening dedup
	OpeningMinPlies int              // catalog ply threshold, default 6
	FlushEvery      int              // flush after this many ingested games, default 100
	Logger          zerolog.Logger   // defaults to a disabled logger
}

// marker is the on-disk config file identifying a valid store.
type marker struct {
	Version         int    `toml:"version"`
	Hash            string `toml:"hash"`
	OpeningMinPlies int    `toml:"opening_min_plies"`
}

// Store is one open CCAMC store. It is single-writer; operations are not
// safe for concurrent use from multiple goroutines.
type Store struct {
	dir string
	cfg Config
	log zerolog.Logger

	hasher   *chain.Hasher
	blobs    *BlobStore
	strings  *StringStore
	metadata *MetadataStore
	registry *Registry
	sources  *SourceStore
	catalog  *eco.Catalog

	z0      uint64
	hInit   uint64
	hOrphan uint64

	gamesSinceFlush int
	dedupHits       uint64
}

func applyDefaults(cfg Config) Config {
	if cfg.HashFamily == "" {
		cfg.HashFamily = chain.HashXX64
	}
	if cfg.OpeningMinPlies == 0 {
		cfg.OpeningMinPlies = eco.DefaultMinPlies
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 100
	}
	return cfg
}

// Init creates a new store directory with its config marker. It fails if
// the directory already holds a store.
func Init(dir string, cfg Config) error {
	cfg = applyDefaults(cfg)

	if _, err := chain.NewHasher(cfg.HashFamily); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	configPath := filepath.Join(dir, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("already a store: %s", dir)
	}

	data, err := toml.Marshal(marker{
		Version:         storeVersion,
		Hash:            string(cfg.HashFamily),
		OpeningMinPlies: cfg.OpeningMinPlies,
	})
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(configPath, data, 0644); err != nil {
		return err
	}

	// Create the remaining store files with their empty headers.
	s, err := Open(dir, cfg)
	if err != nil {
		return err
	}
	return s.Close()
}

// Open opens an existing store. The config marker's hash family wins; if
// cfg requests a different family, Open fails.
func Open(dir string, cfg Config) (*Store, error) {
	requested := cfg.HashFamily
	cfg = applyDefaults(cfg)

	data, err := os.ReadFile(filepath.Join(dir, configFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: not a store: %s", ErrNotFound, dir)
		}
		return nil, err
	}
	var mk marker
	if err := toml.Unmarshal(data, &mk); err != nil {
		return nil, fmt.Errorf("parse store config: %w", err)
	}
	if mk.Version != storeVersion {
		return nil, fmt.Errorf("unsupported store version %d", mk.Version)
	}
	if requested != "" && string(requested) != mk.Hash {
		return nil, fmt.Errorf("store uses hash family %q, not %q", mk.Hash, requested)
	}

	hasher, err := chain.NewHasher(chain.HashFamily(mk.Hash))
	if err != nil {
		return nil, err
	}

	s := &Store{
		dir:    dir,
		cfg:    cfg,
		log:    cfg.Logger,
		hasher: hasher,
		z0:     chess.InitialZobrist(),
	}
	s.hInit = hasher.InitHash(s.z0)
	s.hOrphan = hasher.OrphanHash()

	if s.blobs, err = OpenBlobStore(filepath.Join(dir, packFileName), filepath.Join(dir, idxFileName), hasher); err != nil {
		return nil, err
	}
	if s.strings, err = OpenStringStore(filepath.Join(dir, stringsFileName), hasher); err != nil {
		s.blobs.pack.Close()
		return nil, err
	}
	if s.metadata, err = OpenMetadataStore(filepath.Join(dir, metadataFileName), hasher); err != nil {
		s.closeFiles()
		return nil, err
	}
	if s.registry, err = OpenRegistry(filepath.Join(dir, registryFileName)); err != nil {
		s.closeFiles()
		return nil, err
	}
	if s.sources, err = OpenSourceStore(filepath.Join(dir, sourcesFileName), hasher); err != nil {
		s.closeFiles()
		return nil, err
	}

	if cfg.CatalogPath != "" {
		s.catalog = eco.NewCatalog(mk.OpeningMinPlies)
		if err := s.catalog.LoadFile(cfg.CatalogPath); err != nil {
			s.closeFiles()
			return nil, err
		}
		if n := s.catalog.Skipped(); n > 0 {
			s.log.Warn().Int("skipped", n).Str("catalog", cfg.CatalogPath).
				Msg("skipped malformed opening catalog lines")
		}
		s.log.Info().Int("openings", s.catalog.Count()).Msg("opening catalog loaded")
	}

	return s, nil
}

func (s *Store) closeFiles() {
	if s.blobs != nil {
		s.blobs.pack.Close()
	}
	if s.strings != nil {
		s.strings.file.Close()
	}
	if s.metadata != nil {
		s.metadata.file.Close()
	}
	if s.registry != nil {
		s.registry.file.Close()
	}
}

// InitHash returns this store's H_init sentinel.
func (s *Store) InitHash() uint64 {
	return s.hInit
}

// OrphanHash returns this store's H_orphan sentinel.
func (s *Store) OrphanHash() uint64 {
	return s.hOrphan
}

// Blobs exposes the blob store.
func (s *Store) Blobs() *BlobStore {
	return s.blobs
}

// Strings exposes the string store.
func (s *Store) Strings() *StringStore {
	return s.strings
}

// Metadata exposes the metadata store.
func (s *Store) Metadata() *MetadataStore {
	return s.metadata
}

// Registry exposes the game registry.
func (s *Store) Registry() *Registry {
	return s.registry
}

// Sources exposes the source-descriptor store.
func (s *Store) Sources() *SourceStore {
	return s.sources
}

// Flush persists all pending writes in dependency order: blob appends and
// index rewrite first, then metadata, strings, registry and sources, and
// only then the pack header's published blob count.
func (s *Store) Flush() error {
	if err := s.blobs.flushData(); err != nil {
		return fmt.Errorf("flush pack: %w", err)
	}
	if err := s.metadata.Flush(); err != nil {
		return fmt.Errorf("flush metadata: %w", err)
	}
	if err := s.strings.Flush(); err != nil {
		return fmt.Errorf("flush strings: %w", err)
	}
	if err := s.registry.Flush(); err != nil {
		return fmt.Errorf("flush registry: %w", err)
	}
	if err := s.sources.Flush(); err != nil {
		return fmt.Errorf("flush sources: %w", err)
	}
	if err := s.blobs.publish(); err != nil {
		return fmt.Errorf("publish pack: %w", err)
	}
	s.gamesSinceFlush = 0
	return nil
}

// Close flushes and closes the store.
func (s *Store) Close() error {
	if err := s.Flush(); err != nil {
		return err
	}
	if err := s.blobs.pack.Close(); err != nil {
		return err
	}
	if err := s.strings.file.Close(); err != nil {
		return err
	}
	if err := s.metadata.file.Close(); err != nil {
		return err
	}
	return s.registry.file.Close()
}

// Stats summarizes store contents.
type Stats struct {
	Games     int
	Blobs     uint64
	PackBytes uint64
	Strings   uint64
	Metadata  uint64
	Sources   int
	DedupHits uint64
}

// Stats returns current store statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Games:     s.registry.Count(),
		Blobs:     s.blobs.Count(),
		PackBytes: packHeaderSize + s.blobs.Count()*chain.BlobSize,
		Strings:   s.strings.Count(),
		Metadata:  s.metadata.Count(),
		Sources:   s.sources.Count(),
		DedupHits: s.dedupHits,
	}
}
