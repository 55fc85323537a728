// Package store implements the content-addressable move-chain store:
// a backward-linked Merkle DAG of fixed 64-byte move blobs with
// structural deduplication of shared opening sequences, plus the
// sparse annotation metadata, interned strings, and the game registry.
//
// File set (inside one store directory):
//   - moves:    pack file, 16-byte header + concatenated 64-byte blobs
//   - idx:      (hash, offset) entries sorted by hash
//   - metadata: log of length-prefixed metadata blobs keyed by content hash
//   - strings:  content-addressable UTF-8 string records
//   - registry: game-id -> (final-blob-hash, metadata-hash) log
//   - sources:  import source descriptors
//   - config:   store marker (version, hash family)
//
// Writes buffer in memory and flush in a fixed order: blob appends,
// index rewrite, metadata append, string append, registry append, then
// the pack header's published blob count. A reader observing a published
// count sees a consistent prefix of every file.
package store
