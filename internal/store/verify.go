package store

import (
	"fmt"

	"github.com/micaherne/positional/internal/chain"
)

// GameError pairs a game id with the error its verification produced.
type GameError struct {
	GameID string
	Err    error
}

// Verify checks every registered game: the chain walk and per-blob
// content hashes, parent resolution, Zobrist consistency, and every
// metadata reference (strings, variation chains and their metadata,
// recursively). Errors are collected per game; verification never stops
// at the first failure.
func (s *Store) Verify() []GameError {
	var errs []GameError
	for _, b := range s.registry.All() {
		if _, err := s.ReconstructGame(b.GameID); err != nil {
			errs = append(errs, GameError{GameID: b.GameID, Err: err})
		}
	}
	return errs
}

// VerifyPack checks that every indexed blob's stored bytes hash to its
// index key and decode cleanly.
func (s *Store) VerifyPack() []error {
	var errs []error
	for _, e := range s.blobs.entries {
		var buf [chain.BlobSize]byte
		if _, err := s.blobs.pack.ReadAt(buf[:], int64(e.offset)); err != nil {
			errs = append(errs, fmt.Errorf("blob %016x: %w", e.hash, err))
			continue
		}
		if got := s.hasher.Sum64(buf[:]); got != e.hash {
			errs = append(errs, fmt.Errorf("%w: blob %016x hashes to %016x", ErrIntegrity, e.hash, got))
			continue
		}
		if _, err := chain.DecodeBlob(buf[:]); err != nil {
			errs = append(errs, fmt.Errorf("blob %016x: %w", e.hash, err))
		}
	}
	return errs
}
