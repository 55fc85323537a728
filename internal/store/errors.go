package store

import (
	"errors"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/eco"
)

// Error kinds exposed to callers. Codec errors are re-exported from the
// chain package so callers match everything with errors.Is against this
// package alone.
var (
	// ErrNotFound is returned when a hash or game id is absent from a store.
	ErrNotFound = errors.New("not found")

	// ErrIntegrity reports a content-hash mismatch, Zobrist mismatch, or an
	// unresolved reference. Fatal for the affected game only.
	ErrIntegrity = errors.New("integrity error")

	// ErrChain reports an orphan sentinel reached from a mainline walk, or a
	// parent walk exceeding the safety bound.
	ErrChain = errors.New("chain error")

	// ErrDuplicateGameID is returned when binding an id already registered.
	ErrDuplicateGameID = errors.New("duplicate game id")

	// ErrCatalog reports a malformed opening catalog.
	ErrCatalog = eco.ErrCatalog

	ErrInvalidBlob      = chain.ErrInvalidBlob
	ErrInvalidMove      = chain.ErrInvalidMove
	ErrInvalidSquare    = chain.ErrInvalidSquare
	ErrInvalidPromotion = chain.ErrInvalidPromotion
)
