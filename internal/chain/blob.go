package chain

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Move-blob format: a fixed 64-byte record holding up to 22 packed moves.
//
//   bytes 0..8:   parent blob hash
//   bytes 8..16:  Zobrist hash of the board after all moves in this blob
//   byte 16:      move count (0..22)
//   byte 17:      flags
//   bytes 18..62: payload, 22 packed moves (2 bytes each), unused slots zero
//   bytes 62..64: result code
//
// All integers little-endian.

const (
	// BlobSize is the fixed on-disk size of a move blob.
	BlobSize = 64

	// MaxBlobMoves is the number of packed-move slots in a blob.
	MaxBlobMoves = 22
)

// Blob flags
const (
	FlagOpeningAnchor = 1 << 0 // blob terminates exactly at an opening-catalog boundary
	FlagGameEnd       = 1 << 1 // blob is the last blob of a game
)

// Result codes
const (
	ResultWhiteWins = 0
	ResultBlackWins = 1
	ResultDraw      = 2
	ResultUnknown   = 3
)

var (
	ErrInvalidBlob      = errors.New("invalid blob")
	ErrInvalidMove      = errors.New("invalid move")
	ErrInvalidSquare    = errors.New("invalid square")
	ErrInvalidPromotion = errors.New("invalid promotion")
)

// Blob is a decoded 64-byte move blob.
type Blob struct {
	Parent  uint64
	Zobrist uint64
	Flags   byte
	Moves   []uint16
	Result  uint16
}

// Encode serializes the blob to its fixed 64-byte layout.
func (b *Blob) Encode() [BlobSize]byte {
	var buf [BlobSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], b.Parent)
	binary.LittleEndian.PutUint64(buf[8:16], b.Zobrist)
	buf[16] = byte(len(b.Moves))
	buf[17] = b.Flags
	for i, m := range b.Moves {
		if i >= MaxBlobMoves {
			break
		}
		binary.LittleEndian.PutUint16(buf[18+i*2:], m)
	}
	binary.LittleEndian.PutUint16(buf[62:64], b.Result)
	return buf
}

// DecodeBlob parses a 64-byte move blob. It rejects move counts above 22
// and nonzero payload bytes past the declared count.
func DecodeBlob(data []byte) (*Blob, error) {
	if len(data) != BlobSize {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidBlob, len(data), BlobSize)
	}

	count := int(data[16])
	if count > MaxBlobMoves {
		return nil, fmt.Errorf("%w: move count %d", ErrInvalidBlob, count)
	}

	b := &Blob{
		Parent:  binary.LittleEndian.Uint64(data[0:8]),
		Zobrist: binary.LittleEndian.Uint64(data[8:16]),
		Flags:   data[17],
		Result:  binary.LittleEndian.Uint16(data[62:64]),
	}

	b.Moves = make([]uint16, count)
	for i := 0; i < count; i++ {
		b.Moves[i] = binary.LittleEndian.Uint16(data[18+i*2:])
	}
	for i := count; i < MaxBlobMoves; i++ {
		if binary.LittleEndian.Uint16(data[18+i*2:]) != 0 {
			return nil, fmt.Errorf("%w: nonzero payload past move count %d", ErrInvalidBlob, count)
		}
	}

	return b, nil
}

// InitBlob returns the canonical initial-position blob for a store whose
// initial board Zobrist is z0. Its content hash is the chain sentinel H_init.
func InitBlob(z0 uint64) *Blob {
	return &Blob{Parent: 0, Zobrist: z0, Result: ResultUnknown}
}
