// Package chess implements the minimal rules engine the move-chain store
// needs: piece-agnostic replay of packed coordinate moves, legal move
// generation for SAN handling, and Zobrist board hashing.
package chess

import (
	"errors"
	"fmt"
)

// Piece types. Board squares hold signed codes: positive for white,
// negative for black, zero for empty.
const (
	Pawn   = 1
	Knight = 2
	Bishop = 3
	Rook   = 4
	Queen  = 5
	King   = 6
)

// Castling-rights bits
const (
	castleWK = 1 << 0
	castleWQ = 1 << 1
	castleBK = 1 << 2
	castleBQ = 1 << 3
)

// ErrIllegalMove is returned when a move cannot be applied to the board.
var ErrIllegalMove = errors.New("illegal move")

// Move is a coordinate move. Promo uses the packed-move codes
// (0=none, 1=Q, 2=R, 3=B, 4=N).
type Move struct {
	From, To, Promo byte
}

// Board is a full game state: piece placement, side to move, castling
// rights and en passant target.
type Board struct {
	sq          [64]int8
	whiteToMove bool
	castle      uint8
	ep          int8 // en passant target square, -1 if none
}

// NewBoard returns the standard starting position.
func NewBoard() *Board {
	b := &Board{whiteToMove: true, castle: castleWK | castleWQ | castleBK | castleBQ, ep: -1}
	back := [8]int8{Rook, Knight, Bishop, Queen, King, Bishop, Knight, Rook}
	for f := 0; f < 8; f++ {
		b.sq[f] = back[f]
		b.sq[8+f] = Pawn
		b.sq[48+f] = -Pawn
		b.sq[56+f] = -back[f]
	}
	return b
}

// Copy returns an independent copy of the board.
func (b *Board) Copy() *Board {
	c := *b
	return &c
}

// WhiteToMove reports whether it is white's turn.
func (b *Board) WhiteToMove() bool {
	return b.whiteToMove
}

// PieceAt returns the signed piece code on a square.
func (b *Board) PieceAt(sq int) int8 {
	return b.sq[sq]
}

// promoPiece maps a promotion code to a piece type.
func promoPiece(code byte) (int8, bool) {
	switch code {
	case 1:
		return Queen, true
	case 2:
		return Rook, true
	case 3:
		return Bishop, true
	case 4:
		return Knight, true
	}
	return 0, false
}

// Apply plays a coordinate move. The piece is recovered from the board;
// castling is recognized by a two-file king step and en passant by a
// diagonal pawn move to an empty square. Apply does not check full
// legality (the caller replays trusted chains or pre-validated moves).
// It checks that a piece of the side to move stands on the from-square,
// that a diagonal pawn move to an empty square lands on the en passant
// target, and that a pawn reaching the last rank names a promotion piece.
func (b *Board) Apply(m Move) error {
	if m.From > 63 || m.To > 63 {
		return fmt.Errorf("%w: square out of range", ErrIllegalMove)
	}
	p := b.sq[m.From]
	if p == 0 {
		return fmt.Errorf("%w: no piece on %s", ErrIllegalMove, SquareName(int(m.From)))
	}
	if (p > 0) != b.whiteToMove {
		return fmt.Errorf("%w: %s piece on %s, not side to move",
			ErrIllegalMove, colorName(p > 0), SquareName(int(m.From)))
	}

	pt := p
	if pt < 0 {
		pt = -pt
	}
	from, to := int(m.From), int(m.To)
	fileDiff := to%8 - from%8

	// En passant capture: pawn moves diagonally onto an empty square.
	if pt == Pawn && fileDiff != 0 && b.sq[to] == 0 {
		if int8(to) != b.ep {
			return fmt.Errorf("%w: pawn capture to empty %s", ErrIllegalMove, SquareName(to))
		}
		if p > 0 {
			b.sq[to-8] = 0
		} else {
			b.sq[to+8] = 0
		}
	}

	// Castling: king steps two files; move the rook as well.
	if pt == King && (fileDiff == 2 || fileDiff == -2) {
		if fileDiff == 2 {
			b.sq[from+1] = b.sq[from+3]
			b.sq[from+3] = 0
		} else {
			b.sq[from-1] = b.sq[from-4]
			b.sq[from-4] = 0
		}
	}

	// Castling-rights upkeep.
	switch {
	case pt == King && p > 0:
		b.castle &^= castleWK | castleWQ
	case pt == King && p < 0:
		b.castle &^= castleBK | castleBQ
	}
	for _, c := range [2]int{from, to} {
		switch c {
		case 0: // a1
			b.castle &^= castleWQ
		case 7: // h1
			b.castle &^= castleWK
		case 56: // a8
			b.castle &^= castleBQ
		case 63: // h8
			b.castle &^= castleBK
		}
	}

	// En passant target for the next ply.
	b.ep = -1
	if pt == Pawn && (to-from == 16 || from-to == 16) {
		b.ep = int8((from + to) / 2)
	}

	b.sq[to] = p
	b.sq[from] = 0

	// Promotion.
	if pt == Pawn && (to >= 56 || to <= 7) {
		pp, ok := promoPiece(m.Promo)
		if !ok {
			return fmt.Errorf("%w: pawn to %s without promotion piece", ErrIllegalMove, SquareName(to))
		}
		if p > 0 {
			b.sq[to] = pp
		} else {
			b.sq[to] = -pp
		}
	}

	b.whiteToMove = !b.whiteToMove
	return nil
}

// Hash returns the Zobrist hash of the current state. The en passant file
// is included only when a capture is actually possible, matching the
// Polyglot convention.
func (b *Board) Hash() uint64 {
	var h uint64
	for sq := 0; sq < 64; sq++ {
		p := b.sq[sq]
		if p == 0 {
			continue
		}
		if p > 0 {
			h ^= zobristPiece[0][p][sq]
		} else {
			h ^= zobristPiece[1][-p][sq]
		}
	}
	h ^= zobristCastling[b.castle]
	if b.ep >= 0 && b.epCapturable() {
		h ^= zobristEnPassant[int(b.ep)%8]
	}
	if !b.whiteToMove {
		h ^= zobristSideToMove
	}
	return h
}

// epCapturable reports whether a pawn of the side to move attacks the
// en passant target square.
func (b *Board) epCapturable() bool {
	ep := int(b.ep)
	var pawn int8 = Pawn
	var origin int
	if b.whiteToMove {
		origin = ep - 8
	} else {
		pawn = -Pawn
		origin = ep + 8
	}
	if origin < 0 || origin > 63 {
		return false
	}
	file := ep % 8
	if file > 0 && b.sq[origin-1] == pawn {
		return true
	}
	if file < 7 && b.sq[origin+1] == pawn {
		return true
	}
	return false
}

// SquareName returns the algebraic name of a square index ("e4").
func SquareName(sq int) string {
	return string([]byte{byte('a' + sq%8), byte('1' + sq/8)})
}

// SquareIndex parses an algebraic square name into an index, or -1.
func SquareIndex(name string) int {
	if len(name) != 2 {
		return -1
	}
	file := int(name[0] - 'a')
	rank := int(name[1] - '1')
	if file < 0 || file > 7 || rank < 0 || rank > 7 {
		return -1
	}
	return rank*8 + file
}

func colorName(white bool) string {
	if white {
		return "white"
	}
	return "black"
}
