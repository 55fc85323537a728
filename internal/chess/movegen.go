package chess

var knightSteps = [8][2]int{{1, 2}, {2, 1}, {2, -1}, {1, -2}, {-1, -2}, {-2, -1}, {-2, 1}, {-1, 2}}
var kingSteps = [8][2]int{{1, 0}, {1, 1}, {0, 1}, {-1, 1}, {-1, 0}, {-1, -1}, {0, -1}, {1, -1}}
var bishopDirs = [4][2]int{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
var rookDirs = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

func onBoard(file, rank int) bool {
	return file >= 0 && file < 8 && rank >= 0 && rank < 8
}

// attacked reports whether sq is attacked by the given color.
func (b *Board) attacked(sq int, byWhite bool) bool {
	file, rank := sq%8, sq/8

	sign := int8(1)
	if !byWhite {
		sign = -1
	}

	// Pawns. A white pawn on (f-1, r-1) or (f+1, r-1) attacks sq.
	pawnRank := rank - 1
	if !byWhite {
		pawnRank = rank + 1
	}
	for _, df := range [2]int{-1, 1} {
		if onBoard(file+df, pawnRank) && b.sq[pawnRank*8+file+df] == sign*Pawn {
			return true
		}
	}

	for _, st := range knightSteps {
		f, r := file+st[0], rank+st[1]
		if onBoard(f, r) && b.sq[r*8+f] == sign*Knight {
			return true
		}
	}

	for _, st := range kingSteps {
		f, r := file+st[0], rank+st[1]
		if onBoard(f, r) && b.sq[r*8+f] == sign*King {
			return true
		}
	}

	for _, d := range bishopDirs {
		for f, r := file+d[0], rank+d[1]; onBoard(f, r); f, r = f+d[0], r+d[1] {
			p := b.sq[r*8+f]
			if p == 0 {
				continue
			}
			if p == sign*Bishop || p == sign*Queen {
				return true
			}
			break
		}
	}

	for _, d := range rookDirs {
		for f, r := file+d[0], rank+d[1]; onBoard(f, r); f, r = f+d[0], r+d[1] {
			p := b.sq[r*8+f]
			if p == 0 {
				continue
			}
			if p == sign*Rook || p == sign*Queen {
				return true
			}
			break
		}
	}

	return false
}

// kingSquare returns the square of the given color's king, or -1.
func (b *Board) kingSquare(white bool) int {
	want := int8(King)
	if !white {
		want = -King
	}
	for sq := 0; sq < 64; sq++ {
		if b.sq[sq] == want {
			return sq
		}
	}
	return -1
}

// InCheck reports whether the side to move is in check.
func (b *Board) InCheck() bool {
	k := b.kingSquare(b.whiteToMove)
	return k >= 0 && b.attacked(k, !b.whiteToMove)
}

// pseudoMoves generates moves for the side to move without king-safety
// filtering. Castling generation does check the transit squares, since
// the post-move filter only sees the king's destination.
func (b *Board) pseudoMoves() []Move {
	moves := make([]Move, 0, 48)
	white := b.whiteToMove

	own := func(p int8) bool { return p != 0 && (p > 0) == white }
	enemy := func(p int8) bool { return p != 0 && (p > 0) != white }

	addPawn := func(from, to int) {
		if to >= 56 || to <= 7 {
			for promo := byte(1); promo <= 4; promo++ {
				moves = append(moves, Move{byte(from), byte(to), promo})
			}
		} else {
			moves = append(moves, Move{byte(from), byte(to), 0})
		}
	}

	for from := 0; from < 64; from++ {
		p := b.sq[from]
		if !own(p) {
			continue
		}
		pt := p
		if pt < 0 {
			pt = -pt
		}
		file, rank := from%8, from/8

		switch pt {
		case Pawn:
			dir, startRank := 8, 1
			if !white {
				dir, startRank = -8, 6
			}
			if b.sq[from+dir] == 0 {
				addPawn(from, from+dir)
				if rank == startRank && b.sq[from+2*dir] == 0 {
					moves = append(moves, Move{byte(from), byte(from + 2*dir), 0})
				}
			}
			for _, df := range [2]int{-1, 1} {
				tf := file + df
				if tf < 0 || tf > 7 {
					continue
				}
				to := from + dir + df
				if enemy(b.sq[to]) || int8(to) == b.ep {
					addPawn(from, to)
				}
			}

		case Knight:
			for _, st := range knightSteps {
				f, r := file+st[0], rank+st[1]
				if onBoard(f, r) && !own(b.sq[r*8+f]) {
					moves = append(moves, Move{byte(from), byte(r*8 + f), 0})
				}
			}

		case King:
			for _, st := range kingSteps {
				f, r := file+st[0], rank+st[1]
				if onBoard(f, r) && !own(b.sq[r*8+f]) {
					moves = append(moves, Move{byte(from), byte(r*8 + f), 0})
				}
			}
			moves = append(moves, b.castleMoves(from)...)

		case Bishop, Rook, Queen:
			var dirs [][2]int
			if pt == Bishop || pt == Queen {
				dirs = append(dirs, bishopDirs[:]...)
			}
			if pt == Rook || pt == Queen {
				dirs = append(dirs, rookDirs[:]...)
			}
			for _, d := range dirs {
				for f, r := file+d[0], rank+d[1]; onBoard(f, r); f, r = f+d[0], r+d[1] {
					to := r*8 + f
					if own(b.sq[to]) {
						break
					}
					moves = append(moves, Move{byte(from), byte(to), 0})
					if b.sq[to] != 0 {
						break
					}
				}
			}
		}
	}

	return moves
}

// castleMoves generates castling king steps from the given king square.
func (b *Board) castleMoves(from int) []Move {
	var moves []Move
	white := b.whiteToMove

	home := 4
	kBit, qBit := uint8(castleWK), uint8(castleWQ)
	if !white {
		home = 60
		kBit, qBit = castleBK, castleBQ
	}
	if from != home || b.attacked(from, !white) {
		return nil
	}

	if b.castle&kBit != 0 && b.sq[from+1] == 0 && b.sq[from+2] == 0 &&
		!b.attacked(from+1, !white) {
		moves = append(moves, Move{byte(from), byte(from + 2), 0})
	}
	if b.castle&qBit != 0 && b.sq[from-1] == 0 && b.sq[from-2] == 0 && b.sq[from-3] == 0 &&
		!b.attacked(from-1, !white) {
		moves = append(moves, Move{byte(from), byte(from - 2), 0})
	}
	return moves
}

// LegalMoves generates all legal moves for the side to move.
func (b *Board) LegalMoves() []Move {
	pseudo := b.pseudoMoves()
	legal := make([]Move, 0, len(pseudo))
	for _, m := range pseudo {
		c := b.Copy()
		if err := c.Apply(m); err != nil {
			continue
		}
		k := c.kingSquare(b.whiteToMove)
		if k >= 0 && !c.attacked(k, !b.whiteToMove) {
			legal = append(legal, m)
		}
	}
	return legal
}
