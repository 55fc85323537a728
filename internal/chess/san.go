package chess

import (
	"fmt"
	"strings"
)

var pieceChars = map[int8]byte{Knight: 'N', Bishop: 'B', Rook: 'R', Queen: 'Q', King: 'K'}

func pieceFromChar(c byte) int8 {
	switch c {
	case 'N':
		return Knight
	case 'B':
		return Bishop
	case 'R':
		return Rook
	case 'Q':
		return Queen
	case 'K':
		return King
	}
	return 0
}

func promoFromChar(c byte) byte {
	switch c {
	case 'Q':
		return 1
	case 'R':
		return 2
	case 'B':
		return 3
	case 'N':
		return 4
	}
	return 0
}

// ParseSAN resolves a SAN token against the current position. Suffix
// annotations (+, #, !, ?) are ignored.
func ParseSAN(b *Board, san string) (Move, error) {
	token := strings.TrimRight(san, "+#!?")
	if token == "" {
		return Move{}, fmt.Errorf("%w: empty SAN", ErrIllegalMove)
	}

	if token == "O-O" || token == "0-0" || token == "O-O-O" || token == "0-0-0" {
		from := 4
		if !b.whiteToMove {
			from = 60
		}
		to := from + 2
		if strings.Count(token, "-") == 2 {
			to = from - 2
		}
		return b.pickMove(san, func(m Move) bool {
			return int(m.From) == from && int(m.To) == to && isKing(b.sq[m.From])
		})
	}

	var wantPiece int8 = Pawn
	body := token
	if p := pieceFromChar(body[0]); p != 0 {
		wantPiece = p
		body = body[1:]
	}

	// Promotion suffix: "=Q" or a bare trailing piece letter.
	var promo byte
	if i := strings.IndexByte(body, '='); i >= 0 {
		if i != len(body)-2 {
			return Move{}, fmt.Errorf("%w: bad promotion in %q", ErrIllegalMove, san)
		}
		promo = promoFromChar(body[len(body)-1])
		if promo == 0 {
			return Move{}, fmt.Errorf("%w: bad promotion in %q", ErrIllegalMove, san)
		}
		body = body[:i]
	} else if wantPiece == Pawn && len(body) >= 3 {
		if p := promoFromChar(body[len(body)-1]); p != 0 {
			promo = p
			body = body[:len(body)-1]
		}
	}

	if len(body) < 2 {
		return Move{}, fmt.Errorf("%w: malformed SAN %q", ErrIllegalMove, san)
	}
	target := SquareIndex(body[len(body)-2:])
	if target < 0 {
		return Move{}, fmt.Errorf("%w: bad target square in %q", ErrIllegalMove, san)
	}
	body = strings.TrimSuffix(body[:len(body)-2], "x")

	// Whatever remains is disambiguation: a file, a rank, or both.
	disFile, disRank := -1, -1
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c >= 'a' && c <= 'h':
			disFile = int(c - 'a')
		case c >= '1' && c <= '8':
			disRank = int(c - '1')
		default:
			return Move{}, fmt.Errorf("%w: malformed SAN %q", ErrIllegalMove, san)
		}
	}

	return b.pickMove(san, func(m Move) bool {
		p := b.sq[m.From]
		if p < 0 {
			p = -p
		}
		if p != wantPiece || int(m.To) != target || m.Promo != promo {
			return false
		}
		if disFile >= 0 && int(m.From)%8 != disFile {
			return false
		}
		if disRank >= 0 && int(m.From)/8 != disRank {
			return false
		}
		return true
	})
}

// pickMove returns the unique legal move matching the predicate.
func (b *Board) pickMove(san string, match func(Move) bool) (Move, error) {
	var found Move
	count := 0
	for _, m := range b.LegalMoves() {
		if match(m) {
			found = m
			count++
		}
	}
	switch count {
	case 1:
		return found, nil
	case 0:
		return Move{}, fmt.Errorf("%w: no legal move matches %q", ErrIllegalMove, san)
	default:
		return Move{}, fmt.Errorf("%w: ambiguous SAN %q", ErrIllegalMove, san)
	}
}

func isKing(p int8) bool {
	return p == King || p == -King
}

// SAN renders a legal move as standard algebraic notation, including
// disambiguation and check/mate suffixes.
func (b *Board) SAN(m Move) (string, error) {
	p := b.sq[m.From]
	if p == 0 {
		return "", fmt.Errorf("%w: no piece on %s", ErrIllegalMove, SquareName(int(m.From)))
	}
	pt := p
	if pt < 0 {
		pt = -pt
	}

	var sb strings.Builder
	fileDiff := int(m.To)%8 - int(m.From)%8

	switch {
	case pt == King && fileDiff == 2:
		sb.WriteString("O-O")
	case pt == King && fileDiff == -2:
		sb.WriteString("O-O-O")
	case pt == Pawn:
		if fileDiff != 0 {
			sb.WriteByte(byte('a' + int(m.From)%8))
			sb.WriteByte('x')
		}
		sb.WriteString(SquareName(int(m.To)))
		if m.Promo != 0 {
			pp, _ := promoPiece(m.Promo)
			sb.WriteByte('=')
			sb.WriteByte(pieceChars[pp])
		}
	default:
		sb.WriteByte(pieceChars[pt])
		sb.WriteString(b.disambiguation(m, pt))
		if b.sq[m.To] != 0 {
			sb.WriteByte('x')
		}
		sb.WriteString(SquareName(int(m.To)))
	}

	// Check and mate suffixes.
	c := b.Copy()
	if err := c.Apply(m); err != nil {
		return "", err
	}
	if c.InCheck() {
		if len(c.LegalMoves()) == 0 {
			sb.WriteByte('#')
		} else {
			sb.WriteByte('+')
		}
	}

	return sb.String(), nil
}

// disambiguation returns the minimal from-square qualifier needed when
// another piece of the same type can also reach the target.
func (b *Board) disambiguation(m Move, pt int8) string {
	sameFile, sameRank, others := false, false, false
	for _, other := range b.LegalMoves() {
		if other.To != m.To || other.From == m.From {
			continue
		}
		op := b.sq[other.From]
		if op < 0 {
			op = -op
		}
		if op != pt {
			continue
		}
		others = true
		if int(other.From)%8 == int(m.From)%8 {
			sameFile = true
		}
		if int(other.From)/8 == int(m.From)/8 {
			sameRank = true
		}
	}
	switch {
	case !others:
		return ""
	case !sameFile:
		return string([]byte{byte('a' + int(m.From)%8)})
	case !sameRank:
		return string([]byte{byte('1' + int(m.From)/8)})
	default:
		return SquareName(int(m.From))
	}
}
