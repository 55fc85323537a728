package chess

import (
	"fmt"
	"strings"
)

// Promotion letters indexed by promotion code 1..4.
const uciPromos = "qrbn"

// UCI renders the move in coordinate notation ("e2e4", "e7e8q").
func (m Move) UCI() string {
	s := SquareName(int(m.From)) + SquareName(int(m.To))
	if m.Promo >= 1 && m.Promo <= 4 {
		s += string(uciPromos[m.Promo-1])
	}
	return s
}

// MoveFromUCI parses coordinate notation into a Move.
func MoveFromUCI(s string) (Move, error) {
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: bad UCI move %q", ErrIllegalMove, s)
	}
	from := SquareIndex(s[:2])
	to := SquareIndex(s[2:4])
	if from < 0 || to < 0 {
		return Move{}, fmt.Errorf("%w: bad UCI move %q", ErrIllegalMove, s)
	}
	m := Move{From: byte(from), To: byte(to)}
	if len(s) == 5 {
		idx := strings.IndexByte(uciPromos, s[4]|0x20)
		if idx < 0 {
			return Move{}, fmt.Errorf("%w: bad promotion in %q", ErrIllegalMove, s)
		}
		m.Promo = byte(idx + 1)
	}
	return m, nil
}
