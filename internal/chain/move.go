package chain

import "fmt"

// Packed move encoding (uint16):
//   bits 0-5:   from square (0-63, A1=0 ... H8=63)
//   bits 6-11:  to square (0-63)
//   bits 12-14: promotion piece (0=none, 1=Q, 2=R, 3=B, 4=N)
//   bit 15:     reserved, always zero

const (
	moveFromMask   = 0x003F
	moveToMask     = 0x0FC0
	movePromoMask  = 0x7000
	moveToShift    = 6
	movePromoShift = 12
)

// Promotion piece codes
const (
	PromoNone   = 0
	PromoQueen  = 1
	PromoRook   = 2
	PromoBishop = 3
	PromoKnight = 4
)

// Pack encodes a move as a packed 16-bit value. The reserved bit is
// forced to zero.
func Pack(from, to, promo byte) (uint16, error) {
	if from > 63 {
		return 0, fmt.Errorf("%w: from %d", ErrInvalidSquare, from)
	}
	if to > 63 {
		return 0, fmt.Errorf("%w: to %d", ErrInvalidSquare, to)
	}
	if promo > PromoKnight {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPromotion, promo)
	}
	m := uint16(from) | uint16(to)<<moveToShift | uint16(promo)<<movePromoShift
	return m & 0x7FFF, nil
}

// Unpack decodes a packed 16-bit move. Total: the reserved bit is ignored.
func Unpack(m uint16) (from, to, promo byte) {
	from = byte(m & moveFromMask)
	to = byte((m & moveToMask) >> moveToShift)
	promo = byte((m & movePromoMask) >> movePromoShift)
	return from, to, promo
}
