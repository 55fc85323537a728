package chain

import (
	"errors"
	"testing"
)

func TestPackUnpackBijection(t *testing.T) {
	for from := 0; from < 64; from++ {
		for to := 0; to < 64; to++ {
			for promo := 0; promo <= PromoKnight; promo++ {
				m, err := Pack(byte(from), byte(to), byte(promo))
				if err != nil {
					t.Fatalf("Pack(%d,%d,%d): %v", from, to, promo, err)
				}
				if m&0x8000 != 0 {
					t.Fatalf("Pack(%d,%d,%d) set reserved bit", from, to, promo)
				}
				gf, gt, gp := Unpack(m)
				if int(gf) != from || int(gt) != to || int(gp) != promo {
					t.Fatalf("Unpack(Pack(%d,%d,%d)) = (%d,%d,%d)", from, to, promo, gf, gt, gp)
				}
			}
		}
	}
}

func TestPackInvalid(t *testing.T) {
	if _, err := Pack(64, 0, 0); !errors.Is(err, ErrInvalidSquare) {
		t.Errorf("Pack(64,0,0) = %v, want ErrInvalidSquare", err)
	}
	if _, err := Pack(0, 64, 0); !errors.Is(err, ErrInvalidSquare) {
		t.Errorf("Pack(0,64,0) = %v, want ErrInvalidSquare", err)
	}
	if _, err := Pack(0, 0, 5); !errors.Is(err, ErrInvalidPromotion) {
		t.Errorf("Pack(0,0,5) = %v, want ErrInvalidPromotion", err)
	}
}

func TestUnpackIgnoresReservedBit(t *testing.T) {
	m, err := Pack(12, 28, 0)
	if err != nil {
		t.Fatal(err)
	}
	f1, t1, p1 := Unpack(m)
	f2, t2, p2 := Unpack(m | 0x8000)
	if f1 != f2 || t1 != t2 || p1 != p2 {
		t.Errorf("reserved bit changed unpack result")
	}
}
