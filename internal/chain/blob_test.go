package chain

import (
	"errors"
	"testing"
)

func testBlob() *Blob {
	return &Blob{
		Parent:  0x1122334455667788,
		Zobrist: 0x8877665544332211,
		Flags:   FlagOpeningAnchor,
		Moves:   []uint16{0x071C, 0x0D34, 0x0156},
		Result:  ResultUnknown,
	}
}

func TestBlobEncodeDecode(t *testing.T) {
	b := testBlob()
	buf := b.Encode()

	got, err := DecodeBlob(buf[:])
	if err != nil {
		t.Fatalf("DecodeBlob: %v", err)
	}
	if got.Parent != b.Parent || got.Zobrist != b.Zobrist || got.Flags != b.Flags || got.Result != b.Result {
		t.Errorf("decoded header mismatch: %+v", got)
	}
	if len(got.Moves) != len(b.Moves) {
		t.Fatalf("decoded %d moves, want %d", len(got.Moves), len(b.Moves))
	}
	for i := range b.Moves {
		if got.Moves[i] != b.Moves[i] {
			t.Errorf("move %d = %04x, want %04x", i, got.Moves[i], b.Moves[i])
		}
	}
}

func TestDecodeBlobInvalid(t *testing.T) {
	if _, err := DecodeBlob(make([]byte, 63)); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("short blob: %v, want ErrInvalidBlob", err)
	}

	buf := testBlob().Encode()
	buf[16] = MaxBlobMoves + 1
	if _, err := DecodeBlob(buf[:]); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("oversized count: %v, want ErrInvalidBlob", err)
	}

	buf = testBlob().Encode()
	buf[18+10*2] = 0xFF // payload byte past the declared count
	if _, err := DecodeBlob(buf[:]); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("nonzero tail: %v, want ErrInvalidBlob", err)
	}
}

func TestBlobHashContentAddressing(t *testing.T) {
	for _, family := range []HashFamily{HashXX64, HashSip64} {
		h, err := NewHasher(family)
		if err != nil {
			t.Fatalf("NewHasher(%s): %v", family, err)
		}

		a := testBlob()
		b := testBlob()
		if h.BlobHash(a) != h.BlobHash(b) {
			t.Errorf("%s: identical blobs hash differently", family)
		}

		// The game-end bit must yield a distinct hash so a terminal copy of
		// an opening anchor does not collide with the shared anchor.
		c := testBlob()
		c.Flags |= FlagGameEnd
		if h.BlobHash(a) == h.BlobHash(c) {
			t.Errorf("%s: flag change did not change hash", family)
		}

		d := testBlob()
		d.Moves[0]++
		if h.BlobHash(a) == h.BlobHash(d) {
			t.Errorf("%s: move change did not change hash", family)
		}
	}
}

func TestSentinelsDistinct(t *testing.T) {
	h, err := NewHasher(HashXX64)
	if err != nil {
		t.Fatal(err)
	}
	z0 := uint64(0xDEADBEEF12345678)
	if h.InitHash(z0) == h.OrphanHash() {
		t.Error("H_init and H_orphan collide")
	}
	if h.InitHash(z0) == h.InitHash(z0+1) {
		t.Error("InitHash ignores initial Zobrist")
	}
}

func TestHasherFamilies(t *testing.T) {
	xx, _ := NewHasher(HashXX64)
	sip, _ := NewHasher(HashSip64)
	data := []byte("positional")
	if xx.Sum64(data) == sip.Sum64(data) {
		t.Error("families should produce different hashes")
	}
	if _, err := NewHasher("md5"); err == nil {
		t.Error("unknown family should fail")
	}
}
