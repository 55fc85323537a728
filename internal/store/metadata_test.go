package store

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func richMetadata() *Metadata {
	return &Metadata{
		FinalBlob: 0xABCDEF0123456789,
		STR: []STRRef{
			{ID: 0, Value: 0x1111},
			{ID: 6, Value: 0x2222},
		},
		Extra: []TagRef{
			{Name: 0x3333, Value: 0x4444},
		},
		Records: []AnnRecord{
			{MoveIndex: 0, Kind: recComment, TextHash: 0x5555, Pre: true},
			{MoveIndex: 3, Kind: recComment, TextHash: 0x6666, Semicolon: true, NewlineAfter: true},
			{MoveIndex: 3, Kind: recNAG, NAG: 14},
			{MoveIndex: 4, Kind: recVar, VarFinal: 0x7777, VarMeta: 0x8888},
			{MoveIndex: 200, Kind: recNewline},
		},
	}
}

func TestMetadataEncodeDecode(t *testing.T) {
	m := richMetadata()
	got, err := DecodeMetadata(m.Encode())
	if err != nil {
		t.Fatalf("DecodeMetadata: %v", err)
	}
	if !reflect.DeepEqual(got, m) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, m)
	}
}

func TestMetadataRejectsOutOfOrder(t *testing.T) {
	m := &Metadata{
		FinalBlob: 1,
		Records: []AnnRecord{
			{MoveIndex: 5, Kind: recNAG, NAG: 1},
			{MoveIndex: 2, Kind: recNAG, NAG: 2},
		},
	}
	if _, err := DecodeMetadata(m.Encode()); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("out-of-order records: %v, want ErrInvalidBlob", err)
	}
}

func TestMetadataRejectsTruncated(t *testing.T) {
	data := richMetadata().Encode()
	if _, err := DecodeMetadata(data[:len(data)-3]); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("truncated metadata: %v, want ErrInvalidBlob", err)
	}
	if _, err := DecodeMetadata(append(data, 0)); !errors.Is(err, ErrInvalidBlob) {
		t.Errorf("trailing bytes: %v, want ErrInvalidBlob", err)
	}
}

func TestMetadataStoreDedupAndPersist(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, metadataFileName)

	ms, err := OpenMetadataStore(path, testHasher(t))
	if err != nil {
		t.Fatal(err)
	}

	h1 := ms.Put(richMetadata())
	h2 := ms.Put(richMetadata())
	if h1 != h2 {
		t.Error("identical metadata did not deduplicate")
	}
	other := richMetadata()
	other.FinalBlob++
	h3 := ms.Put(other)
	if h3 == h1 {
		t.Error("different metadata collided")
	}
	if ms.Count() != 2 {
		t.Errorf("Count = %d, want 2", ms.Count())
	}
	if err := ms.Close(); err != nil {
		t.Fatal(err)
	}

	ms, err = OpenMetadataStore(path, testHasher(t))
	if err != nil {
		t.Fatal(err)
	}
	got, err := ms.Get(h1)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if !reflect.DeepEqual(got, richMetadata()) {
		t.Errorf("persisted metadata mismatch: %+v", got)
	}
	if _, err := ms.Get(0x1234); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}
	ms.file.Close()
}
