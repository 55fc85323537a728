package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestStringInternIdempotence(t *testing.T) {
	dir := t.TempDir()
	ss, err := OpenStringStore(filepath.Join(dir, stringsFileName), testHasher(t))
	if err != nil {
		t.Fatal(err)
	}

	h1 := ss.InternString("Fischer, Robert J.")
	h2 := ss.InternString("Fischer, Robert J.")
	if h1 != h2 {
		t.Errorf("intern not idempotent: %016x != %016x", h1, h2)
	}
	if ss.Count() != 1 {
		t.Errorf("Count = %d, want 1", ss.Count())
	}

	got, err := ss.LookupString(h1)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if got != "Fischer, Robert J." {
		t.Errorf("Lookup = %q", got)
	}

	if _, err := ss.Lookup(0xBEEF); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(missing) = %v, want ErrNotFound", err)
	}
	ss.file.Close()
}

func TestStringStorePersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, stringsFileName)

	ss, err := OpenStringStore(path, testHasher(t))
	if err != nil {
		t.Fatal(err)
	}
	values := []string{"Event", "World Championship", "", "ünïcødé ♞", "Fischer"}
	hashes := make([]uint64, len(values))
	for i, v := range values {
		hashes[i] = ss.InternString(v)
	}
	if err := ss.Close(); err != nil {
		t.Fatal(err)
	}

	ss, err = OpenStringStore(path, testHasher(t))
	if err != nil {
		t.Fatal(err)
	}
	if ss.Count() != uint64(len(values)) {
		t.Errorf("Count = %d, want %d", ss.Count(), len(values))
	}
	for i, v := range values {
		got, err := ss.LookupString(hashes[i])
		if err != nil {
			t.Fatalf("Lookup(%q): %v", v, err)
		}
		if got != v {
			t.Errorf("Lookup = %q, want %q", got, v)
		}
	}
	ss.file.Close()
}
