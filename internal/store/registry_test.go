package store

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestRegistryBindResolve(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, registryFileName)

	rg, err := OpenRegistry(path)
	if err != nil {
		t.Fatal(err)
	}

	b := Binding{GameID: "twic:0", FinalBlob: 0xAAAA, Meta: 0xBBBB, Source: 0xCCCC}
	if err := rg.Bind(b); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	if err := rg.Bind(Binding{GameID: "twic:0"}); !errors.Is(err, ErrDuplicateGameID) {
		t.Errorf("rebind = %v, want ErrDuplicateGameID", err)
	}

	got, err := rg.Resolve("twic:0")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != b {
		t.Errorf("Resolve = %+v, want %+v", got, b)
	}
	if _, err := rg.Resolve("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Resolve(missing) = %v, want ErrNotFound", err)
	}
	rg.file.Close()
}

func TestRegistryPersistence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, registryFileName)

	rg, err := OpenRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 25; i++ {
		b := Binding{
			GameID:    "mega:" + string(rune('a'+i)),
			FinalBlob: uint64(i) + 1,
			Meta:      uint64(i) + 100,
		}
		if err := rg.Bind(b); err != nil {
			t.Fatal(err)
		}
	}
	if err := rg.Close(); err != nil {
		t.Fatal(err)
	}

	rg, err = OpenRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	if rg.Count() != 25 {
		t.Fatalf("Count = %d, want 25", rg.Count())
	}
	got, err := rg.Resolve("mega:c")
	if err != nil {
		t.Fatal(err)
	}
	if got.FinalBlob != 3 || got.Meta != 102 {
		t.Errorf("Resolve(mega:c) = %+v", got)
	}
	if all := rg.All(); len(all) != 25 || all[0].GameID != "mega:a" {
		t.Errorf("All() order wrong: first = %+v", all[0])
	}
	rg.file.Close()
}
