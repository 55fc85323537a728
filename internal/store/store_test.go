package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/chess"
	"github.com/micaherne/positional/internal/game"
)

func newTestStore(t *testing.T, catalogTSV string) *Store {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "store")

	cfg := Config{}
	if catalogTSV != "" {
		catalogPath := filepath.Join(filepath.Dir(dir), "eco.tsv")
		if err := os.WriteFile(catalogPath, []byte(catalogTSV), 0644); err != nil {
			t.Fatal(err)
		}
		cfg.CatalogPath = catalogPath
	}

	if err := Init(dir, cfg); err != nil {
		t.Fatalf("Init: %v", err)
	}
	s, err := Open(dir, cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func uciNodes(t *testing.T, ucis ...string) []game.Node {
	t.Helper()
	nodes := make([]game.Node, len(ucis))
	for i, uci := range ucis {
		m, err := chess.MoveFromUCI(uci)
		if err != nil {
			t.Fatalf("MoveFromUCI(%s): %v", uci, err)
		}
		nodes[i] = game.Node{From: m.From, To: m.To, Promo: m.Promo}
	}
	return nodes
}

func mkGame(t *testing.T, result string, ucis ...string) *game.Game {
	t.Helper()
	g := &game.Game{Moves: uciNodes(t, ucis...)}
	g.SetTag("Event", "Test")
	g.SetTag("Result", result)
	return g
}

const ruyCatalog = `eco	name	pgn
C60	Ruy Lopez	1. e4 e5 2. Nf3 Nc6 3. Bb5
C78	Ruy Lopez Main	1. e4 e5 2. Nf3 Nc6 3. Bb5 a6 4. Ba4 Nf6
`

var ruyMainUCIs = []string{"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6", "b5a4", "g8f6"}

// Scenario A: minimal game.
func TestIngestMinimalGame(t *testing.T) {
	s := newTestStore(t, "")

	g := mkGame(t, "1-0", "e2e4", "e7e5", "g1f3")
	final, meta, err := s.IngestGame(g, "a:0", 0)
	if err != nil {
		t.Fatalf("IngestGame: %v", err)
	}

	if got := s.Blobs().Count(); got != 1 {
		t.Errorf("pack blobs = %d, want 1", got)
	}

	b, err := s.Blobs().Get(final)
	if err != nil {
		t.Fatal(err)
	}
	if b.Parent != s.InitHash() {
		t.Errorf("parent = %016x, want H_init", b.Parent)
	}
	if len(b.Moves) != 3 {
		t.Errorf("move count = %d, want 3", len(b.Moves))
	}
	if b.Flags != chain.FlagGameEnd {
		t.Errorf("flags = %02x, want game-end", b.Flags)
	}
	if b.Result != chain.ResultWhiteWins {
		t.Errorf("result = %d, want white-wins", b.Result)
	}

	md, err := s.Metadata().Get(meta)
	if err != nil {
		t.Fatal(err)
	}
	if md.FinalBlob != final {
		t.Errorf("metadata binds %016x, want %016x", md.FinalBlob, final)
	}
	if len(md.STR) != 2 || len(md.Extra) != 0 || len(md.Records) != 0 {
		t.Errorf("metadata shape: STR=%d extra=%d records=%d", len(md.STR), len(md.Extra), len(md.Records))
	}

	got, err := s.ReconstructGame("a:0")
	if err != nil {
		t.Fatalf("ReconstructGame: %v", err)
	}
	if !reflect.DeepEqual(got, g) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, g)
	}
}

// Scenario B: two games sharing an opening share the anchor blob.
func TestOpeningDeduplication(t *testing.T) {
	s := newTestStore(t, ruyCatalog)

	x := mkGame(t, "1-0", append(append([]string{}, ruyMainUCIs...), "e1g1", "f8e7", "f1e1")...)
	if _, _, err := s.IngestGame(x, "b:x", 0); err != nil {
		t.Fatalf("ingest X: %v", err)
	}
	afterX := s.Blobs().Count()
	if afterX != 2 {
		t.Fatalf("blobs after X = %d, want 2 (anchor + tail)", afterX)
	}

	y := mkGame(t, "0-1", append(append([]string{}, ruyMainUCIs...), "e1g1", "b7b5", "a4b3")...)
	if _, _, err := s.IngestGame(y, "b:y", 0); err != nil {
		t.Fatalf("ingest Y: %v", err)
	}
	if got := s.Blobs().Count(); got != 3 {
		t.Errorf("blobs after Y = %d, want 3", got)
	}

	// The anchor blob is flagged and shared.
	bx, _ := s.Registry().Resolve("b:x")
	tail, err := s.Blobs().Get(bx.FinalBlob)
	if err != nil {
		t.Fatal(err)
	}
	anchor, err := s.Blobs().Get(tail.Parent)
	if err != nil {
		t.Fatal(err)
	}
	if anchor.Flags != chain.FlagOpeningAnchor {
		t.Errorf("anchor flags = %02x", anchor.Flags)
	}
	if len(anchor.Moves) != len(ruyMainUCIs) {
		t.Errorf("anchor moves = %d, want %d", len(anchor.Moves), len(ruyMainUCIs))
	}

	by, _ := s.Registry().Resolve("b:y")
	tailY, err := s.Blobs().Get(by.FinalBlob)
	if err != nil {
		t.Fatal(err)
	}
	if tailY.Parent != tail.Parent {
		t.Error("X and Y tails do not share the anchor blob")
	}

	for _, id := range []string{"b:x", "b:y"} {
		if _, err := s.ReconstructGame(id); err != nil {
			t.Errorf("reconstruct %s: %v", id, err)
		}
	}
}

// Scenario C: annotated game with a mid-game variation.
func TestAnnotatedGameWithVariation(t *testing.T) {
	s := newTestStore(t, "")

	g := mkGame(t, "1/2-1/2",
		"e2e4", "e7e5", "g1f3", "b8c6", "f1b5", "a7a6", "b5a4", "g8f6", "e1g1", "f8e7")
	g.Moves[3].Ann = append(g.Moves[3].Ann, game.Annotation{Kind: game.AnnComment, Text: "good move"})

	variation := uciNodes(t, "f1c4", "f8c5", "d2d3")
	variation[0].Ann = append(variation[0].Ann, game.Annotation{Kind: game.AnnComment, Text: "the Italian"})
	g.Moves[4].Ann = append(g.Moves[4].Ann, game.Annotation{Kind: game.AnnVariation, Var: variation})

	_, meta, err := s.IngestGame(g, "c:0", 0)
	if err != nil {
		t.Fatalf("IngestGame: %v", err)
	}

	md, err := s.Metadata().Get(meta)
	if err != nil {
		t.Fatal(err)
	}
	if len(md.Records) != 2 {
		t.Fatalf("records = %d, want 2", len(md.Records))
	}
	if md.Records[0].MoveIndex != 3 || md.Records[0].Kind != recComment || md.Records[0].Pre {
		t.Errorf("record 0 = %+v, want post comment at ply 3", md.Records[0])
	}
	if md.Records[1].MoveIndex != 4 || md.Records[1].Kind != recVar {
		t.Errorf("record 1 = %+v, want variation at ply 4", md.Records[1])
	}
	if md.Records[1].VarMeta == 0 {
		t.Error("variation metadata hash is zero despite nested comment")
	}

	varBlob, err := s.Blobs().Get(md.Records[1].VarFinal)
	if err != nil {
		t.Fatal(err)
	}
	if varBlob.Parent != s.OrphanHash() {
		t.Errorf("variation parent = %016x, want H_orphan", varBlob.Parent)
	}

	got, err := s.ReconstructGame("c:0")
	if err != nil {
		t.Fatalf("ReconstructGame: %v", err)
	}
	if !reflect.DeepEqual(got, g) {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", got, g)
	}
}

// Scenario D: a corrupted blob fails verification for the games whose
// chains traverse it, and only those.
func TestVerifyDetectsCorruption(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	if err := Init(dir, Config{}); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}

	if _, _, err := s.IngestGame(mkGame(t, "1-0", "e2e4", "e7e5", "g1f3"), "d:0", 0); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.IngestGame(mkGame(t, "0-1", "d2d4", "d7d5", "c2c4"), "d:1", 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Flip one byte in the first blob's move-data region.
	packPath := filepath.Join(dir, packFileName)
	f, err := os.OpenFile(packPath, os.O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteAt([]byte{0x5A}, packHeaderSize+18); err != nil {
		t.Fatal(err)
	}
	f.Close()

	s, err = Open(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	errs := s.Verify()
	if len(errs) != 1 {
		t.Fatalf("Verify reported %d errors, want 1: %+v", len(errs), errs)
	}
	if errs[0].GameID != "d:0" {
		t.Errorf("failing game = %s, want d:0", errs[0].GameID)
	}
	if !errors.Is(errs[0].Err, ErrIntegrity) {
		t.Errorf("error = %v, want ErrIntegrity", errs[0].Err)
	}

	if packErrs := s.VerifyPack(); len(packErrs) != 1 {
		t.Errorf("VerifyPack reported %d errors, want 1", len(packErrs))
	}
}

// Scenario E: re-ingesting an identical game under a new id adds nothing
// to the pack.
func TestIdempotentReingest(t *testing.T) {
	s := newTestStore(t, "")

	g := mkGame(t, "1-0", "e2e4", "e7e5", "g1f3", "b8c6")
	f1, m1, err := s.IngestGame(g, "e:0", 0)
	if err != nil {
		t.Fatal(err)
	}
	before := s.Blobs().Count()

	f2, m2, err := s.IngestGame(mkGame(t, "1-0", "e2e4", "e7e5", "g1f3", "b8c6"), "e:1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if s.Blobs().Count() != before {
		t.Errorf("pack grew from %d to %d", before, s.Blobs().Count())
	}
	if f1 != f2 || m1 != m2 {
		t.Errorf("hashes differ: (%016x,%016x) vs (%016x,%016x)", f1, m1, f2, m2)
	}

	if _, _, err := s.IngestGame(&game.Game{}, "e:0", 0); !errors.Is(err, ErrDuplicateGameID) {
		t.Errorf("rebind = %v, want ErrDuplicateGameID", err)
	}
}

// Scenario F: with no catalog, deduplication still happens at aligned
// 22-move blob boundaries.
func TestEmptyCatalogBoundaryDedup(t *testing.T) {
	s := newTestStore(t, "")

	shuffle := func(last string) []string {
		var ucis []string
		for i := 0; i < 5; i++ {
			ucis = append(ucis, "g1f3", "g8f6", "f3g1", "f6g8")
		}
		ucis = append(ucis, "g1f3", "g8f6", last)
		return ucis
	}

	if _, _, err := s.IngestGame(mkGame(t, "*", shuffle("f3g1")...), "f:0", 0); err != nil {
		t.Fatal(err)
	}
	if got := s.Blobs().Count(); got != 2 {
		t.Fatalf("blobs after first game = %d, want 2 (22 + 1)", got)
	}

	if _, _, err := s.IngestGame(mkGame(t, "*", shuffle("d2d4")...), "f:1", 0); err != nil {
		t.Fatal(err)
	}
	if got := s.Blobs().Count(); got != 3 {
		t.Errorf("blobs after second game = %d, want 3 (shared prefix blob)", got)
	}
}

func TestBoundaryGameLengths(t *testing.T) {
	s := newTestStore(t, "")

	// Zero-move game.
	if _, _, err := s.IngestGame(mkGame(t, "*"), "len:0", 0); err != nil {
		t.Fatal(err)
	}
	b0, _ := s.Registry().Resolve("len:0")
	blob, err := s.Blobs().Get(b0.FinalBlob)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob.Moves) != 0 || blob.Parent != s.InitHash() || blob.Flags != chain.FlagGameEnd {
		t.Errorf("zero-move blob = %+v", blob)
	}
	got, err := s.ReconstructGame("len:0")
	if err != nil {
		t.Fatalf("reconstruct zero-move game: %v", err)
	}
	if len(got.Moves) != 0 {
		t.Errorf("zero-move game reconstructed %d moves", len(got.Moves))
	}

	// Exactly 22 plies: one blob. 23 plies: two blobs.
	var ucis []string
	for i := 0; i < 5; i++ {
		ucis = append(ucis, "g1f3", "g8f6", "f3g1", "f6g8")
	}
	ucis = append(ucis, "g1f3", "g8f6")

	before := s.Blobs().Count()
	if _, _, err := s.IngestGame(mkGame(t, "*", ucis...), "len:22", 0); err != nil {
		t.Fatal(err)
	}
	if got := s.Blobs().Count() - before; got != 1 {
		t.Errorf("22-ply game appended %d blobs, want 1", got)
	}
	b22, _ := s.Registry().Resolve("len:22")
	blob, err = s.Blobs().Get(b22.FinalBlob)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob.Moves) != 22 || blob.Flags != chain.FlagGameEnd {
		t.Errorf("22-ply blob: moves=%d flags=%02x", len(blob.Moves), blob.Flags)
	}

	before = s.Blobs().Count()
	if _, _, err := s.IngestGame(mkGame(t, "*", append(ucis, "f3e5")...), "len:23", 0); err != nil {
		t.Fatal(err)
	}
	// len:22's single blob carries the game-end flag, so the 23-ply
	// game's unflagged 22-move head is a distinct blob.
	if got := s.Blobs().Count() - before; got != 2 {
		t.Errorf("23-ply game appended %d blobs, want 2", got)
	}
	b23, _ := s.Registry().Resolve("len:23")
	tail, err := s.Blobs().Get(b23.FinalBlob)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail.Moves) != 1 {
		t.Errorf("23rd ply blob has %d moves, want 1", len(tail.Moves))
	}
	head, err := s.Blobs().Get(tail.Parent)
	if err != nil {
		t.Fatal(err)
	}
	if len(head.Moves) != 22 || head.Flags != 0 {
		t.Errorf("23-ply head blob: moves=%d flags=%02x", len(head.Moves), head.Flags)
	}
}

// A game exactly matching a catalog line terminates in a blob carrying
// both the opening-anchor and game-end flags, distinct from the shared
// pure anchor.
func TestOpeningEqualsGameLength(t *testing.T) {
	s := newTestStore(t, ruyCatalog)

	g := mkGame(t, "1/2-1/2", ruyMainUCIs...)
	final, _, err := s.IngestGame(g, "exact:0", 0)
	if err != nil {
		t.Fatal(err)
	}

	if got := s.Blobs().Count(); got != 2 {
		t.Errorf("blobs = %d, want 2 (pure anchor + flagged terminal)", got)
	}

	terminal, err := s.Blobs().Get(final)
	if err != nil {
		t.Fatal(err)
	}
	wantFlags := byte(chain.FlagOpeningAnchor | chain.FlagGameEnd)
	if terminal.Flags != wantFlags {
		t.Errorf("terminal flags = %02x, want %02x", terminal.Flags, wantFlags)
	}
	if terminal.Result != chain.ResultDraw {
		t.Errorf("terminal result = %d, want draw", terminal.Result)
	}
	if terminal.Parent != s.InitHash() {
		t.Errorf("terminal parent = %016x, want H_init", terminal.Parent)
	}

	if _, err := s.ReconstructGame("exact:0"); err != nil {
		t.Errorf("reconstruct: %v", err)
	}

	// A second game continuing past the opening reuses the pure anchor.
	cont := mkGame(t, "1-0", append(append([]string{}, ruyMainUCIs...), "e1g1")...)
	if _, _, err := s.IngestGame(cont, "exact:1", 0); err != nil {
		t.Fatal(err)
	}
	if got := s.Blobs().Count(); got != 3 {
		t.Errorf("blobs after continuation = %d, want 3", got)
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	if err := Init(dir, Config{}); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}

	g := mkGame(t, "0-1", "e2e4", "c7c5", "g1f3", "d7d6")
	g.SetTag("White", "Fischer")
	g.SetTag("ECO", "B50")
	g.Moves[1].Ann = append(g.Moves[1].Ann, game.Annotation{Kind: game.AnnNAG, NAG: 1})
	if _, _, err := s.IngestGame(g, "p:0", 0); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = Open(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	got, err := s.ReconstructGame("p:0")
	if err != nil {
		t.Fatalf("reconstruct after reopen: %v", err)
	}

	// Reconstruction orders tags STR-first; the input already is.
	wantTags := []game.Tag{
		{Name: "Event", Value: "Test"},
		{Name: "White", Value: "Fischer"},
		{Name: "Result", Value: "0-1"},
		{Name: "ECO", Value: "B50"},
	}
	gotByName := map[string]string{}
	for _, tag := range got.Tags {
		gotByName[tag.Name] = tag.Value
	}
	for _, want := range wantTags {
		if gotByName[want.Name] != want.Value {
			t.Errorf("tag %s = %q, want %q", want.Name, gotByName[want.Name], want.Value)
		}
	}
	if !reflect.DeepEqual(got.Moves, g.Moves) {
		t.Errorf("moves mismatch after reopen")
	}
}

func TestGCReclaimsOrphans(t *testing.T) {
	s := newTestStore(t, "")

	if _, _, err := s.IngestGame(mkGame(t, "1-0", "e2e4", "e7e5"), "gc:0", 0); err != nil {
		t.Fatal(err)
	}
	variationGame := mkGame(t, "0-1", "d2d4", "g8f6", "c2c4")
	variationGame.Moves[1].Ann = append(variationGame.Moves[1].Ann, game.Annotation{
		Kind: game.AnnVariation,
		Var:  uciNodes(t, "e7e6", "g1f3"),
	})
	if _, _, err := s.IngestGame(variationGame, "gc:1", 0); err != nil {
		t.Fatal(err)
	}

	// An unreferenced blob, as a crashed ingestion would leave behind.
	orphanHash, _ := s.Blobs().Put(&chain.Blob{Parent: s.InitHash(), Zobrist: 42,
		Moves: []uint16{0x0400}, Result: chain.ResultUnknown})

	stats, err := s.GC()
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if stats.Dropped != 1 {
		t.Errorf("Dropped = %d, want 1", stats.Dropped)
	}
	if s.Blobs().Exists(orphanHash) {
		t.Error("orphan blob survived GC")
	}

	if errs := s.Verify(); len(errs) != 0 {
		t.Errorf("post-GC verification failed: %+v", errs)
	}
	for _, id := range []string{"gc:0", "gc:1"} {
		if _, err := s.ReconstructGame(id); err != nil {
			t.Errorf("reconstruct %s after GC: %v", id, err)
		}
	}
}

func TestOpenRejectsWrongHashFamily(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	if err := Init(dir, Config{HashFamily: chain.HashXX64}); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(dir, Config{HashFamily: chain.HashSip64}); err == nil {
		t.Error("Open with mismatched hash family should fail")
	}
	s, err := Open(dir, Config{})
	if err != nil {
		t.Fatalf("Open with default config: %v", err)
	}
	s.Close()
}

func TestSipHashStore(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "store")
	if err := Init(dir, Config{HashFamily: chain.HashSip64}); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir, Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	g := mkGame(t, "1-0", "e2e4", "e7e5")
	if _, _, err := s.IngestGame(g, "sip:0", 0); err != nil {
		t.Fatal(err)
	}
	got, err := s.ReconstructGame("sip:0")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, g) {
		t.Error("siphash store round trip mismatch")
	}
}
