package store

import (
	"fmt"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/chess"
	"github.com/micaherne/positional/internal/game"
)

// maxVariationDepth bounds recursion over nested variations so
// pathological input cannot exhaust the stack.
const maxVariationDepth = 64

// resultCode maps a PGN result string to the blob result code.
func resultCode(result string) uint16 {
	switch result {
	case "1-0":
		return chain.ResultWhiteWins
	case "0-1":
		return chain.ResultBlackWins
	case "1/2-1/2":
		return chain.ResultDraw
	default:
		return chain.ResultUnknown
	}
}

// packedLine is a replayed move sequence: packed moves, the Zobrist hash
// after each ply, and the board state before each ply (variation bases).
type packedLine struct {
	moves  []uint16
	zobs   []uint64
	before []*chess.Board
}

// packMoves replays nodes from base, packing each move and recording
// per-ply Zobrist hashes and pre-move board snapshots.
func packMoves(nodes []game.Node, base *chess.Board) (*packedLine, error) {
	pl := &packedLine{
		moves:  make([]uint16, len(nodes)),
		zobs:   make([]uint64, len(nodes)),
		before: make([]*chess.Board, len(nodes)),
	}
	board := base.Copy()
	for i, n := range nodes {
		pm, err := chain.Pack(n.From, n.To, n.Promo)
		if err != nil {
			return nil, fmt.Errorf("ply %d: %w", i, err)
		}
		pl.before[i] = board.Copy()
		if err := board.Apply(chess.Move{From: n.From, To: n.To, Promo: n.Promo}); err != nil {
			return nil, fmt.Errorf("%w: ply %d: %v", ErrInvalidMove, i, err)
		}
		pl.moves[i] = pm
		pl.zobs[i] = board.Hash()
	}
	return pl, nil
}

// IngestGame stores a game tree under gameID and registers it, returning
// the final-blob hash and metadata hash. source may be zero or a
// source-store hash. Ingestion is transactional at game granularity: on
// error nothing is registered and any appended blobs are left for GC.
func (s *Store) IngestGame(g *game.Game, gameID string, source uint64) (uint64, uint64, error) {
	if _, err := s.registry.Resolve(gameID); err == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrDuplicateGameID, gameID)
	}

	pl, err := packMoves(g.Moves, chess.NewBoard())
	if err != nil {
		return 0, 0, err
	}

	final, err := s.buildMainChain(pl, resultCode(g.Result()))
	if err != nil {
		return 0, 0, err
	}

	md := &Metadata{FinalBlob: final}
	for _, tag := range g.Tags {
		if id := game.STRTagID(tag.Name); id >= 0 {
			md.STR = append(md.STR, STRRef{ID: byte(id), Value: s.strings.InternString(tag.Value)})
		} else {
			md.Extra = append(md.Extra, TagRef{
				Name:  s.strings.InternString(tag.Name),
				Value: s.strings.InternString(tag.Value),
			})
		}
	}
	if md.Records, err = s.buildAnnRecords(g.Moves, pl, true, 0); err != nil {
		return 0, 0, err
	}

	metaHash := s.metadata.Put(md)

	if err := s.registry.Bind(Binding{GameID: gameID, FinalBlob: final, Meta: metaHash, Source: source}); err != nil {
		return 0, 0, err
	}

	s.gamesSinceFlush++
	if s.gamesSinceFlush >= s.cfg.FlushEvery {
		if err := s.Flush(); err != nil {
			return 0, 0, err
		}
	}

	return final, metaHash, nil
}

// buildMainChain encodes the mainline into the blob DAG: opening-entry
// deltas first (each terminating in an opening-anchor blob), then the
// remaining moves, with the terminal blob flagged game-end.
func (s *Store) buildMainChain(pl *packedLine, result uint16) (uint64, error) {
	parent := s.hInit
	cursor := 0
	var lastOpening *chain.Blob

	if s.catalog != nil {
		for _, e := range s.catalog.MatchPrefixes(pl.moves) {
			end := len(e.Moves)
			if end <= cursor {
				continue
			}
			for start := cursor; start < end; start += chain.MaxBlobMoves {
				chunkEnd := start + chain.MaxBlobMoves
				if chunkEnd > end {
					chunkEnd = end
				}
				b := &chain.Blob{
					Parent:  parent,
					Zobrist: pl.zobs[chunkEnd-1],
					Moves:   pl.moves[start:chunkEnd],
					Result:  chain.ResultUnknown,
				}
				if chunkEnd == end {
					b.Flags = chain.FlagOpeningAnchor
					lastOpening = b
				}
				parent = s.put(b)
			}
			cursor = end
		}
	}

	n := len(pl.moves)
	if cursor < n || n == 0 {
		for start := cursor; ; start += chain.MaxBlobMoves {
			chunkEnd := start + chain.MaxBlobMoves
			if chunkEnd > n {
				chunkEnd = n
			}
			b := &chain.Blob{Parent: parent, Result: chain.ResultUnknown}
			if chunkEnd > start {
				b.Moves = pl.moves[start:chunkEnd]
				b.Zobrist = pl.zobs[chunkEnd-1]
			} else {
				b.Zobrist = s.z0 // zero-move game
			}
			if chunkEnd == n {
				b.Flags |= chain.FlagGameEnd
				b.Result = result
			}
			parent = s.put(b)
			if chunkEnd == n {
				break
			}
		}
		return parent, nil
	}

	// The game ends exactly at the last opening boundary. The pure anchor
	// blob stays in the pack for other games to share; the game itself
	// terminates in a sibling carrying both the anchor and game-end flags.
	terminal := &chain.Blob{
		Parent:  lastOpening.Parent,
		Zobrist: lastOpening.Zobrist,
		Moves:   lastOpening.Moves,
		Flags:   chain.FlagOpeningAnchor | chain.FlagGameEnd,
		Result:  result,
	}
	return s.put(terminal), nil
}

// put stores a blob and counts deduplication hits.
func (s *Store) put(b *chain.Blob) uint64 {
	h, existed := s.blobs.Put(b)
	if existed {
		s.dedupHits++
	}
	return h
}

// buildAnnRecords emits annotation records for one line of nodes, in
// ascending move-index order, recursively ingesting variation subtrees.
// startsAtZero reports whether the line begins at the initial position.
func (s *Store) buildAnnRecords(nodes []game.Node, pl *packedLine, startsAtZero bool, depth int) ([]AnnRecord, error) {
	var records []AnnRecord
	for i, node := range nodes {
		for _, ann := range node.Ann {
			rec := AnnRecord{MoveIndex: uint64(i), Kind: annKindByte(ann.Kind)}
			switch ann.Kind {
			case game.AnnComment:
				rec.TextHash = s.strings.InternString(ann.Text)
				rec.Pre = ann.Pre
				rec.Semicolon = ann.Semicolon
				rec.NewlineAfter = ann.NewlineAfter
			case game.AnnNAG:
				rec.NAG = ann.NAG
			case game.AnnVariation:
				varFinal, varMeta, err := s.ingestVariation(ann.Var, pl.before[i], startsAtZero && i == 0, depth+1)
				if err != nil {
					return nil, fmt.Errorf("variation at ply %d: %w", i, err)
				}
				rec.VarFinal = varFinal
				rec.VarMeta = varMeta
			case game.AnnNewline:
				// no payload
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

// ingestVariation stores a variation line as its own chain. Variations
// that do not start at the initial position chain from H_orphan; a
// variation branching at ply zero chains from H_init. Returns the
// variation's final-blob hash and its metadata hash (zero when the
// variation carries no annotations).
func (s *Store) ingestVariation(nodes []game.Node, base *chess.Board, startsAtZero bool, depth int) (uint64, uint64, error) {
	if depth > maxVariationDepth {
		return 0, 0, fmt.Errorf("%w: variation nesting exceeds %d", ErrChain, maxVariationDepth)
	}

	pl, err := packMoves(nodes, base)
	if err != nil {
		return 0, 0, err
	}

	parent := s.hOrphan
	if startsAtZero {
		parent = s.hInit
	}
	for start := 0; start < len(pl.moves); start += chain.MaxBlobMoves {
		chunkEnd := start + chain.MaxBlobMoves
		if chunkEnd > len(pl.moves) {
			chunkEnd = len(pl.moves)
		}
		b := &chain.Blob{
			Parent:  parent,
			Zobrist: pl.zobs[chunkEnd-1],
			Moves:   pl.moves[start:chunkEnd],
			Result:  chain.ResultUnknown,
		}
		parent = s.put(b)
	}

	records, err := s.buildAnnRecords(nodes, pl, startsAtZero, depth)
	if err != nil {
		return 0, 0, err
	}

	var metaHash uint64
	if len(records) > 0 {
		metaHash = s.metadata.Put(&Metadata{FinalBlob: parent, Records: records})
	}
	return parent, metaHash, nil
}
