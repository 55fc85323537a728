package store

import (
	"errors"
	"fmt"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/chess"
	"github.com/micaherne/positional/internal/game"
)

// maxChainSteps bounds the parent walk; any real chain is far shorter.
const maxChainSteps = 1 << 20

// walkChain collects the blobs from final back to a sentinel and returns
// them in chronological order together with the sentinel reached. Each
// blob's content hash is recomputed and checked against its chain key.
func (s *Store) walkChain(final uint64) ([]*chain.Blob, uint64, error) {
	var blobs []*chain.Blob
	cur := final
	for steps := 0; cur != s.hInit && cur != s.hOrphan; steps++ {
		if steps >= maxChainSteps {
			return nil, 0, fmt.Errorf("%w: parent walk exceeds %d steps", ErrChain, maxChainSteps)
		}
		b, err := s.blobs.Get(cur)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, 0, fmt.Errorf("%w: unresolved blob %016x", ErrIntegrity, cur)
			}
			return nil, 0, err
		}
		if got := s.hasher.BlobHash(b); got != cur {
			return nil, 0, fmt.Errorf("%w: blob %016x hashes to %016x", ErrIntegrity, cur, got)
		}
		blobs = append(blobs, b)
		cur = b.Parent
	}

	for i, j := 0, len(blobs)-1; i < j; i, j = i+1, j-1 {
		blobs[i], blobs[j] = blobs[j], blobs[i]
	}
	return blobs, cur, nil
}

// replayChain applies each blob's moves to board, verifying the Zobrist
// hash at every blob boundary, and returns the move nodes plus the board
// state before each ply.
func replayChain(blobs []*chain.Blob, board *chess.Board) ([]game.Node, []*chess.Board, error) {
	var nodes []game.Node
	var before []*chess.Board

	for _, b := range blobs {
		for _, pm := range b.Moves {
			from, to, promo := chain.Unpack(pm)
			before = append(before, board.Copy())
			if err := board.Apply(chess.Move{From: from, To: to, Promo: promo}); err != nil {
				return nil, nil, fmt.Errorf("%w: chain replay: %v", ErrIntegrity, err)
			}
			nodes = append(nodes, game.Node{From: from, To: to, Promo: promo})
		}
		if got := board.Hash(); got != b.Zobrist {
			return nil, nil, fmt.Errorf("%w: Zobrist mismatch after ply %d: %016x != %016x",
				ErrIntegrity, len(nodes), got, b.Zobrist)
		}
	}
	return nodes, before, nil
}

// ReconstructGame rebuilds the full game tree for a registered game id,
// verifying chain integrity while walking.
func (s *Store) ReconstructGame(gameID string) (*game.Game, error) {
	binding, err := s.registry.Resolve(gameID)
	if err != nil {
		return nil, err
	}

	blobs, sentinel, err := s.walkChain(binding.FinalBlob)
	if err != nil {
		return nil, err
	}
	if sentinel == s.hOrphan {
		return nil, fmt.Errorf("%w: mainline chain of %q roots at orphan marker", ErrChain, gameID)
	}

	nodes, before, err := replayChain(blobs, chess.NewBoard())
	if err != nil {
		return nil, err
	}

	md, err := s.metadata.Get(binding.Meta)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: unresolved metadata %016x", ErrIntegrity, binding.Meta)
		}
		return nil, err
	}
	if md.FinalBlob != binding.FinalBlob {
		return nil, fmt.Errorf("%w: metadata binds %016x, registry %016x",
			ErrIntegrity, md.FinalBlob, binding.FinalBlob)
	}

	g := &game.Game{Moves: nodes}
	if err := s.applyHeaders(g, md); err != nil {
		return nil, err
	}
	if err := s.applyAnnotations(g.Moves, md.Records, before, 0); err != nil {
		return nil, err
	}
	return g, nil
}

// applyHeaders restores STR tags in roster order, then extra tags.
func (s *Store) applyHeaders(g *game.Game, md *Metadata) error {
	for _, ref := range md.STR {
		value, err := s.lookupText(ref.Value)
		if err != nil {
			return err
		}
		g.Tags = append(g.Tags, game.Tag{Name: game.STR[ref.ID], Value: value})
	}
	for _, ref := range md.Extra {
		name, err := s.lookupText(ref.Name)
		if err != nil {
			return err
		}
		value, err := s.lookupText(ref.Value)
		if err != nil {
			return err
		}
		g.Tags = append(g.Tags, game.Tag{Name: name, Value: value})
	}
	return nil
}

func (s *Store) lookupText(hash uint64) (string, error) {
	text, err := s.strings.LookupString(hash)
	if err != nil {
		return "", fmt.Errorf("%w: unresolved string %016x", ErrIntegrity, hash)
	}
	return text, nil
}

// applyAnnotations attaches annotation records to their move nodes,
// recursively reconstructing variation subtrees.
func (s *Store) applyAnnotations(nodes []game.Node, records []AnnRecord, before []*chess.Board, depth int) error {
	if depth > maxVariationDepth {
		return fmt.Errorf("%w: variation nesting exceeds %d", ErrChain, maxVariationDepth)
	}

	for _, rec := range records {
		idx := int(rec.MoveIndex)
		if idx >= len(nodes) {
			return fmt.Errorf("%w: annotation at ply %d beyond %d moves", ErrIntegrity, idx, len(nodes))
		}

		switch rec.Kind {
		case recComment:
			text, err := s.lookupText(rec.TextHash)
			if err != nil {
				return err
			}
			nodes[idx].Ann = append(nodes[idx].Ann, game.Annotation{
				Kind:         game.AnnComment,
				Text:         text,
				Pre:          rec.Pre,
				Semicolon:    rec.Semicolon,
				NewlineAfter: rec.NewlineAfter,
			})

		case recNAG:
			nodes[idx].Ann = append(nodes[idx].Ann, game.Annotation{Kind: game.AnnNAG, NAG: rec.NAG})

		case recVar:
			varNodes, err := s.reconstructVariation(rec.VarFinal, rec.VarMeta, before[idx], depth)
			if err != nil {
				return fmt.Errorf("variation at ply %d: %w", idx, err)
			}
			nodes[idx].Ann = append(nodes[idx].Ann, game.Annotation{Kind: game.AnnVariation, Var: varNodes})

		case recNewline:
			nodes[idx].Ann = append(nodes[idx].Ann, game.Annotation{Kind: game.AnnNewline})
		}
	}
	return nil
}

// reconstructVariation rebuilds one variation line. Orphan-rooted chains
// replay from the branch position; H_init-rooted ones from the start.
func (s *Store) reconstructVariation(final, meta uint64, base *chess.Board, depth int) ([]game.Node, error) {
	blobs, sentinel, err := s.walkChain(final)
	if err != nil {
		return nil, err
	}

	start := base.Copy()
	if sentinel == s.hInit {
		start = chess.NewBoard()
	}
	nodes, before, err := replayChain(blobs, start)
	if err != nil {
		return nil, err
	}

	if meta != 0 {
		md, err := s.metadata.Get(meta)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("%w: unresolved metadata %016x", ErrIntegrity, meta)
			}
			return nil, err
		}
		if err := s.applyAnnotations(nodes, md.Records, before, depth+1); err != nil {
			return nil, err
		}
	}
	return nodes, nil
}
