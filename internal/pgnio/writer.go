package pgnio

import (
	"fmt"
	"io"
	"strings"

	"github.com/micaherne/positional/internal/chess"
	"github.com/micaherne/positional/internal/game"
)

// Write emits a game as PGN: tag pairs, a blank line, then movetext with
// single spaces between tokens. Comment delimiters, pre/post placement
// and newline markers come straight from the game tree, so emitted
// layout mirrors what was ingested.
func Write(w io.Writer, g *game.Game) error {
	for _, tag := range g.Tags {
		if _, err := fmt.Fprintf(w, "[%s \"%s\"]\n", tag.Name, escapeTagValue(tag.Value)); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}

	tw := &tokenWriter{w: w}
	if err := writeLine(tw, g.Moves, chess.NewBoard(), 0); err != nil {
		return err
	}
	if err := tw.tok(g.Result()); err != nil {
		return err
	}
	return tw.endLine()
}

func escapeTagValue(v string) string {
	v = strings.ReplaceAll(v, `\`, `\\`)
	return strings.ReplaceAll(v, `"`, `\"`)
}

// tokenWriter joins movetext tokens with single spaces and handles
// explicit line breaks.
type tokenWriter struct {
	w           io.Writer
	atLineStart bool
	started     bool
}

func (tw *tokenWriter) tok(s string) error {
	if tw.started && !tw.atLineStart {
		if _, err := io.WriteString(tw.w, " "); err != nil {
			return err
		}
	}
	tw.started = true
	tw.atLineStart = false
	_, err := io.WriteString(tw.w, s)
	return err
}

func (tw *tokenWriter) newline() error {
	tw.atLineStart = true
	_, err := io.WriteString(tw.w, "\n")
	return err
}

func (tw *tokenWriter) endLine() error {
	if tw.atLineStart {
		return nil
	}
	return tw.newline()
}

// writeLine emits one line of moves (mainline or variation) starting at
// the given ply depth, recursing into variations from the position before
// each branching move.
func writeLine(tw *tokenWriter, nodes []game.Node, board *chess.Board, startPly int) error {
	needNumber := true
	for i, node := range nodes {
		// Pre-comments go before the move token.
		for _, ann := range node.Ann {
			if ann.Kind == game.AnnComment && ann.Pre {
				if err := writeComment(tw, ann); err != nil {
					return err
				}
				needNumber = true
			}
		}

		mv := chess.Move{From: node.From, To: node.To, Promo: node.Promo}
		san, err := board.SAN(mv)
		if err != nil {
			return fmt.Errorf("ply %d: %w", startPly+i, err)
		}

		ply := startPly + i
		white := ply%2 == 0
		switch {
		case white:
			if err := tw.tok(fmt.Sprintf("%d. %s", ply/2+1, san)); err != nil {
				return err
			}
		case needNumber:
			if err := tw.tok(fmt.Sprintf("%d... %s", ply/2+1, san)); err != nil {
				return err
			}
		default:
			if err := tw.tok(san); err != nil {
				return err
			}
		}
		needNumber = false

		before := board.Copy()
		if err := board.Apply(mv); err != nil {
			return fmt.Errorf("ply %d: %w", startPly+i, err)
		}

		for _, ann := range node.Ann {
			switch ann.Kind {
			case game.AnnComment:
				if ann.Pre {
					continue
				}
				if err := writeComment(tw, ann); err != nil {
					return err
				}
				needNumber = true
			case game.AnnNAG:
				if err := tw.tok(fmt.Sprintf("$%d", ann.NAG)); err != nil {
					return err
				}
			case game.AnnVariation:
				if err := tw.tok("("); err != nil {
					return err
				}
				if err := writeLine(tw, ann.Var, before.Copy(), ply); err != nil {
					return err
				}
				if err := tw.tok(")"); err != nil {
					return err
				}
				needNumber = true
			case game.AnnNewline:
				if err := tw.newline(); err != nil {
					return err
				}
				needNumber = true
			}
		}
	}
	return nil
}

func writeComment(tw *tokenWriter, ann game.Annotation) error {
	if ann.Semicolon {
		// Rest-of-line comments are terminated by the line break itself.
		if err := tw.tok("; " + ann.Text); err != nil {
			return err
		}
		return tw.newline()
	}
	if err := tw.tok("{" + ann.Text + "}"); err != nil {
		return err
	}
	if ann.NewlineAfter {
		return tw.newline()
	}
	return nil
}
