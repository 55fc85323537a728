// Package pgnio reads and writes PGN over the abstract game tree. The
// reader is a streaming scanner in the spirit of the usual Go PGN
// parsers; the writer reproduces comment delimiters and line breaks
// recorded in the tree.
package pgnio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/micaherne/positional/internal/chess"
	"github.com/micaherne/positional/internal/game"
)

// ErrMalformed reports unparseable PGN input.
var ErrMalformed = errors.New("malformed pgn")

// Open opens a PGN file for reading, decompressing ".zst" transparently.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) != ".zst" {
		return f, nil
	}
	dec, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return &zstReadCloser{dec: dec, f: f}, nil
}

type zstReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (z *zstReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstReadCloser) Close() error {
	z.dec.Close()
	return z.f.Close()
}

// Scanner reads games one at a time from a PGN stream.
type Scanner struct {
	r *bufio.Reader
}

// NewScanner wraps a reader in a game scanner.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReader(r)}
}

// Next returns the next game, or io.EOF when the stream is exhausted.
func (sc *Scanner) Next() (*game.Game, error) {
	g := &game.Game{}

	// Tag section.
	sawTag := false
	for {
		if err := sc.skipSpace(); err != nil {
			if err == io.EOF && !sawTag {
				return nil, io.EOF
			}
			if err == io.EOF {
				return g, nil
			}
			return nil, err
		}
		b, err := sc.r.Peek(1)
		if err != nil {
			if err == io.EOF && !sawTag {
				return nil, io.EOF
			}
			break
		}
		if b[0] != '[' {
			break
		}
		name, value, err := sc.readTag()
		if err != nil {
			return nil, err
		}
		g.SetTag(name, value)
		sawTag = true
	}

	if err := sc.readMovetext(g); err != nil {
		return nil, err
	}
	if len(g.Tags) == 0 && len(g.Moves) == 0 {
		return nil, io.EOF
	}
	return g, nil
}

// ReadAll parses every game in the stream.
func ReadAll(r io.Reader) ([]*game.Game, error) {
	sc := NewScanner(r)
	var games []*game.Game
	for {
		g, err := sc.Next()
		if err == io.EOF {
			return games, nil
		}
		if err != nil {
			return games, err
		}
		games = append(games, g)
	}
}

// skipSpace consumes whitespace including newlines.
func (sc *Scanner) skipSpace() error {
	for {
		b, err := sc.r.ReadByte()
		if err != nil {
			return err
		}
		if b != ' ' && b != '\t' && b != '\r' && b != '\n' {
			return sc.r.UnreadByte()
		}
	}
}

// readTag parses one `[Name "Value"]` pair.
func (sc *Scanner) readTag() (string, string, error) {
	if b, err := sc.r.ReadByte(); err != nil || b != '[' {
		return "", "", fmt.Errorf("%w: expected tag open", ErrMalformed)
	}

	var name strings.Builder
	for {
		b, err := sc.r.ReadByte()
		if err != nil {
			return "", "", fmt.Errorf("%w: unterminated tag", ErrMalformed)
		}
		if b == ' ' || b == '\t' {
			break
		}
		name.WriteByte(b)
	}

	for {
		b, err := sc.r.ReadByte()
		if err != nil {
			return "", "", fmt.Errorf("%w: unterminated tag", ErrMalformed)
		}
		if b == '"' {
			break
		}
		if b != ' ' && b != '\t' {
			return "", "", fmt.Errorf("%w: tag value must be quoted", ErrMalformed)
		}
	}

	var value strings.Builder
	for {
		b, err := sc.r.ReadByte()
		if err != nil {
			return "", "", fmt.Errorf("%w: unterminated tag value", ErrMalformed)
		}
		if b == '\\' {
			nxt, err := sc.r.ReadByte()
			if err != nil {
				return "", "", fmt.Errorf("%w: unterminated tag value", ErrMalformed)
			}
			value.WriteByte(nxt)
			continue
		}
		if b == '"' {
			break
		}
		value.WriteByte(b)
	}

	for {
		b, err := sc.r.ReadByte()
		if err != nil {
			return "", "", fmt.Errorf("%w: unterminated tag", ErrMalformed)
		}
		if b == ']' {
			break
		}
	}
	return name.String(), value.String(), nil
}

// Movetext token kinds
type tokKind int

const (
	tokSymbol tokKind = iota
	tokOpen
	tokClose
	tokComment
	tokEOF
)

type token struct {
	kind      tokKind
	text      string
	semicolon bool
	newlines  int // line breaks consumed immediately before this token
}

// nextToken scans the next movetext token, counting preceding newlines.
func (sc *Scanner) nextToken() (token, error) {
	var tok token
	for {
		b, err := sc.r.ReadByte()
		if err == io.EOF {
			tok.kind = tokEOF
			return tok, nil
		}
		if err != nil {
			return tok, err
		}
		switch b {
		case ' ', '\t', '\r':
			continue
		case '\n':
			tok.newlines++
			continue
		case '(':
			tok.kind = tokOpen
			return tok, nil
		case ')':
			tok.kind = tokClose
			return tok, nil
		case '{':
			var text strings.Builder
			for {
				c, err := sc.r.ReadByte()
				if err != nil {
					return tok, fmt.Errorf("%w: unterminated comment", ErrMalformed)
				}
				if c == '}' {
					break
				}
				text.WriteByte(c)
			}
			tok.kind = tokComment
			tok.text = text.String()
			return tok, nil
		case ';':
			var text strings.Builder
			for {
				c, err := sc.r.ReadByte()
				if err == io.EOF {
					break
				}
				if err != nil {
					return tok, err
				}
				if c == '\n' {
					break
				}
				text.WriteByte(c)
			}
			tok.kind = tokComment
			tok.semicolon = true
			tok.text = strings.TrimPrefix(strings.TrimRight(text.String(), "\r"), " ")
			return tok, nil
		default:
			var text strings.Builder
			text.WriteByte(b)
			for {
				c, err := sc.r.ReadByte()
				if err == io.EOF {
					break
				}
				if err != nil {
					return tok, err
				}
				if c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '(' || c == ')' || c == '{' || c == ';' {
					if err := sc.r.UnreadByte(); err != nil {
						return tok, err
					}
					break
				}
				text.WriteByte(c)
			}
			tok.kind = tokSymbol
			tok.text = text.String()
			return tok, nil
		}
	}
}

func isResultToken(s string) bool {
	return s == "1-0" || s == "0-1" || s == "1/2-1/2" || s == "*"
}

func isMoveNumber(s string) bool {
	i := 0
	for ; i < len(s) && s[i] >= '0' && s[i] <= '9'; i++ {
	}
	if i == 0 {
		return false
	}
	for ; i < len(s); i++ {
		if s[i] != '.' {
			return false
		}
	}
	return true
}

// lineCtx tracks one line (mainline or variation) during movetext parsing.
type lineCtx struct {
	nodes    []game.Node
	board    *chess.Board
	preBoard *chess.Board // state before the last applied move
	pending  []game.Annotation
}

func (lc *lineCtx) attach(ann game.Annotation) {
	if len(lc.nodes) == 0 {
		return
	}
	lc.nodes[len(lc.nodes)-1].Ann = append(lc.nodes[len(lc.nodes)-1].Ann, ann)
}

// readMovetext parses movetext up to the game-terminating result token.
func (sc *Scanner) readMovetext(g *game.Game) error {
	cur := &lineCtx{board: chess.NewBoard()}
	var stack []*lineCtx

	finish := func(result string) {
		g.Moves = cur.nodes
		if result != "" && g.TagValue("Result") == "" {
			g.SetTag("Result", result)
		}
	}

	for {
		tok, err := sc.nextToken()
		if err != nil {
			return err
		}

		// Line breaks between tokens become layout markers on the last move.
		for i := 0; i < tok.newlines && len(cur.nodes) > 0; i++ {
			cur.attach(game.Annotation{Kind: game.AnnNewline})
		}

		switch tok.kind {
		case tokEOF:
			if len(stack) > 0 {
				return fmt.Errorf("%w: unterminated variation", ErrMalformed)
			}
			finish("")
			return nil

		case tokComment:
			ann := game.Annotation{
				Kind:      game.AnnComment,
				Text:      tok.text,
				Semicolon: tok.semicolon,
			}
			if len(cur.nodes) == 0 {
				ann.Pre = true
				cur.pending = append(cur.pending, ann)
			} else {
				cur.attach(ann)
			}

		case tokOpen:
			if len(cur.nodes) == 0 {
				return fmt.Errorf("%w: variation before any move", ErrMalformed)
			}
			stack = append(stack, cur)
			cur = &lineCtx{board: cur.preBoard.Copy()}

		case tokClose:
			if len(stack) == 0 {
				return fmt.Errorf("%w: unbalanced variation close", ErrMalformed)
			}
			sub := cur
			cur = stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			cur.attach(game.Annotation{Kind: game.AnnVariation, Var: sub.nodes})

		case tokSymbol:
			switch {
			case isResultToken(tok.text):
				if len(stack) > 0 {
					continue
				}
				finish(tok.text)
				return nil
			case isMoveNumber(tok.text):
				continue
			case tok.text[0] == '$':
				code, err := strconv.Atoi(tok.text[1:])
				if err != nil || code < 0 || code > 255 {
					return fmt.Errorf("%w: bad NAG %q", ErrMalformed, tok.text)
				}
				cur.attach(game.Annotation{Kind: game.AnnNAG, NAG: byte(code)})
			default:
				mv, err := chess.ParseSAN(cur.board, tok.text)
				if err != nil {
					return fmt.Errorf("%w: %v", ErrMalformed, err)
				}
				cur.preBoard = cur.board.Copy()
				if err := cur.board.Apply(mv); err != nil {
					return fmt.Errorf("%w: %v", ErrMalformed, err)
				}
				node := game.Node{From: mv.From, To: mv.To, Promo: mv.Promo}
				node.Ann = cur.pending
				cur.pending = nil
				cur.nodes = append(cur.nodes, node)
			}
		}
	}
}
