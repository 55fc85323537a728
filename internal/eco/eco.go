// Package eco loads ECO (Encyclopedia of Chess Openings) lines and
// matches them as prefixes of packed move sequences. Matches guide the
// storage engine's opening-based blob deduplication.
package eco

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/micaherne/positional/internal/chain"
	"github.com/micaherne/positional/internal/chess"
)

// DefaultMinPlies filters out catalog lines too short to be worth a blob
// boundary; single-move chains destroy the deduplication benefit.
const DefaultMinPlies = 6

// ErrCatalog reports a malformed or unreadable opening catalog.
var ErrCatalog = errors.New("catalog error")

// Entry is one opening line with its moves pre-packed at load time.
type Entry struct {
	Code  string
	Name  string
	Moves []uint16
}

type trieNode struct {
	children map[uint16]*trieNode
	terminal []int // entry indices ending at this node
}

// Catalog holds opening lines indexed by a packed-move prefix trie.
type Catalog struct {
	minPlies int
	entries  []Entry
	root     *trieNode
	skipped  int
}

// NewCatalog creates an empty catalog with the given ply threshold
// (<=0 selects DefaultMinPlies).
func NewCatalog(minPlies int) *Catalog {
	if minPlies <= 0 {
		minPlies = DefaultMinPlies
	}
	return &Catalog{
		minPlies: minPlies,
		root:     &trieNode{children: make(map[uint16]*trieNode)},
	}
}

// moveNumberRegex matches move numbers like "1." or "12..."
var moveNumberRegex = regexp.MustCompile(`\d+\.+\s*`)

// LoadFile loads a single TSV file (eco\tname\tpgn). A ".zst" suffix is
// decompressed transparently. Malformed lines are skipped, not fatal;
// the skip count is available from Skipped.
func (c *Catalog) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	defer f.Close()

	var r io.Reader = f
	if filepath.Ext(path) == ".zst" {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCatalog, err)
		}
		defer dec.Close()
		r = dec
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := scanner.Text()

		// Skip header
		if lineNum == 1 && strings.HasPrefix(line, "eco\t") {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			c.skipped++
			continue
		}

		moves, err := packLine(parts[2])
		if err != nil {
			c.skipped++
			continue
		}
		if len(moves) < c.minPlies {
			continue
		}

		c.add(Entry{Code: parts[0], Name: parts[1], Moves: moves})
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCatalog, err)
	}
	return nil
}

// packLine parses SAN movetext like "1. e4 e5 2. Nf3" into packed moves.
func packLine(pgnMoves string) ([]uint16, error) {
	cleaned := moveNumberRegex.ReplaceAllString(pgnMoves, "")
	fields := strings.Fields(cleaned)

	board := chess.NewBoard()
	moves := make([]uint16, 0, len(fields))

	for _, san := range fields {
		// Skip embedded annotations and result tokens.
		if san == "" || san[0] == '$' || san[0] == '{' ||
			san == "1-0" || san == "0-1" || san == "1/2-1/2" || san == "*" {
			continue
		}
		mv, err := chess.ParseSAN(board, san)
		if err != nil {
			return nil, err
		}
		if err := board.Apply(mv); err != nil {
			return nil, err
		}
		packed, err := chain.Pack(mv.From, mv.To, mv.Promo)
		if err != nil {
			return nil, err
		}
		moves = append(moves, packed)
	}

	if len(moves) == 0 {
		return nil, fmt.Errorf("no moves")
	}
	return moves, nil
}

func (c *Catalog) add(e Entry) {
	idx := len(c.entries)
	c.entries = append(c.entries, e)

	node := c.root
	for _, m := range e.Moves {
		next, ok := node.children[m]
		if !ok {
			next = &trieNode{children: make(map[uint16]*trieNode)}
			node.children[m] = next
		}
		node = next
	}
	node.terminal = append(node.terminal, idx)
}

// MatchPrefixes returns every opening whose move sequence is a prefix of
// the game's mainline, ordered by increasing prefix length. The trie walk
// visits prefixes in that order by construction.
func (c *Catalog) MatchPrefixes(moves []uint16) []Entry {
	var matches []Entry
	node := c.root
	for _, m := range moves {
		node = node.children[m]
		if node == nil {
			break
		}
		for _, idx := range node.terminal {
			matches = append(matches, c.entries[idx])
		}
	}
	return matches
}

// Count returns the number of loaded opening lines.
func (c *Catalog) Count() int {
	return len(c.entries)
}

// Skipped returns the number of malformed catalog lines that were skipped.
func (c *Catalog) Skipped() int {
	return c.skipped
}

// MinPlies returns the configured ply threshold.
func (c *Catalog) MinPlies() int {
	return c.minPlies
}
