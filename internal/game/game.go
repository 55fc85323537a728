// Package game defines the abstract game tree the storage engine ingests
// and reconstructs: ordered header tags, a mainline of coordinate moves,
// and per-move annotations (comments, NAGs, nested variations, layout
// markers).
package game

// STR is the PGN Seven Tag Roster in canonical order. Tag ids used by the
// metadata format are indices into this list.
var STR = [7]string{"Event", "Site", "Date", "Round", "White", "Black", "Result"}

// STRTagID returns the roster index of a tag name, or -1.
func STRTagID(name string) int {
	for i, n := range STR {
		if n == name {
			return i
		}
	}
	return -1
}

// Tag is a single PGN header pair.
type Tag struct {
	Name  string
	Value string
}

// AnnKind discriminates annotation records attached to a move.
type AnnKind byte

const (
	AnnComment AnnKind = iota
	AnnNAG
	AnnVariation
	AnnNewline
)

// Annotation is one annotation attached to a move node. Fields beyond
// Kind are populated per kind: Text and the layout bits for comments,
// NAG for NAGs, Var for variations. A newline marker has no payload.
type Annotation struct {
	Kind AnnKind

	// Comment fields
	Text         string
	Pre          bool // comment precedes the move
	Semicolon    bool // rest-of-line comment instead of braces
	NewlineAfter bool // line break follows the comment

	// NAG code
	NAG byte

	// Variation line: an alternative to this move, starting from the
	// position before it.
	Var []Node
}

// Node is one mainline (or variation) half-move plus its annotations,
// in source order.
type Node struct {
	From, To, Promo byte
	Ann             []Annotation
}

// Game is a complete game tree.
type Game struct {
	Tags  []Tag
	Moves []Node
}

// TagValue returns the value of a named tag, or "".
func (g *Game) TagValue(name string) string {
	for _, t := range g.Tags {
		if t.Name == name {
			return t.Value
		}
	}
	return ""
}

// SetTag replaces or appends a tag.
func (g *Game) SetTag(name, value string) {
	for i, t := range g.Tags {
		if t.Name == name {
			g.Tags[i].Value = value
			return
		}
	}
	g.Tags = append(g.Tags, Tag{Name: name, Value: value})
}

// Result returns the game result string, defaulting to "*".
func (g *Game) Result() string {
	if v := g.TagValue("Result"); v != "" {
		return v
	}
	return "*"
}
