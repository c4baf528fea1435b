package mcts

import (
	"errors"
	"math/rand/v2"

	"github.com/brensch/tttzero/game"
)

var (
	// ErrNoActingSide is returned when selection or expansion runs without a
	// designated side for the current ply. It is a caller bug and is never retried.
	ErrNoActingSide = errors.New("no acting side for current ply")
	ErrTerminalRoot = errors.New("search root is terminal")
	ErrNotSearched  = errors.New("root has no visits; run Search first")
	ErrNoLegalMoves = errors.New("no legal moves at node")
)

// Edge holds the statistics of one (state, action) pair.
// Q is only written right after N is incremented, so it is never a division by zero.
// P is the prior used by selection; Prior is the oracle's legal-renormalised
// prior before any root noise, kept so a retained root is re-noised from it.
type Edge struct {
	N     int32
	W     float32
	Q     float32
	P     float32
	Prior float32
}

// Edges is the per-cell edge array of a node.
type Edges [game.Cells]Edge

// Visits sums N over all cells.
func (e *Edges) Visits() int32 {
	var n int32
	for i := range e {
		n += e[i].N
	}
	return n
}

// Tree is the edge store: state key -> edge array. Nodes are created lazily
// and never deleted during a search. A tree must not outlive the oracle
// snapshot that produced its priors.
type Tree struct {
	nodes map[uint64]Edges
}

func NewTree() *Tree {
	return &Tree{nodes: make(map[uint64]Edges, 1024)}
}

// Lookup returns a copy of the node's edges.
func (t *Tree) Lookup(key uint64) (Edges, bool) {
	e, ok := t.nodes[key]
	return e, ok
}

// Create stores and returns a zero-initialised node.
func (t *Tree) Create(key uint64) Edges {
	var e Edges
	t.nodes[key] = e
	return e
}

// Update overwrites the node's edges.
func (t *Tree) Update(key uint64, e Edges) {
	t.nodes[key] = e
}

func (t *Tree) Len() int { return len(t.nodes) }

// Reset drops every node. Use between games unless the tree is deliberately retained.
func (t *Tree) Reset() { clear(t.nodes) }

// Config holds MCTS configuration
type Config struct {
	Cpuct float32
	// Epsilon is the weight of Dirichlet noise mixed into root priors.
	Epsilon float64
	// Alpha is the Dirichlet concentration.
	Alpha float64
}

func DefaultConfig() Config {
	return Config{Cpuct: 5, Epsilon: 0.25, Alpha: 0.7}
}

// Predictor defines the interface for inference.
// prior is indexed by board cell; value is from game.Player's perspective.
type Predictor interface {
	Predict(input []float32) (prior []float32, value float32, err error)
}

// Step is one entry of a simulation path.
type Step struct {
	Key  uint64
	Cell int
	Side game.Side
}

// MCTS holds the search context. It is single-threaded: one simulation runs
// to completion before the next starts.
type MCTS struct {
	Config Config
	Client Predictor
	Tree   *Tree
	// Rng drives tie-breaks, Dirichlet noise and move sampling.
	Rng *rand.Rand

	path []Step
}

func New(cfg Config, client Predictor, rng *rand.Rand) *MCTS {
	return &MCTS{Config: cfg, Client: client, Tree: NewTree(), Rng: rng}
}

func (m *MCTS) init() {
	if m.Tree == nil {
		m.Tree = NewTree()
	}
	if m.Rng == nil {
		m.Rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
}

// Reset starts a fresh tree, e.g. for a new game or a new oracle snapshot.
func (m *MCTS) Reset() {
	m.init()
	m.Tree.Reset()
	m.path = m.path[:0]
}
