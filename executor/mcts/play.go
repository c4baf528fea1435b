package mcts

import (
	"math"

	"github.com/brensch/tttzero/game"
)

// Policy returns the root visit distribution pi(a) = N(root,a) / sum_b N(root,b).
func (m *MCTS) Policy(key uint64) ([game.Cells]float32, error) {
	var pi [game.Cells]float32
	if m.Tree == nil {
		return pi, ErrNotSearched
	}
	edges, ok := m.Tree.Lookup(key)
	if !ok {
		return pi, ErrNotSearched
	}
	total := edges.Visits()
	if total == 0 {
		return pi, ErrNotSearched
	}
	for c := range edges {
		pi[c] = float32(edges[c].N) / float32(total)
	}
	return pi, nil
}

// Play picks the real move after a search.
//
// tau == 0 chooses uniformly among the most visited cells. tau > 0 samples
// proportionally to N^(1/tau); tau == 1 samples pi itself.
// The returned pi is always the untempered visit distribution.
func (m *MCTS) Play(res SearchResult, tau float64) (game.Action, [game.Cells]float32, error) {
	if !res.Side.Valid() {
		return game.Action{}, [game.Cells]float32{}, ErrNoActingSide
	}
	m.init()
	pi, err := m.Policy(res.Key)
	if err != nil {
		return game.Action{}, pi, err
	}

	var cell int
	if tau <= 0 {
		cell = m.argmax(pi)
	} else {
		cell = m.sample(pi, tau)
	}
	a, err := game.ActionForCell(res.Side, cell)
	return a, pi, err
}

func (m *MCTS) argmax(pi [game.Cells]float32) int {
	var ties [game.Cells]int
	n := 0
	best := float32(-1)
	for c, p := range pi {
		switch {
		case p > best:
			best = p
			ties[0] = c
			n = 1
		case p == best:
			ties[n] = c
			n++
		}
	}
	if n == 1 {
		return ties[0]
	}
	return ties[m.Rng.IntN(n)]
}

func (m *MCTS) sample(pi [game.Cells]float32, tau float64) int {
	var w [game.Cells]float64
	sum := 0.0
	last := 0
	for c, p := range pi {
		if p <= 0 {
			continue
		}
		if tau == 1 {
			w[c] = float64(p)
		} else {
			w[c] = math.Pow(float64(p), 1/tau)
		}
		sum += w[c]
		last = c
	}
	r := m.Rng.Float64() * sum
	cumulative := 0.0
	for c := range w {
		if w[c] == 0 {
			continue
		}
		cumulative += w[c]
		if r < cumulative {
			return c
		}
	}
	return last
}
