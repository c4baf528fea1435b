package mcts

import (
	"math"

	"github.com/brensch/tttzero/game"
)

// Scores computes the PUCT score of every cell. Illegal cells score -Inf.
//
// U(s,a) = Q(s,a) + C_puct * P(s,a) * sqrt(sum(N)) / (1 + N)
func (m *MCTS) Scores(edges *Edges, legal *[game.Cells]bool) [game.Cells]float32 {
	var sumN int32
	for c := range edges {
		if legal[c] {
			sumN += edges[c].N
		}
	}
	sqrtSumN := float32(math.Sqrt(float64(sumN)))

	var scores [game.Cells]float32
	for c := range edges {
		if !legal[c] {
			scores[c] = float32(math.Inf(-1))
			continue
		}
		e := &edges[c]
		scores[c] = e.Q + m.Config.Cpuct*e.P*sqrtSumN/(1+float32(e.N))
	}
	return scores
}

// selectCell picks the arg-max PUCT cell, breaking ties uniformly at random.
func (m *MCTS) selectCell(edges *Edges, legal *[game.Cells]bool, side game.Side) (int, error) {
	if !side.Valid() {
		return -1, ErrNoActingSide
	}
	scores := m.Scores(edges, legal)

	var ties [game.Cells]int
	n := 0
	best := float32(math.Inf(-1))
	for c, s := range scores {
		if !legal[c] {
			continue
		}
		switch {
		case n == 0 || s > best:
			best = s
			ties[0] = c
			n = 1
		case s == best:
			ties[n] = c
			n++
		}
	}
	if n == 0 {
		return -1, ErrNoLegalMoves
	}
	if n == 1 {
		return ties[0], nil
	}
	return ties[m.Rng.IntN(n)], nil
}
