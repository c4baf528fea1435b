package mcts

import (
	"fmt"
	"math"

	"github.com/brensch/tttzero/game"
	"gonum.org/v1/gonum/stat/distmv"
)

// legalPriors restricts the oracle prior to legal cells and renormalises it.
// Negative or NaN entries count as zero; with no mass left the prior is uniform.
func legalPriors(prior []float32, legal *[game.Cells]bool) [game.Cells]float64 {
	var out [game.Cells]float64
	sum := 0.0
	n := 0
	for c := 0; c < game.Cells; c++ {
		if !legal[c] {
			continue
		}
		n++
		if c < len(prior) {
			v := float64(prior[c])
			if v > 0 && !math.IsInf(v, 1) {
				out[c] = v
				sum += v
			}
		}
	}
	if n == 0 {
		return out
	}
	if sum <= 0 {
		u := 1 / float64(n)
		for c := 0; c < game.Cells; c++ {
			if legal[c] {
				out[c] = u
			}
		}
		return out
	}
	for c := range out {
		out[c] /= sum
	}
	return out
}

// dirichlet draws one sample from a symmetric Dirichlet over n components.
func (m *MCTS) dirichlet(n int) []float64 {
	if n == 1 {
		return []float64{1}
	}
	alpha := make([]float64, n)
	for i := range alpha {
		alpha[i] = m.Config.Alpha
	}
	return distmv.NewDirichlet(alpha, m.Rng).Rand(nil)
}

// mixNoise applies P' = (1-eps)*P + eps*Dir(alpha) over the legal cells.
func (m *MCTS) mixNoise(p *[game.Cells]float64, legal *[game.Cells]bool) {
	eps := m.Config.Epsilon
	if eps <= 0 || m.Config.Alpha <= 0 {
		return
	}
	n := 0
	for _, ok := range legal {
		if ok {
			n++
		}
	}
	if n == 0 {
		return
	}
	noise := m.dirichlet(n)
	i := 0
	for c := 0; c < game.Cells; c++ {
		if !legal[c] {
			continue
		}
		p[c] = (1-eps)*p[c] + eps*noise[i]
		i++
	}
}

// mixRootNoise sets P of an already expanded root to a fresh noise draw mixed
// into the stored oracle prior. Earlier draws never compound.
func (m *MCTS) mixRootNoise(edges *Edges, legal *[game.Cells]bool) {
	var p [game.Cells]float64
	for c := range edges {
		if legal[c] {
			p[c] = float64(edges[c].Prior)
		}
	}
	m.mixNoise(&p, legal)
	for c := range edges {
		if legal[c] {
			edges[c].P = float32(p[c])
		}
	}
}

// expand evaluates a first-visit node once. It returns the oracle prior
// restricted to legal cells, the prior to select with (noised at the search
// root), both summing to 1, and the bootstrap value for backup.
func (m *MCTS) expand(input []float32, legal *[game.Cells]bool, side game.Side, root bool) (raw, p [game.Cells]float64, value float32, err error) {
	if !side.Valid() {
		return raw, p, 0, ErrNoActingSide
	}
	prior, value, err := m.Client.Predict(input)
	if err != nil {
		return raw, p, 0, fmt.Errorf("predict: %w", err)
	}
	raw = legalPriors(prior, legal)
	p = raw
	if root {
		m.mixNoise(&p, legal)
	}
	return raw, p, value, nil
}
