package mcts

import (
	"fmt"

	"github.com/brensch/tttzero/executor/convert"
	"github.com/brensch/tttzero/game"
	"github.com/brensch/tttzero/rules"
)

// SearchResult describes the real-game root a search ran from.
type SearchResult struct {
	Key   uint64
	Side  game.Side
	State game.State
	// Input is the encoded root state, owned by the caller.
	Input []float32

	Simulations int
	MaxDepth    int
	// Expansions counts simulations that ended on an oracle bootstrap,
	// Terminals those that ended on a real game outcome.
	Expansions int
	Terminals  int
	// PathSteps is the number of edge updates made by backup.
	PathSteps int
	// Outcomes tallies terminal rewards seen: [loss, draw, win].
	Outcomes [3]int
}

// Search runs exactly simulations simulations from root. enc must describe
// the history that led to root; it is copied, never mutated.
func (m *MCTS) Search(root game.State, enc convert.Encoder, simulations int) (SearchResult, error) {
	if !root.ToMove.Valid() {
		return SearchResult{}, ErrNoActingSide
	}
	if rules.IsTerminal(&root) {
		return SearchResult{}, ErrTerminalRoot
	}
	m.init()

	res := SearchResult{
		Key:   enc.Key(),
		Side:  root.ToMove,
		State: root,
		Input: enc.Encode(),
	}

	// A root carried over from a previous search was expanded without noise
	// (or with an old draw); give it a fresh draw once per search.
	if edges, ok := m.Tree.Lookup(res.Key); ok {
		legal := rules.LegalMask(&root)
		m.mixRootNoise(&edges, &legal)
		m.Tree.Update(res.Key, edges)
	}

	for i := 0; i < simulations; i++ {
		if err := m.simulate(root, enc, &res); err != nil {
			return res, fmt.Errorf("simulation %d: %w", i, err)
		}
		res.Simulations++
	}
	return res, nil
}

// simulate runs one select -> expand-or-terminal -> backup pass. enc is a
// private copy; all per-step scratch lives on this call's stack.
func (m *MCTS) simulate(root game.State, enc convert.Encoder, res *SearchResult) error {
	m.path = m.path[:0]
	defer func() { m.path = m.path[:0] }()

	input := convert.GetFloatBuffer()
	defer convert.PutFloatBuffer(input)

	s := root
	for depth := 0; ; depth++ {
		side := s.ToMove
		legal := rules.LegalMask(&s)
		key := enc.Key()

		edges, found := m.Tree.Lookup(key)
		var value float32
		if !found {
			enc.EncodeInto(*input)
			raw, priors, v, err := m.expand(*input, &legal, side, depth == 0)
			if err != nil {
				return err
			}
			edges = m.Tree.Create(key)
			for c := range edges {
				edges[c].P = float32(priors[c])
				edges[c].Prior = float32(raw[c])
			}
			m.Tree.Update(key, edges)
			value = v
		}

		cell, err := m.selectCell(&edges, &legal, side)
		if err != nil {
			return err
		}
		m.path = append(m.path, Step{Key: key, Cell: cell, Side: side})
		if depth > res.MaxDepth {
			res.MaxDepth = depth
		}

		if !found {
			res.Expansions++
			res.PathSteps += len(m.path)
			return m.backup(m.path, value)
		}

		a, err := game.ActionForCell(side, cell)
		if err != nil {
			return err
		}
		next, reward, done, _, err := rules.Step(s, a)
		if err != nil {
			return fmt.Errorf("step %s: %w", a, err)
		}
		if done {
			res.Terminals++
			res.Outcomes[reward+1]++
			res.PathSteps += len(m.path)
			return m.backup(m.path, float32(reward))
		}
		enc.Push(next, side)
		s = next
	}
}
