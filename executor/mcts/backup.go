package mcts

import (
	"fmt"

	"github.com/brensch/tttzero/game"
)

// backup propagates v (game.Player's perspective) along path. Each step's edge
// gets N+1 and W+v for Player, W-v for Opponent, then Q=W/N. Steps are applied
// one at a time against the store, so a key that recurs in the path is updated
// once per occurrence.
func (m *MCTS) backup(path []Step, v float32) error {
	for _, st := range path {
		edges, ok := m.Tree.Lookup(st.Key)
		if !ok {
			return fmt.Errorf("backup: node %016x not in tree", st.Key)
		}
		e := &edges[st.Cell]
		e.N++
		if st.Side == game.Player {
			e.W += v
		} else {
			e.W -= v
		}
		e.Q = e.W / float32(e.N)
		m.Tree.Update(st.Key, edges)
	}
	return nil
}
