package convert

import (
	"testing"

	"github.com/brensch/tttzero/game"
	"github.com/brensch/tttzero/rules"
)

func stepCell(t *testing.T, s game.State, cell int) game.State {
	t.Helper()
	a, err := game.ActionForCell(s.ToMove, cell)
	if err != nil {
		t.Fatalf("action: %v", err)
	}
	next, _, _, _, err := rules.Step(s, a)
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	return next
}

func TestHistory_PushEvictsOldest(t *testing.T) {
	var h History
	for i := 0; i < HistoryLen+2; i++ {
		var p game.Plane
		p[i%game.Cells] = 1
		h.Push(p)
	}
	for i := 0; i < HistoryLen; i++ {
		want := (HistoryLen + 1 - i) % game.Cells
		if h.At(i)[want] != 1 {
			t.Fatalf("At(%d)=%v want cell %d set", i, h.At(i), want)
		}
	}
}

func TestEncoder_Deterministic(t *testing.T) {
	play := func() Encoder {
		s := rules.NewState(game.Player)
		enc := NewEncoder(s.OSide)
		for _, cell := range []int{4, 0, 8} {
			mover := s.ToMove
			s = stepCell(t, s, cell)
			enc.Push(s, mover)
		}
		return enc
	}
	a, b := play(), play()
	if a.Key() != b.Key() {
		t.Fatalf("keys differ for identical histories: %x vs %x", a.Key(), b.Key())
	}
	if a.Canonical() != b.Canonical() {
		t.Fatalf("canonical bytes differ")
	}
}

func TestEncoder_HistoryDistinguishesMoveOrder(t *testing.T) {
	s1 := rules.NewState(game.Player)
	e1 := NewEncoder(game.Player)
	s2 := s1
	e2 := e1
	for _, cell := range []int{0, 4, 8} {
		m := s1.ToMove
		s1 = stepCell(t, s1, cell)
		e1.Push(s1, m)
	}
	for _, cell := range []int{8, 4, 0} {
		m := s2.ToMove
		s2 = stepCell(t, s2, cell)
		e2.Push(s2, m)
	}
	if s1.Board != s2.Board {
		t.Fatalf("boards should match")
	}
	if e1.Key() == e2.Key() {
		t.Fatalf("different move orders should encode differently")
	}
}

func TestEncoder_IdentityPlane(t *testing.T) {
	p := NewEncoder(game.Player)
	o := NewEncoder(game.Opponent)
	if p.Key() == o.Key() {
		t.Fatalf("identity plane should separate who plays O")
	}
	x := p.Encode()
	for i := 2 * HistoryLen * game.Cells; i < InputSize; i++ {
		if x[i] != 1 {
			t.Fatalf("identity[%d]=%v want 1", i, x[i])
		}
	}
}

func TestEncoder_CopyIsIndependent(t *testing.T) {
	s := rules.NewState(game.Player)
	root := NewEncoder(s.OSide)
	rootKey := root.Key()

	sim := root
	next := stepCell(t, s, 4)
	sim.Push(next, game.Player)

	if root.Key() != rootKey {
		t.Fatalf("pushing to a copy mutated the original")
	}
	if sim.Key() == rootKey {
		t.Fatalf("copy should have advanced")
	}
	x := sim.Encode()
	if x[4] != 1 {
		t.Fatalf("newest player plane should have cell 4 set: %v", x[:game.Cells])
	}
}
