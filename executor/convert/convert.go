package convert

import (
	"sync"

	"github.com/brensch/tttzero/game"
	"github.com/zeebo/xxh3"
)

const (
	// HistoryLen is how many of its own most recent planes each actor keeps.
	HistoryLen = 4
	Channels   = 2*HistoryLen + 1
	Height     = game.Size
	Width      = game.Size
	InputSize  = Channels * game.Cells
)

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, InputSize)
		return &b
	},
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// History is a fixed-capacity ring of occupancy planes. The zero value holds
// HistoryLen empty planes, which is the history of an empty board.
type History struct {
	planes [HistoryLen]game.Plane
	head   int // index of the newest plane
}

// Push makes p the newest plane and evicts the oldest.
func (h *History) Push(p game.Plane) {
	h.head = (h.head + 1) % HistoryLen
	h.planes[h.head] = p
}

// At returns the i-th most recent plane (0 = newest).
func (h *History) At(i int) game.Plane {
	return h.planes[(h.head-i+HistoryLen)%HistoryLen]
}

// Encoder folds each actor's recent planes plus a side-identity plane into a
// canonical tensor. It is a plain value: assigning it clones the history.
//
// Channel layout (9 total):
// 0..3: Player occupancy, newest first
// 4..7: Opponent occupancy, newest first
// 8:    all ones when Player plays O, zeros otherwise
type Encoder struct {
	hist  [2]History
	oSide game.Side
}

func NewEncoder(oSide game.Side) Encoder {
	return Encoder{oSide: oSide}
}

// NewEncoderFrom seeds both histories with the current planes of s.
// Used when starting from a position that was not played through this encoder.
func NewEncoderFrom(s game.State) Encoder {
	e := NewEncoder(s.OSide)
	if s.Board[game.Player] != (game.Plane{}) {
		e.hist[game.Player].Push(s.Board[game.Player])
	}
	if s.Board[game.Opponent] != (game.Plane{}) {
		e.hist[game.Opponent].Push(s.Board[game.Opponent])
	}
	return e
}

// Push records the plane of the side that just moved.
func (e *Encoder) Push(s game.State, mover game.Side) {
	if !mover.Valid() {
		return
	}
	e.hist[mover].Push(s.Board[mover])
}

// Canonical returns the encoded state as one byte per tensor element.
// Logically identical histories always produce identical bytes.
func (e *Encoder) Canonical() [InputSize]byte {
	var out [InputSize]byte
	for side := game.Player; side <= game.Opponent; side++ {
		for i := 0; i < HistoryLen; i++ {
			p := e.hist[side].At(i)
			copy(out[(int(side)*HistoryLen+i)*game.Cells:], p[:])
		}
	}
	if e.oSide == game.Player {
		id := out[2*HistoryLen*game.Cells:]
		for c := range id {
			id[c] = 1
		}
	}
	return out
}

// Key is the 64-bit tree lookup key of the encoded state.
func (e *Encoder) Key() uint64 {
	b := e.Canonical()
	return xxh3.Hash(b[:])
}

// EncodeInto writes the [Channels, Height, Width] tensor into dst, which must
// have length InputSize.
func (e *Encoder) EncodeInto(dst []float32) {
	b := e.Canonical()
	for i, v := range b {
		dst[i] = float32(v)
	}
}

// Encode returns a freshly allocated tensor, safe to retain.
func (e *Encoder) Encode() []float32 {
	out := make([]float32, InputSize)
	e.EncodeInto(out)
	return out
}
