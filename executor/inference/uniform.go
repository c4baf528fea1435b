package inference

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/brensch/tttzero/game"
)

var (
	ErrClosed    = errors.New("inference client closed")
	ErrInputSize = errors.New("unexpected input size")
)

// UniformPredictor is the oracle used before any model exists: a flat prior
// over all cells and a neutral value. Search masks illegal cells itself.
type UniformPredictor struct {
	calls atomic.Int64
}

func (u *UniformPredictor) Predict(input []float32) ([]float32, float32, error) {
	if len(input) != InputSize {
		return nil, 0, fmt.Errorf("%w: got %d want %d", ErrInputSize, len(input), InputSize)
	}
	u.calls.Add(1)
	prior := make([]float32, game.Cells)
	for i := range prior {
		prior[i] = 1.0 / game.Cells
	}
	return prior, 0, nil
}

func (u *UniformPredictor) Stats() RuntimeStats {
	n := u.calls.Load()
	return RuntimeStats{TotalBatches: n, TotalItems: n, LastBatchSize: 1, AvgBatchSize: 1}
}

// Softmax converts logits to probabilities in place.
func Softmax(logits []float32) {
	if len(logits) == 0 {
		return
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	var sum float32
	for i, v := range logits {
		e := float32(math.Exp(float64(v - maxLogit)))
		logits[i] = e
		sum += e
	}
	for i := range logits {
		logits[i] /= sum
	}
}
