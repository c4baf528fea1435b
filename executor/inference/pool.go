package inference

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// OnnxPool spreads Predict calls over several OnnxClient sessions. Each call
// goes to the client with the fewest unanswered requests, so a session stuck
// on a large batch stops attracting work. Ties rotate round-robin.
type OnnxPool struct {
	clients []*OnnxClient
	rr      atomic.Uint64
}

func NewOnnxClientPoolWithConfig(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	if sessions <= 0 {
		sessions = 1
	}
	clients := make([]*OnnxClient, 0, sessions)
	for i := 0; i < sessions; i++ {
		c, err := NewOnnxClientWithConfig(modelPath, cfg)
		if err != nil {
			for _, created := range clients {
				_ = created.Close()
			}
			return nil, fmt.Errorf("create onnx client %d/%d: %w", i+1, sessions, err)
		}
		clients = append(clients, c)
	}
	return &OnnxPool{clients: clients}, nil
}

func (p *OnnxPool) pick() *OnnxClient {
	n := len(p.clients)
	start := int(p.rr.Add(1)-1) % n
	best := p.clients[start]
	load := best.inflight.Load()
	for i := 1; i < n && load > 0; i++ {
		c := p.clients[(start+i)%n]
		if l := c.inflight.Load(); l < load {
			best, load = c, l
		}
	}
	return best
}

func (p *OnnxPool) Predict(input []float32) ([]float32, float32, error) {
	if len(p.clients) == 0 {
		return nil, 0, fmt.Errorf("onnx pool has no clients")
	}
	return p.pick().Predict(input)
}

// Close closes every session and joins their errors.
func (p *OnnxPool) Close() error {
	var errs []error
	for i, c := range p.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("session %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Stats sums the per-session counters; LastBatchSize is the largest of them.
func (p *OnnxPool) Stats() RuntimeStats {
	var st RuntimeStats
	for _, c := range p.clients {
		st.merge(c.Stats())
	}
	st.average()
	return st
}

func (s *RuntimeStats) merge(o RuntimeStats) {
	s.TotalBatches += o.TotalBatches
	s.TotalItems += o.TotalItems
	s.TotalRunNanos += o.TotalRunNanos
	s.QueueLen += o.QueueLen
	s.InFlight += o.InFlight
	s.LastBatchSize = max(s.LastBatchSize, o.LastBatchSize)
}

func (s *RuntimeStats) average() {
	s.AvgBatchSize, s.AvgRunMs = 0, 0
	if s.TotalBatches > 0 {
		s.AvgBatchSize = float64(s.TotalItems) / float64(s.TotalBatches)
		s.AvgRunMs = (float64(s.TotalRunNanos) / 1e6) / float64(s.TotalBatches)
	}
}
