package inference

import (
	"errors"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/brensch/tttzero/executor/convert"
	"github.com/brensch/tttzero/game"
	"github.com/brensch/tttzero/rules"
	ort "github.com/yalue/onnxruntime_go"
)

func TestSoftmax(t *testing.T) {
	logits := []float32{1, 2, 3, 1000, -1000, 0, 0, 0, 0}
	Softmax(logits)
	var sum float64
	for i, p := range logits {
		if p < 0 || math.IsNaN(float64(p)) {
			t.Fatalf("p[%d]=%v", i, p)
		}
		sum += float64(p)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Fatalf("sum=%v want 1", sum)
	}
	if logits[3] < 0.99 {
		t.Fatalf("dominant logit got p=%v", logits[3])
	}
}

func TestUniformPredictor(t *testing.T) {
	u := &UniformPredictor{}
	prior, v, err := u.Predict(make([]float32, InputSize))
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(prior) != game.Cells || v != 0 {
		t.Fatalf("prior=%v v=%v", prior, v)
	}
	for _, p := range prior {
		if p != 1.0/game.Cells {
			t.Fatalf("prior not uniform: %v", prior)
		}
	}
	if _, _, err := u.Predict(make([]float32, 3)); !errors.Is(err, ErrInputSize) {
		t.Fatalf("err=%v want ErrInputSize", err)
	}
	if got := u.Stats().TotalItems; got != 1 {
		t.Fatalf("calls=%d want 1", got)
	}
}

func TestEmptyPool(t *testing.T) {
	p := &OnnxPool{}
	if _, _, err := p.Predict(make([]float32, InputSize)); err == nil {
		t.Fatalf("expected error from empty pool")
	}
}

func TestMissingModel(t *testing.T) {
	if _, err := NewOnnxClientWithConfig(filepath.Join(t.TempDir(), "missing.onnx"), OnnxClientConfig{}); err == nil {
		t.Fatalf("expected error for missing model")
	}
}

// idleClient has no session; its batch timeout is long enough that no batch
// ever runs during a test.
func idleClient() *OnnxClient {
	return startClient(nil, OnnxClientConfig{BatchSize: 4, BatchTimeout: time.Hour})
}

func TestOnnxClient_CloseWaitsForBatchLoop(t *testing.T) {
	c := idleClient()
	errc := make(chan error, 1)
	go func() {
		_, _, err := c.Predict(make([]float32, InputSize))
		errc <- err
	}()
	for c.inflight.Load() == 0 {
		runtime.Gosched()
	}

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	select {
	case <-c.stopped:
	default:
		t.Fatalf("Close returned before the batch loop exited")
	}
	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("pending predict err=%v want ErrClosed", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("pending predict never returned")
	}
	if _, _, err := c.Predict(make([]float32, InputSize)); !errors.Is(err, ErrClosed) {
		t.Fatalf("predict after close err=%v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestOnnxPool_PicksLeastLoaded(t *testing.T) {
	p := &OnnxPool{clients: []*OnnxClient{idleClient(), idleClient(), idleClient()}}
	defer p.Close()
	p.clients[0].inflight.Store(3)
	p.clients[1].inflight.Store(1)
	p.clients[2].inflight.Store(2)
	for i := 0; i < 6; i++ {
		if got := p.pick(); got != p.clients[1] {
			t.Fatalf("pick %d chose a busier client", i)
		}
	}

	p.clients[0].inflight.Store(0)
	p.clients[1].inflight.Store(0)
	p.clients[2].inflight.Store(0)
	seen := map[*OnnxClient]int{}
	for i := 0; i < 6; i++ {
		seen[p.pick()]++
	}
	for i, c := range p.clients {
		if seen[c] != 2 {
			t.Fatalf("idle client %d picked %d times, want 2", i, seen[c])
		}
	}
}

func TestOnnxPool_Stats(t *testing.T) {
	p := &OnnxPool{clients: []*OnnxClient{idleClient(), idleClient()}}
	defer p.Close()
	p.clients[0].batches.Store(2)
	p.clients[0].items.Store(6)
	p.clients[0].last.Store(4)
	p.clients[1].batches.Store(2)
	p.clients[1].items.Store(2)
	p.clients[1].last.Store(1)
	p.clients[1].inflight.Store(5)

	st := p.Stats()
	if st.TotalBatches != 4 || st.TotalItems != 8 || st.LastBatchSize != 4 || st.InFlight != 5 {
		t.Fatalf("stats=%+v", st)
	}
	if st.AvgBatchSize != 2 {
		t.Fatalf("avg batch=%v want 2", st.AvgBatchSize)
	}
}

func randomEncoder(r *rand.Rand) convert.Encoder {
	env := &rules.Env{}
	s := env.Reset(game.Side(r.IntN(2)))
	enc := convert.NewEncoderFrom(s)
	for !env.Done() {
		moves := rules.GetLegalMoves(&s)
		mover := s.ToMove
		a, _ := game.ActionForCell(mover, moves[r.IntN(len(moves))])
		next, _, done, _, err := env.Step(a)
		if err != nil || done {
			break
		}
		enc.Push(next, mover)
		s = next
	}
	return enc
}

func BenchmarkEncodeInto(b *testing.B) {
	r := rand.New(rand.NewPCG(1, 2))
	encs := make([]convert.Encoder, 1024)
	for i := range encs {
		encs[i] = randomEncoder(r)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ptr := convert.GetFloatBuffer()
		encs[i%len(encs)].EncodeInto(*ptr)
		convert.PutFloatBuffer(ptr)
	}
}

func BenchmarkOnnxSessionRun(b *testing.B) {
	modelCandidates := []string{
		"../../models/tttzero.onnx",
		"../../models/latest.onnx",
	}
	modelPath := ""
	if p := os.Getenv("TTTZERO_BENCH_ONNX_MODEL"); p != "" {
		modelCandidates = append([]string{p}, modelCandidates...)
	}
	for _, p := range modelCandidates {
		if _, err := os.Stat(p); err == nil {
			modelPath = p
			break
		}
	}
	if modelPath == "" {
		b.Skip("ONNX model not found in models/; skipping")
	}
	b.Logf("Using model: %s", modelPath)

	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			// go test runs in the package dir; walk up to the repo root.
			dir := cwd
			for up := 0; up < 6; up++ {
				abs := filepath.Join(dir, "libonnxruntime.so")
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
				parent := filepath.Dir(dir)
				if parent == dir {
					break
				}
				dir = parent
			}
		}
	}

	if err := ort.InitializeEnvironment(); err != nil {
		if !strings.Contains(err.Error(), "already been initialized") {
			b.Skipf("ORT init failed: %v", err)
		}
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		b.Skipf("ORT options failed: %v", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(1)
	opts.SetInterOpNumThreads(1)

	sess, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, opts)
	if err != nil {
		b.Skipf("ORT session failed: %v", err)
	}
	defer sess.Destroy()

	batch := int64(64)
	input := make([]float32, int(batch)*InputSize)
	for i := range input {
		input[i] = float32(i % 2)
	}
	inTensor, err := ort.NewTensor(ort.NewShape(batch, convert.Channels, convert.Height, convert.Width), input)
	if err != nil {
		b.Fatalf("input tensor: %v", err)
	}
	defer inTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, PolicySize))
	if err != nil {
		b.Fatalf("policy tensor: %v", err)
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(batch, ValueSize))
	if err != nil {
		b.Fatalf("value tensor: %v", err)
	}
	defer valueTensor.Destroy()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := sess.Run([]ort.Value{inTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
			b.Fatalf("run: %v", err)
		}
	}
	b.StopTimer()
	if dt := b.Elapsed().Seconds(); dt > 0 {
		b.ReportMetric((float64(b.N)*float64(batch))/dt, "inf/s")
	}
}
