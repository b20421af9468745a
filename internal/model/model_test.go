package model

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/samcharles93/cantus/internal/tensor"
	"github.com/samcharles93/cantus/pkg/ccf"
)

// testWeights builds a hidden=2, input=3, classes=4 parameter set with
// deterministic non-trivial values.
func testWeights(h, in, cl int) Weights {
	fill := func(n int, scale float32) []float32 {
		out := make([]float32, n)
		for i := range out {
			out[i] = scale * float32(i%7-3) / 10
		}
		return out
	}
	return Weights{
		Wz: tensor.NewMatFromData(h, in, fill(h*in, 1)),
		Uz: tensor.NewMatFromData(h, h, fill(h*h, 2)),
		Bz: fill(h, 3),
		Wr: tensor.NewMatFromData(h, in, fill(h*in, 4)),
		Ur: tensor.NewMatFromData(h, h, fill(h*h, 5)),
		Br: fill(h, 6),
		Wc: tensor.NewMatFromData(h, in, fill(h*in, 7)),
		Uc: tensor.NewMatFromData(h, h, fill(h*h, 8)),
		Bc: fill(h, 9),

		ProjW: tensor.NewMatFromData(cl, h, fill(cl*h, 10)),
		ProjB: fill(cl, 11),
	}
}

func newTestGRU(t *testing.T, batch int) *GRU {
	t.Helper()
	m, err := NewGRU(Config{
		Name:       "test",
		InputWidth: 3,
		HiddenSize: 2,
		NumClasses: 4,
		BatchSize:  batch,
	}, testWeights(2, 3, 4))
	if err != nil {
		t.Fatalf("NewGRU: %v", err)
	}
	return m
}

func TestNewGRUValidation(t *testing.T) {
	t.Parallel()

	good := testWeights(2, 3, 4)
	cfg := Config{InputWidth: 3, HiddenSize: 2, NumClasses: 4}

	if _, err := NewGRU(Config{InputWidth: 0, HiddenSize: 2, NumClasses: 4}, good); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("zero input width: got %v, want ErrBadConfig", err)
	}
	if _, err := NewGRU(Config{InputWidth: 3, HiddenSize: 2, NumClasses: 4, BatchSize: -1}, good); !errors.Is(err, ErrBadConfig) {
		t.Fatalf("negative batch: got %v, want ErrBadConfig", err)
	}

	bad := good
	bad.Uz = tensor.NewMat(3, 3)
	if _, err := NewGRU(cfg, bad); !errors.Is(err, ErrBadWeights) {
		t.Fatalf("wrong Uz shape: got %v, want ErrBadWeights", err)
	}

	bad = good
	bad.Bc = make([]float32, 5)
	if _, err := NewGRU(cfg, bad); !errors.Is(err, ErrBadWeights) {
		t.Fatalf("wrong Bc length: got %v, want ErrBadWeights", err)
	}

	bad = good
	bad.InitState = make([]float32, 7)
	if _, err := NewGRU(cfg, bad); !errors.Is(err, ErrBadWeights) {
		t.Fatalf("wrong InitState length: got %v, want ErrBadWeights", err)
	}

	m, err := NewGRU(cfg, good)
	if err != nil {
		t.Fatalf("NewGRU: %v", err)
	}
	if m.BatchSize() != DefaultBatchSize {
		t.Fatalf("default batch = %d, want %d", m.BatchSize(), DefaultBatchSize)
	}
}

func TestInitialState(t *testing.T) {
	t.Parallel()

	m := newTestGRU(t, 2)
	s := m.InitialState()
	if len(s) != m.HiddenSize() {
		t.Fatalf("state length = %d, want %d", len(s), m.HiddenSize())
	}
	for i, v := range s {
		if v != 0 {
			t.Fatalf("state[%d] = %v, want 0", i, v)
		}
	}

	w := testWeights(2, 3, 4)
	w.InitState = []float32{0.5, -0.25}
	m2, err := NewGRU(Config{InputWidth: 3, HiddenSize: 2, NumClasses: 4}, w)
	if err != nil {
		t.Fatalf("NewGRU: %v", err)
	}
	s2 := m2.InitialState()
	s2[0] = 99 // callers own the returned slice
	if got := m2.InitialState()[0]; got != 0.5 {
		t.Fatalf("InitialState aliased: got %v, want 0.5", got)
	}
}

func TestStepShapeErrors(t *testing.T) {
	t.Parallel()

	m := newTestGRU(t, 2)
	state := func() []float32 { return make([]float32, 2) }
	input := func(n int) []float32 { return make([]float32, n) }

	if _, _, err := m.Step([][]float32{state()}, [][]float32{input(3)}, 1); !errors.Is(err, ErrBatchSize) {
		t.Fatalf("short batch: got %v, want ErrBatchSize", err)
	}
	if _, _, err := m.Step(
		[][]float32{state(), make([]float32, 3)},
		[][]float32{input(3), input(3)}, 1,
	); !errors.Is(err, ErrStateShape) {
		t.Fatalf("bad state row: got %v, want ErrStateShape", err)
	}
	if _, _, err := m.Step(
		[][]float32{state(), state()},
		[][]float32{input(3), input(4)}, 1,
	); !errors.Is(err, ErrInputShape) {
		t.Fatalf("non-multiple input row: got %v, want ErrInputShape", err)
	}
	if _, _, err := m.Step(
		[][]float32{state(), state()},
		[][]float32{input(6), input(3)}, 1,
	); !errors.Is(err, ErrInputShape) {
		t.Fatalf("ragged timesteps: got %v, want ErrInputShape", err)
	}
}

// refStep mirrors the GRU cell in float64 for one row.
func refStep(w Weights, in, hidden, classes int, state, input []float32, temp float64) ([]float32, []float32) {
	h := make([]float64, hidden)
	for i, v := range state {
		h[i] = float64(v)
	}
	matVec := func(m tensor.Mat, x []float64) []float64 {
		out := make([]float64, m.R)
		for i := 0; i < m.R; i++ {
			row := m.Row(i)
			var sum float64
			for j, v := range row {
				sum += float64(v) * x[j]
			}
			out[i] = sum
		}
		return out
	}
	sigmoid := func(v float64) float64 { return 1 / (1 + math.Exp(-v)) }

	steps := len(input) / in
	for t := 0; t < steps; t++ {
		x := make([]float64, in)
		for i, v := range input[t*in : (t+1)*in] {
			x[i] = float64(v)
		}
		z := matVec(w.Wz, x)
		r := matVec(w.Wr, x)
		uz := matVec(w.Uz, h)
		ur := matVec(w.Ur, h)
		for i := range z {
			z[i] = sigmoid(z[i] + uz[i] + float64(w.Bz[i]))
			r[i] = sigmoid(r[i] + ur[i] + float64(w.Br[i]))
		}
		rh := make([]float64, hidden)
		for i := range rh {
			rh[i] = r[i] * h[i]
		}
		c := matVec(w.Wc, x)
		uc := matVec(w.Uc, rh)
		for i := range c {
			c[i] = math.Tanh(c[i] + uc[i] + float64(w.Bc[i]))
		}
		for i := range h {
			h[i] = (1-z[i])*h[i] + z[i]*c[i]
		}
	}

	logits := matVec(w.ProjW, h)
	invTemp := 1.0
	if temp > 0 {
		invTemp = 1 / temp
	}
	maxL := math.Inf(-1)
	for i := range logits {
		logits[i] = (logits[i] + float64(w.ProjB[i])) * invTemp
		if logits[i] > maxL {
			maxL = logits[i]
		}
	}
	var sum float64
	dist := make([]float64, classes)
	for i := range logits {
		dist[i] = math.Exp(logits[i] - maxL)
		sum += dist[i]
	}

	outH := make([]float32, hidden)
	outD := make([]float32, classes)
	for i := range h {
		outH[i] = float32(h[i])
	}
	for i := range dist {
		outD[i] = float32(dist[i] / sum)
	}
	return outH, outD
}

func TestStepMatchesReference(t *testing.T) {
	t.Parallel()

	const batch = 3
	m := newTestGRU(t, batch)
	w := testWeights(2, 3, 4)

	states := make([][]float32, batch)
	inputs := make([][]float32, batch)
	for i := range states {
		states[i] = []float32{0.1 * float32(i), -0.2 * float32(i)}
		inputs[i] = []float32{float32(i), 1, 0.5 - float32(i)}
	}

	next, dist, err := m.Step(states, inputs, 0.8)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}

	for row := 0; row < batch; row++ {
		wantH, wantD := refStep(w, 3, 2, 4, states[row], inputs[row], 0.8)
		for i := range wantH {
			if d := math.Abs(float64(next[row][i] - wantH[i])); d > 1e-5 {
				t.Fatalf("row %d state[%d] = %v, want %v", row, i, next[row][i], wantH[i])
			}
		}
		var sum float32
		for i := range wantD {
			sum += dist[row][i]
			if d := math.Abs(float64(dist[row][i] - wantD[i])); d > 1e-5 {
				t.Fatalf("row %d dist[%d] = %v, want %v", row, i, dist[row][i], wantD[i])
			}
		}
		if math.Abs(float64(sum-1)) > 1e-5 {
			t.Fatalf("row %d dist sums to %v", row, sum)
		}
	}

	// Inputs must come out untouched.
	if states[1][0] != 0.1 || inputs[1][2] != -0.5 {
		t.Fatal("Step mutated its inputs")
	}
}

// TestStepMultiTimestep checks that one call carrying two encoded timesteps
// matches two chained single-timestep calls, with the distribution taken
// from the final timestep.
func TestStepMultiTimestep(t *testing.T) {
	t.Parallel()

	const batch = 2
	m := newTestGRU(t, batch)

	x1 := [][]float32{{0.2, -0.1, 0.3}, {1, 0, -1}}
	x2 := [][]float32{{-0.4, 0.5, 0}, {0.1, 0.1, 0.1}}

	zero := func() [][]float32 {
		s := make([][]float32, batch)
		for i := range s {
			s[i] = m.InitialState()
		}
		return s
	}

	s1, _, err := m.Step(zero(), x1, 1)
	if err != nil {
		t.Fatalf("first step: %v", err)
	}
	s2, d2, err := m.Step(s1, x2, 1)
	if err != nil {
		t.Fatalf("second step: %v", err)
	}

	both := make([][]float32, batch)
	for i := range both {
		both[i] = append(append([]float32{}, x1[i]...), x2[i]...)
	}
	sBoth, dBoth, err := m.Step(zero(), both, 1)
	if err != nil {
		t.Fatalf("combined step: %v", err)
	}

	for row := 0; row < batch; row++ {
		for i := range s2[row] {
			if d := math.Abs(float64(sBoth[row][i] - s2[row][i])); d > 1e-6 {
				t.Fatalf("row %d state[%d]: combined %v, chained %v", row, i, sBoth[row][i], s2[row][i])
			}
		}
		for i := range d2[row] {
			if d := math.Abs(float64(dBoth[row][i] - d2[row][i])); d > 1e-6 {
				t.Fatalf("row %d dist[%d]: combined %v, chained %v", row, i, dBoth[row][i], d2[row][i])
			}
		}
	}
}

func TestStepTemperature(t *testing.T) {
	t.Parallel()

	const batch = 1
	m := newTestGRU(t, batch)

	run := func(temp float64) []float32 {
		states := [][]float32{{0.3, -0.7}}
		inputs := [][]float32{{1, 0.5, -0.5}}
		_, dist, err := m.Step(states, inputs, temp)
		if err != nil {
			t.Fatalf("Step(temp=%v): %v", temp, err)
		}
		return dist[0]
	}

	base := run(1)
	cold := run(0.2)
	zero := run(0)

	maxIdx := func(d []float32) int {
		best := 0
		for i, v := range d {
			if v > d[best] {
				best = i
			}
		}
		return best
	}
	if maxIdx(base) != maxIdx(cold) {
		t.Fatal("temperature moved the argmax")
	}
	if cold[maxIdx(cold)] <= base[maxIdx(base)] {
		t.Fatalf("low temperature did not sharpen: %v vs %v", cold[maxIdx(cold)], base[maxIdx(base)])
	}
	// Temperature <= 0 behaves as 1.
	for i := range base {
		if d := math.Abs(float64(zero[i] - base[i])); d > 1e-7 {
			t.Fatalf("temp 0 dist[%d] = %v, want %v", i, zero[i], base[i])
		}
	}
}

type stTensor struct {
	DType       string  `json:"dtype"`
	Shape       []int   `json:"shape"`
	DataOffsets []int64 `json:"data_offsets"`
}

// writeCheckpoint builds a real safetensors file from float32 tensors.
func writeCheckpoint(t *testing.T, path string, tensors map[string]struct {
	Shape []int
	Data  []float32
}) {
	t.Helper()

	names := make([]string, 0, len(tensors))
	for name := range tensors {
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]stTensor, len(tensors))
	var payload []byte
	for _, name := range names {
		tt := tensors[name]
		start := int64(len(payload))
		for _, v := range tt.Data {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
			payload = append(payload, b[:]...)
		}
		header[name] = stTensor{
			DType:       "F32",
			Shape:       tt.Shape,
			DataOffsets: []int64{start, int64(len(payload))},
		}
	}

	headerBytes, err := json.Marshal(header)
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create checkpoint: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(headerBytes)))
	for _, chunk := range [][]byte{lenBuf[:], headerBytes, payload} {
		if _, err := f.Write(chunk); err != nil {
			t.Fatalf("write checkpoint: %v", err)
		}
	}
}

func checkpointTensors(w Weights, extra bool) map[string]struct {
	Shape []int
	Data  []float32
} {
	out := map[string]struct {
		Shape []int
		Data  []float32
	}{
		"gru.wz": {Shape: []int{w.Wz.R, w.Wz.C}, Data: w.Wz.Data},
		"gru.uz": {Shape: []int{w.Uz.R, w.Uz.C}, Data: w.Uz.Data},
		"gru.bz": {Shape: []int{len(w.Bz)}, Data: w.Bz},
		"gru.wr": {Shape: []int{w.Wr.R, w.Wr.C}, Data: w.Wr.Data},
		"gru.ur": {Shape: []int{w.Ur.R, w.Ur.C}, Data: w.Ur.Data},
		"gru.br": {Shape: []int{len(w.Br)}, Data: w.Br},
		"gru.wc": {Shape: []int{w.Wc.R, w.Wc.C}, Data: w.Wc.Data},
		"gru.uc": {Shape: []int{w.Uc.R, w.Uc.C}, Data: w.Uc.Data},
		"gru.bc": {Shape: []int{len(w.Bc)}, Data: w.Bc},
		"proj.w": {Shape: []int{w.ProjW.R, w.ProjW.C}, Data: w.ProjW.Data},
		"proj.b": {Shape: []int{len(w.ProjB)}, Data: w.ProjB},
	}
	if extra {
		out["optimizer.step"] = struct {
			Shape []int
			Data  []float32
		}{Shape: []int{1}, Data: []float32{42}}
	}
	return out
}

func TestPackLoadRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.safetensors")
	out := filepath.Join(dir, "model.ccf")

	w := testWeights(2, 3, 4)
	w.InitState = []float32{0.25, -0.5}
	tensors := checkpointTensors(w, true)
	tensors["state.init"] = struct {
		Shape []int
		Data  []float32
	}{Shape: []int{2}, Data: w.InitState}
	writeCheckpoint(t, ckpt, tensors)

	err := Pack(PackOptions{
		Checkpoint: ckpt,
		OutputPath: out,
		Name:       "roundtrip",
		Codec:      ccf.CodecInfo{Kind: ccf.CodecMelodyOneHot, MinNote: 60, MaxNote: 62},
		BatchSize:  4,
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	loaded, err := LoadFile(out, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	m := loaded.GRU
	if m.Name() != "roundtrip" || m.InputWidth() != 3 || m.HiddenSize() != 2 || m.NumClasses() != 4 {
		t.Fatalf("loaded dims: %s %d/%d/%d", m.Name(), m.InputWidth(), m.HiddenSize(), m.NumClasses())
	}
	if m.BatchSize() != 4 {
		t.Fatalf("stored batch = %d, want 4", m.BatchSize())
	}
	if loaded.Codec.MinNote != 60 || loaded.Codec.MaxNote != 62 {
		t.Fatalf("codec range = [%d, %d]", loaded.Codec.MinNote, loaded.Codec.MaxNote)
	}
	if got := m.InitialState(); got[0] != 0.25 || got[1] != -0.5 {
		t.Fatalf("initial state = %v", got)
	}

	// The loaded model must step identically to one built in memory.
	direct, err := NewGRU(Config{Name: "roundtrip", InputWidth: 3, HiddenSize: 2, NumClasses: 4, BatchSize: 4}, w)
	if err != nil {
		t.Fatalf("NewGRU: %v", err)
	}
	states := make([][]float32, 4)
	inputs := make([][]float32, 4)
	for i := range states {
		states[i] = m.InitialState()
		inputs[i] = []float32{float32(i) / 4, -0.5, 0.25}
	}
	cp := func(s [][]float32) [][]float32 {
		out := make([][]float32, len(s))
		for i := range s {
			out[i] = append([]float32{}, s[i]...)
		}
		return out
	}
	gotS, gotD, err := m.Step(cp(states), cp(inputs), 1)
	if err != nil {
		t.Fatalf("loaded Step: %v", err)
	}
	wantS, wantD, err := direct.Step(cp(states), cp(inputs), 1)
	if err != nil {
		t.Fatalf("direct Step: %v", err)
	}
	for row := range gotS {
		for i := range gotS[row] {
			if gotS[row][i] != wantS[row][i] {
				t.Fatalf("row %d state[%d]: %v vs %v", row, i, gotS[row][i], wantS[row][i])
			}
		}
		for i := range gotD[row] {
			if gotD[row][i] != wantD[row][i] {
				t.Fatalf("row %d dist[%d]: %v vs %v", row, i, gotD[row][i], wantD[row][i])
			}
		}
	}
}

func TestPackLoadBatchOverride(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.safetensors")
	out := filepath.Join(dir, "model.ccf")

	writeCheckpoint(t, ckpt, checkpointTensors(testWeights(2, 3, 4), false))

	err := Pack(PackOptions{
		Checkpoint: ckpt,
		OutputPath: out,
		Codec:      ccf.CodecInfo{Kind: ccf.CodecMelodyOneHot, MinNote: 60, MaxNote: 62},
	})
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}

	// No stored batch, no override: the model default applies.
	loaded, err := LoadFile(out, LoadOptions{})
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if loaded.GRU.BatchSize() != DefaultBatchSize {
		t.Fatalf("batch = %d, want %d", loaded.GRU.BatchSize(), DefaultBatchSize)
	}
	if loaded.GRU.Name() != "model" {
		t.Fatalf("derived name = %q, want %q", loaded.GRU.Name(), "model")
	}

	loaded, err = LoadFile(out, LoadOptions{BatchSize: 16})
	if err != nil {
		t.Fatalf("LoadFile override: %v", err)
	}
	if loaded.GRU.BatchSize() != 16 {
		t.Fatalf("batch = %d, want 16", loaded.GRU.BatchSize())
	}
}

func TestPackRejectsBadInputs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ckpt := filepath.Join(dir, "model.safetensors")
	out := filepath.Join(dir, "model.ccf")
	writeCheckpoint(t, ckpt, checkpointTensors(testWeights(2, 3, 4), false))

	// Codec kind is mandatory.
	err := Pack(PackOptions{Checkpoint: ckpt, OutputPath: out})
	if err == nil {
		t.Fatal("expected error for missing codec kind")
	}

	// Codec class count must match the projection head.
	err = Pack(PackOptions{
		Checkpoint: ckpt,
		OutputPath: out,
		Codec:      ccf.CodecInfo{Kind: ccf.CodecMelodyOneHot, MinNote: 48, MaxNote: 84},
	})
	if !errors.Is(err, ErrModelCodecMismatch) {
		t.Fatalf("class mismatch: got %v, want ErrModelCodecMismatch", err)
	}

	// Missing tensors fail before any output exists.
	partial := checkpointTensors(testWeights(2, 3, 4), false)
	delete(partial, "gru.uc")
	ckpt2 := filepath.Join(dir, "partial.safetensors")
	writeCheckpoint(t, ckpt2, partial)
	err = Pack(PackOptions{
		Checkpoint: ckpt2,
		OutputPath: filepath.Join(dir, "partial.ccf"),
		Codec:      ccf.CodecInfo{Kind: ccf.CodecMelodyOneHot, MinNote: 60, MaxNote: 62},
	})
	if err == nil {
		t.Fatal("expected error for missing tensor")
	}
}

func TestLoadRejectsMismatchedCodec(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ccf")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer func() { _ = f.Close() }()

	cw, err := ccf.NewWriter(f)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	mi, err := ccf.EncodeModelInfo(&ccf.ModelInfo{
		Name: "bad", Arch: ccf.ArchGRU, InputWidth: 3, HiddenSize: 2, NumClasses: 4,
	})
	if err != nil {
		t.Fatalf("EncodeModelInfo: %v", err)
	}
	ci, err := ccf.EncodeCodecInfo(&ccf.CodecInfo{Kind: ccf.CodecMelodyOneHot, MinNote: 48, MaxNote: 84})
	if err != nil {
		t.Fatalf("EncodeCodecInfo: %v", err)
	}
	if err := cw.WriteSection(ccf.SectionModelInfo, ccf.ModelInfoVersion, mi); err != nil {
		t.Fatalf("WriteSection: %v", err)
	}
	if err := cw.WriteSection(ccf.SectionCodecInfo, ccf.CodecInfoVersion, ci); err != nil {
		t.Fatalf("WriteSection: %v", err)
	}
	if err := cw.Finalise(); err != nil {
		t.Fatalf("Finalise: %v", err)
	}

	if _, err := LoadFile(path, LoadOptions{}); !errors.Is(err, ErrModelCodecMismatch) {
		t.Fatalf("got %v, want ErrModelCodecMismatch", err)
	}
}
