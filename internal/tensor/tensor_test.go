package tensor

import (
	"math"
	"testing"
)

func approxEqual(a, b, eps float32) bool {
	return float32(math.Abs(float64(a-b))) <= eps
}

func matVecNaive(w *Mat, x []float32) []float32 {
	out := make([]float32, w.R)
	for i := 0; i < w.R; i++ {
		row := w.Row(i)
		var sum float32
		for j := 0; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		out[i] = sum
	}
	return out
}

func TestMatVecMatchesNaive(t *testing.T) {
	// Odd column count exercises the unrolled tail.
	w := NewMat(5, 7)
	for i := range w.Data {
		w.Data[i] = float32(i%11) - 5.0
	}
	x := make([]float32, 7)
	for i := range x {
		x[i] = float32(i)*0.5 - 1.0
	}

	want := matVecNaive(&w, x)
	got := make([]float32, 5)
	MatVec(got, &w, x)

	for i := range want {
		if !approxEqual(got[i], want[i], 1e-5) {
			t.Fatalf("row %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestMatVecShapeMismatchPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on short dst")
		}
	}()
	w := NewMat(3, 3)
	MatVec(make([]float32, 2), &w, make([]float32, 3))
}

func TestNewMatFromData(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	m := NewMatFromData(2, 3, data)
	row := m.Row(1)
	if row[0] != 4 || row[2] != 6 {
		t.Fatalf("row 1 = %v, want [4 5 6]", row)
	}

	// The slice is retained, so writes through the matrix are visible.
	row[0] = 40
	if data[3] != 40 {
		t.Fatalf("data[3] = %v after write through Row, want 40", data[3])
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on length mismatch")
		}
	}()
	NewMatFromData(2, 3, data[:5])
}

func TestSoftmax(t *testing.T) {
	x := []float32{1, 2, 3, 4}
	Softmax(x)

	var sum float32
	for _, v := range x {
		sum += v
	}
	if !approxEqual(sum, 1.0, 1e-5) {
		t.Fatalf("softmax sum = %v, want 1", sum)
	}
	for i := 1; i < len(x); i++ {
		if x[i] <= x[i-1] {
			t.Fatalf("softmax not monotone over increasing logits: %v", x)
		}
	}
}

func TestSoftmaxLargeLogits(t *testing.T) {
	// Without max subtraction these would overflow to +Inf.
	x := []float32{1000, 1000, 1000}
	Softmax(x)
	for i, v := range x {
		if !approxEqual(v, 1.0/3.0, 1e-5) {
			t.Fatalf("x[%d] = %v, want 1/3", i, v)
		}
	}
}

func TestActivations(t *testing.T) {
	if got := Sigmoid(0); !approxEqual(got, 0.5, 1e-6) {
		t.Errorf("Sigmoid(0) = %v, want 0.5", got)
	}
	if got := Tanh(0); got != 0 {
		t.Errorf("Tanh(0) = %v, want 0", got)
	}
	if got := Sigmoid(20); !approxEqual(got, 1.0, 1e-6) {
		t.Errorf("Sigmoid(20) = %v, want ~1", got)
	}
	if got := Tanh(-20); !approxEqual(got, -1.0, 1e-6) {
		t.Errorf("Tanh(-20) = %v, want ~-1", got)
	}

	dst := []float32{1, 2, 3}
	Add(dst, []float32{10, 20, 30})
	if dst[0] != 11 || dst[1] != 22 || dst[2] != 33 {
		t.Errorf("Add = %v, want [11 22 33]", dst)
	}
}
