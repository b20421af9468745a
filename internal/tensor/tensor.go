// Package tensor provides the small dense float32 kernel set the reference
// step model needs: row-major matrices, matrix-vector products, and the
// activation functions of a gated recurrent cell.
package tensor

// Mat is a dense row-major matrix of float32 values. R and C are the row and
// column counts; Stride is the element distance between row starts (equal to
// C for matrices allocated here). Out-of-range indices panic via Go's slice
// checks; no further memory safety is provided.
type Mat struct {
	R, C   int
	Stride int
	Data   []float32
}

// NewMat allocates a zeroed matrix.
func NewMat(r, c int) Mat {
	if r < 0 || c < 0 {
		panic("tensor: negative matrix dimension")
	}
	return Mat{R: r, C: c, Stride: c, Data: make([]float32, r*c)}
}

// NewMatFromData wraps existing row-major data. The slice is retained, not
// copied; len(data) must equal r*c.
func NewMatFromData(r, c int, data []float32) Mat {
	if r*c != len(data) {
		panic("tensor: data length does not match dimensions")
	}
	return Mat{R: r, C: c, Stride: c, Data: data}
}

// Row returns the i-th row as a slice view into the matrix.
func (m *Mat) Row(i int) []float32 {
	return m.Data[i*m.Stride : i*m.Stride+m.C]
}

// MatVec computes dst = w * x. Shapes must satisfy len(dst) >= w.R and
// len(x) >= w.C; anything else is a programming error and panics. The loop is
// unrolled by four, which is enough for the small hidden sizes step models
// use; callers parallelize across the batch dimension instead.
func MatVec(dst []float32, w *Mat, x []float32) {
	if w.R == 0 || w.C == 0 {
		return
	}
	if len(dst) < w.R || len(x) < w.C {
		panic("tensor: matvec shape mismatch")
	}
	for i := 0; i < w.R; i++ {
		row := w.Data[i*w.Stride : i*w.Stride+w.C]
		var sum float32
		j := 0
		for ; j+3 < w.C; j += 4 {
			sum += row[j]*x[j] + row[j+1]*x[j+1] + row[j+2]*x[j+2] + row[j+3]*x[j+3]
		}
		for ; j < w.C; j++ {
			sum += row[j] * x[j]
		}
		dst[i] = sum
	}
}
