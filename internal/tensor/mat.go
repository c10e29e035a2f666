package tensor

import "math/rand"

// Mat represents a dense row-major matrix of float64 values.
//
// R and C are the number of rows and columns. Stride is the number of
// elements between the starts of two consecutive rows; for freshly
// allocated matrices it equals C. Data holds the flattened values.
//
// Rotation and calibration math is done in float64 throughout: the
// orthogonality of a rotation degrades visibly at float32 precision once
// matrices reach model hidden sizes, and the quantizer needs the extra
// headroom when measuring reconstruction error.
//
// Mat performs no memory safety beyond Go's slice checks; out-of-range
// indices panic.
type Mat struct {
	R, C   int
	Stride int
	Data   []float64
}

// NewMat allocates a zero-initialised matrix with the given dimensions.
func NewMat(r, c int) *Mat {
	if r < 0 || c < 0 {
		panic("tensor: negative dimension for matrix")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   make([]float64, r*c),
	}
}

// NewMatFromData wraps existing data as a matrix. The data length must
// equal r*c.
func NewMatFromData(r, c int, data []float64) *Mat {
	if r*c != len(data) {
		panic("tensor: data length mismatch")
	}
	return &Mat{
		R:      r,
		C:      c,
		Stride: c,
		Data:   data,
	}
}

// Identity returns the n x n identity matrix.
func Identity(n int) *Mat {
	m := NewMat(n, n)
	for i := 0; i < n; i++ {
		m.Data[i*m.Stride+i] = 1
	}
	return m
}

// Row returns a view of the i-th row. Modifications to the returned slice
// update the underlying matrix.
func (m *Mat) Row(i int) []float64 {
	if i < 0 || i >= m.R {
		panic("tensor: row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// At returns the element at row i, column j.
func (m *Mat) At(i, j int) float64 {
	if i < 0 || i >= m.R || j < 0 || j >= m.C {
		panic("tensor: index out of range")
	}
	return m.Data[i*m.Stride+j]
}

// Set assigns the element at row i, column j.
func (m *Mat) Set(i, j int, v float64) {
	if i < 0 || i >= m.R || j < 0 || j >= m.C {
		panic("tensor: index out of range")
	}
	m.Data[i*m.Stride+j] = v
}

// Clone returns a deep copy with a compact stride.
func (m *Mat) Clone() *Mat {
	out := NewMat(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// Transpose returns a new matrix that is the transpose of m.
func (m *Mat) Transpose() *Mat {
	out := NewMat(m.C, m.R)
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j, v := range row {
			out.Data[j*out.Stride+i] = v
		}
	}
	return out
}

// Col copies the j-th column into dst, which must have length >= R.
func (m *Mat) Col(dst []float64, j int) {
	if j < 0 || j >= m.C {
		panic("tensor: column index out of range")
	}
	if len(dst) < m.R {
		panic("tensor: column buffer too small")
	}
	for i := 0; i < m.R; i++ {
		dst[i] = m.Data[i*m.Stride+j]
	}
}

// FillRandn fills the matrix with standard normal values drawn from a
// seeded generator. The same seed always produces the same matrix.
func FillRandn(m *Mat, rng *rand.Rand) {
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
	}
}
