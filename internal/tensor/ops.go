package tensor

import "math"

// Dot computes the dot product of a and b. The slices must have equal
// length.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// Norm2 computes the Euclidean norm of x.
func Norm2(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Scale multiplies every element of x by s in place.
func Scale(x []float64, s float64) {
	for i := range x {
		x[i] *= s
	}
}

// Frobenius returns the Frobenius norm of m.
func (m *Mat) Frobenius() float64 {
	var sum float64
	for i := 0; i < m.R; i++ {
		for _, v := range m.Row(i) {
			sum += v * v
		}
	}
	return math.Sqrt(sum)
}

// MaxAbs returns the largest absolute value in m. Zero for an empty
// matrix.
func (m *Mat) MaxAbs() float64 {
	var maxAbs float64
	for i := 0; i < m.R; i++ {
		for _, v := range m.Row(i) {
			if a := math.Abs(v); a > maxAbs {
				maxAbs = a
			}
		}
	}
	return maxAbs
}

// AbsMax returns the largest absolute value in x. Zero for an empty
// slice.
func AbsMax(x []float64) float64 {
	var maxAbs float64
	for _, v := range x {
		if a := math.Abs(v); a > maxAbs {
			maxAbs = a
		}
	}
	return maxAbs
}

// Sub computes dst = a - b element-wise. All matrices must share
// dimensions.
func Sub(dst, a, b *Mat) {
	if a.R != b.R || a.C != b.C || dst.R != a.R || dst.C != a.C {
		panic("tensor: dimension mismatch in Sub")
	}
	for i := 0; i < a.R; i++ {
		da, ra, rb := dst.Row(i), a.Row(i), b.Row(i)
		for j := range da {
			da[j] = ra[j] - rb[j]
		}
	}
}
