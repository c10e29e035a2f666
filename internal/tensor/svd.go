package tensor

import (
	"errors"
	"math"
	"sort"
)

var errSVDShape = errors.New("tensor: SVD requires rows >= cols")

const (
	svdMaxSweeps = 60
	svdTol       = 1e-12
)

// SVD computes a thin singular value decomposition a = u * diag(s) * vᵀ
// using one-sided Jacobi rotations. a must have at least as many rows as
// columns; u is R x C with orthonormal columns, v is C x C orthogonal
// and s holds the singular values in descending order. The input is not
// modified.
//
// One-sided Jacobi is slow compared to bidiagonalization-based methods
// but is simple, unconditionally stable and more than fast enough for
// the Procrustes solves this package exists for (square matrices at
// model hidden sizes, computed once per calibration run).
func SVD(a *Mat) (u *Mat, s []float64, v *Mat, err error) {
	if a.R < a.C {
		return nil, nil, nil, errSVDShape
	}
	m, n := a.R, a.C
	u = a.Clone()
	v = Identity(n)

	colP := make([]float64, m)
	colQ := make([]float64, m)

	for sweep := 0; sweep < svdMaxSweeps; sweep++ {
		converged := true
		for p := 0; p < n-1; p++ {
			for q := p + 1; q < n; q++ {
				u.Col(colP, p)
				u.Col(colQ, q)

				alpha := Dot(colP, colP)
				beta := Dot(colQ, colQ)
				gamma := Dot(colP, colQ)

				if math.Abs(gamma) <= svdTol*math.Sqrt(alpha*beta) {
					continue
				}
				converged = false

				zeta := (beta - alpha) / (2 * gamma)
				t := 1 / (math.Abs(zeta) + math.Sqrt(1+zeta*zeta))
				if zeta < 0 {
					t = -t
				}
				c := 1 / math.Sqrt(1+t*t)
				sn := c * t

				rotateCols(u, p, q, c, sn)
				rotateCols(v, p, q, c, sn)
			}
		}
		if converged {
			break
		}
	}

	s = make([]float64, n)
	for j := 0; j < n; j++ {
		u.Col(colP, j)
		s[j] = Norm2(colP[:m])
		if s[j] > 0 {
			inv := 1 / s[j]
			for i := 0; i < m; i++ {
				u.Data[i*u.Stride+j] *= inv
			}
		}
	}

	sortSVD(u, s, v)
	completeColumns(u, s)
	return u, s, v, nil
}

// completeColumns fills the U columns belonging to zero (or negligible)
// singular values with an orthonormal completion of the remaining
// columns. One-sided Jacobi leaves those columns as zero vectors when
// the input is rank deficient, but callers rely on U having orthonormal
// columns regardless of rank. s must be sorted descending.
func completeColumns(u *Mat, s []float64) {
	rank := len(s)
	for rank > 0 && s[rank-1] <= svdTol*s[0] {
		rank--
	}
	if rank == len(s) {
		return
	}

	col := make([]float64, u.R)
	proj := make([]float64, u.R)
	for j := rank; j < u.C; j++ {
		for e := 0; e < u.R; e++ {
			for i := range col {
				col[i] = 0
			}
			col[e] = 1
			// Orthogonalize twice; a single Gram-Schmidt pass loses
			// orthogonality when the seed vector lies close to the
			// span of the earlier columns.
			for pass := 0; pass < 2; pass++ {
				for k := 0; k < j; k++ {
					u.Col(proj, k)
					d := Dot(col, proj)
					for i := range col {
						col[i] -= d * proj[i]
					}
				}
			}
			norm := Norm2(col)
			if norm <= 1e-6 {
				continue
			}
			inv := 1 / norm
			for i := 0; i < u.R; i++ {
				u.Data[i*u.Stride+j] = col[i] * inv
			}
			break
		}
	}
}

// rotateCols applies the Givens rotation [c -s; s c] to columns p, q.
func rotateCols(m *Mat, p, q int, c, s float64) {
	for i := 0; i < m.R; i++ {
		base := i * m.Stride
		vp := m.Data[base+p]
		vq := m.Data[base+q]
		m.Data[base+p] = c*vp - s*vq
		m.Data[base+q] = s*vp + c*vq
	}
}

// sortSVD permutes columns of u and v so the singular values descend.
func sortSVD(u *Mat, s []float64, v *Mat) {
	n := len(s)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return s[order[a]] > s[order[b]] })

	inOrder := true
	for i, o := range order {
		if i != o {
			inOrder = false
			break
		}
	}
	if inOrder {
		return
	}

	su := NewMat(u.R, u.C)
	sv := NewMat(v.R, v.C)
	ss := make([]float64, n)
	for newJ, oldJ := range order {
		ss[newJ] = s[oldJ]
		for i := 0; i < u.R; i++ {
			su.Data[i*su.Stride+newJ] = u.Data[i*u.Stride+oldJ]
		}
		for i := 0; i < v.R; i++ {
			sv.Data[i*sv.Stride+newJ] = v.Data[i*v.Stride+oldJ]
		}
	}
	copy(s, ss)
	copy(u.Data, su.Data)
	copy(v.Data, sv.Data)
}
