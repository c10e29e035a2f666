package tensor

import "runtime"

// Blocked matmul tile sizes. Chosen for L1 residency of the B tile at
// float64 width; sweeps beyond this showed no benefit on the matrix
// shapes rotation work produces (hidden-size square and tall-skinny
// activation blocks).
const (
	tileM = 32
	tileN = 64
	tileK = 32
)

type matmulTask struct {
	c, a, b *Mat
	rs, re  int
	done    chan struct{}
}

type matmulPool struct {
	size      int
	tasks     chan matmulTask
	doneSlots chan chan struct{}
}

func newMatmulPool() *matmulPool {
	size := runtime.GOMAXPROCS(0)
	if size < 1 {
		size = 1
	}
	p := &matmulPool{
		size:      size,
		tasks:     make(chan matmulTask, size*2),
		doneSlots: make(chan chan struct{}, size),
	}
	for i := 0; i < size; i++ {
		p.doneSlots <- make(chan struct{}, 1)
	}
	for w := 0; w < size; w++ {
		go func() {
			for task := range p.tasks {
				matmulRangeRows(task.c, task.a, task.b, task.rs, task.re)
				task.done <- struct{}{}
			}
		}()
	}
	return p
}

var matmulWorkPool = newMatmulPool()

// MatMul computes dst = a*b using a blocked algorithm, parallelising
// across ranges of output rows. workers <= 0 uses GOMAXPROCS.
func MatMul(dst, a, b *Mat, workers int) {
	if a.C != b.R || dst.R != a.R || dst.C != b.C {
		panic("tensor: matmul dimension mismatch")
	}
	if dst.R == 0 || dst.C == 0 {
		return
	}

	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > dst.R {
		workers = dst.R
	}
	if workers > matmulWorkPool.size {
		workers = matmulWorkPool.size
	}
	if workers <= 1 {
		matmulRangeRows(dst, a, b, 0, dst.R)
		return
	}

	chunk := (dst.R + workers - 1) / workers

	done := <-matmulWorkPool.doneSlots
	for w := 0; w < workers; w++ {
		rs := w * chunk
		re := rs + chunk
		if re > dst.R {
			re = dst.R
		}
		matmulWorkPool.tasks <- matmulTask{c: dst, a: a, b: b, rs: rs, re: re, done: done}
	}
	for i := 0; i < workers; i++ {
		<-done
	}
	matmulWorkPool.doneSlots <- done
}

// MulNew is a convenience wrapper allocating the destination.
func MulNew(a, b *Mat) *Mat {
	dst := NewMat(a.R, b.C)
	MatMul(dst, a, b, 0)
	return dst
}

// matmulRangeRows performs a blocked matmul on a contiguous range of
// rows of c, overwriting them.
func matmulRangeRows(c, a, b *Mat, rs, re int) {
	n := c.C
	k := a.C
	cData, aData, bData := c.Data, a.Data, b.Data
	cStride, aStride, bStride := c.Stride, a.Stride, b.Stride

	for i := rs; i < re; i++ {
		base := i * cStride
		clear(cData[base : base+n])
	}

	for i0 := rs; i0 < re; i0 += tileM {
		iMax := min(i0+tileM, re)
		for k0 := 0; k0 < k; k0 += tileK {
			kMax := min(k0+tileK, k)
			for j0 := 0; j0 < n; j0 += tileN {
				jMax := min(j0+tileN, n)
				blockUpdate(cData, aData, bData, cStride, aStride, bStride, i0, iMax, j0, jMax, k0, kMax)
			}
		}
	}
}

func blockUpdate(cData, aData, bData []float64, cStride, aStride, bStride int, i0, iMax, j0, jMax, k0, kMax int) {
	width := jMax - j0
	for i := i0; i < iMax; i++ {
		aRow := aData[i*aStride:]
		cOff := i*cStride + j0
		cRow := cData[cOff : cOff+width]

		for kk := k0; kk < kMax; kk++ {
			aik := aRow[kk]
			if aik == 0 {
				continue
			}
			bOff := kk*bStride + j0
			bRow := bData[bOff : bOff+width]

			j := 0
			for ; j+3 < width; j += 4 {
				cRow[j+0] += aik * bRow[j+0]
				cRow[j+1] += aik * bRow[j+1]
				cRow[j+2] += aik * bRow[j+2]
				cRow[j+3] += aik * bRow[j+3]
			}
			for ; j < width; j++ {
				cRow[j] += aik * bRow[j]
			}
		}
	}
}
