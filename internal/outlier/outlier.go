// Package outlier analyses activation and weight matrices for the
// channel outliers and massive activations that break low-bit
// quantization. Its reports feed the Householder rotation (which wants
// the worst channels) and the Procrustes refinement weighting.
package outlier

import (
	"math"
	"sort"

	"github.com/samcharles93/dfrot/internal/tensor"
)

// ChannelStat summarises one channel (column) of an activation matrix.
type ChannelStat struct {
	Index  int     `json:"index"`
	AbsMax float64 `json:"abs_max"`
	// Ratio is AbsMax relative to the median channel AbsMax.
	Ratio float64 `json:"ratio"`
}

// Report is the result of an outlier scan.
type Report struct {
	Channels []ChannelStat `json:"channels"`
	// MedianAbsMax is the median of per-channel absolute maxima.
	MedianAbsMax float64 `json:"median_abs_max"`
	// Massive lists channels whose ratio meets the massive threshold,
	// worst first.
	Massive []int `json:"massive"`
	// TopK lists the k channels with the largest absmax, worst first.
	TopK []int `json:"top_k"`
}

// Config controls a scan.
type Config struct {
	// MassiveThreshold is the ratio over the median absmax above which
	// a channel counts as massive. Default 30.
	MassiveThreshold float64
	// TopK is how many worst channels to report. Default 8.
	TopK int
}

func (c Config) withDefaults() Config {
	if c.MassiveThreshold == 0 {
		c.MassiveThreshold = 30
	}
	if c.TopK == 0 {
		c.TopK = 8
	}
	return c
}

// Analyze scans x (tokens along rows, channels along columns) and
// returns per-channel statistics.
func Analyze(x *tensor.Mat, cfg Config) Report {
	cfg = cfg.withDefaults()

	absMax := make([]float64, x.C)
	for i := 0; i < x.R; i++ {
		row := x.Row(i)
		for j, v := range row {
			if a := math.Abs(v); a > absMax[j] {
				absMax[j] = a
			}
		}
	}

	med := median(absMax)

	channels := make([]ChannelStat, x.C)
	for j, a := range absMax {
		ratio := 0.0
		if med > 0 {
			ratio = a / med
		}
		channels[j] = ChannelStat{Index: j, AbsMax: a, Ratio: ratio}
	}

	order := make([]int, x.C)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return absMax[order[a]] > absMax[order[b]] })

	topK := cfg.TopK
	if topK > len(order) {
		topK = len(order)
	}

	rep := Report{
		Channels:     channels,
		MedianAbsMax: med,
		TopK:         append([]int(nil), order[:topK]...),
	}
	for _, j := range order {
		if med > 0 && absMax[j] >= cfg.MassiveThreshold*med {
			rep.Massive = append(rep.Massive, j)
		}
	}
	return rep
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
