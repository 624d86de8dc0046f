package main

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrDegenerateRange indicates a feature or target span of zero, which
// makes the affine rescaling undefined.
var ErrDegenerateRange = errors.New("quantize: degenerate range (min == max)")

// DefaultGranularity rounds values to the nearest million, the coarseness
// at which needs magnitudes become a usable token alphabet.
const DefaultGranularity = 1_000_000

// QuantizationRange holds the global bounds used to rescale feature cells
// into the target's numeric domain, plus the rounding granularity.
//
// The bounds are computed once per dataset, before any train/test split,
// and are immutable afterwards: training and inference must share the
// exact same mapping or codes stop meaning the same thing.
type QuantizationRange struct {
	XMin, XMax  float64
	YMin, YMax  float64
	Granularity float64
}

// NewQuantizationRange derives bounds from the full feature matrix and
// target vector. Fails with ErrDegenerateRange when either span is zero.
func NewQuantizationRange(X *mat.Dense, y []float64, granularity float64) (*QuantizationRange, error) {
	if granularity <= 0 {
		return nil, fmt.Errorf("quantize: granularity must be positive, got %g", granularity)
	}
	q := &QuantizationRange{
		XMin:        mat.Min(X),
		XMax:        mat.Max(X),
		YMin:        floats.Min(y),
		YMax:        floats.Max(y),
		Granularity: granularity,
	}
	if q.XMax == q.XMin {
		return nil, fmt.Errorf("%w: features are constant at %g", ErrDegenerateRange, q.XMin)
	}
	if q.YMax == q.YMin {
		return nil, fmt.Errorf("%w: target is constant at %g", ErrDegenerateRange, q.YMin)
	}
	return q, nil
}

// Scale maps a raw feature value into the target's numeric domain:
// min-max normalize over [XMin, XMax], then stretch over [YMin, YMax].
func (q *QuantizationRange) Scale(x float64) float64 {
	normal := (x - q.XMin) / (q.XMax - q.XMin)
	return normal*(q.YMax-q.YMin) + q.YMin
}

// Unscale inverts the affine transform only. The rounding applied by
// Quantize is lossy, so Unscale(Quantize(Scale(x))) recovers x only up
// to one granularity unit mapped back through the affine inverse.
func (q *QuantizationRange) Unscale(scaled float64) float64 {
	normal := (scaled - q.YMin) / (q.YMax - q.YMin)
	return normal*(q.XMax-q.XMin) + q.XMin
}

// Quantize rounds to the nearest multiple of the granularity and
// truncates to an integer. Midpoints round half away from zero, so with
// the default granularity 500000 becomes 1000000 and -500000 becomes
// -1000000.
func (q *QuantizationRange) Quantize(v float64) int64 {
	return int64(math.Round(v/q.Granularity) * q.Granularity)
}

// QuantizeFeatures scales every cell into the target domain and rounds it
// to the shared granularity, producing the integer matrix the vocabulary
// is built from.
func (q *QuantizationRange) QuantizeFeatures(X *mat.Dense) [][]int64 {
	rows, cols := X.Dims()
	out := make([][]int64, rows)
	for i := 0; i < rows; i++ {
		out[i] = make([]int64, cols)
		for j := 0; j < cols; j++ {
			out[i][j] = q.Quantize(q.Scale(X.At(i, j)))
		}
	}
	return out
}

// QuantizeTarget rounds raw target values to the shared granularity.
// No rescaling: targets already live in the target domain.
func (q *QuantizationRange) QuantizeTarget(y []float64) []int64 {
	out := make([]int64, len(y))
	for i, v := range y {
		out[i] = q.Quantize(v)
	}
	return out
}
