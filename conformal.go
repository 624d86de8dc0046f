package main

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// A conformal prediction wrapper around the forest. After fitting on a
// proper training split and calibrating on a held-out split, it emits
// set-valued predictions with a coverage guarantee: at confidence c, the
// true class lands outside the set with frequency at most 1-c (up to
// sampling noise), assuming exchangeable data.
//
// Nonconformity is the hinge score 1 - p̂(y|x): how little probability
// the learner gave the true class.

var errNotCalibrated = errors.New("conformal: classifier not calibrated")

// WrapClassifier wraps a RandomForest with conformal calibration.
type WrapClassifier struct {
	learner *RandomForest
	rng     *rand.Rand

	calScores []float64 // sorted ascending nonconformity scores
}

// NewWrapClassifier wraps an unfitted learner. The rng smooths p-value
// ties; smoothing makes p-values exactly uniform under exchangeability.
func NewWrapClassifier(learner *RandomForest, rng *rand.Rand) *WrapClassifier {
	return &WrapClassifier{learner: learner, rng: rng}
}

// Classes returns the learner's class order after fitting.
func (w *WrapClassifier) Classes() []string {
	return w.learner.Classes()
}

// Fit trains the wrapped learner on the proper training split.
func (w *WrapClassifier) Fit(X [][]float64, y []string) error {
	return w.learner.Fit(X, y)
}

// Calibrate scores the calibration split and stores the sorted
// nonconformity scores used for p-values.
func (w *WrapClassifier) Calibrate(X [][]float64, y []string) error {
	if len(X) != len(y) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(X), len(y))
	}
	if len(X) == 0 {
		return errors.New("conformal: empty calibration set")
	}

	classIdx := make(map[string]int, len(w.learner.Classes()))
	for i, c := range w.learner.Classes() {
		classIdx[c] = i
	}

	probas := w.learner.PredictProba(X)
	w.calScores = make([]float64, len(X))
	for i, probs := range probas {
		ci, ok := classIdx[y[i]]
		if !ok {
			return fmt.Errorf("conformal: calibration label %q unseen during fit", y[i])
		}
		w.calScores[i] = 1.0 - probs[ci]
	}
	sort.Float64s(w.calScores)
	return nil
}

// PredictP returns smoothed conformal p-values per row, one column per
// class in Classes() order.
func (w *WrapClassifier) PredictP(X [][]float64) ([][]float64, error) {
	if w.calScores == nil {
		return nil, errNotCalibrated
	}
	n := float64(len(w.calScores))
	probas := w.learner.PredictProba(X)

	out := make([][]float64, len(X))
	for i, probs := range probas {
		p := make([]float64, len(probs))
		for c := range probs {
			alpha := 1.0 - probs[c]
			// Calibration scores strictly above alpha, and ties at alpha.
			lo := sort.SearchFloat64s(w.calScores, alpha)
			hi := sort.Search(len(w.calScores), func(k int) bool { return w.calScores[k] > alpha })
			greater := float64(len(w.calScores) - hi)
			ties := float64(hi - lo)
			p[c] = (greater + w.rng.Float64()*(ties+1)) / (n + 1)
		}
		out[i] = p
	}
	return out, nil
}

// PredictSet returns one boolean vector per row, aligned with Classes():
// class c is in the prediction set iff its p-value exceeds 1-confidence.
func (w *WrapClassifier) PredictSet(X [][]float64, confidence float64) ([][]bool, error) {
	pvals, err := w.PredictP(X)
	if err != nil {
		return nil, err
	}
	significance := 1.0 - confidence
	out := make([][]bool, len(pvals))
	for i, p := range pvals {
		set := make([]bool, len(p))
		for c := range p {
			set[c] = p[c] > significance
		}
		out[i] = set
	}
	return out, nil
}

// ConformalMetrics summarizes set-valued predictions against true labels.
type ConformalMetrics struct {
	Confidence float64
	Error      float64 // fraction of rows whose true class is outside the set
	AvgSetSize float64
	OneC       float64 // fraction of singleton sets
	Empty      float64 // fraction of empty sets
}

// Evaluate computes coverage metrics on a labeled test split.
func (w *WrapClassifier) Evaluate(X [][]float64, y []string, confidence float64) (ConformalMetrics, error) {
	sets, err := w.PredictSet(X, confidence)
	if err != nil {
		return ConformalMetrics{}, err
	}

	classIdx := make(map[string]int, len(w.learner.Classes()))
	for i, c := range w.learner.Classes() {
		classIdx[c] = i
	}

	errs := make([]float64, len(sets))
	sizes := make([]float64, len(sets))
	ones := make([]float64, len(sets))
	empties := make([]float64, len(sets))
	for i, set := range sets {
		size := 0
		for _, in := range set {
			if in {
				size++
			}
		}
		sizes[i] = float64(size)
		if size == 1 {
			ones[i] = 1
		}
		if size == 0 {
			empties[i] = 1
		}
		ci, ok := classIdx[y[i]]
		if !ok || !set[ci] {
			errs[i] = 1
		}
	}

	return ConformalMetrics{
		Confidence: confidence,
		Error:      stat.Mean(errs, nil),
		AvgSetSize: stat.Mean(sizes, nil),
		OneC:       stat.Mean(ones, nil),
		Empty:      stat.Mean(empties, nil),
	}, nil
}
