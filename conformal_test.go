package main

import (
	"errors"
	"math/rand"
	"testing"
)

func fittedWrapper(t *testing.T, seed int64) (*WrapClassifier, [][]float64, []string) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	X, y := twoClusterData(rng, 300)

	cfg := DefaultForestConfig()
	cfg.NumTrees = 20
	w := NewWrapClassifier(NewRandomForest(cfg), rng)

	if err := w.Fit(X[:150], y[:150]); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if err := w.Calibrate(X[150:225], y[150:225]); err != nil {
		t.Fatalf("Calibrate: %v", err)
	}
	return w, X[225:], y[225:]
}

func TestPredictPRequiresCalibration(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	w := NewWrapClassifier(NewRandomForest(DefaultForestConfig()), rng)
	if _, err := w.PredictP([][]float64{{0, 0}}); !errors.Is(err, errNotCalibrated) {
		t.Errorf("got %v, want errNotCalibrated", err)
	}
}

func TestPredictPRange(t *testing.T) {
	w, testX, _ := fittedWrapper(t, 21)

	pvals, err := w.PredictP(testX)
	if err != nil {
		t.Fatalf("PredictP: %v", err)
	}
	if len(pvals) != len(testX) {
		t.Fatalf("got %d p-value rows, want %d", len(pvals), len(testX))
	}
	for i, row := range pvals {
		if len(row) != len(w.Classes()) {
			t.Fatalf("row %d has %d p-values, want %d", i, len(row), len(w.Classes()))
		}
		for c, p := range row {
			if p <= 0 || p > 1 {
				t.Errorf("p-value [%d][%d] = %g outside (0, 1]", i, c, p)
			}
		}
	}
}

func TestPredictSetShrinksWithLowerConfidence(t *testing.T) {
	w, testX, _ := fittedWrapper(t, 33)

	setSize := func(confidence float64) float64 {
		sets, err := w.PredictSet(testX, confidence)
		if err != nil {
			t.Fatalf("PredictSet(%g): %v", confidence, err)
		}
		total := 0
		for _, set := range sets {
			for _, in := range set {
				if in {
					total++
				}
			}
		}
		return float64(total) / float64(len(sets))
	}

	high := setSize(0.99)
	low := setSize(0.5)
	if low > high {
		t.Errorf("avg set size %g at 0.5 confidence exceeds %g at 0.99", low, high)
	}
}

func TestEvaluateCoverage(t *testing.T) {
	w, testX, testY := fittedWrapper(t, 55)

	m, err := w.Evaluate(testX, testY, 0.9)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if m.Confidence != 0.9 {
		t.Errorf("Confidence = %g", m.Confidence)
	}
	// Conformal validity: error rate near or below 1-confidence. The
	// calibration set is small, so leave slack for finite-sample noise.
	if m.Error > 0.25 {
		t.Errorf("error rate %g far above significance 0.1", m.Error)
	}
	if m.AvgSetSize < 0 || m.AvgSetSize > float64(len(w.Classes())) {
		t.Errorf("AvgSetSize = %g outside [0, %d]", m.AvgSetSize, len(w.Classes()))
	}
	if m.OneC < 0 || m.OneC > 1 || m.Empty < 0 || m.Empty > 1 {
		t.Errorf("fractions out of range: oneC %g, empty %g", m.OneC, m.Empty)
	}
	// Separable clusters should mostly give singleton sets at 0.9.
	if m.OneC < 0.5 {
		t.Errorf("OneC = %g, expected mostly singleton sets on separable data", m.OneC)
	}
}

func TestCalibrateRejectsBadInput(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	X, y := twoClusterData(rng, 40)

	cfg := DefaultForestConfig()
	cfg.NumTrees = 5
	w := NewWrapClassifier(NewRandomForest(cfg), rng)
	if err := w.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	if err := w.Calibrate(X[:3], y[:2]); err == nil {
		t.Error("mismatched calibration lengths accepted")
	}
	if err := w.Calibrate(nil, nil); err == nil {
		t.Error("empty calibration set accepted")
	}
}
