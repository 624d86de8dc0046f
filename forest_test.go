package main

import (
	"math"
	"math/rand"
	"testing"
)

// twoClusterData builds a linearly separable two-class problem around
// the points (0, 0) and (10, 10).
func twoClusterData(rng *rand.Rand, n int) (X [][]float64, y []string) {
	X = make([][]float64, n)
	y = make([]string, n)
	for i := range X {
		if i%2 == 0 {
			X[i] = []float64{rng.NormFloat64(), rng.NormFloat64()}
			y[i] = "no"
		} else {
			X[i] = []float64{10 + rng.NormFloat64(), 10 + rng.NormFloat64()}
			y[i] = "yes"
		}
	}
	return X, y
}

func TestForestFitsSeparableData(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	X, y := twoClusterData(rng, 200)

	cfg := DefaultForestConfig()
	cfg.NumTrees = 20
	rf := NewRandomForest(cfg)
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	classes := rf.Classes()
	if len(classes) != 2 || classes[0] != "no" || classes[1] != "yes" {
		t.Fatalf("Classes = %v, want [no yes]", classes)
	}

	preds := rf.Predict(X)
	wrong := 0
	for i := range preds {
		if preds[i] != y[i] {
			wrong++
		}
	}
	if wrong > 5 {
		t.Errorf("%d of %d training rows misclassified on separable data", wrong, len(X))
	}
}

func TestForestProbabilitiesSumToOne(t *testing.T) {
	rng := rand.New(rand.NewSource(8))
	X, y := twoClusterData(rng, 100)

	cfg := DefaultForestConfig()
	cfg.NumTrees = 10
	rf := NewRandomForest(cfg)
	if err := rf.Fit(X, y); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	probas := rf.PredictProba([][]float64{{0, 0}, {10, 10}, {5, 5}})
	for i, probs := range probas {
		sum := 0.0
		for _, p := range probs {
			if p < 0 || p > 1 {
				t.Errorf("row %d probability %g outside [0, 1]", i, p)
			}
			sum += p
		}
		if math.Abs(sum-1) > 1e-9 {
			t.Errorf("row %d probabilities sum to %g", i, sum)
		}
	}
}

func TestForestIsDeterministicPerSeed(t *testing.T) {
	rng := rand.New(rand.NewSource(12))
	X, y := twoClusterData(rng, 60)

	cfg := DefaultForestConfig()
	cfg.NumTrees = 5
	cfg.Seed = 99

	a := NewRandomForest(cfg)
	b := NewRandomForest(cfg)
	if err := a.Fit(X, y); err != nil {
		t.Fatal(err)
	}
	if err := b.Fit(X, y); err != nil {
		t.Fatal(err)
	}

	probeX := [][]float64{{1, 1}, {9, 9}, {4, 6}}
	pa := a.PredictProba(probeX)
	pb := b.PredictProba(probeX)
	for i := range pa {
		for c := range pa[i] {
			if pa[i][c] != pb[i][c] {
				t.Fatalf("same seed gave different probabilities at row %d", i)
			}
		}
	}
}

func TestForestFitShapeMismatch(t *testing.T) {
	rf := NewRandomForest(DefaultForestConfig())
	if err := rf.Fit([][]float64{{1, 2}}, []string{"a", "b"}); err == nil {
		t.Error("mismatched X/y lengths accepted")
	}
	if err := rf.Fit([][]float64{{1, 2}, {3}}, []string{"a", "b"}); err == nil {
		t.Error("ragged feature rows accepted")
	}
	if err := rf.Fit(nil, nil); err == nil {
		t.Error("empty X accepted")
	}
}

func TestGini(t *testing.T) {
	if g := gini([]int{5, 0}, 5); g != 0 {
		t.Errorf("pure gini = %g, want 0", g)
	}
	if g := gini([]int{5, 5}, 10); math.Abs(g-0.5) > 1e-12 {
		t.Errorf("balanced gini = %g, want 0.5", g)
	}
	if g := gini(nil, 0); g != 0 {
		t.Errorf("empty gini = %g, want 0", g)
	}
}
