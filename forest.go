package main

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"

	"golang.org/x/sync/errgroup"
)

// A CART random forest classifier over string class labels. This is the
// underlying learner the conformal wrapper calibrates.

// ForestConfig holds the forest hyperparameters.
type ForestConfig struct {
	NumTrees        int
	MaxDepth        int // 0 means unlimited
	MinSamplesSplit int
	MinSamplesLeaf  int
	MaxFeatures     int // 0 means sqrt(feature count)
	Bootstrap       bool
	Seed            int64
}

// DefaultForestConfig returns the usual forest defaults.
func DefaultForestConfig() ForestConfig {
	return ForestConfig{
		NumTrees:        100,
		MaxDepth:        0,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		MaxFeatures:     0,
		Bootstrap:       true,
		Seed:            1,
	}
}

// RandomForest is a bag of CART trees voting by averaged class
// probabilities.
type RandomForest struct {
	config  ForestConfig
	classes []string // sorted distinct labels; proba columns align with this
	trees   []*decisionTree
}

// NewRandomForest creates an unfitted forest.
func NewRandomForest(config ForestConfig) *RandomForest {
	return &RandomForest{config: config}
}

// Classes returns the sorted class labels after fitting. Probability
// columns from PredictProba align with this order.
func (rf *RandomForest) Classes() []string {
	return rf.classes
}

// Fit grows all trees, each on its own bootstrap sample with its own
// seed. Trees are independent, so they fit in parallel.
func (rf *RandomForest) Fit(X [][]float64, y []string) error {
	if len(X) == 0 {
		return errors.New("forest: empty X")
	}
	if len(y) != len(X) {
		return fmt.Errorf("%w: %d rows, %d labels", ErrShapeMismatch, len(X), len(y))
	}
	p := len(X[0])
	for i := range X {
		if len(X[i]) != p {
			return fmt.Errorf("%w: row %d has %d features, expected %d", ErrShapeMismatch, i, len(X[i]), p)
		}
	}

	// Sorted distinct classes, then labels as dense class indices.
	seen := make(map[string]struct{})
	for _, lab := range y {
		seen[lab] = struct{}{}
	}
	rf.classes = make([]string, 0, len(seen))
	for lab := range seen {
		rf.classes = append(rf.classes, lab)
	}
	sort.Strings(rf.classes)
	classIdx := make(map[string]int, len(rf.classes))
	for i, lab := range rf.classes {
		classIdx[lab] = i
	}
	yIdx := make([]int, len(y))
	for i, lab := range y {
		yIdx[i] = classIdx[lab]
	}

	maxFeatures := rf.config.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > p {
		maxFeatures = int(math.Sqrt(float64(p)))
		if maxFeatures < 1 {
			maxFeatures = 1
		}
	}

	rf.trees = make([]*decisionTree, rf.config.NumTrees)
	var g errgroup.Group
	for i := 0; i < rf.config.NumTrees; i++ {
		i := i
		g.Go(func() error {
			rng := rand.New(rand.NewSource(rf.config.Seed + int64(i)))

			// Bootstrap by index, not by copying rows.
			idx := make([]int, len(X))
			for j := range idx {
				if rf.config.Bootstrap {
					idx[j] = rng.Intn(len(X))
				} else {
					idx[j] = j
				}
			}

			t := &decisionTree{
				maxDepth:        rf.config.MaxDepth,
				minSamplesSplit: rf.config.MinSamplesSplit,
				minSamplesLeaf:  rf.config.MinSamplesLeaf,
				maxFeatures:     maxFeatures,
				numClasses:      len(rf.classes),
				rng:             rng,
			}
			t.fit(X, yIdx, idx)
			rf.trees[i] = t
			return nil
		})
	}
	return g.Wait()
}

// PredictProba returns per-row class probabilities averaged over trees,
// columns aligned with Classes().
func (rf *RandomForest) PredictProba(X [][]float64) [][]float64 {
	out := make([][]float64, len(X))
	inv := 1.0 / float64(len(rf.trees))
	for i, row := range X {
		probs := make([]float64, len(rf.classes))
		for _, t := range rf.trees {
			leaf := t.predictRow(row)
			for c, p := range leaf {
				probs[c] += p * inv
			}
		}
		out[i] = probs
	}
	return out
}

// Predict returns the highest-probability class label per row.
func (rf *RandomForest) Predict(X [][]float64) []string {
	probas := rf.PredictProba(X)
	out := make([]string, len(X))
	for i, probs := range probas {
		best := 0
		for c := 1; c < len(probs); c++ {
			if probs[c] > probs[best] {
				best = c
			}
		}
		out[i] = rf.classes[best]
	}
	return out
}

// decisionTree is a CART classifier grown with gini impurity.
type decisionTree struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	numClasses      int
	rng             *rand.Rand

	root *treeNode
}

type treeNode struct {
	leaf      bool
	probas    []float64 // leaf class distribution
	feature   int
	threshold float64 // x[feature] <= threshold goes left
	left      *treeNode
	right     *treeNode
}

func (t *decisionTree) fit(X [][]float64, y []int, idx []int) {
	t.root = t.grow(X, y, idx, 0)
}

func (t *decisionTree) grow(X [][]float64, y []int, idx []int, depth int) *treeNode {
	counts := make([]int, t.numClasses)
	for _, i := range idx {
		counts[y[i]]++
	}

	if len(idx) < t.minSamplesSplit ||
		(t.maxDepth > 0 && depth >= t.maxDepth) ||
		isPure(counts) {
		return t.leafNode(counts, len(idx))
	}

	feature, threshold, ok := t.bestSplit(X, y, idx, counts)
	if !ok {
		return t.leafNode(counts, len(idx))
	}

	var left, right []int
	for _, i := range idx {
		if X[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	if len(left) < t.minSamplesLeaf || len(right) < t.minSamplesLeaf {
		return t.leafNode(counts, len(idx))
	}

	return &treeNode{
		feature:   feature,
		threshold: threshold,
		left:      t.grow(X, y, left, depth+1),
		right:     t.grow(X, y, right, depth+1),
	}
}

func (t *decisionTree) leafNode(counts []int, n int) *treeNode {
	probas := make([]float64, t.numClasses)
	if n > 0 {
		for c, cnt := range counts {
			probas[c] = float64(cnt) / float64(n)
		}
	}
	return &treeNode{leaf: true, probas: probas}
}

// bestSplit scans a random feature subset for the threshold with the
// lowest weighted gini impurity. Candidate thresholds sit between
// consecutive distinct values.
func (t *decisionTree) bestSplit(X [][]float64, y []int, idx []int, counts []int) (feature int, threshold float64, ok bool) {
	n := len(idx)
	parentGini := gini(counts, n)
	bestGain := 0.0

	features := t.rng.Perm(len(X[idx[0]]))[:t.maxFeatures]
	sorted := make([]int, n)

	for _, f := range features {
		copy(sorted, idx)
		sort.Slice(sorted, func(a, b int) bool { return X[sorted[a]][f] < X[sorted[b]][f] })

		leftCounts := make([]int, t.numClasses)
		rightCounts := make([]int, t.numClasses)
		copy(rightCounts, counts)

		for k := 0; k < n-1; k++ {
			c := y[sorted[k]]
			leftCounts[c]++
			rightCounts[c]--

			// Only split between distinct values.
			if X[sorted[k]][f] == X[sorted[k+1]][f] {
				continue
			}

			nLeft, nRight := k+1, n-k-1
			weighted := (float64(nLeft)*gini(leftCounts, nLeft) +
				float64(nRight)*gini(rightCounts, nRight)) / float64(n)
			if gain := parentGini - weighted; gain > bestGain {
				bestGain = gain
				feature = f
				threshold = (X[sorted[k]][f] + X[sorted[k+1]][f]) / 2
				ok = true
			}
		}
	}
	return feature, threshold, ok
}

func (t *decisionTree) predictRow(row []float64) []float64 {
	node := t.root
	for !node.leaf {
		if row[node.feature] <= node.threshold {
			node = node.left
		} else {
			node = node.right
		}
	}
	return node.probas
}

func gini(counts []int, n int) float64 {
	if n == 0 {
		return 0
	}
	impurity := 1.0
	for _, c := range counts {
		p := float64(c) / float64(n)
		impurity -= p * p
	}
	return impurity
}

func isPure(counts []int) bool {
	nonZero := 0
	for _, c := range counts {
		if c > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}
