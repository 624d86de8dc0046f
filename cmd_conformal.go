package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"
)

// RunConformalCommand trains the random forest on the categorical needs
// label, conformally calibrates it, and reports set-valued predictions
// and coverage metrics on the held-out split.
//
// Split scheme: half the rows are held out for testing; a quarter of
// the remaining training rows become the calibration set.
func RunConformalCommand(args []string) error {
	fs := flag.NewFlagSet("conformal", flag.ExitOnError)

	dataPath := fs.String("data", "", "Input CSV with named columns (required)")
	labelCol := fs.String("label", "humanitarian", "Categorical label column to classify")
	targetCol := fs.String("target", "humanitarian_needs", "Numeric target column (dropped)")
	confidence := fs.Float64("confidence", 0.9, "Confidence level for prediction sets")
	numTrees := fs.Int("trees", 100, "Number of trees in the forest")
	testFraction := fs.Float64("test", 0.5, "Held-out test fraction")
	calFraction := fs.Float64("cal", 0.25, "Calibration fraction of the training rows")
	show := fs.Int("show", 10, "Prediction sets to print")
	seed := fs.Int64("seed", 0, "Random seed (0 = time-based)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return fmt.Errorf("conformal: -data is required")
	}
	if *confidence <= 0 || *confidence >= 1 {
		return fmt.Errorf("conformal: confidence must be in (0,1), got %g", *confidence)
	}
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(*seed))

	fmt.Println("=== Loading Dataset ===")
	ds, err := LoadDataset(*dataPath, *labelCol, *targetCol)
	if err != nil {
		return err
	}
	fmt.Printf("Rows: %d, features: %d\n", ds.Rows(), ds.BlockSize())

	X := ds.FeatureRows()
	trainIdx, testIdx := SplitIndices(rng, ds.Rows(), *testFraction)
	properIdx, calIdx := SplitIndices(rng, len(trainIdx), *calFraction)

	XTrain := Select(X, trainIdx)
	yTrain := Select(ds.Labels, trainIdx)
	XTest := Select(X, testIdx)
	yTest := Select(ds.Labels, testIdx)

	forestCfg := DefaultForestConfig()
	forestCfg.NumTrees = *numTrees
	forestCfg.Seed = *seed
	wrapped := NewWrapClassifier(NewRandomForest(forestCfg), rng)

	fmt.Println("=== Fitting ===")
	if err := wrapped.Fit(Select(XTrain, properIdx), Select(yTrain, properIdx)); err != nil {
		return err
	}
	if err := wrapped.Calibrate(Select(XTrain, calIdx), Select(yTrain, calIdx)); err != nil {
		return err
	}

	fmt.Println("=== Evaluating ===")
	metrics, err := wrapped.Evaluate(XTest, yTest, *confidence)
	if err != nil {
		return err
	}
	RenderConformalMetrics(os.Stdout, metrics)

	if *show > 0 {
		sets, err := wrapped.PredictSet(XTest, *confidence)
		if err != nil {
			return err
		}
		fmt.Println()
		RenderPredictionSets(os.Stdout, wrapped.Classes(), sets, yTest, *show)
	}
	return nil
}
