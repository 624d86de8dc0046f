package main

import (
	"flag"
	"fmt"
	"math/rand"
	"time"
)

// RunTransformerCommand runs the full token pipeline: load the table,
// quantize it into a shared vocabulary, train the transformer, and write
// the actual-vs-predicted report for the held-out rows.
func RunTransformerCommand(args []string) error {
	fs := flag.NewFlagSet("transformer", flag.ExitOnError)

	dataPath := fs.String("data", "", "Input CSV with named columns (required)")
	outPath := fs.String("out", "transformer_output.csv", "Prediction report output path")
	labelCol := fs.String("label", "humanitarian", "Categorical label column (dropped)")
	targetCol := fs.String("target", "humanitarian_needs", "Numeric target column")
	granularity := fs.Float64("granularity", DefaultGranularity, "Quantization granularity")
	testFraction := fs.Float64("test", 0.1, "Held-out test fraction")
	seed := fs.Int64("seed", 0, "Random seed (0 = time-based)")

	// Model hyperparameters
	embedDim := fs.Int("embed", 384, "Embedding dimension")
	numHeads := fs.Int("heads", 6, "Number of attention heads")
	numLayers := fs.Int("layers", 6, "Number of transformer blocks")
	dropout := fs.Float64("dropout", 0.2, "Dropout rate during training")

	// Training hyperparameters
	maxIters := fs.Int("iters", 5000, "Training iterations")
	batchSize := fs.Int("batch", 8, "Batch size")
	lr := fs.Float64("lr", 3e-6, "Learning rate")
	evalInterval := fs.Int("eval-interval", 500, "Steps between loss estimates")
	evalIters := fs.Int("eval-iters", 200, "Batches per loss estimate")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if *dataPath == "" {
		return fmt.Errorf("transformer: -data is required")
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
	fmt.Printf("Rows: %d, feature columns (block size): %d\n", ds.Rows(), ds.BlockSize())

	qr, err := NewQuantizationRange(ds.Features, ds.Target, *granularity)
	if err != nil {
		return err
	}
	quantX := qr.QuantizeFeatures(ds.Features)
	quantY := qr.QuantizeTarget(ds.Target)

	vocab := BuildVocab(quantX, quantY)
	fmt.Printf("Vocab size: %d\n", vocab.Size())

	sequences, err := EncodeRows(vocab, quantX)
	if err != nil {
		return err
	}
	targetCodes, err := EncodeTargets(vocab, quantY)
	if err != nil {
		return err
	}

	trainIdx, testIdx := SplitIndices(rng, ds.Rows(), *testFraction)
	if len(testIdx) == 0 {
		return fmt.Errorf("transformer: test fraction %g leaves no test rows", *testFraction)
	}
	trainSet := TokenDataset{
		Sequences: Select(sequences, trainIdx),
		Targets:   Select(targetCodes, trainIdx),
	}
	testSet := TokenDataset{
		Sequences: Select(sequences, testIdx),
		Targets:   Select(targetCodes, testIdx),
	}

	config := Config{
		VocabSize: vocab.Size(),
		BlockSize: ds.BlockSize(),
		EmbedDim:  *embedDim,
		NumHeads:  *numHeads,
		NumLayers: *numLayers,
		FFHidden:  4 * *embedDim,
		Dropout:   *dropout,
	}
	model := NewGPT(config)
	fmt.Printf("%.2fM parameters\n", float64(model.NumParams())/1e6)

	trainCfg := DefaultTrainConfig()
	trainCfg.LearningRate = *lr
	trainCfg.BatchSize = *batchSize
	trainCfg.MaxIters = *maxIters
	trainCfg.EvalInterval = *evalInterval
	trainCfg.EvalIters = *evalIters

	fmt.Println("=== Training ===")
	Train(rng, model, trainSet, testSet, trainCfg)

	fmt.Println("=== Generating Predictions ===")
	predicted := make([]int64, len(testIdx))
	for i, seq := range testSet.Sequences {
		out := model.Generate(rng, seq, 1)
		val, err := vocab.Decode(out[len(out)-1])
		if err != nil {
			return err
		}
		predicted[i] = val
	}

	err = WritePredictionReport(*outPath, *targetCol, ds.Columns, qr,
		Select(quantX, testIdx), Select(quantY, testIdx), predicted)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %d predictions to %s\n", len(testIdx), *outPath)
	return nil
}
