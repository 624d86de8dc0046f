package main

import (
	"fmt"
	"math"
	"math/rand"
)

// Training runs a fixed number of iterations over randomly sampled
// batches, with AdamW updates at a small constant learning rate and a
// periodic loss estimate averaged over many random batches from both
// splits.

// TrainConfig holds training hyperparameters.
type TrainConfig struct {
	LearningRate float64
	WeightDecay  float64
	GradClip     float64

	BatchSize    int
	MaxIters     int
	EvalInterval int
	EvalIters    int

	AdamBeta1   float64
	AdamBeta2   float64
	AdamEpsilon float64
}

// DefaultTrainConfig mirrors the experiment's settings.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		LearningRate: 3e-6,
		WeightDecay:  0.01,
		GradClip:     1.0,
		BatchSize:    8,
		MaxIters:     5000,
		EvalInterval: 500,
		EvalIters:    200,
		AdamBeta1:    0.9,
		AdamBeta2:    0.999,
		AdamEpsilon:  1e-8,
	}
}

// Batch pairs encoded input sequences with per-position target codes.
type Batch struct {
	Inputs  [][]int
	Targets [][]int
}

// SampleBatch draws batchSize rows with replacement and broadcasts each
// row's single target code across the block length.
func SampleBatch(rng *rand.Rand, sequences [][]int, targetCodes []int, batchSize, blockSize int) Batch {
	b := Batch{
		Inputs:  make([][]int, batchSize),
		Targets: make([][]int, batchSize),
	}
	for i := 0; i < batchSize; i++ {
		j := rng.Intn(len(sequences))
		b.Inputs[i] = sequences[j]
		b.Targets[i] = BroadcastTarget(targetCodes[j], blockSize)
	}
	return b
}

// Optimizer updates parameters from their accumulated gradients.
type Optimizer interface {
	Step(params []*Tensor, lr float64)
	ZeroGrad(params []*Tensor)
}

// AdamW implements Adam with decoupled weight decay.
type AdamW struct {
	beta1, beta2 float64
	epsilon      float64
	weightDecay  float64

	m []*Tensor // first moment
	v []*Tensor // second moment
	t int
}

// NewAdamW creates the optimizer with moment buffers shaped like params.
func NewAdamW(params []*Tensor, beta1, beta2, epsilon, weightDecay float64) *AdamW {
	m := make([]*Tensor, len(params))
	v := make([]*Tensor, len(params))
	for i, p := range params {
		m[i] = NewTensor(p.shape...)
		v[i] = NewTensor(p.shape...)
	}
	return &AdamW{
		beta1:       beta1,
		beta2:       beta2,
		epsilon:     epsilon,
		weightDecay: weightDecay,
		m:           m,
		v:           v,
	}
}

// Step performs one AdamW update. Weight decay is applied directly to
// the parameters, not folded into the gradient.
func (opt *AdamW) Step(params []*Tensor, lr float64) {
	opt.t++
	bias1 := 1.0 - math.Pow(opt.beta1, float64(opt.t))
	bias2 := 1.0 - math.Pow(opt.beta2, float64(opt.t))

	for i, p := range params {
		for j := range p.data {
			g := p.grad[j]
			opt.m[i].data[j] = opt.beta1*opt.m[i].data[j] + (1.0-opt.beta1)*g
			opt.v[i].data[j] = opt.beta2*opt.v[i].data[j] + (1.0-opt.beta2)*g*g

			mHat := opt.m[i].data[j] / bias1
			vHat := opt.v[i].data[j] / bias2

			p.data[j] -= lr * opt.weightDecay * p.data[j]
			p.data[j] -= lr * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (opt *AdamW) ZeroGrad(params []*Tensor) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// CrossEntropyLoss computes the mean negative log-likelihood of the
// target codes under softmax(logits), averaged over positions.
func CrossEntropyLoss(logits *Tensor, targets []int) float64 {
	if len(logits.shape) != 2 {
		panic("train: CrossEntropyLoss expects 2D logits")
	}
	rows, cols := logits.shape[0], logits.shape[1]
	if len(targets) != rows {
		panic(fmt.Sprintf("train: target length %d != positions %d", len(targets), rows))
	}

	total := 0.0
	for r := 0; r < rows; r++ {
		maxLogit := logits.At(r, 0)
		for c := 1; c < cols; c++ {
			if v := logits.At(r, c); v > maxLogit {
				maxLogit = v
			}
		}
		sumExp := 0.0
		for c := 0; c < cols; c++ {
			sumExp += math.Exp(logits.At(r, c) - maxLogit)
		}
		logSumExp := maxLogit + math.Log(sumExp)
		total += logSumExp - logits.At(r, targets[r])
	}
	return total / float64(rows)
}

// TrainStep runs forward and backward over one batch and applies the
// optimizer. Returns the mean batch loss.
func TrainStep(model *GPT, batch Batch, optimizer Optimizer, lr float64, gradClip float64) float64 {
	params := model.Parameters()
	optimizer.ZeroGrad(params)

	totalLoss := 0.0
	invBatch := 1.0 / float64(len(batch.Inputs))
	for i := range batch.Inputs {
		logits, cache := model.ForwardWithCache(batch.Inputs[i])
		totalLoss += CrossEntropyLoss(logits, batch.Targets[i])

		// Scale so parameter grads match the loss averaged over the batch.
		gradLogits := Scale(CrossEntropyBackward(logits, batch.Targets[i]), invBatch)
		model.Backward(gradLogits, cache)
	}

	if gradClip > 0 {
		clipGradients(params, gradClip)
	}
	optimizer.Step(params, lr)

	return totalLoss * invBatch
}

// clipGradients rescales all gradients when their global norm exceeds
// maxNorm.
func clipGradients(params []*Tensor, maxNorm float64) {
	norm := 0.0
	for _, p := range params {
		for _, g := range p.grad {
			norm += g * g
		}
	}
	norm = math.Sqrt(norm)
	if norm <= maxNorm {
		return
	}
	scale := maxNorm / norm
	for _, p := range params {
		for i := range p.grad {
			p.grad[i] *= scale
		}
	}
}

// Parameters returns every trainable tensor in the model.
func (g *GPT) Parameters() []*Tensor {
	params := []*Tensor{g.tokenEmbed, g.posEmbed}
	for _, block := range g.blocks {
		params = append(params,
			block.ln1.gamma, block.ln1.beta,
			block.attn.wq, block.attn.wk, block.attn.wv, block.attn.wo,
			block.ln2.gamma, block.ln2.beta,
			block.ff.w1, block.ff.b1, block.ff.w2, block.ff.b2,
		)
	}
	params = append(params, g.lnFinal.gamma, g.lnFinal.beta, g.lmHead)
	return params
}

// TokenDataset is one split's encoded rows and target codes.
type TokenDataset struct {
	Sequences [][]int
	Targets   []int
}

// EstimateLoss averages the dropout-free loss over EvalIters random
// batches from each split.
func EstimateLoss(rng *rand.Rand, model *GPT, splits map[string]TokenDataset, cfg TrainConfig) map[string]float64 {
	out := make(map[string]float64, len(splits))
	blockSize := model.Config().BlockSize
	for name, split := range splits {
		total := 0.0
		for k := 0; k < cfg.EvalIters; k++ {
			b := SampleBatch(rng, split.Sequences, split.Targets, cfg.BatchSize, blockSize)
			for i := range b.Inputs {
				logits := model.Forward(b.Inputs[i])
				total += CrossEntropyLoss(logits, b.Targets[i])
			}
		}
		out[name] = total / float64(cfg.EvalIters*cfg.BatchSize)
	}
	return out
}

// Train runs the full iteration loop, logging estimated train/val loss
// at every EvalInterval and on the final step.
func Train(rng *rand.Rand, model *GPT, train, val TokenDataset, cfg TrainConfig) {
	params := model.Parameters()
	optimizer := NewAdamW(params, cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEpsilon, cfg.WeightDecay)
	blockSize := model.Config().BlockSize
	splits := map[string]TokenDataset{"train": train, "val": val}

	for iter := 0; iter < cfg.MaxIters; iter++ {
		if iter%cfg.EvalInterval == 0 || iter == cfg.MaxIters-1 {
			losses := EstimateLoss(rng, model, splits, cfg)
			fmt.Printf("step %d: train loss %.4f, val loss %.4f\n", iter, losses["train"], losses["val"])
		}

		batch := SampleBatch(rng, train.Sequences, train.Targets, cfg.BatchSize, blockSize)
		TrainStep(model, batch, optimizer, cfg.LearningRate, cfg.GradClip)
	}
}
