package main

import (
	"fmt"
	"math"
	"math/rand"
)

// A decoder-style transformer over the quantized-value token alphabet.
// Token and position embeddings feed a stack of pre-norm blocks
// (x = x + Attn(LN1(x)); x = x + FF(LN2(x))), a final LayerNorm, and a
// linear head producing logits over the vocabulary.
//
// Attention here carries NO causal mask. The token sequence is one table
// row, a fixed set of feature columns rather than a left-to-right
// stream, so every position may attend to every other.

// Config holds the model hyperparameters.
type Config struct {
	VocabSize int     // alphabet cardinality, output dimensionality
	BlockSize int     // sequence length = feature column count
	EmbedDim  int     // embedding width
	NumHeads  int     // attention heads
	NumLayers int     // transformer blocks
	FFHidden  int     // feed-forward hidden width, conventionally 4*EmbedDim
	Dropout   float64 // dropout rate, applied only on the training path
}

// DefaultConfig mirrors the experiment's hyperparameters: a 384-wide,
// 6-head, 6-layer model over 17-column rows.
func DefaultConfig(vocabSize, blockSize int) Config {
	return Config{
		VocabSize: vocabSize,
		BlockSize: blockSize,
		EmbedDim:  384,
		NumHeads:  6,
		NumLayers: 6,
		FFHidden:  4 * 384,
		Dropout:   0.2,
	}
}

// Attention implements multi-head scaled dot-product self-attention.
type Attention struct {
	embedDim int
	numHeads int
	headDim  int
	dropout  float64

	wq, wk, wv, wo *Tensor
}

// NewAttention creates an attention layer. embedDim must divide evenly
// among the heads.
func NewAttention(embedDim, numHeads int, dropout float64) *Attention {
	if embedDim%numHeads != 0 {
		panic(fmt.Sprintf("transformer: embedDim (%d) must be divisible by numHeads (%d)", embedDim, numHeads))
	}
	return &Attention{
		embedDim: embedDim,
		numHeads: numHeads,
		headDim:  embedDim / numHeads,
		dropout:  dropout,
		wq:       NewTensorRand(embedDim, embedDim),
		wk:       NewTensorRand(embedDim, embedDim),
		wv:       NewTensorRand(embedDim, embedDim),
		wo:       NewTensorRand(embedDim, embedDim),
	}
}

// Forward computes attention for x of shape (seqLen, embedDim) without
// dropout. Used for evaluation and generation.
func (a *Attention) Forward(x *Tensor) *Tensor {
	out, _ := a.forward(x, false)
	return out
}

func (a *Attention) forward(x *Tensor, train bool) (*Tensor, *AttentionCache) {
	if len(x.shape) != 2 {
		panic("transformer: attention input must be 2D (seqLen, embedDim)")
	}
	seqLen := x.shape[0]

	cache := &AttentionCache{input: x.Clone()}
	cache.q = MatMul(x, a.wq)
	cache.k = MatMul(x, a.wk)
	cache.v = MatMul(x, a.wv)

	scale := 1.0 / math.Sqrt(float64(a.headDim))
	concat := NewTensor(seqLen, a.embedDim)
	cache.heads = make([]*headCache, a.numHeads)

	for h := 0; h < a.numHeads; h++ {
		hc := &headCache{
			q: a.sliceHead(cache.q, h, seqLen),
			k: a.sliceHead(cache.k, h, seqLen),
			v: a.sliceHead(cache.v, h, seqLen),
		}

		// Affinities between all pairs of positions; no mask.
		scores := Scale(MatMul(hc.q, Transpose(hc.k)), scale)
		hc.weights = Softmax(scores)

		applied := hc.weights
		if train && a.dropout > 0 {
			hc.dropMask = dropoutMask(seqLen, seqLen, a.dropout)
			applied = mulMask(hc.weights, hc.dropMask)
		}

		context := MatMul(applied, hc.v)
		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				concat.data[i*a.embedDim+h*a.headDim+d] = context.data[i*a.headDim+d]
			}
		}
		cache.heads[h] = hc
	}

	cache.concat = concat.Clone()
	out := MatMul(concat, a.wo)
	return out, cache
}

// sliceHead extracts head h from a (seqLen, embedDim) projection.
func (a *Attention) sliceHead(proj *Tensor, h, seqLen int) *Tensor {
	out := NewTensor(seqLen, a.headDim)
	for i := 0; i < seqLen; i++ {
		copy(out.data[i*a.headDim:(i+1)*a.headDim],
			proj.data[i*a.embedDim+h*a.headDim:i*a.embedDim+(h+1)*a.headDim])
	}
	return out
}

// LayerNorm normalizes each row to zero mean and unit variance, then
// applies the learned scale and shift.
type LayerNorm struct {
	dim   int
	eps   float64
	gamma *Tensor
	beta  *Tensor
}

// NewLayerNorm creates a LayerNorm initialized to the identity transform.
func NewLayerNorm(dim int) *LayerNorm {
	gamma := NewTensor(dim)
	for i := range gamma.data {
		gamma.data[i] = 1.0
	}
	return &LayerNorm{dim: dim, eps: 1e-5, gamma: gamma, beta: NewTensor(dim)}
}

// Forward applies layer normalization to x of shape (seqLen, dim).
func (ln *LayerNorm) Forward(x *Tensor) *Tensor {
	if len(x.shape) != 2 {
		panic("transformer: LayerNorm input must be 2D")
	}
	rows, cols := x.shape[0], x.shape[1]
	out := NewTensor(rows, cols)
	for r := 0; r < rows; r++ {
		mean := 0.0
		for c := 0; c < cols; c++ {
			mean += x.data[r*cols+c]
		}
		mean /= float64(cols)
		variance := 0.0
		for c := 0; c < cols; c++ {
			d := x.data[r*cols+c] - mean
			variance += d * d
		}
		variance /= float64(cols)
		std := math.Sqrt(variance + ln.eps)
		for c := 0; c < cols; c++ {
			norm := (x.data[r*cols+c] - mean) / std
			out.data[r*cols+c] = norm*ln.gamma.data[c] + ln.beta.data[c]
		}
	}
	return out
}

// FeedForward is the position-wise MLP: ReLU(x@W1 + b1) @ W2 + b2.
type FeedForward struct {
	dropout float64
	w1, b1  *Tensor
	w2, b2  *Tensor
}

// NewFeedForward creates a feed-forward layer.
func NewFeedForward(embedDim, hiddenDim int, dropout float64) *FeedForward {
	return &FeedForward{
		dropout: dropout,
		w1:      NewTensorRand(embedDim, hiddenDim),
		b1:      NewTensor(hiddenDim),
		w2:      NewTensorRand(hiddenDim, embedDim),
		b2:      NewTensor(embedDim),
	}
}

// Forward applies the MLP without dropout.
func (ff *FeedForward) Forward(x *Tensor) *Tensor {
	out, _ := ff.forward(x, false)
	return out
}

func (ff *FeedForward) forward(x *Tensor, train bool) (*Tensor, *FFCache) {
	cache := &FFCache{input: x.Clone()}

	hidden := addBias(MatMul(x, ff.w1), ff.b1)
	cache.preActivation = hidden.Clone()
	hidden = ReLU(hidden)
	cache.hidden = hidden.Clone()

	out := addBias(MatMul(hidden, ff.w2), ff.b2)
	if train && ff.dropout > 0 {
		cache.dropMask = dropoutMask(out.shape[0], out.shape[1], ff.dropout)
		out = mulMask(out, cache.dropMask)
	}
	return out, cache
}

// Block is one transformer block with pre-norm residual wiring.
type Block struct {
	ln1  *LayerNorm
	attn *Attention
	ln2  *LayerNorm
	ff   *FeedForward
}

// NewBlock creates a transformer block from the config.
func NewBlock(config Config) *Block {
	return &Block{
		ln1:  NewLayerNorm(config.EmbedDim),
		attn: NewAttention(config.EmbedDim, config.NumHeads, config.Dropout),
		ln2:  NewLayerNorm(config.EmbedDim),
		ff:   NewFeedForward(config.EmbedDim, config.FFHidden, config.Dropout),
	}
}

// Forward applies the block without dropout.
func (b *Block) Forward(x *Tensor) *Tensor {
	x = Add(x, b.attn.Forward(b.ln1.Forward(x)))
	x = Add(x, b.ff.Forward(b.ln2.Forward(x)))
	return x
}

// GPT is the full model.
type GPT struct {
	config Config

	tokenEmbed *Tensor // (VocabSize, EmbedDim)
	posEmbed   *Tensor // (BlockSize, EmbedDim)
	blocks     []*Block
	lnFinal    *LayerNorm
	lmHead     *Tensor // (EmbedDim, VocabSize)
}

// NewGPT creates a model with normal(0, 0.02) initialized weights.
func NewGPT(config Config) *GPT {
	blocks := make([]*Block, config.NumLayers)
	for i := range blocks {
		blocks[i] = NewBlock(config)
	}
	return &GPT{
		config:     config,
		tokenEmbed: NewTensorRand(config.VocabSize, config.EmbedDim),
		posEmbed:   NewTensorRand(config.BlockSize, config.EmbedDim),
		blocks:     blocks,
		lnFinal:    NewLayerNorm(config.EmbedDim),
		lmHead:     NewTensorRand(config.EmbedDim, config.VocabSize),
	}
}

// Config returns the model hyperparameters.
func (g *GPT) Config() Config {
	return g.config
}

// NumParams returns the total trainable parameter count.
func (g *GPT) NumParams() int {
	n := 0
	for _, p := range g.Parameters() {
		n += p.Size()
	}
	return n
}

// embed builds the (seqLen, embedDim) input from token and position
// embeddings.
func (g *GPT) embed(tokens []int) *Tensor {
	seqLen := len(tokens)
	if seqLen > g.config.BlockSize {
		panic(fmt.Sprintf("transformer: sequence length %d exceeds block size %d", seqLen, g.config.BlockSize))
	}
	x := NewTensor(seqLen, g.config.EmbedDim)
	for i, tok := range tokens {
		if tok < 0 || tok >= g.config.VocabSize {
			panic(fmt.Sprintf("transformer: token %d outside vocabulary [0,%d)", tok, g.config.VocabSize))
		}
		for d := 0; d < g.config.EmbedDim; d++ {
			x.data[i*g.config.EmbedDim+d] = g.tokenEmbed.At(tok, d) + g.posEmbed.At(i, d)
		}
	}
	return x
}

// Forward computes (seqLen, VocabSize) logits for a token sequence,
// without dropout. Used for evaluation and generation.
func (g *GPT) Forward(tokens []int) *Tensor {
	x := g.embed(tokens)
	for _, block := range g.blocks {
		x = block.Forward(x)
	}
	x = g.lnFinal.Forward(x)
	return MatMul(x, g.lmHead)
}

// Generate extends a token sequence by sampling maxNewTokens tokens from
// the softmax of the last position's logits. The context is cropped to
// the block size before each forward pass.
func (g *GPT) Generate(rng *rand.Rand, context []int, maxNewTokens int) []int {
	tokens := make([]int, len(context))
	copy(tokens, context)

	for i := 0; i < maxNewTokens; i++ {
		cond := tokens
		if len(cond) > g.config.BlockSize {
			cond = cond[len(cond)-g.config.BlockSize:]
		}
		logits := g.Forward(cond)

		last := logits.shape[0] - 1
		row := make([]float64, g.config.VocabSize)
		for v := 0; v < g.config.VocabSize; v++ {
			row[v] = logits.At(last, v)
		}
		tokens = append(tokens, sampleMultinomial(rng, softmaxSlice(row)))
	}
	return tokens
}

// addBias adds a bias vector to each row of a 2D tensor.
func addBias(x, bias *Tensor) *Tensor {
	if len(x.shape) != 2 || len(bias.shape) != 1 || x.shape[1] != bias.shape[0] {
		panic("transformer: addBias dimension mismatch")
	}
	out := x.Clone()
	rows, cols := x.shape[0], x.shape[1]
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			out.data[r*cols+c] += bias.data[c]
		}
	}
	return out
}

// softmaxSlice converts logits to probabilities, guarding overflow by
// subtracting the max.
func softmaxSlice(logits []float64) []float64 {
	maxLogit := logits[0]
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}
	probs := make([]float64, len(logits))
	sum := 0.0
	for i, l := range logits {
		probs[i] = math.Exp(l - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// sampleMultinomial draws one index from a probability distribution.
func sampleMultinomial(rng *rand.Rand, probs []float64) int {
	r := rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}

// dropoutMask builds an inverted-dropout mask: entries are 0 with
// probability rate, otherwise 1/(1-rate) so activations keep their
// expected magnitude.
func dropoutMask(rows, cols int, rate float64) *Tensor {
	mask := NewTensor(rows, cols)
	keep := 1.0 / (1.0 - rate)
	for i := range mask.data {
		if rand.Float64() >= rate {
			mask.data[i] = keep
		}
	}
	return mask
}

// mulMask multiplies element-wise; shapes must match.
func mulMask(x, mask *Tensor) *Tensor {
	if !shapeEqual(x.shape, mask.shape) {
		panic("transformer: dropout mask shape mismatch")
	}
	out := NewTensor(x.shape...)
	for i := range out.data {
		out.data[i] = x.data[i] * mask.data[i]
	}
	return out
}
