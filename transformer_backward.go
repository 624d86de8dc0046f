package main

import "math"

// Manual backpropagation through the model. Each training forward stores
// the activations the backward pass needs; Backward walks the blocks in
// reverse, accumulating parameter gradients into each tensor's grad
// buffer.
//
// Residual wiring is pre-norm, so at every block the incoming gradient
// both passes straight through the residual and flows back through the
// branch: gradX = gradOut + LN1'(Attn'(gradOut)).

// ForwardCache stores activations for one training forward pass.
type ForwardCache struct {
	tokens      []int
	blockCaches []*BlockCache

	lnFinalInput  *Tensor // input to the final LayerNorm
	lnFinalOutput *Tensor // its output, input to the lm head
}

// BlockCache stores activations for one block.
type BlockCache struct {
	input     *Tensor // block input x
	ln1Out    *Tensor // LN1(x), attention input
	attnCache *AttentionCache
	afterAttn *Tensor // x + attention output
	ln2Out    *Tensor // LN2(afterAttn), feed-forward input
	ffCache   *FFCache
}

// AttentionCache stores activations for one attention layer.
type AttentionCache struct {
	input   *Tensor // layer input (already normalized)
	q, k, v *Tensor // full projections (seqLen, embedDim)
	heads   []*headCache
	concat  *Tensor // concatenated head contexts, input to wo
}

// headCache stores per-head activations.
type headCache struct {
	q, k, v  *Tensor // (seqLen, headDim)
	weights  *Tensor // softmax attention weights, pre-dropout
	dropMask *Tensor // nil outside training
}

// FFCache stores activations for one feed-forward layer.
type FFCache struct {
	input         *Tensor
	preActivation *Tensor
	hidden        *Tensor
	dropMask      *Tensor // nil outside training
}

// ForwardWithCache runs the training-path forward (dropout active) and
// returns logits plus the cache Backward consumes.
func (g *GPT) ForwardWithCache(tokens []int) (*Tensor, *ForwardCache) {
	cache := &ForwardCache{
		tokens:      tokens,
		blockCaches: make([]*BlockCache, g.config.NumLayers),
	}

	x := g.embed(tokens)
	for layer, block := range g.blocks {
		bc := &BlockCache{input: x.Clone()}

		bc.ln1Out = block.ln1.Forward(x)
		attnOut, ac := block.attn.forward(bc.ln1Out, true)
		bc.attnCache = ac
		x = Add(x, attnOut)
		bc.afterAttn = x.Clone()

		bc.ln2Out = block.ln2.Forward(x)
		ffOut, fc := block.ff.forward(bc.ln2Out, true)
		bc.ffCache = fc
		x = Add(x, ffOut)

		cache.blockCaches[layer] = bc
	}

	cache.lnFinalInput = x.Clone()
	x = g.lnFinal.Forward(x)
	cache.lnFinalOutput = x.Clone()

	return MatMul(x, g.lmHead), cache
}

// Backward propagates the logits gradient through the whole model,
// accumulating parameter gradients.
func (g *GPT) Backward(gradLogits *Tensor, cache *ForwardCache) {
	// logits = lnFinalOutput @ lmHead
	_, gradLmHead := MatMulBackward(cache.lnFinalOutput, g.lmHead, gradLogits)
	g.lmHead.AccumulateGrad(gradLmHead)
	gradX := MatMul(gradLogits, Transpose(g.lmHead))

	gradX, gradGamma, gradBeta := LayerNormBackward(cache.lnFinalInput, g.lnFinal.gamma, gradX, g.lnFinal.eps)
	g.lnFinal.gamma.AccumulateGrad(gradGamma)
	g.lnFinal.beta.AccumulateGrad(gradBeta)

	for layer := g.config.NumLayers - 1; layer >= 0; layer-- {
		block := g.blocks[layer]
		bc := cache.blockCaches[layer]

		// x_out = afterAttn + FF(LN2(afterAttn))
		gradLn2Out := block.ff.Backward(gradX, bc.ffCache)
		gradAfter, gradGamma2, gradBeta2 := LayerNormBackward(bc.afterAttn, block.ln2.gamma, gradLn2Out, block.ln2.eps)
		block.ln2.gamma.AccumulateGrad(gradGamma2)
		block.ln2.beta.AccumulateGrad(gradBeta2)
		gradAfterAttn := Add(gradX, gradAfter)

		// afterAttn = x + Attn(LN1(x))
		gradLn1Out := block.attn.Backward(gradAfterAttn, bc.attnCache)
		gradIn, gradGamma1, gradBeta1 := LayerNormBackward(bc.input, block.ln1.gamma, gradLn1Out, block.ln1.eps)
		block.ln1.gamma.AccumulateGrad(gradGamma1)
		block.ln1.beta.AccumulateGrad(gradBeta1)
		gradX = Add(gradAfterAttn, gradIn)
	}

	// Embedding rows touched by this sequence accumulate the input grad.
	embedDim := g.config.EmbedDim
	for i, tok := range cache.tokens {
		for d := 0; d < embedDim; d++ {
			g.tokenEmbed.grad[tok*embedDim+d] += gradX.At(i, d)
			g.posEmbed.grad[i*embedDim+d] += gradX.At(i, d)
		}
	}
}

// Backward through the feed-forward layer. Returns the gradient for the
// layer input.
func (ff *FeedForward) Backward(gradOutput *Tensor, cache *FFCache) *Tensor {
	if cache.dropMask != nil {
		gradOutput = mulMask(gradOutput, cache.dropMask)
	}

	// out = hidden @ w2 + b2
	gradHidden, gradW2 := MatMulBackward(cache.hidden, ff.w2, gradOutput)
	ff.w2.AccumulateGrad(gradW2)
	accumulateBiasGrad(ff.b2, gradOutput)

	gradPre := ReLUBackward(cache.preActivation, gradHidden)

	// hidden = input @ w1 + b1
	gradInput, gradW1 := MatMulBackward(cache.input, ff.w1, gradPre)
	ff.w1.AccumulateGrad(gradW1)
	accumulateBiasGrad(ff.b1, gradPre)

	return gradInput
}

// Backward through the attention layer. Returns the gradient for the
// layer input.
func (a *Attention) Backward(gradOutput *Tensor, cache *AttentionCache) *Tensor {
	seqLen := cache.input.shape[0]

	// out = concat @ wo
	gradConcat, gradWo := MatMulBackward(cache.concat, a.wo, gradOutput)
	a.wo.AccumulateGrad(gradWo)

	scale := 1.0 / math.Sqrt(float64(a.headDim))
	gradQ := NewTensor(seqLen, a.embedDim)
	gradK := NewTensor(seqLen, a.embedDim)
	gradV := NewTensor(seqLen, a.embedDim)

	for h, hc := range cache.heads {
		// Slice this head's share of the concat gradient.
		gradContext := NewTensor(seqLen, a.headDim)
		for i := 0; i < seqLen; i++ {
			copy(gradContext.data[i*a.headDim:(i+1)*a.headDim],
				gradConcat.data[i*a.embedDim+h*a.headDim:i*a.embedDim+(h+1)*a.headDim])
		}

		// context = dropped(weights) @ v
		applied := hc.weights
		if hc.dropMask != nil {
			applied = mulMask(hc.weights, hc.dropMask)
		}
		gradApplied, gradVHead := MatMulBackward(applied, hc.v, gradContext)
		gradWeights := gradApplied
		if hc.dropMask != nil {
			gradWeights = mulMask(gradApplied, hc.dropMask)
		}

		// weights = softmax(scores); scores = (q @ k^T) * scale
		gradScores := Scale(SoftmaxBackward(hc.weights, gradWeights), scale)
		gradQHead, gradKT := MatMulBackward(hc.q, Transpose(hc.k), gradScores)
		gradKHead := Transpose(gradKT)

		for i := 0; i < seqLen; i++ {
			for d := 0; d < a.headDim; d++ {
				gradQ.data[i*a.embedDim+h*a.headDim+d] = gradQHead.data[i*a.headDim+d]
				gradK.data[i*a.embedDim+h*a.headDim+d] = gradKHead.data[i*a.headDim+d]
				gradV.data[i*a.embedDim+h*a.headDim+d] = gradVHead.data[i*a.headDim+d]
			}
		}
	}

	// q, k, v all project the same input; their gradients add.
	gradInput := NewTensor(seqLen, a.embedDim)
	for _, proj := range []struct {
		w    *Tensor
		grad *Tensor
	}{
		{a.wq, gradQ},
		{a.wk, gradK},
		{a.wv, gradV},
	} {
		gradIn, gradW := MatMulBackward(cache.input, proj.w, proj.grad)
		proj.w.AccumulateGrad(gradW)
		gradInput = Add(gradInput, gradIn)
	}
	return gradInput
}

// accumulateBiasGrad sums a (rows, cols) gradient over rows into a
// (cols,) bias gradient.
func accumulateBiasGrad(bias, grad *Tensor) {
	rows, cols := grad.shape[0], grad.shape[1]
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			bias.grad[c] += grad.data[r*cols+c]
		}
	}
}
