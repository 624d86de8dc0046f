package main

import (
	"math"
	"math/rand"
	"testing"
)

// numericGrad approximates dL/dx[i] by central differences.
func numericGrad(x *Tensor, i int, loss func() float64) float64 {
	const h = 1e-5
	orig := x.data[i]
	x.data[i] = orig + h
	plus := loss()
	x.data[i] = orig - h
	minus := loss()
	x.data[i] = orig
	return (plus - minus) / (2 * h)
}

func randTensor(rng *rand.Rand, shape ...int) *Tensor {
	t := NewTensor(shape...)
	for i := range t.data {
		t.data[i] = rng.NormFloat64()
	}
	return t
}

func TestMatMulBackwardMatchesNumericGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	a := randTensor(rng, 3, 4)
	b := randTensor(rng, 4, 2)
	w := randTensor(rng, 3, 2)

	// L = sum(W * (A @ B))
	loss := func() float64 {
		c := MatMul(a, b)
		total := 0.0
		for i := range c.data {
			total += w.data[i] * c.data[i]
		}
		return total
	}

	gradA, gradB := MatMulBackward(a, b, w)
	for i := range a.data {
		want := numericGrad(a, i, loss)
		if math.Abs(gradA.data[i]-want) > 1e-6 {
			t.Errorf("gradA[%d] = %g, numeric %g", i, gradA.data[i], want)
		}
	}
	for i := range b.data {
		want := numericGrad(b, i, loss)
		if math.Abs(gradB.data[i]-want) > 1e-6 {
			t.Errorf("gradB[%d] = %g, numeric %g", i, gradB.data[i], want)
		}
	}
}

func TestReLUBackward(t *testing.T) {
	x := NewTensor(1, 3)
	x.Set(-2, 0, 0)
	x.Set(0, 0, 1)
	x.Set(3, 0, 2)
	gradY := NewTensor(1, 3)
	for i := range gradY.data {
		gradY.data[i] = 1
	}

	gradX := ReLUBackward(x, gradY)
	if gradX.At(0, 0) != 0 || gradX.At(0, 1) != 0 || gradX.At(0, 2) != 1 {
		t.Errorf("ReLUBackward = [%g %g %g]", gradX.At(0, 0), gradX.At(0, 1), gradX.At(0, 2))
	}
}

func TestSoftmaxBackwardMatchesNumericGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	x := randTensor(rng, 2, 4)
	w := randTensor(rng, 2, 4)

	// L = sum(W * softmax(x))
	loss := func() float64 {
		y := Softmax(x)
		total := 0.0
		for i := range y.data {
			total += w.data[i] * y.data[i]
		}
		return total
	}

	gradX := SoftmaxBackward(Softmax(x), w)
	for i := range x.data {
		want := numericGrad(x, i, loss)
		if math.Abs(gradX.data[i]-want) > 1e-6 {
			t.Errorf("gradX[%d] = %g, numeric %g", i, gradX.data[i], want)
		}
	}

	// Softmax rows are invariant to constant shifts, so row gradients
	// must sum to zero.
	for r := 0; r < 2; r++ {
		sum := 0.0
		for c := 0; c < 4; c++ {
			sum += gradX.At(r, c)
		}
		if math.Abs(sum) > 1e-9 {
			t.Errorf("row %d gradient sums to %g", r, sum)
		}
	}
}

func TestLayerNormBackwardMatchesNumericGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	ln := NewLayerNorm(5)
	for i := range ln.gamma.data {
		ln.gamma.data[i] = 1 + 0.1*rng.NormFloat64()
		ln.beta.data[i] = 0.1 * rng.NormFloat64()
	}
	x := randTensor(rng, 3, 5)
	w := randTensor(rng, 3, 5)

	loss := func() float64 {
		y := ln.Forward(x)
		total := 0.0
		for i := range y.data {
			total += w.data[i] * y.data[i]
		}
		return total
	}

	gradX, gradGamma, gradBeta := LayerNormBackward(x, ln.gamma, w, ln.eps)
	for i := range x.data {
		want := numericGrad(x, i, loss)
		if math.Abs(gradX.data[i]-want) > 1e-5 {
			t.Errorf("gradX[%d] = %g, numeric %g", i, gradX.data[i], want)
		}
	}
	for i := range ln.gamma.data {
		want := numericGrad(ln.gamma, i, loss)
		if math.Abs(gradGamma.data[i]-want) > 1e-5 {
			t.Errorf("gradGamma[%d] = %g, numeric %g", i, gradGamma.data[i], want)
		}
	}
	for i := range ln.beta.data {
		want := numericGrad(ln.beta, i, loss)
		if math.Abs(gradBeta.data[i]-want) > 1e-5 {
			t.Errorf("gradBeta[%d] = %g, numeric %g", i, gradBeta.data[i], want)
		}
	}
}

func TestCrossEntropyBackwardMatchesNumericGradient(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	logits := randTensor(rng, 4, 5)
	targets := []int{1, 0, 4, 2}

	loss := func() float64 { return CrossEntropyLoss(logits, targets) }

	grad := CrossEntropyBackward(logits, targets)
	for i := range logits.data {
		want := numericGrad(logits, i, loss)
		if math.Abs(grad.data[i]-want) > 1e-6 {
			t.Errorf("grad[%d] = %g, numeric %g", i, grad.data[i], want)
		}
	}

	// probs sum to one and the one-hot subtracts one, so each row of the
	// gradient sums to zero.
	for r := 0; r < 4; r++ {
		sum := 0.0
		for c := 0; c < 5; c++ {
			sum += grad.At(r, c)
		}
		if math.Abs(sum) > 1e-12 {
			t.Errorf("row %d gradient sums to %g", r, sum)
		}
	}
}

func TestAccumulateGrad(t *testing.T) {
	p := NewTensor(2)
	g := NewTensor(2)
	g.data[0], g.data[1] = 1, 2

	p.AccumulateGrad(g)
	p.AccumulateGrad(g)
	if p.grad[0] != 2 || p.grad[1] != 4 {
		t.Errorf("grad = %v, want [2 4]", p.grad)
	}

	p.ZeroGrad()
	if p.grad[0] != 0 || p.grad[1] != 0 {
		t.Errorf("grad after ZeroGrad = %v", p.grad)
	}
}
