package main

import "math"

// Backward counterparts for the tensor operations the model uses. Each
// forward op has a matching backward that maps the gradient flowing in
// from the loss to gradients for its inputs via the chain rule.

// MatMulBackward computes gradients for C = A @ B:
//
//	gradA = gradC @ B^T
//	gradB = A^T @ gradC
func MatMulBackward(a, b, gradC *Tensor) (gradA, gradB *Tensor) {
	gradA = MatMul(gradC, Transpose(b))
	gradB = MatMul(Transpose(a), gradC)
	return gradA, gradB
}

// ReLUBackward passes gradients through where the pre-activation was
// positive and zeroes them elsewhere.
func ReLUBackward(x, gradY *Tensor) *Tensor {
	gradX := NewTensor(x.shape...)
	for i := range x.data {
		if x.data[i] > 0 {
			gradX.data[i] = gradY.data[i]
		}
	}
	return gradX
}

// SoftmaxBackward computes the gradient through a row-wise softmax.
// With y = softmax(x):
//
//	gradX[i] = y[i] * (gradY[i] - Σ_j gradY[j]*y[j])
func SoftmaxBackward(y, gradY *Tensor) *Tensor {
	if len(y.shape) != 2 {
		panic("autograd: SoftmaxBackward requires 2D tensor")
	}
	rows, cols := y.shape[0], y.shape[1]
	gradX := NewTensor(rows, cols)
	for r := 0; r < rows; r++ {
		dot := 0.0
		for c := 0; c < cols; c++ {
			dot += gradY.data[r*cols+c] * y.data[r*cols+c]
		}
		for c := 0; c < cols; c++ {
			gradX.data[r*cols+c] = y.data[r*cols+c] * (gradY.data[r*cols+c] - dot)
		}
	}
	return gradX
}

// LayerNormBackward computes gradients through y = gamma*(x-mean)/std + beta,
// where mean and std are per-row statistics. x is the layer input as seen
// in the forward pass.
func LayerNormBackward(x, gamma *Tensor, gradY *Tensor, epsilon float64) (gradX, gradGamma, gradBeta *Tensor) {
	if len(x.shape) != 2 {
		panic("autograd: LayerNormBackward requires 2D tensor")
	}
	rows, cols := x.shape[0], x.shape[1]
	n := float64(cols)

	gradX = NewTensor(rows, cols)
	gradGamma = NewTensor(cols)
	gradBeta = NewTensor(cols)

	for r := 0; r < rows; r++ {
		// Recompute the row statistics used in the forward pass.
		mean := 0.0
		for c := 0; c < cols; c++ {
			mean += x.data[r*cols+c]
		}
		mean /= n
		variance := 0.0
		for c := 0; c < cols; c++ {
			d := x.data[r*cols+c] - mean
			variance += d * d
		}
		variance /= n
		std := math.Sqrt(variance + epsilon)

		sumGrad := 0.0
		sumGradXNorm := 0.0
		for c := 0; c < cols; c++ {
			xNorm := (x.data[r*cols+c] - mean) / std
			g := gradY.data[r*cols+c]
			gradGamma.data[c] += g * xNorm
			gradBeta.data[c] += g
			sumGrad += g * gamma.data[c]
			sumGradXNorm += g * gamma.data[c] * xNorm
		}
		for c := 0; c < cols; c++ {
			xNorm := (x.data[r*cols+c] - mean) / std
			gradNorm := gradY.data[r*cols+c] * gamma.data[c]
			gradX.data[r*cols+c] = (n*gradNorm - sumGrad - xNorm*sumGradXNorm) / (n * std)
		}
	}
	return gradX, gradGamma, gradBeta
}

// CrossEntropyBackward computes the gradient of the mean cross-entropy
// over positions: softmax(logits) - one_hot(targets), divided by the
// number of positions so it matches the averaged loss.
func CrossEntropyBackward(logits *Tensor, targets []int) *Tensor {
	if len(logits.shape) != 2 {
		panic("autograd: CrossEntropyBackward requires 2D logits")
	}
	rows, cols := logits.shape[0], logits.shape[1]
	if len(targets) != rows {
		panic("autograd: targets length must match logits rows")
	}
	probs := Softmax(logits)
	grad := NewTensor(rows, cols)
	inv := 1.0 / float64(rows)
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			g := probs.data[r*cols+c]
			if c == targets[r] {
				g -= 1.0
			}
			grad.data[r*cols+c] = g * inv
		}
	}
	return grad
}

// AccumulateGrad adds grad into the tensor's gradient buffer. Used when
// a parameter contributes to the loss through more than one path.
func (t *Tensor) AccumulateGrad(grad *Tensor) {
	if !shapeEqual(t.shape, grad.shape) {
		panic("autograd: AccumulateGrad shape mismatch")
	}
	for i := range t.grad {
		t.grad[i] += grad.data[i]
	}
}
