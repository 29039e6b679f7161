package nn

import "math"

// BatchNorm2D normalizes each channel over the batch and spatial axes.
// In training mode it uses batch statistics and folds them into the
// running estimates; in inference mode it uses the running estimates.
type BatchNorm2D struct {
	Channels int
	Momentum float32
	Eps      float32
	Training bool

	Gamma *Parameter
	Beta  *Parameter

	// Running statistics are carried as parameters so checkpoints
	// persist them; their gradients stay zero, so optimizer steps
	// leave them untouched.
	RunningMean *Parameter
	RunningVar  *Parameter

	input   *Tensor
	xhat    *Tensor
	stddevs []float32
}

// NewBatchNorm2D creates the layer with unit scale and zero shift.
func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	bn := &BatchNorm2D{
		Channels:    channels,
		Momentum:    0.99,
		Eps:         1e-3,
		Training:    true,
		Gamma:       NewParameter(name+".gamma", channels),
		Beta:        NewParameter(name+".beta", channels),
		RunningMean: NewParameter(name+".running_mean", channels),
		RunningVar:  NewParameter(name+".running_var", channels),
	}
	for i := 0; i < channels; i++ {
		bn.Gamma.Data[i] = 1
		bn.RunningVar.Data[i] = 1
	}
	return bn
}

// Forward maps [B][C][H][W] to the same shape.
func (bn *BatchNorm2D) Forward(input *Tensor) *Tensor {
	bn.input = input
	batch := input.Dim(0)
	h := input.Dim(2)
	w := input.Dim(3)
	plane := h * w
	count := float32(batch * plane)

	bn.xhat = NewTensor(input.Shape...)
	bn.stddevs = make([]float32, bn.Channels)
	out := NewTensor(input.Shape...)

	for ch := 0; ch < bn.Channels; ch++ {
		var mean, variance float32
		if bn.Training {
			for b := 0; b < batch; b++ {
				base := (b*bn.Channels + ch) * plane
				for i := 0; i < plane; i++ {
					mean += input.Data[base+i]
				}
			}
			mean /= count
			for b := 0; b < batch; b++ {
				base := (b*bn.Channels + ch) * plane
				for i := 0; i < plane; i++ {
					d := input.Data[base+i] - mean
					variance += d * d
				}
			}
			variance /= count
			bn.RunningMean.Data[ch] = bn.Momentum*bn.RunningMean.Data[ch] + (1-bn.Momentum)*mean
			bn.RunningVar.Data[ch] = bn.Momentum*bn.RunningVar.Data[ch] + (1-bn.Momentum)*variance
		} else {
			mean = bn.RunningMean.Data[ch]
			variance = bn.RunningVar.Data[ch]
		}

		std := float32(math.Sqrt(float64(variance + bn.Eps)))
		bn.stddevs[ch] = std
		for b := 0; b < batch; b++ {
			base := (b*bn.Channels + ch) * plane
			for i := 0; i < plane; i++ {
				xh := (input.Data[base+i] - mean) / std
				bn.xhat.Data[base+i] = xh
				out.Data[base+i] = bn.Gamma.Data[ch]*xh + bn.Beta.Data[ch]
			}
		}
	}
	return out
}

// Backward accumulates gamma/beta gradients and returns the gradient
// with respect to the input, using the batch-statistics adjoint.
func (bn *BatchNorm2D) Backward(gradOutput *Tensor) *Tensor {
	batch := bn.input.Dim(0)
	plane := bn.input.Dim(2) * bn.input.Dim(3)
	count := float32(batch * plane)

	gradInput := NewTensor(bn.input.Shape...)
	for ch := 0; ch < bn.Channels; ch++ {
		var sumDy, sumDyXhat float32
		for b := 0; b < batch; b++ {
			base := (b*bn.Channels + ch) * plane
			for i := 0; i < plane; i++ {
				dy := gradOutput.Data[base+i]
				sumDy += dy
				sumDyXhat += dy * bn.xhat.Data[base+i]
			}
		}
		bn.Beta.Grad[ch] += sumDy
		bn.Gamma.Grad[ch] += sumDyXhat

		if !bn.Training {
			scale := bn.Gamma.Data[ch] / bn.stddevs[ch]
			for b := 0; b < batch; b++ {
				base := (b*bn.Channels + ch) * plane
				for i := 0; i < plane; i++ {
					gradInput.Data[base+i] = gradOutput.Data[base+i] * scale
				}
			}
			continue
		}

		scale := bn.Gamma.Data[ch] / bn.stddevs[ch]
		meanDy := sumDy / count
		meanDyXhat := sumDyXhat / count
		for b := 0; b < batch; b++ {
			base := (b*bn.Channels + ch) * plane
			for i := 0; i < plane; i++ {
				dy := gradOutput.Data[base+i]
				gradInput.Data[base+i] = scale * (dy - meanDy - bn.xhat.Data[base+i]*meanDyXhat)
			}
		}
	}
	return gradInput
}

// Parameters returns gamma, beta and the running statistics.
func (bn *BatchNorm2D) Parameters() []*Parameter {
	return []*Parameter{bn.Gamma, bn.Beta, bn.RunningMean, bn.RunningVar}
}
