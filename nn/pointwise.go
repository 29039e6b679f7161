package nn

// Conv1x1 is a pointwise 1-D convolution with bias and a fused
// activation. It mixes channels without touching the time axis.
type Conv1x1 struct {
	InChannels  int
	OutChannels int
	Activation  ActivationType

	// Weight layout: [outChannels][inChannels].
	Weight *Parameter
	Bias   *Parameter

	input  *Tensor
	preAct *Tensor
}

// NewConv1x1 creates the layer with He-initialized weights and zero bias.
func NewConv1x1(name string, inChannels, outChannels int, activation ActivationType) *Conv1x1 {
	return &Conv1x1{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Activation:  activation,
		Weight:      NewParameterHe(name+".weight", outChannels*inChannels, inChannels),
		Bias:        NewParameter(name+".bias", outChannels),
	}
}

// Forward maps [B][Cin][T] to [B][Cout][T].
func (c *Conv1x1) Forward(input *Tensor) *Tensor {
	c.input = input
	batch := input.Dim(0)
	seqLen := input.Dim(2)

	c.preAct = NewTensor(batch, c.OutChannels, seqLen)
	out := NewTensor(batch, c.OutChannels, seqLen)
	for b := 0; b < batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			outBase := b*c.OutChannels*seqLen + f*seqLen
			for t := 0; t < seqLen; t++ {
				sum := c.Bias.Data[f]
				for ic := 0; ic < c.InChannels; ic++ {
					sum += c.Weight.Data[f*c.InChannels+ic] *
						input.Data[b*c.InChannels*seqLen+ic*seqLen+t]
				}
				c.preAct.Data[outBase+t] = sum
				out.Data[outBase+t] = activate(sum, c.Activation)
			}
		}
	}
	return out
}

// Backward takes the gradient with respect to the activated output,
// accumulates weight and bias gradients, and returns the gradient with
// respect to the input.
func (c *Conv1x1) Backward(gradOutput *Tensor) *Tensor {
	input := c.input
	batch := input.Dim(0)
	seqLen := input.Dim(2)

	gradInput := NewTensor(batch, c.InChannels, seqLen)
	for b := 0; b < batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			outBase := b*c.OutChannels*seqLen + f*seqLen
			for t := 0; t < seqLen; t++ {
				g := gradOutput.Data[outBase+t] *
					activateDerivative(c.preAct.Data[outBase+t], c.Activation)
				if g == 0 {
					continue
				}
				c.Bias.Grad[f] += g
				for ic := 0; ic < c.InChannels; ic++ {
					inIdx := b*c.InChannels*seqLen + ic*seqLen + t
					c.Weight.Grad[f*c.InChannels+ic] += g * input.Data[inIdx]
					gradInput.Data[inIdx] += g * c.Weight.Data[f*c.InChannels+ic]
				}
			}
		}
	}
	return gradInput
}

// Parameters returns weight and bias.
func (c *Conv1x1) Parameters() []*Parameter {
	return []*Parameter{c.Weight, c.Bias}
}
