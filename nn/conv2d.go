package nn

// Conv2D is a 2-D convolution over [B][C][H][W] tensors with SAME
// padding: the output spatial size is ceil(in/stride) and any odd
// padding lands on the bottom/right edge.
type Conv2D struct {
	InChannels  int
	OutChannels int
	KernelSize  int
	StrideH     int
	StrideW     int
	Activation  ActivationType

	// Weight layout: [outChannels][inChannels][k][k].
	Weight *Parameter
	Bias   *Parameter

	input  *Tensor
	preAct *Tensor
}

// NewConv2D creates the layer with He-initialized weights.
func NewConv2D(name string, inChannels, outChannels, kernelSize, strideH, strideW int, activation ActivationType) *Conv2D {
	return &Conv2D{
		InChannels:  inChannels,
		OutChannels: outChannels,
		KernelSize:  kernelSize,
		StrideH:     strideH,
		StrideW:     strideW,
		Activation:  activation,
		Weight: NewParameterHe(name+".weight",
			outChannels*inChannels*kernelSize*kernelSize,
			inChannels*kernelSize*kernelSize),
		Bias: NewParameter(name+".bias", outChannels),
	}
}

// samePadding returns the leading pad for SAME convolution arithmetic.
func samePadding(in, stride, kernel int) (out, padBeg int) {
	out = (in + stride - 1) / stride
	total := (out-1)*stride + kernel - in
	if total < 0 {
		total = 0
	}
	return out, total / 2
}

// Forward maps [B][Cin][H][W] to [B][Cout][ceil(H/sH)][ceil(W/sW)].
func (c *Conv2D) Forward(input *Tensor) *Tensor {
	c.input = input
	batch := input.Dim(0)
	inH := input.Dim(2)
	inW := input.Dim(3)
	k := c.KernelSize
	outH, padH := samePadding(inH, c.StrideH, k)
	outW, padW := samePadding(inW, c.StrideW, k)

	c.preAct = NewTensor(batch, c.OutChannels, outH, outW)
	out := NewTensor(batch, c.OutChannels, outH, outW)
	for b := 0; b < batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					sum := c.Bias.Data[f]
					for ic := 0; ic < c.InChannels; ic++ {
						for kh := 0; kh < k; kh++ {
							ih := oh*c.StrideH + kh - padH
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < k; kw++ {
								iw := ow*c.StrideW + kw - padW
								if iw < 0 || iw >= inW {
									continue
								}
								weight := c.Weight.Data[((f*c.InChannels+ic)*k+kh)*k+kw]
								sum += weight * input.Data[((b*c.InChannels+ic)*inH+ih)*inW+iw]
							}
						}
					}
					idx := ((b*c.OutChannels+f)*outH+oh)*outW + ow
					c.preAct.Data[idx] = sum
					out.Data[idx] = activate(sum, c.Activation)
				}
			}
		}
	}
	return out
}

// Backward accumulates weight/bias gradients and returns the gradient
// with respect to the last forward input.
func (c *Conv2D) Backward(gradOutput *Tensor) *Tensor {
	input := c.input
	batch := input.Dim(0)
	inH := input.Dim(2)
	inW := input.Dim(3)
	k := c.KernelSize
	outH, padH := samePadding(inH, c.StrideH, k)
	outW, padW := samePadding(inW, c.StrideW, k)

	gradInput := NewTensor(batch, c.InChannels, inH, inW)
	for b := 0; b < batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					idx := ((b*c.OutChannels+f)*outH+oh)*outW + ow
					g := gradOutput.Data[idx] * activateDerivative(c.preAct.Data[idx], c.Activation)
					if g == 0 {
						continue
					}
					c.Bias.Grad[f] += g
					for ic := 0; ic < c.InChannels; ic++ {
						for kh := 0; kh < k; kh++ {
							ih := oh*c.StrideH + kh - padH
							if ih < 0 || ih >= inH {
								continue
							}
							for kw := 0; kw < k; kw++ {
								iw := ow*c.StrideW + kw - padW
								if iw < 0 || iw >= inW {
									continue
								}
								wIdx := ((f*c.InChannels+ic)*k+kh)*k + kw
								inIdx := ((b*c.InChannels+ic)*inH+ih)*inW + iw
								c.Weight.Grad[wIdx] += g * input.Data[inIdx]
								gradInput.Data[inIdx] += g * c.Weight.Data[wIdx]
							}
						}
					}
				}
			}
		}
	}
	return gradInput
}

// Parameters returns weight and bias.
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.Weight, c.Bias}
}
