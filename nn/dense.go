package nn

// Dense is a fully-connected layer over [B][in] tensors.
type Dense struct {
	InSize  int
	OutSize int

	// Weight layout: [inSize][outSize].
	Weight *Parameter
	Bias   *Parameter

	input *Tensor
}

// NewDense creates the layer with He-initialized weights.
func NewDense(name string, inSize, outSize int) *Dense {
	return &Dense{
		InSize:  inSize,
		OutSize: outSize,
		Weight:  NewParameterHe(name+".weight", inSize*outSize, inSize),
		Bias:    NewParameter(name+".bias", outSize),
	}
}

// Forward maps [B][in] to [B][out].
func (d *Dense) Forward(input *Tensor) *Tensor {
	d.input = input
	batch := input.Dim(0)
	out := NewTensor(batch, d.OutSize)
	for b := 0; b < batch; b++ {
		for o := 0; o < d.OutSize; o++ {
			sum := d.Bias.Data[o]
			for i := 0; i < d.InSize; i++ {
				sum += input.Data[b*d.InSize+i] * d.Weight.Data[i*d.OutSize+o]
			}
			out.Data[b*d.OutSize+o] = sum
		}
	}
	return out
}

// Backward accumulates gradients and returns the input gradient.
func (d *Dense) Backward(gradOutput *Tensor) *Tensor {
	batch := d.input.Dim(0)
	gradInput := NewTensor(batch, d.InSize)
	for b := 0; b < batch; b++ {
		for o := 0; o < d.OutSize; o++ {
			g := gradOutput.Data[b*d.OutSize+o]
			if g == 0 {
				continue
			}
			d.Bias.Grad[o] += g
			for i := 0; i < d.InSize; i++ {
				d.Weight.Grad[i*d.OutSize+o] += g * d.input.Data[b*d.InSize+i]
				gradInput.Data[b*d.InSize+i] += g * d.Weight.Data[i*d.OutSize+o]
			}
		}
	}
	return gradInput
}

// Parameters returns weight and bias.
func (d *Dense) Parameters() []*Parameter {
	return []*Parameter{d.Weight, d.Bias}
}
