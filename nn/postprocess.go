package nn

// PostProcess squashes the summed skip signal into the output channel
// count: ReLU, 1x1 conv, ReLU, 1x1 conv, sigmoid. Outputs land in
// [0,1] and are read as per-channel intensities.
type PostProcess struct {
	Conv1 *Conv1x1
	Conv2 *Conv1x1

	input *Tensor
}

// NewPostProcess builds the two-conv tail.
func NewPostProcess(name string, skipChannels, endChannels, channels int) *PostProcess {
	return &PostProcess{
		Conv1: NewConv1x1(name+".conv1", skipChannels, endChannels, ActivationReLU),
		Conv2: NewConv1x1(name+".conv2", endChannels, channels, ActivationSigmoid),
	}
}

// Forward maps [B][skip][T'] to [B][channels][T'].
func (p *PostProcess) Forward(input *Tensor) *Tensor {
	p.input = input
	relu := NewTensor(input.Shape...)
	for i, v := range input.Data {
		if v > 0 {
			relu.Data[i] = v
		}
	}
	return p.Conv2.Forward(p.Conv1.Forward(relu))
}

// Backward returns the gradient with respect to the skip sum.
func (p *PostProcess) Backward(gradOutput *Tensor) *Tensor {
	grad := p.Conv1.Backward(p.Conv2.Backward(gradOutput))
	for i, v := range p.input.Data {
		if v <= 0 {
			grad.Data[i] = 0
		}
	}
	return grad
}

// Parameters returns the tail weights.
func (p *PostProcess) Parameters() []*Parameter {
	return append(p.Conv1.Parameters(), p.Conv2.Parameters()...)
}
