package nn

import "fmt"

// Encoder reduces a roll to a 64-dimensional embedding with a tower of
// stride-2 leaky-ReLU convolutions (width 2^(i/2+3) at depth i) that
// runs until the spatial plane collapses to 1x1, followed by a dense
// projection and tanh.
type Encoder struct {
	EmbedSize int

	Convs []*Conv2D
	Out   *Dense

	finalChannels int
	finalH        int
	finalW        int

	tanhPre *Tensor
}

// NewEncoder builds the tower for rolls of the given shape.
func NewEncoder(name string, channels, height, width, embedSize int) *Encoder {
	var convs []*Conv2D
	in := channels
	h, w := height, width
	i := 0
	for w > 1 {
		out := 1 << (i/2 + 3)
		convs = append(convs, NewConv2D(fmt.Sprintf("%s.conv%d", name, i+1),
			in, out, 3, 2, 2, ActivationLeakyReLU))
		in = out
		h = (h + 1) / 2
		w = (w + 1) / 2
		i++
	}
	return &Encoder{
		EmbedSize:     embedSize,
		Convs:         convs,
		Out:           NewDense(name+".dense1", in*h*w, embedSize),
		finalChannels: in,
		finalH:        h,
		finalW:        w,
	}
}

// Forward maps [B][C][H][W] to [B][embedSize] in (-1,1).
func (e *Encoder) Forward(input *Tensor) *Tensor {
	out := input
	for _, conv := range e.Convs {
		out = conv.Forward(out)
	}
	// Squeeze the collapsed spatial plane.
	batch := out.Dim(0)
	out = out.Reshape(batch, out.Dim(1)*out.Dim(2)*out.Dim(3))

	e.tanhPre = e.Out.Forward(out)
	embed := NewTensor(batch, e.EmbedSize)
	for i, v := range e.tanhPre.Data {
		embed.Data[i] = activate(v, ActivationTanh)
	}
	return embed
}

// Backward propagates the embedding gradient back through the tower
// and returns the gradient with respect to the input roll.
func (e *Encoder) Backward(gradOutput *Tensor) *Tensor {
	grad := NewTensor(gradOutput.Shape...)
	for i := range grad.Data {
		grad.Data[i] = gradOutput.Data[i] * activateDerivative(e.tanhPre.Data[i], ActivationTanh)
	}
	g := e.Out.Backward(grad)
	g = g.Reshape(g.Dim(0), e.finalChannels, e.finalH, e.finalW)
	for i := len(e.Convs) - 1; i >= 0; i-- {
		g = e.Convs[i].Backward(g)
	}
	return g
}

// Parameters returns the tower weights.
func (e *Encoder) Parameters() []*Parameter {
	var params []*Parameter
	for _, c := range e.Convs {
		params = append(params, c.Parameters()...)
	}
	return append(params, e.Out.Parameters()...)
}
