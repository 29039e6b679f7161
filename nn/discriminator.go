package nn

import "fmt"

// DownBlock halves the spatial plane with a 2x2 average pool, then
// applies two 3x3 leaky-ReLU convolutions plus a 1x1 shortcut conv,
// summing both paths. The pooled tensor feeds both paths, mirroring
// the generator's upsample block.
type DownBlock struct {
	Pool     *AvgPool2D
	Conv1    *Conv2D
	Conv2    *Conv2D
	SkipConv *Conv2D
}

// NewDownBlock builds the block mapping inChannels to outChannels.
func NewDownBlock(name string, inChannels, outChannels int) *DownBlock {
	return &DownBlock{
		Pool:     &AvgPool2D{},
		Conv1:    NewConv2D(name+".conv1", inChannels, outChannels, 3, 1, 1, ActivationLeakyReLU),
		Conv2:    NewConv2D(name+".conv2", outChannels, outChannels, 3, 1, 1, ActivationLeakyReLU),
		SkipConv: NewConv2D(name+".skip", inChannels, outChannels, 1, 1, 1, ActivationLeakyReLU),
	}
}

// Forward maps [B][Cin][H][W] to [B][Cout][ceil(H/2)][ceil(W/2)].
func (d *DownBlock) Forward(input *Tensor) *Tensor {
	pooled := d.Pool.Forward(input)
	out := d.Conv2.Forward(d.Conv1.Forward(pooled))
	out.Add(d.SkipConv.Forward(pooled))
	return out
}

// Backward returns the gradient with respect to the block input.
func (d *DownBlock) Backward(gradOutput *Tensor) *Tensor {
	g := d.Conv1.Backward(d.Conv2.Backward(gradOutput))
	g.Add(d.SkipConv.Backward(gradOutput))
	return d.Pool.Backward(g)
}

// Parameters returns the block weights.
func (d *DownBlock) Parameters() []*Parameter {
	params := d.Conv1.Parameters()
	params = append(params, d.Conv2.Parameters()...)
	params = append(params, d.SkipConv.Parameters()...)
	return params
}

// Downsample is the discriminator feature tower: an entry pair of 3x3
// convolutions with a 1x1 shortcut, then down blocks doubling the
// channel width until the height collapses to 1.
type Downsample struct {
	Conv1    *Conv2D
	Conv2    *Conv2D
	SkipConv *Conv2D
	Blocks   []*DownBlock

	// Output geometry, fixed by the input shape at construction.
	OutChannels int
	OutH        int
	OutW        int
}

// NewDownsample builds the tower for rolls of the given shape.
func NewDownsample(name string, channels, height, width int) *Downsample {
	const base = 16
	down := &Downsample{
		Conv1:    NewConv2D(name+".conv1", channels, base, 3, 1, 1, ActivationLeakyReLU),
		Conv2:    NewConv2D(name+".conv2", base, base, 3, 1, 1, ActivationLeakyReLU),
		SkipConv: NewConv2D(name+".skip", channels, base, 1, 1, 1, ActivationLeakyReLU),
	}
	ch := base
	h, w := height, width
	i := 1
	for h > 1 {
		out := base * (1 << i)
		down.Blocks = append(down.Blocks, NewDownBlock(fmt.Sprintf("%s.downblock_%d", name, i), ch, out))
		ch = out
		h = (h + 1) / 2
		w = (w + 1) / 2
		i++
	}
	down.OutChannels = ch
	down.OutH = h
	down.OutW = w
	return down
}

// Forward maps [B][C][H][W] to [B][OutChannels][OutH][OutW].
func (d *Downsample) Forward(input *Tensor) *Tensor {
	out := d.Conv2.Forward(d.Conv1.Forward(input))
	out.Add(d.SkipConv.Forward(input))
	for _, block := range d.Blocks {
		out = block.Forward(out)
	}
	return out
}

// Backward returns the gradient with respect to the input roll.
func (d *Downsample) Backward(gradOutput *Tensor) *Tensor {
	g := gradOutput
	for i := len(d.Blocks) - 1; i >= 0; i-- {
		g = d.Blocks[i].Backward(g)
	}
	gradInput := d.Conv1.Backward(d.Conv2.Backward(g))
	gradInput.Add(d.SkipConv.Backward(g))
	return gradInput
}

// Parameters returns the tower weights.
func (d *Downsample) Parameters() []*Parameter {
	params := d.Conv1.Parameters()
	params = append(params, d.Conv2.Parameters()...)
	params = append(params, d.SkipConv.Parameters()...)
	for _, b := range d.Blocks {
		params = append(params, b.Parameters()...)
	}
	return params
}

// ConditionalOutput scores flattened tower features twice, once alone
// and once concatenated with the encoder embedding, and averages the
// two linear heads into one scalar per sample.
type ConditionalOutput struct {
	FlatSize  int
	EmbedSize int

	Head1 *Dense
	Head2 *Dense

	featShape []int
}

// NewConditionalOutput builds the two heads.
func NewConditionalOutput(name string, flatSize, embedSize int) *ConditionalOutput {
	return &ConditionalOutput{
		FlatSize:  flatSize,
		EmbedSize: embedSize,
		Head1:     NewDense(name+".output1", flatSize, 1),
		Head2:     NewDense(name+".output2", flatSize+embedSize, 1),
	}
}

// Forward maps features [B][C][H][W] and embedding [B][E] to scores
// [B][1].
func (c *ConditionalOutput) Forward(features, encode *Tensor) *Tensor {
	c.featShape = append([]int(nil), features.Shape...)
	batch := features.Dim(0)
	flat := features.Reshape(batch, c.FlatSize)

	joined := NewTensor(batch, c.FlatSize+c.EmbedSize)
	for b := 0; b < batch; b++ {
		copy(joined.Data[b*(c.FlatSize+c.EmbedSize):], flat.Data[b*c.FlatSize:(b+1)*c.FlatSize])
		copy(joined.Data[b*(c.FlatSize+c.EmbedSize)+c.FlatSize:], encode.Data[b*c.EmbedSize:(b+1)*c.EmbedSize])
	}

	o1 := c.Head1.Forward(flat)
	o2 := c.Head2.Forward(joined)
	out := NewTensor(batch, 1)
	for b := 0; b < batch; b++ {
		out.Data[b] = (o1.Data[b] + o2.Data[b]) / 2
	}
	return out
}

// Backward splits the score gradient across both heads and returns the
// gradients with respect to the features and the embedding.
func (c *ConditionalOutput) Backward(gradScore *Tensor) (gradFeatures, gradEncode *Tensor) {
	batch := gradScore.Dim(0)
	half := NewTensor(batch, 1)
	for b := 0; b < batch; b++ {
		half.Data[b] = gradScore.Data[b] / 2
	}

	g1 := c.Head1.Backward(half)
	g2 := c.Head2.Backward(half)

	gradFeatures = NewTensor(c.featShape...)
	gradEncode = NewTensor(batch, c.EmbedSize)
	for b := 0; b < batch; b++ {
		for i := 0; i < c.FlatSize; i++ {
			gradFeatures.Data[b*c.FlatSize+i] = g1.Data[b*c.FlatSize+i] +
				g2.Data[b*(c.FlatSize+c.EmbedSize)+i]
		}
		for i := 0; i < c.EmbedSize; i++ {
			gradEncode.Data[b*c.EmbedSize+i] = g2.Data[b*(c.FlatSize+c.EmbedSize)+c.FlatSize+i]
		}
	}
	return gradFeatures, gradEncode
}

// Parameters returns both dense heads.
func (c *ConditionalOutput) Parameters() []*Parameter {
	return append(c.Head1.Parameters(), c.Head2.Parameters()...)
}

// Discriminator scores one pyramid scale: the downsample tower
// followed by the conditional output.
type Discriminator struct {
	Down *Downsample
	Cond *ConditionalOutput
}

// NewDiscriminator builds a scale discriminator for rolls of the given
// shape, conditioned on embedSize-dimensional encodings.
func NewDiscriminator(name string, channels, height, width, embedSize int) *Discriminator {
	down := NewDownsample(name+".downsample", channels, height, width)
	flat := down.OutChannels * down.OutH * down.OutW
	return &Discriminator{
		Down: down,
		Cond: NewConditionalOutput(name+".cond_out", flat, embedSize),
	}
}

// Forward maps a roll and an encoder embedding to scores [B][1].
func (d *Discriminator) Forward(roll, encode *Tensor) *Tensor {
	return d.Cond.Forward(d.Down.Forward(roll), encode)
}

// Backward returns the gradients with respect to the roll and the
// embedding.
func (d *Discriminator) Backward(gradScore *Tensor) (gradRoll, gradEncode *Tensor) {
	gradFeatures, gradEncode := d.Cond.Backward(gradScore)
	return d.Down.Backward(gradFeatures), gradEncode
}

// Parameters returns every discriminator weight.
func (d *Discriminator) Parameters() []*Parameter {
	return append(d.Down.Parameters(), d.Cond.Parameters()...)
}
