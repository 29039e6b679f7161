package nn

import "fmt"

// labelConcat tiles a [B][L] label vector over the spatial plane and
// concatenates it onto the channel axis of features, producing
// [B][C+L][H][W].
func labelConcat(features, label *Tensor) *Tensor {
	batch := features.Dim(0)
	channels := features.Dim(1)
	labelDim := label.Dim(1)
	h := features.Dim(2)
	w := features.Dim(3)
	plane := h * w

	out := NewTensor(batch, channels+labelDim, h, w)
	for b := 0; b < batch; b++ {
		copy(out.Data[b*(channels+labelDim)*plane:], features.Data[b*channels*plane:(b+1)*channels*plane])
		for l := 0; l < labelDim; l++ {
			v := label.Data[b*labelDim+l]
			base := (b*(channels+labelDim) + channels + l) * plane
			for i := 0; i < plane; i++ {
				out.Data[base+i] = v
			}
		}
	}
	return out
}

// labelConcatBackward strips the tiled label channels from a gradient,
// keeping only the feature part.
func labelConcatBackward(grad *Tensor, featureChannels int) *Tensor {
	batch := grad.Dim(0)
	total := grad.Dim(1)
	h := grad.Dim(2)
	w := grad.Dim(3)
	plane := h * w

	out := NewTensor(batch, featureChannels, h, w)
	for b := 0; b < batch; b++ {
		copy(out.Data[b*featureChannels*plane:(b+1)*featureChannels*plane],
			grad.Data[b*total*plane:b*total*plane+featureChannels*plane])
	}
	return out
}

// UpsampleBlock doubles the spatial resolution by nearest-neighbor
// resize, then runs batchnorm-ReLU-conv twice, adding back a parallel
// 1x1-conv shortcut taken from the resized tensor. The shortcut plays
// the role of the residual path in the audio stack, without gating.
type UpsampleBlock struct {
	BN1      *BatchNorm2D
	Conv1    *Conv2D
	BN2      *BatchNorm2D
	Conv2    *Conv2D
	SkipConv *Conv2D

	relu1Pre *Tensor
	relu2Pre *Tensor
}

// NewUpsampleBlock builds the block mapping inChannels to outChannels.
func NewUpsampleBlock(name string, inChannels, outChannels int) *UpsampleBlock {
	return &UpsampleBlock{
		BN1:      NewBatchNorm2D(name+".bn1", inChannels),
		Conv1:    NewConv2D(name+".conv1", inChannels, outChannels, 3, 1, 1, ActivationNone),
		BN2:      NewBatchNorm2D(name+".bn2", outChannels),
		Conv2:    NewConv2D(name+".conv2", outChannels, outChannels, 3, 1, 1, ActivationNone),
		SkipConv: NewConv2D(name+".skip", inChannels, outChannels, 1, 1, 1, ActivationNone),
	}
}

func reluForward(input *Tensor) *Tensor {
	out := NewTensor(input.Shape...)
	for i, v := range input.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

func reluBackward(grad, pre *Tensor) *Tensor {
	out := NewTensor(grad.Shape...)
	for i, v := range pre.Data {
		if v > 0 {
			out.Data[i] = grad.Data[i]
		}
	}
	return out
}

// Forward maps [B][Cin][H][W] to [B][Cout][2H][2W].
func (u *UpsampleBlock) Forward(input *Tensor) *Tensor {
	up := UpsampleNearest2x(input)

	u.relu1Pre = u.BN1.Forward(up)
	h := reluForward(u.relu1Pre)
	h = u.Conv1.Forward(h)
	u.relu2Pre = u.BN2.Forward(h)
	h = reluForward(u.relu2Pre)
	h = u.Conv2.Forward(h)

	h.Add(u.SkipConv.Forward(up))
	return h
}

// Backward returns the gradient with respect to the block input.
func (u *UpsampleBlock) Backward(gradOutput *Tensor) *Tensor {
	g := u.Conv2.Backward(gradOutput)
	g = reluBackward(g, u.relu2Pre)
	g = u.BN2.Backward(g)
	g = u.Conv1.Backward(g)
	g = reluBackward(g, u.relu1Pre)
	g = u.BN1.Backward(g)

	g.Add(u.SkipConv.Backward(gradOutput))
	return UpsampleNearest2xBackward(g)
}

// Parameters returns all block weights.
func (u *UpsampleBlock) Parameters() []*Parameter {
	params := u.BN1.Parameters()
	params = append(params, u.Conv1.Parameters()...)
	params = append(params, u.BN2.Parameters()...)
	params = append(params, u.Conv2.Parameters()...)
	params = append(params, u.SkipConv.Parameters()...)
	return params
}

// SetTraining switches the batchnorms between batch and running stats.
func (u *UpsampleBlock) SetTraining(training bool) {
	u.BN1.Training = training
	u.BN2.Training = training
}

// GenBlock is one generator stage: label concat followed by an
// upsample block.
type GenBlock struct {
	InChannels int
	Block      *UpsampleBlock
}

// NewGenBlock builds a stage taking inChannels feature maps plus the
// label channels.
func NewGenBlock(name string, inChannels, labelDim, outChannels int) *GenBlock {
	return &GenBlock{
		InChannels: inChannels,
		Block:      NewUpsampleBlock(name, inChannels+labelDim, outChannels),
	}
}

// Forward maps features [B][Cin][H][W] plus label [B][L] to
// [B][Cout][2H][2W].
func (g *GenBlock) Forward(features, label *Tensor) *Tensor {
	return g.Block.Forward(labelConcat(features, label))
}

// Backward returns the gradient with respect to the stage's feature
// input; the label is data, not a learnable path.
func (g *GenBlock) Backward(gradOutput *Tensor) *Tensor {
	return labelConcatBackward(g.Block.Backward(gradOutput), g.InChannels)
}

// Parameters returns the stage weights.
func (g *GenBlock) Parameters() []*Parameter {
	return g.Block.Parameters()
}

// ProcessHead maps a stage's feature map to a piano roll: batchnorm
// then a 3x3 tanh convolution down to the roll channel count.
type ProcessHead struct {
	BN   *BatchNorm2D
	Conv *Conv2D
}

// NewProcessHead builds the head.
func NewProcessHead(name string, inChannels, rollChannels int) *ProcessHead {
	return &ProcessHead{
		BN:   NewBatchNorm2D(name+".bn", inChannels),
		Conv: NewConv2D(name+".conv", inChannels, rollChannels, 3, 1, 1, ActivationTanh),
	}
}

// Forward maps [B][Cin][H][W] to [B][rollChannels][H][W] in [-1,1].
func (p *ProcessHead) Forward(input *Tensor) *Tensor {
	return p.Conv.Forward(p.BN.Forward(input))
}

// Backward returns the gradient with respect to the stage features.
func (p *ProcessHead) Backward(gradOutput *Tensor) *Tensor {
	return p.BN.Backward(p.Conv.Backward(gradOutput))
}

// Parameters returns the head weights.
func (p *ProcessHead) Parameters() []*Parameter {
	return append(p.BN.Parameters(), p.Conv.Parameters()...)
}

// SharedGenerator lifts a (noise, label) pair to the base feature map
// shared by every stage. The noise vector is concatenated with the
// label, tiled to a width-4 strip, pushed through four upsample blocks
// and squashed to the shared width by a ReLU convolution.
type SharedGenerator struct {
	NoiseLength int
	LabelDim    int

	Blocks  []*UpsampleBlock
	OutConv *Conv2D
}

// NewSharedGenerator builds the shared base. channels lists the block
// widths (the original uses 1024, 512, 256, 128), outChannels the
// shared feature width.
func NewSharedGenerator(name string, noiseLength, labelDim int, channels []int, outChannels int) *SharedGenerator {
	blocks := make([]*UpsampleBlock, len(channels))
	in := noiseLength + labelDim
	for i, ch := range channels {
		blocks[i] = NewUpsampleBlock(fmt.Sprintf("%s.up%d", name, i+1), in, ch)
		in = ch
	}
	return &SharedGenerator{
		NoiseLength: noiseLength,
		LabelDim:    labelDim,
		Blocks:      blocks,
		OutConv:     NewConv2D(name+".out", in, outChannels, 3, 1, 1, ActivationReLU),
	}
}

// Forward maps noise [B][N] and label [B][L] to the base feature map.
// With the default four blocks the strip grows (1,4) -> (16,64).
func (s *SharedGenerator) Forward(noise, label *Tensor) *Tensor {
	batch := noise.Dim(0)
	width := noise.Dim(1) + label.Dim(1)

	base := NewTensor(batch, width, 1, 4)
	for b := 0; b < batch; b++ {
		for c := 0; c < width; c++ {
			var v float32
			if c < noise.Dim(1) {
				v = noise.Data[b*noise.Dim(1)+c]
			} else {
				v = label.Data[b*label.Dim(1)+c-noise.Dim(1)]
			}
			for t := 0; t < 4; t++ {
				base.Data[(b*width+c)*4+t] = v
			}
		}
	}

	out := base
	for _, block := range s.Blocks {
		out = block.Forward(out)
	}
	return s.OutConv.Forward(out)
}

// Backward chains the gradient to the shared weights. The gradient
// with respect to the noise is discarded.
func (s *SharedGenerator) Backward(gradOutput *Tensor) {
	g := s.OutConv.Backward(gradOutput)
	for i := len(s.Blocks) - 1; i >= 0; i-- {
		g = s.Blocks[i].Backward(g)
	}
}

// Parameters returns the shared weights.
func (s *SharedGenerator) Parameters() []*Parameter {
	var params []*Parameter
	for _, b := range s.Blocks {
		params = append(params, b.Parameters()...)
	}
	return append(params, s.OutConv.Parameters()...)
}

// Generator is the full three-stage pyramid: the shared base feeds
// stage 1, each stage feeds the next, and a process head turns each
// stage's features into a roll. Stage outputs double the spatial
// resolution each time, so the rolls land at 2x, 4x and 8x the base.
type Generator struct {
	Shared *SharedGenerator
	Stages []*GenBlock
	Heads  []*ProcessHead
}

// NewGenerator builds the pyramid from a flat configuration record.
func NewGenerator(cfg *GANConfig) *Generator {
	shared := NewSharedGenerator("shared_gen", cfg.NoiseLength, cfg.LabelDim,
		cfg.SharedChannels, cfg.SharedOutChannels)

	stages := make([]*GenBlock, len(cfg.StageChannels))
	heads := make([]*ProcessHead, len(cfg.StageChannels))
	in := cfg.SharedOutChannels
	for i, ch := range cfg.StageChannels {
		stages[i] = NewGenBlock(fmt.Sprintf("generator%d", i+1), in, cfg.LabelDim, ch)
		heads[i] = NewProcessHead(fmt.Sprintf("process_gen_%d", i+1), ch, cfg.ChannelNum)
		in = ch
	}
	return &Generator{Shared: shared, Stages: stages, Heads: heads}
}

// Forward returns one roll per stage, coarse to fine.
func (g *Generator) Forward(noise, label *Tensor) []*Tensor {
	features := g.Shared.Forward(noise, label)
	rolls := make([]*Tensor, len(g.Stages))
	for i, stage := range g.Stages {
		features = stage.Forward(features, label)
		rolls[i] = g.Heads[i].Forward(features)
	}
	return rolls
}

// Backward takes one gradient per roll and chains them through the
// heads, the stage spine and the shared base.
func (g *Generator) Backward(gradRolls []*Tensor) {
	var gradFeatures *Tensor
	for i := len(g.Stages) - 1; i >= 0; i-- {
		grad := g.Heads[i].Backward(gradRolls[i])
		if gradFeatures != nil {
			grad.Add(gradFeatures)
		}
		gradFeatures = g.Stages[i].Backward(grad)
	}
	g.Shared.Backward(gradFeatures)
}

// Parameters returns every generator weight.
func (g *Generator) Parameters() []*Parameter {
	params := g.Shared.Parameters()
	for i := range g.Stages {
		params = append(params, g.Stages[i].Parameters()...)
		params = append(params, g.Heads[i].Parameters()...)
	}
	return params
}

// SetTraining switches every batchnorm in the pyramid.
func (g *Generator) SetTraining(training bool) {
	for _, b := range g.Shared.Blocks {
		b.SetTraining(training)
	}
	for i := range g.Stages {
		g.Stages[i].Block.SetTraining(training)
		g.Heads[i].BN.Training = training
	}
}
