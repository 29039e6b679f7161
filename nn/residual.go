package nn

import "fmt"

// ResidualBlock is one gated unit of the WaveNet stack. A dilated causal
// convolution feeds a tanh branch and a sigmoid branch whose elementwise
// product gates the signal; the gated tensor is projected back to the
// residual width and added to the (right-aligned) block input, and
// separately projected to the skip width.
type ResidualBlock struct {
	Dilation int

	DilatedConv  *DilatedCausalConv1d
	TanhConv     *Conv1x1
	SigmoidConv  *Conv1x1
	ResidualConv *Conv1x1
	SkipConv     *Conv1x1

	input      *Tensor
	gateTanh   *Tensor
	gateSig    *Tensor
	gated      *Tensor
	skipOffset int
}

// NewResidualBlock builds a block for the given channel widths.
func NewResidualBlock(name string, residualChannels, dilationChannels, skipChannels, dilation int) *ResidualBlock {
	return &ResidualBlock{
		Dilation:     dilation,
		DilatedConv:  NewDilatedCausalConv1d(name+".dilated", residualChannels, residualChannels, dilation),
		TanhConv:     NewConv1x1(name+".tanh", residualChannels, dilationChannels, ActivationTanh),
		SigmoidConv:  NewConv1x1(name+".sigmoid", residualChannels, dilationChannels, ActivationSigmoid),
		ResidualConv: NewConv1x1(name+".residual", dilationChannels, residualChannels, ActivationNone),
		SkipConv:     NewConv1x1(name+".skip", dilationChannels, skipChannels, ActivationNone),
	}
}

// Forward returns the residual output (same length as the input, fed to
// the next block) and the skip output right-trimmed to skipSize (the
// last skipSize timesteps, dropping context consumed by the stack).
func (r *ResidualBlock) Forward(input *Tensor, skipSize int) (residual, skip *Tensor) {
	r.input = input
	batch := input.Dim(0)
	seqLen := input.Dim(2)

	conv := r.DilatedConv.Forward(input)
	r.gateTanh = r.TanhConv.Forward(conv)
	r.gateSig = r.SigmoidConv.Forward(conv)

	r.gated = NewTensor(batch, r.gateTanh.Dim(1), seqLen)
	for i := range r.gated.Data {
		r.gated.Data[i] = r.gateTanh.Data[i] * r.gateSig.Data[i]
	}

	residual = r.ResidualConv.Forward(r.gated)
	// Right-aligned residual add: keep the last residual-length
	// timesteps of the input. Lengths match here because the causal
	// conv preserves length.
	outLen := residual.Dim(2)
	offset := seqLen - outLen
	for b := 0; b < batch; b++ {
		for ch := 0; ch < residual.Dim(1); ch++ {
			for t := 0; t < outLen; t++ {
				residual.Data[b*residual.Dim(1)*outLen+ch*outLen+t] +=
					input.Data[b*input.Dim(1)*seqLen+ch*seqLen+offset+t]
			}
		}
	}

	skipFull := r.SkipConv.Forward(r.gated)
	r.skipOffset = seqLen - skipSize
	skip = NewTensor(batch, skipFull.Dim(1), skipSize)
	skipCh := skipFull.Dim(1)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < skipCh; ch++ {
			copy(skip.Data[b*skipCh*skipSize+ch*skipSize:(b*skipCh+ch)*skipSize+skipSize],
				skipFull.Data[b*skipCh*seqLen+ch*seqLen+r.skipOffset:b*skipCh*seqLen+ch*seqLen+seqLen])
		}
	}
	return residual, skip
}

// Backward propagates gradients from both outputs back to the block
// input. gradResidual has the input's length; gradSkip has the trimmed
// skip length.
func (r *ResidualBlock) Backward(gradResidual, gradSkip *Tensor) *Tensor {
	batch := r.input.Dim(0)
	seqLen := r.input.Dim(2)
	skipCh := r.SkipConv.OutChannels
	skipSize := gradSkip.Dim(2)

	// Undo the right-trim: pad the skip gradient back to full length.
	gradSkipFull := NewTensor(batch, skipCh, seqLen)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < skipCh; ch++ {
			copy(gradSkipFull.Data[b*skipCh*seqLen+ch*seqLen+r.skipOffset:b*skipCh*seqLen+ch*seqLen+seqLen],
				gradSkip.Data[b*skipCh*skipSize+ch*skipSize:(b*skipCh+ch)*skipSize+skipSize])
		}
	}

	gradGated := r.SkipConv.Backward(gradSkipFull)
	gradGated.Add(r.ResidualConv.Backward(gradResidual))

	gradTanh := NewTensor(batch, r.gateTanh.Dim(1), seqLen)
	gradSig := NewTensor(batch, r.gateSig.Dim(1), seqLen)
	for i := range gradGated.Data {
		gradTanh.Data[i] = gradGated.Data[i] * r.gateSig.Data[i]
		gradSig.Data[i] = gradGated.Data[i] * r.gateTanh.Data[i]
	}

	gradConv := r.TanhConv.Backward(gradTanh)
	gradConv.Add(r.SigmoidConv.Backward(gradSig))

	gradInput := r.DilatedConv.Backward(gradConv)
	// Identity path of the residual add.
	gradInput.Add(gradResidual)
	return gradInput
}

// Parameters returns all learnable weights of the block.
func (r *ResidualBlock) Parameters() []*Parameter {
	params := r.DilatedConv.Parameters()
	params = append(params, r.TanhConv.Parameters()...)
	params = append(params, r.SigmoidConv.Parameters()...)
	params = append(params, r.ResidualConv.Parameters()...)
	params = append(params, r.SkipConv.Parameters()...)
	return params
}

// ResidualStack chains layerSize*stackSize residual blocks with
// dilation 2^(i mod layerSize), feeding each block's residual output
// into the next and summing every skip output into one tensor of the
// skip width. The residual chain is discarded after the loop; summing
// skips at every depth lets the post-processing tail combine receptive
// fields of every dilation at once.
type ResidualStack struct {
	LayerSize int
	StackSize int
	Blocks    []*ResidualBlock
}

// BuildDilations returns the deterministic dilation schedule for the
// given stack geometry.
func BuildDilations(layerSize, stackSize int) []int {
	dilations := make([]int, 0, layerSize*stackSize)
	for s := 0; s < stackSize; s++ {
		for i := 0; i < layerSize; i++ {
			dilations = append(dilations, 1<<i)
		}
	}
	return dilations
}

// NewResidualStack builds the block chain.
func NewResidualStack(name string, layerSize, stackSize, residualChannels, dilationChannels, skipChannels int) *ResidualStack {
	dilations := BuildDilations(layerSize, stackSize)
	blocks := make([]*ResidualBlock, len(dilations))
	for i, d := range dilations {
		blocks[i] = NewResidualBlock(
			fmt.Sprintf("%s.block%d", name, i),
			residualChannels, dilationChannels, skipChannels, d,
		)
	}
	return &ResidualStack{
		LayerSize: layerSize,
		StackSize: stackSize,
		Blocks:    blocks,
	}
}

// Forward runs the chain and returns the skip sum of shape
// [B][skipChannels][skipSize].
func (s *ResidualStack) Forward(input *Tensor, skipSize int) *Tensor {
	output := input
	var sum *Tensor
	for _, block := range s.Blocks {
		var skip *Tensor
		output, skip = block.Forward(output, skipSize)
		if sum == nil {
			sum = skip
		} else {
			sum.Add(skip)
		}
	}
	return sum
}

// Backward propagates the skip-sum gradient through every block in
// reverse and returns the gradient with respect to the stack input.
// The residual chain output was discarded, so its gradient starts at
// zero.
func (s *ResidualStack) Backward(gradSkipSum *Tensor) *Tensor {
	last := s.Blocks[len(s.Blocks)-1]
	batch := last.input.Dim(0)
	seqLen := last.input.Dim(2)
	gradResidual := NewTensor(batch, last.input.Dim(1), seqLen)
	for i := len(s.Blocks) - 1; i >= 0; i-- {
		gradResidual = s.Blocks[i].Backward(gradResidual, gradSkipSum)
	}
	return gradResidual
}

// Parameters returns all block weights in order.
func (s *ResidualStack) Parameters() []*Parameter {
	var params []*Parameter
	for _, b := range s.Blocks {
		params = append(params, b.Parameters()...)
	}
	return params
}
