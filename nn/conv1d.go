package nn

import (
	"fmt"

	"github.com/tonegrid/tonegrid/gpu"
)

// DilatedCausalConv1d is a 1-D convolution with kernel size 2, no bias,
// padded by the dilation on both sides and right-trimmed by the same
// amount. The trim keeps the output causal: position t sees only inputs
// at t and t-dilation, and the sequence length is preserved.
type DilatedCausalConv1d struct {
	InChannels  int
	OutChannels int
	Dilation    int

	// Kernel layout: [outChannels][inChannels][2], tap 0 is the past
	// sample (t - dilation), tap 1 the current sample.
	Kernel *Parameter

	gpuLayer *gpu.CausalConv1D

	input *Tensor
}

// NewDilatedCausalConv1d creates the layer with He-initialized taps.
func NewDilatedCausalConv1d(name string, inChannels, outChannels, dilation int) *DilatedCausalConv1d {
	return &DilatedCausalConv1d{
		InChannels:  inChannels,
		OutChannels: outChannels,
		Dilation:    dilation,
		Kernel:      NewParameterHe(name+".kernel", outChannels*inChannels*2, inChannels*2),
	}
}

// Forward computes the causal convolution. Input shape [B][Cin][T],
// output shape [B][Cout][T]. Inputs before the sequence start read as
// zero, so the first `dilation` positions only see partial context;
// the caller accounts for that through the model receptive field.
func (c *DilatedCausalConv1d) Forward(input *Tensor) *Tensor {
	c.input = input
	batch := input.Dim(0)
	seqLen := input.Dim(2)

	if c.gpuLayer != nil {
		if out, err := c.forwardGPU(input, batch, seqLen); err == nil {
			return out
		}
		// GPU failure falls through to the CPU reference path.
	}

	out := NewTensor(batch, c.OutChannels, seqLen)
	d := c.Dilation
	for b := 0; b < batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			for t := 0; t < seqLen; t++ {
				var sum float32
				for ic := 0; ic < c.InChannels; ic++ {
					kIdx := (f*c.InChannels + ic) * 2
					inBase := b*c.InChannels*seqLen + ic*seqLen
					if t-d >= 0 {
						sum += c.Kernel.Data[kIdx] * input.Data[inBase+t-d]
					}
					sum += c.Kernel.Data[kIdx+1] * input.Data[inBase+t]
				}
				out.Data[b*c.OutChannels*seqLen+f*seqLen+t] = sum
			}
		}
	}
	return out
}

// Backward accumulates kernel gradients and returns the gradient with
// respect to the last forward input.
func (c *DilatedCausalConv1d) Backward(gradOutput *Tensor) *Tensor {
	input := c.input
	batch := input.Dim(0)
	seqLen := input.Dim(2)
	d := c.Dilation

	gradInput := NewTensor(batch, c.InChannels, seqLen)
	for b := 0; b < batch; b++ {
		for f := 0; f < c.OutChannels; f++ {
			outBase := b*c.OutChannels*seqLen + f*seqLen
			for t := 0; t < seqLen; t++ {
				g := gradOutput.Data[outBase+t]
				if g == 0 {
					continue
				}
				for ic := 0; ic < c.InChannels; ic++ {
					kIdx := (f*c.InChannels + ic) * 2
					inBase := b*c.InChannels*seqLen + ic*seqLen
					if t-d >= 0 {
						c.Kernel.Grad[kIdx] += g * input.Data[inBase+t-d]
						gradInput.Data[inBase+t-d] += g * c.Kernel.Data[kIdx]
					}
					c.Kernel.Grad[kIdx+1] += g * input.Data[inBase+t]
					gradInput.Data[inBase+t] += g * c.Kernel.Data[kIdx+1]
				}
			}
		}
	}
	return gradInput
}

// Parameters returns the learnable taps.
func (c *DilatedCausalConv1d) Parameters() []*Parameter {
	return []*Parameter{c.Kernel}
}

// EnableGPU mounts a WebGPU compute pipeline for forward passes over
// sequences of exactly seqLen samples. Training keeps using the CPU
// backward path; weights are re-uploaded before each GPU forward.
func (c *DilatedCausalConv1d) EnableGPU(seqLen int) error {
	layer, err := gpu.NewCausalConv1D(c.InChannels, c.OutChannels, c.Dilation, seqLen, c.Kernel.Data)
	if err != nil {
		return fmt.Errorf("mount causal conv on GPU: %w", err)
	}
	c.gpuLayer = layer
	return nil
}

// ReleaseGPU frees the GPU pipeline, if mounted.
func (c *DilatedCausalConv1d) ReleaseGPU() {
	if c.gpuLayer != nil {
		c.gpuLayer.Release()
		c.gpuLayer = nil
	}
}

func (c *DilatedCausalConv1d) forwardGPU(input *Tensor, batch, seqLen int) (*Tensor, error) {
	if seqLen != c.gpuLayer.SeqLen() {
		return nil, fmt.Errorf("gpu layer mounted for seqLen %d, got %d", c.gpuLayer.SeqLen(), seqLen)
	}
	if err := c.gpuLayer.UpdateWeights(c.Kernel.Data); err != nil {
		return nil, err
	}
	out := NewTensor(batch, c.OutChannels, seqLen)
	for b := 0; b < batch; b++ {
		in := input.Data[b*c.InChannels*seqLen : (b+1)*c.InChannels*seqLen]
		res, err := c.gpuLayer.Forward(in)
		if err != nil {
			return nil, err
		}
		copy(out.Data[b*c.OutChannels*seqLen:], res)
	}
	return out, nil
}
