package nn

import "fmt"

// Wavenet composes the causal entry convolution, the dilated residual
// stack and the post-processing tail. The output is shorter than the
// input by the receptive field: the leading timesteps only carry
// partial context and are consumed, never emitted.
type Wavenet struct {
	LayerSize      int
	StackSize      int
	Channels       int
	ReceptiveField int

	Causal *DilatedCausalConv1d
	Stack  *ResidualStack
	Post   *PostProcess
}

// NewWavenet builds the model from a flat configuration record.
func NewWavenet(cfg *WavenetConfig) *Wavenet {
	return &Wavenet{
		LayerSize:      cfg.LayerSize,
		StackSize:      cfg.StackSize,
		Channels:       cfg.Channels,
		ReceptiveField: CalcReceptiveField(cfg.LayerSize, cfg.StackSize),
		Causal:         NewDilatedCausalConv1d("causal", cfg.Channels, cfg.ResidualChannels, 1),
		Stack: NewResidualStack("stack", cfg.LayerSize, cfg.StackSize,
			cfg.ResidualChannels, cfg.DilationChannels, cfg.SkipChannels),
		Post: NewPostProcess("post", cfg.SkipChannels, cfg.EndChannels, cfg.Channels),
	}
}

// CalcReceptiveField sums every dilation in the stack:
// stackSize * (2^layerSize - 1).
func CalcReceptiveField(layerSize, stackSize int) int {
	field := 0
	for s := 0; s < stackSize; s++ {
		for i := 0; i < layerSize; i++ {
			field += 1 << i
		}
	}
	return field
}

// CalcOutputSize returns inputLength minus the receptive field. The
// result must be >= 1 for a valid forward pass.
func (w *Wavenet) CalcOutputSize(inputLength int) int {
	return inputLength - w.ReceptiveField
}

// Forward maps [B][channels][T] to [B][channels][T - receptiveField].
// It fails when the input does not exceed the receptive field.
func (w *Wavenet) Forward(input *Tensor) (*Tensor, error) {
	outputSize := w.CalcOutputSize(input.Dim(2))
	if outputSize < 1 {
		return nil, fmt.Errorf("input length %d does not exceed receptive field %d",
			input.Dim(2), w.ReceptiveField)
	}
	output := w.Causal.Forward(input)
	output = w.Stack.Forward(output, outputSize)
	return w.Post.Forward(output), nil
}

// Backward propagates the output gradient through the whole model and
// returns the gradient with respect to the input.
func (w *Wavenet) Backward(gradOutput *Tensor) *Tensor {
	grad := w.Post.Backward(gradOutput)
	grad = w.Stack.Backward(grad)
	return w.Causal.Backward(grad)
}

// Parameters returns every learnable weight of the model.
func (w *Wavenet) Parameters() []*Parameter {
	params := w.Causal.Parameters()
	params = append(params, w.Stack.Parameters()...)
	params = append(params, w.Post.Parameters()...)
	return params
}

// EnableGPU mounts the causal entry convolution on the WebGPU backend
// for fixed-length forward passes.
func (w *Wavenet) EnableGPU(seqLen int) error {
	return w.Causal.EnableGPU(seqLen)
}

// ReleaseGPU frees any mounted GPU resources.
func (w *Wavenet) ReleaseGPU() {
	w.Causal.ReleaseGPU()
}
