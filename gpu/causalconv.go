package gpu

import (
	"fmt"

	"github.com/openfluke/webgpu/wgpu"
)

// CausalConv1D runs the dilated causal convolution (kernel size 2, no
// bias) on the GPU for one sample at a time. Layouts match the CPU
// kernel: input [inCh][seqLen], output [outCh][seqLen], weights
// [outCh][inCh][2] with tap 0 at t-dilation and tap 1 at t.
type CausalConv1D struct {
	inChannels  int
	outChannels int
	dilation    int
	seqLen      int

	pipeline  *wgpu.ComputePipeline
	bindGroup *wgpu.BindGroup

	inputBuffer  *wgpu.Buffer
	outputBuffer *wgpu.Buffer
	weightBuffer *wgpu.Buffer
}

// NewCausalConv1D allocates buffers and compiles the pipeline for a
// fixed sequence length.
func NewCausalConv1D(inChannels, outChannels, dilation, seqLen int, weights []float32) (*CausalConv1D, error) {
	if seqLen < 1 || dilation < 1 {
		return nil, fmt.Errorf("invalid causal conv geometry: seqLen=%d dilation=%d", seqLen, dilation)
	}
	c, err := GetContext()
	if err != nil {
		return nil, err
	}

	l := &CausalConv1D{
		inChannels:  inChannels,
		outChannels: outChannels,
		dilation:    dilation,
		seqLen:      seqLen,
	}

	l.inputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "CausalConv_In",
		Size:  uint64(inChannels * seqLen * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, err
	}
	l.outputBuffer, err = c.Device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "CausalConv_Out",
		Size:  uint64(outChannels * seqLen * 4),
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc,
	})
	if err != nil {
		return nil, err
	}
	l.weightBuffer, err = NewFloatBuffer(weights,
		wgpu.BufferUsageStorage|wgpu.BufferUsageCopyDst)
	if err != nil {
		return nil, err
	}

	mod, err := c.Device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "CausalConv_Shader",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: l.generateShader()},
	})
	if err != nil {
		return nil, err
	}
	l.pipeline, err = c.Device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:   "CausalConv_Pipe",
		Compute: wgpu.ProgrammableStageDescriptor{Module: mod, EntryPoint: "main"},
	})
	if err != nil {
		return nil, err
	}
	l.bindGroup, err = c.Device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "CausalConv_Bind",
		Layout: l.pipeline.GetBindGroupLayout(0),
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: l.inputBuffer, Size: l.inputBuffer.GetSize()},
			{Binding: 1, Buffer: l.weightBuffer, Size: l.weightBuffer.GetSize()},
			{Binding: 2, Buffer: l.outputBuffer, Size: l.outputBuffer.GetSize()},
		},
	})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// SeqLen reports the sequence length the pipeline was built for.
func (l *CausalConv1D) SeqLen() int { return l.seqLen }

func (l *CausalConv1D) generateShader() string {
	// The causal pad-then-trim collapses to: out[t] depends on in[t]
	// and in[t - dilation], with positions before the start reading
	// as zero.
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> input : array<f32>;
		@group(0) @binding(1) var<storage, read> weights : array<f32>;
		@group(0) @binding(2) var<storage, read_write> output : array<f32>;

		const SEQ_LEN: u32 = %du;
		const IN_CH: u32 = %du;
		const OUT_CH: u32 = %du;
		const DILATION: u32 = %du;

		@compute @workgroup_size(256)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let idx = gid.x;
			let total = SEQ_LEN * OUT_CH;
			if (idx >= total) { return; }

			let out_c = idx / SEQ_LEN;
			let t = idx %% SEQ_LEN;

			var sum: f32 = 0.0;
			for (var in_c: u32 = 0u; in_c < IN_CH; in_c++) {
				let w_idx = (out_c * IN_CH + in_c) * 2u;
				if (t >= DILATION) {
					sum += input[in_c * SEQ_LEN + t - DILATION] * weights[w_idx];
				}
				sum += input[in_c * SEQ_LEN + t] * weights[w_idx + 1u];
			}
			output[idx] = sum;
		}
	`, l.seqLen, l.inChannels, l.outChannels, l.dilation)
}

// UpdateWeights uploads fresh weights before a forward pass.
func (l *CausalConv1D) UpdateWeights(weights []float32) error {
	c, err := GetContext()
	if err != nil {
		return err
	}
	c.Queue.WriteBuffer(l.weightBuffer, 0, wgpu.ToBytes(weights))
	return nil
}

// Forward runs one sample ([inCh*seqLen]) and returns [outCh*seqLen].
func (l *CausalConv1D) Forward(input []float32) ([]float32, error) {
	if len(input) != l.inChannels*l.seqLen {
		return nil, fmt.Errorf("input has %d values, want %d", len(input), l.inChannels*l.seqLen)
	}
	c, err := GetContext()
	if err != nil {
		return nil, err
	}
	c.Queue.WriteBuffer(l.inputBuffer, 0, wgpu.ToBytes(input))

	encoder, err := c.Device.CreateCommandEncoder(nil)
	if err != nil {
		return nil, err
	}
	pass := encoder.BeginComputePass(nil)
	pass.SetPipeline(l.pipeline)
	pass.SetBindGroup(0, l.bindGroup, nil)
	total := l.seqLen * l.outChannels
	pass.DispatchWorkgroups(uint32((total+255)/256), 1, 1)
	pass.End()
	cmd, err := encoder.Finish(nil)
	if err != nil {
		return nil, err
	}
	c.Queue.Submit(cmd)

	return ReadBuffer(l.outputBuffer, total)
}

// Release frees the GPU resources.
func (l *CausalConv1D) Release() {
	for _, b := range []*wgpu.Buffer{l.inputBuffer, l.outputBuffer, l.weightBuffer} {
		if b != nil {
			b.Destroy()
		}
	}
	if l.bindGroup != nil {
		l.bindGroup.Release()
	}
	if l.pipeline != nil {
		l.pipeline.Release()
	}
}
