package nn

// AvgPool2D performs 2x2 average pooling with stride 2 and SAME
// padding. Padded cells are excluded from the average, so edge windows
// divide by the number of real cells they cover.
type AvgPool2D struct {
	inShape []int
}

// Forward maps [B][C][H][W] to [B][C][ceil(H/2)][ceil(W/2)].
func (p *AvgPool2D) Forward(input *Tensor) *Tensor {
	p.inShape = append([]int(nil), input.Shape...)
	batch := input.Dim(0)
	channels := input.Dim(1)
	inH := input.Dim(2)
	inW := input.Dim(3)
	outH := (inH + 1) / 2
	outW := (inW + 1) / 2

	out := NewTensor(batch, channels, outH, outW)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			inBase := (b*channels + ch) * inH * inW
			outBase := (b*channels + ch) * outH * outW
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					var sum float32
					var n int
					for dh := 0; dh < 2; dh++ {
						ih := oh*2 + dh
						if ih >= inH {
							continue
						}
						for dw := 0; dw < 2; dw++ {
							iw := ow*2 + dw
							if iw >= inW {
								continue
							}
							sum += input.Data[inBase+ih*inW+iw]
							n++
						}
					}
					out.Data[outBase+oh*outW+ow] = sum / float32(n)
				}
			}
		}
	}
	return out
}

// Backward spreads each output gradient evenly over the cells that
// fed it.
func (p *AvgPool2D) Backward(gradOutput *Tensor) *Tensor {
	batch := p.inShape[0]
	channels := p.inShape[1]
	inH := p.inShape[2]
	inW := p.inShape[3]
	outH := (inH + 1) / 2
	outW := (inW + 1) / 2

	gradInput := NewTensor(p.inShape...)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			inBase := (b*channels + ch) * inH * inW
			outBase := (b*channels + ch) * outH * outW
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					n := 0
					for dh := 0; dh < 2; dh++ {
						if oh*2+dh < inH {
							for dw := 0; dw < 2; dw++ {
								if ow*2+dw < inW {
									n++
								}
							}
						}
					}
					g := gradOutput.Data[outBase+oh*outW+ow] / float32(n)
					for dh := 0; dh < 2; dh++ {
						ih := oh*2 + dh
						if ih >= inH {
							continue
						}
						for dw := 0; dw < 2; dw++ {
							iw := ow*2 + dw
							if iw >= inW {
								continue
							}
							gradInput.Data[inBase+ih*inW+iw] += g
						}
					}
				}
			}
		}
	}
	return gradInput
}

// UpsampleNearest2x doubles both spatial axes by nearest-neighbor
// replication.
func UpsampleNearest2x(input *Tensor) *Tensor {
	batch := input.Dim(0)
	channels := input.Dim(1)
	inH := input.Dim(2)
	inW := input.Dim(3)
	outH := inH * 2
	outW := inW * 2

	out := NewTensor(batch, channels, outH, outW)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			inBase := (b*channels + ch) * inH * inW
			outBase := (b*channels + ch) * outH * outW
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					out.Data[outBase+oh*outW+ow] = input.Data[inBase+(oh/2)*inW+ow/2]
				}
			}
		}
	}
	return out
}

// UpsampleNearest2xBackward sums each 2x2 replica block back into its
// source cell.
func UpsampleNearest2xBackward(gradOutput *Tensor) *Tensor {
	batch := gradOutput.Dim(0)
	channels := gradOutput.Dim(1)
	outH := gradOutput.Dim(2)
	outW := gradOutput.Dim(3)
	inH := outH / 2
	inW := outW / 2

	gradInput := NewTensor(batch, channels, inH, inW)
	for b := 0; b < batch; b++ {
		for ch := 0; ch < channels; ch++ {
			inBase := (b*channels + ch) * inH * inW
			outBase := (b*channels + ch) * outH * outW
			for oh := 0; oh < outH; oh++ {
				for ow := 0; ow < outW; ow++ {
					gradInput.Data[inBase+(oh/2)*inW+ow/2] += gradOutput.Data[outBase+oh*outW+ow]
				}
			}
		}
	}
	return gradInput
}
