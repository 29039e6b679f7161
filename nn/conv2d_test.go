package nn

import (
	"math"
	"testing"
)

// TestSamePaddingArithmetic verifies the ceil(in/stride) output size
// and leading pad split
func TestSamePaddingArithmetic(t *testing.T) {
	cases := []struct {
		in, stride, kernel, wantOut, wantPad int
	}{
		{5, 2, 3, 3, 1},
		{4, 2, 3, 2, 0},
		{8, 1, 3, 8, 1},
		{1, 1, 1, 1, 0},
		{7, 2, 3, 4, 1},
	}
	for _, c := range cases {
		out, pad := samePadding(c.in, c.stride, c.kernel)
		if out != c.wantOut || pad != c.wantPad {
			t.Errorf("samePadding(%d, %d, %d): expected (%d, %d), got (%d, %d)",
				c.in, c.stride, c.kernel, c.wantOut, c.wantPad, out, pad)
		}
	}
}

// TestConv2DShape verifies strided SAME output geometry
func TestConv2DShape(t *testing.T) {
	conv := NewConv2D("t", 3, 8, 3, 2, 2, ActivationLeakyReLU)
	input := NewTensor(2, 3, 9, 15)
	out := conv.Forward(input)
	if out.Dim(0) != 2 || out.Dim(1) != 8 || out.Dim(2) != 5 || out.Dim(3) != 8 {
		t.Errorf("expected shape [2 8 5 8], got %v", out.Shape)
	}
}

// TestConv2DKnownValues checks a 1x1 convolution against hand
// arithmetic
func TestConv2DKnownValues(t *testing.T) {
	conv := NewConv2D("t", 2, 1, 1, 1, 1, ActivationNone)
	conv.Weight.Data[0] = 1
	conv.Weight.Data[1] = 2
	conv.Bias.Data[0] = 0.5

	input := NewTensorFromSlice([]float32{
		1, 2,
		3, 4,

		10, 20,
		30, 40,
	}, 1, 2, 2, 2)
	out := conv.Forward(input)

	expected := []float32{21.5, 42.5, 63.5, 84.5}
	for i, want := range expected {
		if math.Abs(float64(out.Data[i]-want)) > 1e-5 {
			t.Errorf("out[%d]: expected %f, got %f", i, want, out.Data[i])
		}
	}
}

// TestConv2DGradientCheck compares the analytic input gradient against
// finite differences
func TestConv2DGradientCheck(t *testing.T) {
	conv := NewConv2D("t", 2, 2, 3, 1, 1, ActivationNone)
	input := NewTensor(1, 2, 4, 4)
	for i := range input.Data {
		input.Data[i] = float32(i%6)*0.2 - 0.5
	}

	sumOutput := func(in *Tensor) float64 {
		out := conv.Forward(in)
		total := 0.0
		for _, v := range out.Data {
			total += float64(v)
		}
		return total
	}

	conv.Forward(input)
	gradOut := NewTensor(1, 2, 4, 4)
	for i := range gradOut.Data {
		gradOut.Data[i] = 1
	}
	grad := conv.Backward(gradOut)

	const eps = 1e-2
	for i := range input.Data {
		probe := input.Clone()
		probe.Data[i] += eps
		up := sumOutput(probe)
		probe.Data[i] -= 2 * eps
		down := sumOutput(probe)
		numeric := (up - down) / (2 * eps)
		if math.Abs(numeric-float64(grad.Data[i])) > 5e-2 {
			t.Errorf("gradInput[%d]: analytic %f, numeric %f", i, grad.Data[i], numeric)
		}
	}
}
