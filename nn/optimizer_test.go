package nn

import (
	"math"
	"testing"
)

// quadraticStep accumulates the gradient of sum(x^2) and applies one
// optimizer step
func quadraticStep(opt Optimizer, p *Parameter, lr float32) float64 {
	loss := 0.0
	for i, x := range p.Data {
		loss += float64(x) * float64(x)
		p.Grad[i] = 2 * x
	}
	opt.Step([]*Parameter{p}, lr)
	p.ZeroGrad()
	return loss
}

// TestSGDReducesQuadratic verifies plain gradient descent converges on
// a convex bowl
func TestSGDReducesQuadratic(t *testing.T) {
	p := NewParameter("x", 3)
	copy(p.Data, []float32{1, -2, 0.5})
	opt := NewSGDOptimizer()

	first := quadraticStep(opt, p, 0.1)
	var last float64
	for i := 0; i < 50; i++ {
		last = quadraticStep(opt, p, 0.1)
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %f, last %f", first, last)
	}
	if last > 1e-6 {
		t.Errorf("expected near-zero loss after 50 steps, got %f", last)
	}
}

// TestAdamReducesQuadratic verifies Adam converges with bias-corrected
// moments
func TestAdamReducesQuadratic(t *testing.T) {
	p := NewParameter("x", 3)
	copy(p.Data, []float32{1, -2, 0.5})
	opt := NewAdamOptimizer()

	first := quadraticStep(opt, p, 0.1)
	var last float64
	for i := 0; i < 100; i++ {
		last = quadraticStep(opt, p, 0.1)
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %f, last %f", first, last)
	}
}

// TestAdamBetasOverride verifies the GAN-style moment decays are
// applied
func TestAdamBetasOverride(t *testing.T) {
	opt := NewAdamOptimizerWithBetas(0.5, 0.999)
	if opt.beta1 != 0.5 || opt.beta2 != 0.999 {
		t.Errorf("expected betas (0.5, 0.999), got (%f, %f)", opt.beta1, opt.beta2)
	}
	if opt.Name() != "adam" {
		t.Errorf("expected name adam, got %s", opt.Name())
	}
}

// TestSGDMomentumState verifies velocities persist across steps and
// clear on Reset
func TestSGDMomentumState(t *testing.T) {
	p := NewParameter("x", 1)
	p.Data[0] = 1
	opt := NewSGDOptimizerWithMomentum(0.9, 0, false)

	p.Grad[0] = 1
	opt.Step([]*Parameter{p}, 0.1)
	// first step: v = 1, x = 1 - 0.1
	if math.Abs(float64(p.Data[0]-0.9)) > 1e-6 {
		t.Errorf("after step 1: expected 0.9, got %f", p.Data[0])
	}

	p.Grad[0] = 1
	opt.Step([]*Parameter{p}, 0.1)
	// second step: v = 0.9 + 1 = 1.9, x = 0.9 - 0.19
	if math.Abs(float64(p.Data[0]-0.71)) > 1e-5 {
		t.Errorf("after step 2: expected 0.71, got %f", p.Data[0])
	}

	opt.Reset()
	if len(opt.velocities) != 0 {
		t.Error("Reset should clear velocities")
	}
}

// TestClipGradients verifies the global norm cap
func TestClipGradients(t *testing.T) {
	p := NewParameter("x", 2)
	p.Grad[0] = 3
	p.Grad[1] = 4

	ClipGradients([]*Parameter{p}, 10)
	if p.Grad[0] != 3 || p.Grad[1] != 4 {
		t.Error("gradients under the cap should not change")
	}

	ClipGradients([]*Parameter{p}, 1)
	norm := math.Sqrt(float64(p.Grad[0]*p.Grad[0] + p.Grad[1]*p.Grad[1]))
	if math.Abs(norm-1) > 1e-5 {
		t.Errorf("expected clipped norm 1, got %f", norm)
	}
}
