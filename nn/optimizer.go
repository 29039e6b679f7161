package nn

import (
	"fmt"
	"math"
)

// Optimizer applies accumulated gradients to a named parameter set.
type Optimizer interface {
	// Step applies gradients to the parameters.
	Step(params []*Parameter, learningRate float32)

	// Reset clears optimizer state (momentum, moments).
	Reset()

	// GetState returns optimizer state for serialization.
	GetState() map[string]interface{}

	// LoadState restores optimizer state from serialization.
	LoadState(state map[string]interface{}) error

	// Name returns the optimizer name.
	Name() string
}

// ============================================================================
// SGD (with optional momentum)
// ============================================================================

type SGDOptimizer struct {
	momentum   float32
	dampening  float32
	nesterov   bool
	velocities map[string][]float32
}

func NewSGDOptimizer() *SGDOptimizer {
	return &SGDOptimizer{velocities: make(map[string][]float32)}
}

func NewSGDOptimizerWithMomentum(momentum, dampening float32, nesterov bool) *SGDOptimizer {
	return &SGDOptimizer{
		momentum:   momentum,
		dampening:  dampening,
		nesterov:   nesterov,
		velocities: make(map[string][]float32),
	}
}

func (opt *SGDOptimizer) Step(params []*Parameter, learningRate float32) {
	for _, p := range params {
		if opt.momentum == 0 {
			for j := range p.Data {
				p.Data[j] -= learningRate * p.Grad[j]
			}
			continue
		}

		v := opt.velocities[p.Name]
		if v == nil {
			v = make([]float32, len(p.Data))
			opt.velocities[p.Name] = v
		}
		for j := range p.Data {
			grad := p.Grad[j]
			v[j] = opt.momentum*v[j] + (1-opt.dampening)*grad
			if opt.nesterov {
				p.Data[j] -= learningRate * (grad + opt.momentum*v[j])
			} else {
				p.Data[j] -= learningRate * v[j]
			}
		}
	}
}

func (opt *SGDOptimizer) Reset() {
	opt.velocities = make(map[string][]float32)
}

func (opt *SGDOptimizer) GetState() map[string]interface{} {
	return map[string]interface{}{
		"momentum":   opt.momentum,
		"dampening":  opt.dampening,
		"nesterov":   opt.nesterov,
		"velocities": opt.velocities,
	}
}

func (opt *SGDOptimizer) LoadState(state map[string]interface{}) error {
	if v, ok := state["velocities"].(map[string][]float32); ok {
		opt.velocities = v
	}
	return nil
}

func (opt *SGDOptimizer) Name() string { return "sgd" }

// ============================================================================
// Adam
// ============================================================================

type AdamOptimizer struct {
	beta1   float32
	beta2   float32
	epsilon float32
	t       int
	m       map[string][]float32
	v       map[string][]float32
}

func NewAdamOptimizer() *AdamOptimizer {
	return &AdamOptimizer{
		beta1:   0.9,
		beta2:   0.999,
		epsilon: 1e-8,
		m:       make(map[string][]float32),
		v:       make(map[string][]float32),
	}
}

// NewAdamOptimizerWithBetas creates Adam with explicit moment decays.
// GAN training commonly runs beta1 = 0 or 0.5.
func NewAdamOptimizerWithBetas(beta1, beta2 float32) *AdamOptimizer {
	opt := NewAdamOptimizer()
	opt.beta1 = beta1
	opt.beta2 = beta2
	return opt
}

func (opt *AdamOptimizer) Step(params []*Parameter, learningRate float32) {
	opt.t++
	bc1 := 1 - float32(math.Pow(float64(opt.beta1), float64(opt.t)))
	bc2 := 1 - float32(math.Pow(float64(opt.beta2), float64(opt.t)))

	for _, p := range params {
		m := opt.m[p.Name]
		v := opt.v[p.Name]
		if m == nil {
			m = make([]float32, len(p.Data))
			v = make([]float32, len(p.Data))
			opt.m[p.Name] = m
			opt.v[p.Name] = v
		}
		for j := range p.Data {
			grad := p.Grad[j]
			m[j] = opt.beta1*m[j] + (1-opt.beta1)*grad
			v[j] = opt.beta2*v[j] + (1-opt.beta2)*grad*grad
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Data[j] -= learningRate * mHat / (float32(math.Sqrt(float64(vHat))) + opt.epsilon)
		}
	}
}

func (opt *AdamOptimizer) Reset() {
	opt.t = 0
	opt.m = make(map[string][]float32)
	opt.v = make(map[string][]float32)
}

func (opt *AdamOptimizer) GetState() map[string]interface{} {
	return map[string]interface{}{
		"beta1": opt.beta1,
		"beta2": opt.beta2,
		"t":     opt.t,
		"m":     opt.m,
		"v":     opt.v,
	}
}

func (opt *AdamOptimizer) LoadState(state map[string]interface{}) error {
	t, ok := state["t"].(int)
	if !ok {
		return fmt.Errorf("adam state missing step counter")
	}
	opt.t = t
	if m, ok := state["m"].(map[string][]float32); ok {
		opt.m = m
	}
	if v, ok := state["v"].(map[string][]float32); ok {
		opt.v = v
	}
	return nil
}

func (opt *AdamOptimizer) Name() string { return "adam" }

// ClipGradients scales every gradient so the global L2 norm does not
// exceed maxNorm. A maxNorm of 0 disables clipping.
func ClipGradients(params []*Parameter, maxNorm float32) {
	if maxNorm <= 0 {
		return
	}
	var sum float64
	for _, p := range params {
		for _, g := range p.Grad {
			sum += float64(g) * float64(g)
		}
	}
	norm := float32(math.Sqrt(sum))
	if norm <= maxNorm {
		return
	}
	scale := maxNorm / norm
	for _, p := range params {
		for j := range p.Grad {
			p.Grad[j] *= scale
		}
	}
}
