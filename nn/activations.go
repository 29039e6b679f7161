package nn

import (
	"math"
)

// ActivationType defines the activation function fused into a layer.
type ActivationType int

const (
	ActivationNone      ActivationType = 0 // identity
	ActivationReLU      ActivationType = 1 // max(0, v)
	ActivationLeakyReLU ActivationType = 2 // v if v >= 0, else v * 0.2
	ActivationSigmoid   ActivationType = 3 // 1 / (1 + exp(-v))
	ActivationTanh      ActivationType = 4 // tanh(v)
)

func activate(v float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if v < 0 {
			return 0
		}
		return v
	case ActivationLeakyReLU:
		if v < 0 {
			return v * 0.2
		}
		return v
	case ActivationSigmoid:
		return 1.0 / (1.0 + float32(math.Exp(float64(-v))))
	case ActivationTanh:
		return float32(math.Tanh(float64(v)))
	default:
		return v
	}
}

// activateDerivative computes the derivative with respect to the
// pre-activation value.
func activateDerivative(preActivation float32, activation ActivationType) float32 {
	switch activation {
	case ActivationReLU:
		if preActivation > 0 {
			return 1.0
		}
		return 0
	case ActivationLeakyReLU:
		if preActivation >= 0 {
			return 1.0
		}
		return 0.2
	case ActivationSigmoid:
		sig := 1.0 / (1.0 + float32(math.Exp(float64(-preActivation))))
		return sig * (1.0 - sig)
	case ActivationTanh:
		t := float32(math.Tanh(float64(preActivation)))
		return 1.0 - t*t
	default:
		return 1.0
	}
}

func (a ActivationType) String() string {
	switch a {
	case ActivationReLU:
		return "relu"
	case ActivationLeakyReLU:
		return "leaky_relu"
	case ActivationSigmoid:
		return "sigmoid"
	case ActivationTanh:
		return "tanh"
	default:
		return "none"
	}
}
