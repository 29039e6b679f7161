package nn

import "math"

const lossEps = 1e-7

// BCELoss computes elementwise binary cross-entropy between
// predictions in [0,1] and targets, returning the mean loss and the
// gradient with respect to the predictions. Predictions are clamped
// away from 0 and 1 before taking logs.
func BCELoss(pred, target *Tensor) (float64, *Tensor) {
	n := float64(len(pred.Data))
	grad := NewTensor(pred.Shape...)
	loss := 0.0
	for i := range pred.Data {
		p := float64(pred.Data[i])
		if p < lossEps {
			p = lossEps
		} else if p > 1-lossEps {
			p = 1 - lossEps
		}
		y := float64(target.Data[i])
		loss += -(y*math.Log(p) + (1-y)*math.Log(1-p))
		grad.Data[i] = float32((p - y) / (p * (1 - p)) / n)
	}
	return loss / n, grad
}

// HingeRealLoss is the discriminator loss on real samples,
// mean(max(0, 1 - score)), with its gradient.
func HingeRealLoss(score *Tensor) (float64, *Tensor) {
	n := float64(len(score.Data))
	grad := NewTensor(score.Shape...)
	loss := 0.0
	for i, s := range score.Data {
		if 1-float64(s) > 0 {
			loss += 1 - float64(s)
			grad.Data[i] = float32(-1 / n)
		}
	}
	return loss / n, grad
}

// HingeFakeLoss is the discriminator loss on generated samples,
// mean(max(0, 1 + score)), with its gradient.
func HingeFakeLoss(score *Tensor) (float64, *Tensor) {
	n := float64(len(score.Data))
	grad := NewTensor(score.Shape...)
	loss := 0.0
	for i, s := range score.Data {
		if 1+float64(s) > 0 {
			loss += 1 + float64(s)
			grad.Data[i] = float32(1 / n)
		}
	}
	return loss / n, grad
}

// GeneratorLoss is -mean(score) over the discriminator's scores for
// generated samples, with its gradient.
func GeneratorLoss(score *Tensor) (float64, *Tensor) {
	n := float64(len(score.Data))
	grad := NewTensor(score.Shape...)
	loss := 0.0
	for i, s := range score.Data {
		loss -= float64(s)
		grad.Data[i] = float32(-1 / n)
	}
	return loss / n, grad
}
