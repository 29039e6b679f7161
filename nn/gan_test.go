package nn

import (
	"math"
	"testing"
)

func smallGANConfig() *GANConfig {
	return &GANConfig{
		NoiseLength:       8,
		LabelDim:          3,
		ChannelNum:        2,
		SharedChannels:    []int{8, 8},
		SharedOutChannels: 4,
		StageChannels:     []int{4, 4},
		EmbedSize:         8,
		LearningRate:      0.001,
		BatchSize:         2,
		Steps:             10,
	}
}

// TestGANConfigGeometry verifies the base strip and per-stage shapes
func TestGANConfigGeometry(t *testing.T) {
	cfg := smallGANConfig()
	if cfg.BaseHeight() != 4 || cfg.BaseWidth() != 16 {
		t.Errorf("expected base (4, 16), got (%d, %d)", cfg.BaseHeight(), cfg.BaseWidth())
	}
	h, w := cfg.StageShape(0)
	if h != 8 || w != 32 {
		t.Errorf("stage 0: expected (8, 32), got (%d, %d)", h, w)
	}
	h, w = cfg.StageShape(1)
	if h != 16 || w != 64 {
		t.Errorf("stage 1: expected (16, 64), got (%d, %d)", h, w)
	}

	full := DefaultGANConfig()
	if full.BaseHeight() != 16 || full.BaseWidth() != 64 {
		t.Errorf("default base: expected (16, 64), got (%d, %d)", full.BaseHeight(), full.BaseWidth())
	}
}

// TestGeneratorRollShapes verifies each stage doubles the spatial
// resolution and emits roll channels in [-1, 1]
func TestGeneratorRollShapes(t *testing.T) {
	cfg := smallGANConfig()
	gen := NewGenerator(cfg)

	noise := NewTensor(2, cfg.NoiseLength)
	label := NewTensor(2, cfg.LabelDim)
	label.Data[0] = 1
	label.Data[cfg.LabelDim+2] = 1

	rolls := gen.Forward(noise, label)
	if len(rolls) != 2 {
		t.Fatalf("expected 2 rolls, got %d", len(rolls))
	}
	for i, roll := range rolls {
		h, w := cfg.StageShape(i)
		if roll.Dim(0) != 2 || roll.Dim(1) != cfg.ChannelNum || roll.Dim(2) != h || roll.Dim(3) != w {
			t.Errorf("roll %d: expected shape [2 %d %d %d], got %v", i, cfg.ChannelNum, h, w, roll.Shape)
		}
		if Min(roll.Data) < -1 || Max(roll.Data) > 1 {
			t.Errorf("roll %d outside [-1,1]: min %f max %f", i, Min(roll.Data), Max(roll.Data))
		}
	}
}

// TestGeneratorBackward verifies the full backward chain accumulates
// gradients on every weight path
func TestGeneratorBackward(t *testing.T) {
	cfg := smallGANConfig()
	gen := NewGenerator(cfg)
	params := gen.Parameters()
	ZeroGrads(params)

	noise := NewTensor(2, cfg.NoiseLength)
	for i := range noise.Data {
		noise.Data[i] = float32(i%5)*0.3 - 0.6
	}
	label := NewTensor(2, cfg.LabelDim)
	label.Data[0] = 1
	label.Data[cfg.LabelDim] = 1

	rolls := gen.Forward(noise, label)
	grads := make([]*Tensor, len(rolls))
	for i, roll := range rolls {
		grads[i] = NewTensor(roll.Shape...)
		for j := range grads[i].Data {
			grads[i].Data[j] = 0.01
		}
	}
	gen.Backward(grads)

	touched := 0
	for _, p := range params {
		for _, g := range p.Grad {
			if g != 0 {
				touched++
				break
			}
		}
	}
	if touched < len(params)/2 {
		t.Errorf("only %d of %d parameters received gradient", touched, len(params))
	}
}

// TestEncoderEmbedding verifies the embedding size and tanh range
func TestEncoderEmbedding(t *testing.T) {
	cfg := smallGANConfig()
	topH, topW := cfg.StageShape(1)
	enc := NewEncoder("enc", cfg.ChannelNum, topH, topW, cfg.EmbedSize)

	input := NewTensor(2, cfg.ChannelNum, topH, topW)
	for i := range input.Data {
		input.Data[i] = float32(i%9)*0.25 - 1
	}
	embed := enc.Forward(input)
	if embed.Dim(0) != 2 || embed.Dim(1) != cfg.EmbedSize {
		t.Errorf("expected shape [2 %d], got %v", cfg.EmbedSize, embed.Shape)
	}
	if Min(embed.Data) < -1 || Max(embed.Data) > 1 {
		t.Errorf("embedding outside [-1,1]: min %f max %f", Min(embed.Data), Max(embed.Data))
	}

	grad := enc.Backward(NewTensor(2, cfg.EmbedSize))
	if grad.Dim(1) != cfg.ChannelNum || grad.Dim(2) != topH || grad.Dim(3) != topW {
		t.Errorf("expected gradient shape [2 %d %d %d], got %v", cfg.ChannelNum, topH, topW, grad.Shape)
	}
}

// TestDiscriminatorScore verifies the tower collapses to one scalar per
// sample and gradients match input shapes
func TestDiscriminatorScore(t *testing.T) {
	cfg := smallGANConfig()
	h, w := cfg.StageShape(0)
	disc := NewDiscriminator("d", cfg.ChannelNum, h, w, cfg.EmbedSize)

	if disc.Down.OutH != 1 {
		t.Errorf("tower should collapse height to 1, got %d", disc.Down.OutH)
	}

	roll := NewTensor(2, cfg.ChannelNum, h, w)
	for i := range roll.Data {
		roll.Data[i] = float32(i%7)*0.3 - 1
	}
	encode := NewTensor(2, cfg.EmbedSize)
	score := disc.Forward(roll, encode)
	if score.Dim(0) != 2 || score.Dim(1) != 1 {
		t.Errorf("expected score shape [2 1], got %v", score.Shape)
	}

	gradScore := NewTensor(2, 1)
	gradScore.Data[0] = 1
	gradScore.Data[1] = -1
	gradRoll, gradEncode := disc.Backward(gradScore)
	if len(gradRoll.Data) != len(roll.Data) {
		t.Errorf("roll gradient has %d values, expected %d", len(gradRoll.Data), len(roll.Data))
	}
	if gradEncode.Dim(1) != cfg.EmbedSize {
		t.Errorf("expected encode gradient width %d, got %d", cfg.EmbedSize, gradEncode.Dim(1))
	}
}

// TestSpectralTargetFilterColumns verifies every conv target views its
// weight one row per output filter, never mixing filters in a row
func TestSpectralTargetFilterColumns(t *testing.T) {
	cfg := smallGANConfig()
	h, w := cfg.StageShape(0)
	disc := NewDiscriminator("d", cfg.ChannelNum, h, w, cfg.EmbedSize)
	topH, topW := cfg.StageShape(1)
	enc := NewEncoder("enc", cfg.ChannelNum, topH, topW, cfg.EmbedSize)

	targets := append(disc.SpectralTargets(), enc.SpectralTargets()...)
	if len(targets) == 0 {
		t.Fatal("no normalization targets")
	}
	for _, target := range targets {
		if target.Cols <= 0 || len(target.Param.Data)%target.Cols != 0 {
			t.Errorf("%s: %d weights do not divide into %d columns",
				target.Param.Name, len(target.Param.Data), target.Cols)
		}
	}

	// conv weights are [out][in][k][k], so the row count must equal
	// the filter count
	c := disc.Down.Conv1
	if got := disc.SpectralTargets()[0].Cols; got != c.InChannels*c.KernelSize*c.KernelSize {
		t.Errorf("expected %d columns per filter, got %d",
			c.InChannels*c.KernelSize*c.KernelSize, got)
	}
}

// TestBuildPyramid verifies repeated pooling produces the expected
// coarse scales
func TestBuildPyramid(t *testing.T) {
	cfg := smallGANConfig()
	topH, topW := cfg.StageShape(1)
	top := NewTensor(1, cfg.ChannelNum, topH, topW)
	for i := range top.Data {
		top.Data[i] = 1
	}

	pyramid := BuildPyramid(top, 2)
	if len(pyramid) != 2 {
		t.Fatalf("expected 2 scales, got %d", len(pyramid))
	}
	if pyramid[1] != top {
		t.Error("finest scale should be the input itself")
	}
	h, w := cfg.StageShape(0)
	if pyramid[0].Dim(2) != h || pyramid[0].Dim(3) != w {
		t.Errorf("coarse scale: expected (%d, %d), got (%d, %d)", h, w, pyramid[0].Dim(2), pyramid[0].Dim(3))
	}
	// pooling a constant keeps it constant
	for i, v := range pyramid[0].Data {
		if math.Abs(float64(v-1)) > 1e-6 {
			t.Errorf("pyramid[0][%d]: expected 1, got %f", i, v)
			break
		}
	}
}

// TestGANTrainerStep runs one adversarial update end to end
func TestGANTrainerStep(t *testing.T) {
	cfg := smallGANConfig()
	trainer := NewGANTrainer(cfg)
	trainer.Seed(11)

	topH, topW := cfg.StageShape(1)
	realTop := NewTensor(cfg.BatchSize, cfg.ChannelNum, topH, topW)
	for i := range realTop.Data {
		if i%3 == 0 {
			realTop.Data[i] = 1
		}
	}
	labels := NewTensor(cfg.BatchSize, cfg.LabelDim)
	for b := 0; b < cfg.BatchSize; b++ {
		labels.Data[b*cfg.LabelDim+b%cfg.LabelDim] = 1
	}

	dLoss, gLoss := trainer.TrainStep(realTop, labels)
	if math.IsNaN(dLoss) || math.IsInf(dLoss, 0) {
		t.Errorf("discriminator loss is not finite: %f", dLoss)
	}
	if math.IsNaN(gLoss) || math.IsInf(gLoss, 0) {
		t.Errorf("generator loss is not finite: %f", gLoss)
	}
	if trainer.Step() != 1 {
		t.Errorf("expected step 1, got %d", trainer.Step())
	}

	rolls := trainer.Sample(cfg.BatchSize, labels)
	for i, roll := range rolls {
		h, w := cfg.StageShape(i)
		if roll.Dim(2) != h || roll.Dim(3) != w {
			t.Errorf("sampled roll %d: expected (%d, %d), got (%d, %d)", i, h, w, roll.Dim(2), roll.Dim(3))
		}
	}
}

// TestGANTrainerSpectralNorm verifies the gated normalization runs and
// persists per-weight state
func TestGANTrainerSpectralNorm(t *testing.T) {
	cfg := smallGANConfig()
	cfg.SpectralNorm = true
	trainer := NewGANTrainer(cfg)
	trainer.Seed(5)

	topH, topW := cfg.StageShape(1)
	realTop := NewTensor(cfg.BatchSize, cfg.ChannelNum, topH, topW)
	labels := NewTensor(cfg.BatchSize, cfg.LabelDim)
	for b := 0; b < cfg.BatchSize; b++ {
		labels.Data[b*cfg.LabelDim] = 1
	}

	trainer.TrainStep(realTop, labels)
	if len(trainer.Norms.Export()) == 0 {
		t.Error("expected persisted spectral state after a normalized step")
	}
}
