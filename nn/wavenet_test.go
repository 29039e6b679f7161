package nn

import (
	"fmt"
	"math/rand"
	"testing"
)

func smallWavenetConfig() *WavenetConfig {
	return &WavenetConfig{
		LayerSize:        3,
		StackSize:        1,
		Channels:         2,
		ResidualChannels: 4,
		DilationChannels: 4,
		SkipChannels:     8,
		EndChannels:      8,
		LearningRate:     0.01,
		BatchSize:        1,
		NumEpochs:        1,
		SampleLength:     32,
	}
}

// TestReceptiveField verifies the field sums every dilation in the
// stack
func TestReceptiveField(t *testing.T) {
	cases := []struct {
		layerSize, stackSize, want int
	}{
		{3, 1, 7},
		{3, 2, 14},
		{10, 5, 5115},
	}
	for _, c := range cases {
		got := CalcReceptiveField(c.layerSize, c.stackSize)
		if got != c.want {
			t.Errorf("receptive field(%d, %d): expected %d, got %d",
				c.layerSize, c.stackSize, c.want, got)
		}
	}
}

// TestWavenetOutputShape verifies the output drops exactly the
// receptive field
func TestWavenetOutputShape(t *testing.T) {
	model := NewWavenet(smallWavenetConfig())
	if model.ReceptiveField != 7 {
		t.Fatalf("expected receptive field 7, got %d", model.ReceptiveField)
	}

	input := NewTensor(1, 2, 100)
	out, err := model.Forward(input)
	if err != nil {
		t.Fatal(err)
	}
	if out.Dim(0) != 1 || out.Dim(1) != 2 || out.Dim(2) != 93 {
		t.Errorf("expected output shape [1 2 93], got %v", out.Shape)
	}
}

// TestWavenetOutputRange verifies the sigmoid tail keeps outputs in
// [0, 1]
func TestWavenetOutputRange(t *testing.T) {
	model := NewWavenet(smallWavenetConfig())
	input := NewTensor(1, 2, 20)
	rng := rand.New(rand.NewSource(1))
	for i := range input.Data {
		if rng.Float32() < 0.5 {
			input.Data[i] = 1
		}
	}
	out, err := model.Forward(input)
	if err != nil {
		t.Fatal(err)
	}
	if Min(out.Data) < 0 || Max(out.Data) > 1 {
		t.Errorf("output outside [0,1]: min %f max %f", Min(out.Data), Max(out.Data))
	}
}

// TestWavenetInputTooShort verifies the error when the input does not
// exceed the receptive field
func TestWavenetInputTooShort(t *testing.T) {
	model := NewWavenet(smallWavenetConfig())
	if _, err := model.Forward(NewTensor(1, 2, 7)); err == nil {
		t.Error("expected error for input of receptive field length")
	}
	if _, err := model.Forward(NewTensor(1, 2, 8)); err != nil {
		t.Errorf("input of receptive field + 1 should pass: %v", err)
	}
}

// TestWavenetTrainingReducesLoss runs repeated updates on a fixed batch
func TestWavenetTrainingReducesLoss(t *testing.T) {
	cfg := smallWavenetConfig()
	model := NewWavenet(cfg)
	trainer := NewWavenetTrainer(model, cfg)

	rng := rand.New(rand.NewSource(7))
	input := NewTensor(1, 2, 32)
	for i := range input.Data {
		if rng.Float32() < 0.3 {
			input.Data[i] = 1
		}
	}
	outLen := 32 - model.ReceptiveField
	target := NewTensor(1, 2, outLen)
	for ch := 0; ch < 2; ch++ {
		copy(target.Data[ch*outLen:], input.Data[ch*32+model.ReceptiveField:(ch+1)*32])
	}

	first, err := trainer.TrainBatch(input, target)
	if err != nil {
		t.Fatal(err)
	}
	var last float64
	for i := 0; i < 40; i++ {
		last, err = trainer.TrainBatch(input, target)
		if err != nil {
			t.Fatal(err)
		}
	}
	if last >= first {
		t.Errorf("loss did not decrease: first %f, last %f", first, last)
	}
	if trainer.Step() != 41 {
		t.Errorf("expected 41 steps, got %d", trainer.Step())
	}
}

// TestWavenetTrainEpochHook verifies the epoch hook fires once per
// epoch so checkpoints land after every epoch, not only at the end
func TestWavenetTrainEpochHook(t *testing.T) {
	cfg := smallWavenetConfig()
	cfg.NumEpochs = 3
	model := NewWavenet(cfg)
	trainer := NewWavenetTrainer(model, cfg)

	var epochs []int
	trainer.EpochEnd = func(epoch int, avgLoss float64) error {
		epochs = append(epochs, epoch)
		return nil
	}

	outLen := cfg.SampleLength - model.ReceptiveField
	served := 0
	nextBatch := func() (*Tensor, *Tensor) {
		if served > 0 {
			served = 0
			return nil, nil
		}
		served++
		return NewTensor(1, 2, cfg.SampleLength), NewTensor(1, 2, outLen)
	}

	if _, err := trainer.Train(nextBatch); err != nil {
		t.Fatal(err)
	}
	if len(epochs) != 3 {
		t.Fatalf("expected 3 hook calls, got %d", len(epochs))
	}
	for i, e := range epochs {
		if e != i+1 {
			t.Errorf("hook call %d reported epoch %d", i, e)
		}
	}

	// a failing hook aborts training
	trainer.EpochEnd = func(epoch int, avgLoss float64) error {
		return fmt.Errorf("disk full")
	}
	if _, err := trainer.Train(nextBatch); err == nil {
		t.Error("expected hook error to stop training")
	}
}

// TestWavenetGenerate verifies autoregressive output shape and binary
// values
func TestWavenetGenerate(t *testing.T) {
	cfg := smallWavenetConfig()
	model := NewWavenet(cfg)
	trainer := NewWavenetTrainer(model, cfg)

	seed := NewTensor(1, 2, model.ReceptiveField+1)
	out, err := trainer.Generate(seed, 12, rand.New(rand.NewSource(3)))
	if err != nil {
		t.Fatal(err)
	}
	if out.Dim(1) != 2 || out.Dim(2) != 12 {
		t.Errorf("expected shape [1 2 12], got %v", out.Shape)
	}
	for i, v := range out.Data {
		if v != 0 && v != 1 {
			t.Errorf("generated value %d is %f, expected 0 or 1", i, v)
		}
	}
}
