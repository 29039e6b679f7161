package nn

import (
	"encoding/base64"
	"path/filepath"
	"testing"
)

// TestWavenetCheckpointRoundTrip verifies a reloaded model reproduces
// the saved model's output
func TestWavenetCheckpointRoundTrip(t *testing.T) {
	cfg := smallWavenetConfig()
	model := NewWavenet(cfg)
	path := filepath.Join(t.TempDir(), "wavenet.json")

	if err := SaveWavenet(path, cfg, model, 42); err != nil {
		t.Fatal(err)
	}
	loaded, loadedCfg, step, err := LoadWavenet(path)
	if err != nil {
		t.Fatal(err)
	}
	if step != 42 {
		t.Errorf("expected step 42, got %d", step)
	}
	if loadedCfg.LayerSize != cfg.LayerSize || loadedCfg.Channels != cfg.Channels {
		t.Error("config did not survive the round trip")
	}

	input := NewTensor(1, cfg.Channels, 20)
	for i := range input.Data {
		input.Data[i] = float32(i%4) * 0.25
	}
	want, err := model.Forward(input)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.Forward(input)
	if err != nil {
		t.Fatal(err)
	}
	if diff := MaxAbsDiff(want.Data, got.Data); diff > 1e-6 {
		t.Errorf("reloaded model output differs by %e", diff)
	}
}

// TestWavenetCheckpointTypeMismatch verifies a GAN checkpoint is
// rejected by the audio loader
func TestWavenetCheckpointTypeMismatch(t *testing.T) {
	cfg := smallGANConfig()
	trainer := NewGANTrainer(cfg)
	path := filepath.Join(t.TempDir(), "gan.json")
	if err := SaveGAN(path, cfg, trainer.Gen, trainer.Discs, trainer.Enc, trainer.Norms, 0); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := LoadWavenet(path); err == nil {
		t.Error("expected type mismatch error")
	}
}

// TestGANCheckpointRoundTrip verifies all model weights and spectral
// state survive a save/load cycle
func TestGANCheckpointRoundTrip(t *testing.T) {
	cfg := smallGANConfig()
	cfg.SpectralNorm = true
	trainer := NewGANTrainer(cfg)
	trainer.Seed(9)

	// one step so batchnorm stats, weights and spectral state all move
	topH, topW := cfg.StageShape(len(cfg.StageChannels) - 1)
	realTop := NewTensor(cfg.BatchSize, cfg.ChannelNum, topH, topW)
	labels := NewTensor(cfg.BatchSize, cfg.LabelDim)
	for b := 0; b < cfg.BatchSize; b++ {
		labels.Data[b*cfg.LabelDim] = 1
	}
	trainer.TrainStep(realTop, labels)

	path := filepath.Join(t.TempDir(), "rollgan.json")
	if err := SaveGAN(path, cfg, trainer.Gen, trainer.Discs, trainer.Enc, trainer.Norms, trainer.Step()); err != nil {
		t.Fatal(err)
	}

	restored := NewGANTrainer(cfg)
	step, err := LoadGANInto(path, restored.Gen, restored.Discs, restored.Enc, restored.Norms)
	if err != nil {
		t.Fatal(err)
	}
	if step != 1 {
		t.Errorf("expected step 1, got %d", step)
	}

	wantParams := trainer.Gen.Parameters()
	gotParams := restored.Gen.Parameters()
	if len(wantParams) != len(gotParams) {
		t.Fatalf("parameter count mismatch: %d vs %d", len(wantParams), len(gotParams))
	}
	for i := range wantParams {
		if diff := MaxAbsDiff(wantParams[i].Data, gotParams[i].Data); diff > 0 {
			t.Errorf("generator weight %s differs by %e", wantParams[i].Name, diff)
		}
	}
	if len(restored.Norms.Export()) != len(trainer.Norms.Export()) {
		t.Error("spectral state did not survive the round trip")
	}
}

// TestDecodeWeightsMissing verifies a helpful error for absent weights
func TestDecodeWeightsMissing(t *testing.T) {
	p := NewParameter("layer.weight", 4)
	err := DecodeWeightsInto([]*Parameter{p}, map[string]string{})
	if err == nil {
		t.Error("expected error for missing weight")
	}
}

// TestEncodeDecodeWeights verifies the base64 float32 blobs are exact
func TestEncodeDecodeWeights(t *testing.T) {
	p := NewParameter("w", 4)
	copy(p.Data, []float32{1.5, -0.25, 3e-8, -1e6})

	blobs := EncodeWeights([]*Parameter{p})
	q := NewParameter("w", 4)
	if err := DecodeWeightsInto([]*Parameter{q}, blobs); err != nil {
		t.Fatal(err)
	}
	for i := range p.Data {
		if p.Data[i] != q.Data[i] {
			t.Errorf("weight %d: expected %g, got %g", i, p.Data[i], q.Data[i])
		}
	}
}

// TestImportTruncatedSpectralState verifies a short float64 blob is
// rejected instead of silently dropping the tail value
func TestImportTruncatedSpectralState(t *testing.T) {
	// 12 bytes decode cleanly from base64 but are not a whole
	// number of float64 values
	blob := base64.StdEncoding.EncodeToString(make([]byte, 12))
	set := NewSpectralNormSet()
	if err := set.Import(map[string]string{"d.conv.weight": blob}); err == nil {
		t.Error("expected error for truncated spectral blob")
	}
}

// TestTelemetryCounts verifies the parameter census
func TestTelemetryCounts(t *testing.T) {
	params := []*Parameter{
		NewParameter("a", 10),
		NewParameter("b", 5),
	}
	tel := ExtractTelemetry("m", params)
	if tel.TotalParams != 15 {
		t.Errorf("expected 15 total parameters, got %d", tel.TotalParams)
	}
	if len(tel.Layers) != 2 || tel.Layers[0].Name != "a" {
		t.Errorf("unexpected layer census: %+v", tel.Layers)
	}
}
