package nn

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
)

// ModelBundle is the checkpoint document: one or more saved models
// with their flat configs and base64 weight blobs.
type ModelBundle struct {
	Type    string       `json:"type"`
	Version int          `json:"version"`
	Step    int          `json:"step"`
	Models  []SavedModel `json:"models"`
}

// SavedModel pairs a model's configuration with its named weights.
type SavedModel struct {
	ID      string            `json:"id"`
	Config  json.RawMessage   `json:"cfg"`
	Weights map[string]string `json:"weights"`

	// Persisted power-iteration vectors, present when spectral
	// normalization ran on this model.
	SpectralState map[string]string `json:"spectral_state,omitempty"`
}

const bundleVersion = 1

func encodeFloat32(data []float32) string {
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeFloat32(s string) ([]float32, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("weight blob length %d not a multiple of 4", len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func encodeFloat64(data []float64) string {
	buf := make([]byte, len(data)*8)
	for i, v := range data {
		binary.LittleEndian.PutUint64(buf[i*8:], math.Float64bits(v))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

func decodeFloat64(s string) ([]float64, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("spectral blob length %d not a multiple of 8", len(buf))
	}
	out := make([]float64, len(buf)/8)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return out, nil
}

// EncodeWeights packs a parameter set into named base64 blobs.
func EncodeWeights(params []*Parameter) map[string]string {
	out := make(map[string]string, len(params))
	for _, p := range params {
		out[p.Name] = encodeFloat32(p.Data)
	}
	return out
}

// DecodeWeightsInto fills an existing parameter set from named blobs.
// Every parameter must be present with the right size.
func DecodeWeightsInto(params []*Parameter, weights map[string]string) error {
	for _, p := range params {
		blob, ok := weights[p.Name]
		if !ok {
			return fmt.Errorf("checkpoint missing weight %q", p.Name)
		}
		data, err := decodeFloat32(blob)
		if err != nil {
			return fmt.Errorf("weight %q: %w", p.Name, err)
		}
		if len(data) != len(p.Data) {
			return fmt.Errorf("weight %q: expected %d values, got %d", p.Name, len(p.Data), len(data))
		}
		copy(p.Data, data)
	}
	return nil
}

// Export packs the persisted power-iteration vectors.
func (s *SpectralNormSet) Export() map[string]string {
	if len(s.norms) == 0 {
		return nil
	}
	out := make(map[string]string, len(s.norms))
	for name, sn := range s.norms {
		out[name] = encodeFloat64(sn.U)
	}
	return out
}

// Import restores persisted power-iteration vectors, so iteration
// resumes rather than restarts after a checkpoint reload.
func (s *SpectralNormSet) Import(state map[string]string) error {
	for name, blob := range state {
		u, err := decodeFloat64(blob)
		if err != nil {
			return fmt.Errorf("spectral state %q: %w", name, err)
		}
		s.norms[name] = &SpectralNorm{Cols: len(u), U: u}
	}
	return nil
}

func writeBundle(path string, bundle *ModelBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readBundle(path, wantType string) (*ModelBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bundle ModelBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("parse checkpoint %s: %w", path, err)
	}
	if bundle.Type != wantType {
		return nil, fmt.Errorf("checkpoint %s has type %q, want %q", path, bundle.Type, wantType)
	}
	return &bundle, nil
}

func (b *ModelBundle) model(id string) (*SavedModel, error) {
	for i := range b.Models {
		if b.Models[i].ID == id {
			return &b.Models[i], nil
		}
	}
	return nil, fmt.Errorf("checkpoint missing model %q", id)
}

// SaveWavenet writes a WaveNet checkpoint.
func SaveWavenet(path string, cfg *WavenetConfig, model *Wavenet, step int) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	return writeBundle(path, &ModelBundle{
		Type:    "wavenet",
		Version: bundleVersion,
		Step:    step,
		Models: []SavedModel{{
			ID:      "wavenet",
			Config:  cfgJSON,
			Weights: EncodeWeights(model.Parameters()),
		}},
	})
}

// LoadWavenet reconstructs a WaveNet from a checkpoint.
func LoadWavenet(path string) (*Wavenet, *WavenetConfig, int, error) {
	bundle, err := readBundle(path, "wavenet")
	if err != nil {
		return nil, nil, 0, err
	}
	saved, err := bundle.model("wavenet")
	if err != nil {
		return nil, nil, 0, err
	}
	var cfg WavenetConfig
	if err := json.Unmarshal(saved.Config, &cfg); err != nil {
		return nil, nil, 0, err
	}
	model := NewWavenet(&cfg)
	if err := DecodeWeightsInto(model.Parameters(), saved.Weights); err != nil {
		return nil, nil, 0, err
	}
	return model, &cfg, bundle.Step, nil
}

// SaveGAN writes the full GAN checkpoint: generator, per-scale
// discriminators, encoder and any spectral-norm state.
func SaveGAN(path string, cfg *GANConfig, gen *Generator, discs []*Discriminator, enc *Encoder, norms *SpectralNormSet, step int) error {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	bundle := &ModelBundle{
		Type:    "rollgan",
		Version: bundleVersion,
		Step:    step,
		Models: []SavedModel{
			{ID: "generator", Config: cfgJSON, Weights: EncodeWeights(gen.Parameters())},
			{ID: "encoder", Config: cfgJSON, Weights: EncodeWeights(enc.Parameters())},
		},
	}
	for i, d := range discs {
		saved := SavedModel{
			ID:      fmt.Sprintf("discriminator%d", i+1),
			Config:  cfgJSON,
			Weights: EncodeWeights(d.Parameters()),
		}
		if i == 0 && norms != nil {
			saved.SpectralState = norms.Export()
		}
		bundle.Models = append(bundle.Models, saved)
	}
	return writeBundle(path, bundle)
}

// LoadGANInto restores weights into already-constructed GAN models.
func LoadGANInto(path string, gen *Generator, discs []*Discriminator, enc *Encoder, norms *SpectralNormSet) (int, error) {
	bundle, err := readBundle(path, "rollgan")
	if err != nil {
		return 0, err
	}
	saved, err := bundle.model("generator")
	if err != nil {
		return 0, err
	}
	if err := DecodeWeightsInto(gen.Parameters(), saved.Weights); err != nil {
		return 0, err
	}
	saved, err = bundle.model("encoder")
	if err != nil {
		return 0, err
	}
	if err := DecodeWeightsInto(enc.Parameters(), saved.Weights); err != nil {
		return 0, err
	}
	for i, d := range discs {
		saved, err = bundle.model(fmt.Sprintf("discriminator%d", i+1))
		if err != nil {
			return 0, err
		}
		if err := DecodeWeightsInto(d.Parameters(), saved.Weights); err != nil {
			return 0, err
		}
		if i == 0 && norms != nil && saved.SpectralState != nil {
			if err := norms.Import(saved.SpectralState); err != nil {
				return 0, err
			}
		}
	}
	return bundle.Step, nil
}
