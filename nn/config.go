package nn

import (
	"encoding/json"
	"fmt"
	"os"
)

// WavenetConfig is the flat configuration record for the audio model.
type WavenetConfig struct {
	LayerSize        int     `json:"layer_size"`
	StackSize        int     `json:"stack_size"`
	Channels         int     `json:"channels"`
	ResidualChannels int     `json:"residual_channels"`
	DilationChannels int     `json:"dilation_channels"`
	SkipChannels     int     `json:"skip_channels"`
	EndChannels      int     `json:"end_channels"`
	LearningRate     float32 `json:"learning_rate"`
	BatchSize        int     `json:"batch_size"`
	NumEpochs        int     `json:"num_epochs"`
	SampleLength     int     `json:"sample_length"`
	UseGPU           bool    `json:"use_gpu"`
}

// DefaultWavenetConfig mirrors the reference training defaults.
func DefaultWavenetConfig() *WavenetConfig {
	return &WavenetConfig{
		LayerSize:        10,
		StackSize:        5,
		Channels:         6,
		ResidualChannels: 128,
		DilationChannels: 128,
		SkipChannels:     512,
		EndChannels:      256,
		LearningRate:     0.0002,
		BatchSize:        12,
		NumEpochs:        1000,
		SampleLength:     8192,
	}
}

// Validate checks the geometry before model construction.
func (c *WavenetConfig) Validate() error {
	if c.LayerSize < 1 || c.StackSize < 1 {
		return fmt.Errorf("layer_size and stack_size must be >= 1")
	}
	if c.Channels < 1 || c.ResidualChannels < 1 || c.DilationChannels < 1 ||
		c.SkipChannels < 1 || c.EndChannels < 1 {
		return fmt.Errorf("all channel widths must be >= 1")
	}
	if c.SampleLength > 0 && c.SampleLength <= CalcReceptiveField(c.LayerSize, c.StackSize) {
		return fmt.Errorf("sample_length %d does not exceed receptive field %d",
			c.SampleLength, CalcReceptiveField(c.LayerSize, c.StackSize))
	}
	return nil
}

// GANConfig is the flat configuration record for the roll GAN.
type GANConfig struct {
	NoiseLength       int     `json:"noise_length"`
	LabelDim          int     `json:"label_dim"`
	ChannelNum        int     `json:"channel_num"`
	SharedChannels    []int   `json:"shared_channels"`
	SharedOutChannels int     `json:"shared_out_channels"`
	StageChannels     []int   `json:"stage_channels"`
	EmbedSize         int     `json:"embed_size"`
	LearningRate      float32 `json:"learning_rate"`
	BatchSize         int     `json:"batch_size"`
	Steps             int     `json:"steps"`
	SpectralNorm      bool    `json:"spectral_norm"`
}

// DefaultGANConfig mirrors the reference model geometry: noise 128,
// label width 6, shared base (1,4) grown through 1024/512/256/128 to a
// 64-wide map at (16,64), three stages at 64/32/16 channels.
func DefaultGANConfig() *GANConfig {
	return &GANConfig{
		NoiseLength:       128,
		LabelDim:          6,
		ChannelNum:        6,
		SharedChannels:    []int{1024, 512, 256, 128},
		SharedOutChannels: 64,
		StageChannels:     []int{64, 32, 16},
		EmbedSize:         64,
		LearningRate:      0.0002,
		BatchSize:         16,
		Steps:             100000,
	}
}

// BaseHeight and BaseWidth give the shared feature map geometry.
func (c *GANConfig) BaseHeight() int { return 1 << len(c.SharedChannels) }
func (c *GANConfig) BaseWidth() int  { return 4 << len(c.SharedChannels) }

// StageShape returns the roll shape emitted by stage i (0-based).
func (c *GANConfig) StageShape(i int) (h, w int) {
	return c.BaseHeight() << (i + 1), c.BaseWidth() << (i + 1)
}

// Validate checks the geometry before model construction.
func (c *GANConfig) Validate() error {
	if c.NoiseLength < 1 || c.LabelDim < 1 || c.ChannelNum < 1 {
		return fmt.Errorf("noise_length, label_dim and channel_num must be >= 1")
	}
	if len(c.SharedChannels) == 0 || len(c.StageChannels) == 0 {
		return fmt.Errorf("shared_channels and stage_channels must be non-empty")
	}
	if c.SharedOutChannels < 1 || c.EmbedSize < 1 {
		return fmt.Errorf("shared_out_channels and embed_size must be >= 1")
	}
	return nil
}

// LoadConfig reads a JSON configuration file into cfg.
func LoadConfig(path string, cfg interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

// SaveConfig writes cfg as indented JSON.
func SaveConfig(path string, cfg interface{}) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
