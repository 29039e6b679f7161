package nn

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"time"
)

// MetricLog appends scalar metrics as JSON lines keyed by training
// step.
type MetricLog struct {
	f *os.File
}

// OpenMetricLog opens (or creates) a metric file for appending.
func OpenMetricLog(path string) (*MetricLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &MetricLog{f: f}, nil
}

// Add writes one scalar.
func (m *MetricLog) Add(step int, name string, value float64) {
	if m == nil || m.f == nil {
		return
	}
	line, _ := json.Marshal(map[string]interface{}{
		"step": step, "name": name, "value": value,
	})
	m.f.Write(append(line, '\n'))
}

// Close flushes and closes the file.
func (m *MetricLog) Close() error {
	if m == nil || m.f == nil {
		return nil
	}
	return m.f.Close()
}

// TrainingResult carries training statistics.
type TrainingResult struct {
	FinalLoss   float64
	BestLoss    float64
	TotalTime   time.Duration
	LossHistory []float64
}

// WavenetTrainer drives BCE training of the audio model.
type WavenetTrainer struct {
	Model   *Wavenet
	Config  *WavenetConfig
	Opt     Optimizer
	Metrics *MetricLog
	Verbose bool

	// EpochEnd, when set, runs after every completed epoch with the
	// 1-based epoch number and its average loss. Long runs hook their
	// checkpoint writes here so an interrupted job stays resumable.
	EpochEnd func(epoch int, avgLoss float64) error

	params []*Parameter
	step   int
}

// NewWavenetTrainer wires a model to an Adam optimizer.
func NewWavenetTrainer(model *Wavenet, cfg *WavenetConfig) *WavenetTrainer {
	return &WavenetTrainer{
		Model:  model,
		Config: cfg,
		Opt:    NewAdamOptimizer(),
		params: model.Parameters(),
	}
}

// Step returns the number of optimizer steps taken.
func (t *WavenetTrainer) Step() int { return t.step }

// SetStep resumes the step counter after a checkpoint reload.
func (t *WavenetTrainer) SetStep(step int) { t.step = step }

// TrainBatch runs one forward/backward/update on a batch. The target
// must cover the valid output region: shape [B][channels][T - RF].
func (t *WavenetTrainer) TrainBatch(input, target *Tensor) (float64, error) {
	output, err := t.Model.Forward(input)
	if err != nil {
		return 0, err
	}
	if len(target.Data) != len(output.Data) {
		return 0, fmt.Errorf("target has %d values, output has %d", len(target.Data), len(output.Data))
	}

	loss, grad := BCELoss(output, target)
	ZeroGrads(t.params)
	t.Model.Backward(grad)
	t.Opt.Step(t.params, t.Config.LearningRate)

	t.step++
	t.Metrics.Add(t.step, "loss", loss)
	return loss, nil
}

// Train runs the full epoch loop over a batch provider. The provider
// returns (input, target) pairs and signals exhaustion with nil.
func (t *WavenetTrainer) Train(nextBatch func() (*Tensor, *Tensor)) (*TrainingResult, error) {
	result := &TrainingResult{BestLoss: 1e300}
	start := time.Now()

	for epoch := 0; epoch < t.Config.NumEpochs; epoch++ {
		var total float64
		var batches int
		for {
			input, target := nextBatch()
			if input == nil {
				break
			}
			loss, err := t.TrainBatch(input, target)
			if err != nil {
				return nil, err
			}
			total += loss
			batches++
		}
		if batches == 0 {
			return nil, fmt.Errorf("batch provider yielded no data")
		}
		avg := total / float64(batches)
		result.LossHistory = append(result.LossHistory, avg)
		result.FinalLoss = avg
		if avg < result.BestLoss {
			result.BestLoss = avg
		}
		if t.Verbose {
			fmt.Printf("epoch %d/%d  loss %.6f\n", epoch+1, t.Config.NumEpochs, avg)
		}
		if t.EpochEnd != nil {
			if err := t.EpochEnd(epoch+1, avg); err != nil {
				return nil, err
			}
		}
	}
	result.TotalTime = time.Since(start)
	return result, nil
}

// Generate continues a seed autoregressively for steps timesteps. The
// seed must exceed the receptive field; each prediction is sampled per
// channel as a Bernoulli draw on the sigmoid intensity and appended to
// the rolling context.
func (t *WavenetTrainer) Generate(seed *Tensor, steps int, rng *rand.Rand) (*Tensor, error) {
	channels := t.Model.Channels
	context := seed.Clone()
	out := NewTensor(1, channels, steps)

	for i := 0; i < steps; i++ {
		pred, err := t.Model.Forward(context)
		if err != nil {
			return nil, err
		}
		predLen := pred.Dim(2)
		ctxLen := context.Dim(2)

		next := NewTensor(1, channels, ctxLen+1)
		for ch := 0; ch < channels; ch++ {
			p := pred.Data[ch*predLen+predLen-1]
			var v float32
			if rng.Float32() < p {
				v = 1
			}
			out.Data[ch*steps+i] = v
			copy(next.Data[ch*(ctxLen+1):], context.Data[ch*ctxLen:(ch+1)*ctxLen])
			next.Data[ch*(ctxLen+1)+ctxLen] = v
		}
		// Slide the window so the context stays bounded.
		if next.Dim(2) > t.Model.ReceptiveField+1 {
			trimmed := NewTensor(1, channels, next.Dim(2)-1)
			for ch := 0; ch < channels; ch++ {
				copy(trimmed.Data[ch*trimmed.Dim(2):],
					next.Data[ch*next.Dim(2)+1:(ch+1)*next.Dim(2)])
			}
			next = trimmed
		}
		context = next
	}
	return out, nil
}

// GANTrainer drives alternating hinge-loss updates of the roll GAN.
type GANTrainer struct {
	Config *GANConfig

	Gen     *Generator
	Discs   []*Discriminator
	Enc     *Encoder
	Norms   *SpectralNormSet
	OptG    Optimizer
	OptD    Optimizer
	Metrics *MetricLog

	genParams       []*Parameter
	discParams      []*Parameter
	spectralTargets []SpectralTarget
	rng             *rand.Rand
	step            int
}

// NewGANTrainer constructs the full model set for the configured
// geometry.
func NewGANTrainer(cfg *GANConfig) *GANTrainer {
	gen := NewGenerator(cfg)
	discs := make([]*Discriminator, len(cfg.StageChannels))
	for i := range discs {
		h, w := cfg.StageShape(i)
		discs[i] = NewDiscriminator(fmt.Sprintf("Discriminator%d", i+1),
			cfg.ChannelNum, h, w, cfg.EmbedSize)
	}
	topH, topW := cfg.StageShape(len(cfg.StageChannels) - 1)
	enc := NewEncoder("Encoder", cfg.ChannelNum, topH, topW, cfg.EmbedSize)

	t := &GANTrainer{
		Config: cfg,
		Gen:    gen,
		Discs:  discs,
		Enc:    enc,
		Norms:  NewSpectralNormSet(),
		OptG:   NewAdamOptimizerWithBetas(0.5, 0.999),
		OptD:   NewAdamOptimizerWithBetas(0.5, 0.999),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	t.genParams = gen.Parameters()
	t.discParams = enc.Parameters()
	t.spectralTargets = enc.SpectralTargets()
	for _, d := range discs {
		t.discParams = append(t.discParams, d.Parameters()...)
		t.spectralTargets = append(t.spectralTargets, d.SpectralTargets()...)
	}
	return t
}

// Step returns the number of adversarial steps taken.
func (t *GANTrainer) Step() int { return t.step }

// SetStep resumes the step counter after a checkpoint reload.
func (t *GANTrainer) SetStep(step int) { t.step = step }

// Seed fixes the trainer's noise source.
func (t *GANTrainer) Seed(seed int64) { t.rng = rand.New(rand.NewSource(seed)) }

// SampleNoise draws a [batch][noiseLength] standard-normal tensor.
func (t *GANTrainer) SampleNoise(batch int) *Tensor {
	noise := NewTensor(batch, t.Config.NoiseLength)
	for i := range noise.Data {
		noise.Data[i] = float32(t.rng.NormFloat64())
	}
	return noise
}

// BuildPyramid turns a full-resolution roll batch into the per-scale
// real pyramid by repeated average pooling, coarse to fine.
func BuildPyramid(top *Tensor, scales int) []*Tensor {
	pyramid := make([]*Tensor, scales)
	pyramid[scales-1] = top
	pool := &AvgPool2D{}
	for i := scales - 2; i >= 0; i-- {
		pyramid[i] = pool.Forward(pyramid[i+1])
	}
	return pyramid
}

// spectralNormalize runs one power-iteration normalization over every
// discriminator and encoder weight matrix, keyed by parameter name.
// Conv weights are viewed as [out] x [in*k*k] (one row per filter,
// matching their out-major layout), dense weights as [in] x [out];
// transposing a matrix does not change its singular values, so either
// orientation estimates the same spectral norm.
func (t *GANTrainer) spectralNormalize() {
	if !t.Config.SpectralNorm {
		return
	}
	for _, target := range t.spectralTargets {
		t.Norms.Normalize(target.Param, target.Cols)
	}
}

// SpectralTarget names one weight matrix view for normalization.
type SpectralTarget struct {
	Param *Parameter
	Cols  int
}

// SpectralTargets lists the tower and head weights.
func (d *Discriminator) SpectralTargets() []SpectralTarget {
	var targets []SpectralTarget
	for _, c := range []*Conv2D{d.Down.Conv1, d.Down.Conv2, d.Down.SkipConv} {
		targets = append(targets, SpectralTarget{c.Weight, c.InChannels * c.KernelSize * c.KernelSize})
	}
	for _, b := range d.Down.Blocks {
		for _, c := range []*Conv2D{b.Conv1, b.Conv2, b.SkipConv} {
			targets = append(targets, SpectralTarget{c.Weight, c.InChannels * c.KernelSize * c.KernelSize})
		}
	}
	targets = append(targets,
		SpectralTarget{d.Cond.Head1.Weight, d.Cond.Head1.OutSize},
		SpectralTarget{d.Cond.Head2.Weight, d.Cond.Head2.OutSize})
	return targets
}

// SpectralTargets lists the tower and projection weights.
func (e *Encoder) SpectralTargets() []SpectralTarget {
	var targets []SpectralTarget
	for _, c := range e.Convs {
		targets = append(targets, SpectralTarget{c.Weight, c.InChannels * c.KernelSize * c.KernelSize})
	}
	return append(targets, SpectralTarget{e.Out.Weight, e.Out.OutSize})
}

// TrainStep runs one discriminator update and one generator update.
// realTop is the full-resolution real batch [B][C][H][W]; labels is
// [B][labelDim].
func (t *GANTrainer) TrainStep(realTop, labels *Tensor) (dLoss, gLoss float64) {
	scales := len(t.Discs)
	batch := realTop.Dim(0)
	realPyramid := BuildPyramid(realTop, scales)

	// --- Discriminator update ---
	t.spectralNormalize()
	ZeroGrads(t.discParams)

	encode := t.Enc.Forward(realPyramid[scales-1])
	encGrad := NewTensor(batch, t.Config.EmbedSize)

	t.Gen.SetTraining(true)
	noise := t.SampleNoise(batch)
	fakes := t.Gen.Forward(noise, labels)

	for i := 0; i < scales; i++ {
		score := t.Discs[i].Forward(realPyramid[i], encode)
		loss, grad := HingeRealLoss(score)
		dLoss += loss
		_, ge := t.Discs[i].Backward(grad)
		encGrad.Add(ge)

		score = t.Discs[i].Forward(fakes[i], encode)
		loss, grad = HingeFakeLoss(score)
		dLoss += loss
		_, ge = t.Discs[i].Backward(grad)
		encGrad.Add(ge)
	}
	t.Enc.Backward(encGrad)
	t.OptD.Step(t.discParams, t.Config.LearningRate)

	// --- Generator update ---
	ZeroGrads(t.genParams)
	noise = t.SampleNoise(batch)
	fakes = t.Gen.Forward(noise, labels)

	gradRolls := make([]*Tensor, scales)
	for i := 0; i < scales; i++ {
		score := t.Discs[i].Forward(fakes[i], encode)
		loss, grad := GeneratorLoss(score)
		gLoss += loss
		gradRolls[i], _ = t.Discs[i].Backward(grad)
	}
	// Discriminator gradients from this pass are discarded; only the
	// roll gradients flow into the generator.
	t.Gen.Backward(gradRolls)
	t.OptG.Step(t.genParams, t.Config.LearningRate)

	t.step++
	t.Metrics.Add(t.step, "d_loss", dLoss)
	t.Metrics.Add(t.step, "g_loss", gLoss)
	return dLoss, gLoss
}

// Sample generates rolls at every scale without updating statistics.
func (t *GANTrainer) Sample(batch int, labels *Tensor) []*Tensor {
	t.Gen.SetTraining(false)
	defer t.Gen.SetTraining(true)
	return t.Gen.Forward(t.SampleNoise(batch), labels)
}
