package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/tonegrid/tonegrid/nn"
)

func main() {
	if len(os.Args) < 2 {
		dieUsage()
	}
	switch os.Args[1] {
	case "train":
		trainCommand(os.Args[2:])
	case "sample":
		sampleCommand(os.Args[2:])
	case "info":
		infoCommand(os.Args[2:])
	default:
		dieUsage()
	}
}

func dieUsage() {
	fmt.Fprintln(os.Stderr, "Usage: wavenet train -data <rolls.f32> -model <ckpt.json> [args]\n"+
		"       wavenet sample -model <ckpt.json> -seed <rolls.f32> -steps <n> -out <file>\n"+
		"       wavenet info -model <ckpt.json>")
	os.Exit(1)
}

func trainCommand(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	dataPath := fs.String("data", "", "raw float32 roll file, channel-major")
	modelPath := fs.String("model", "wavenet.json", "checkpoint path")
	configPath := fs.String("config", "", "JSON config (used when creating a new model)")
	metricsPath := fs.String("metrics", "", "JSONL metric log path")
	epochs := fs.Int("epochs", 0, "override num_epochs")
	useGPU := fs.Bool("gpu", false, "run the causal convolution on the GPU")
	layerSize := fs.Int("layer-size", 0, "dilation doublings per stack (new models)")
	stackSize := fs.Int("stack-size", 0, "stack repetitions (new models)")
	channels := fs.Int("channels", 0, "roll channels (new models)")
	lr := fs.Float64("lr", 0, "override learning rate")
	batch := fs.Int("batch", 0, "override batch size")
	sampleLen := fs.Int("sample-length", 0, "training window length (new models)")
	fs.Parse(args)

	if *dataPath == "" {
		dieUsage()
	}

	model, cfg, step, err := nn.LoadWavenet(*modelPath)
	if err == nil {
		log.Printf("loaded checkpoint %s at step %d", *modelPath, step)
	} else {
		cfg = nn.DefaultWavenetConfig()
		if *configPath != "" {
			if err := nn.LoadConfig(*configPath, cfg); err != nil {
				log.Fatal(err)
			}
		}
		if *layerSize > 0 {
			cfg.LayerSize = *layerSize
		}
		if *stackSize > 0 {
			cfg.StackSize = *stackSize
		}
		if *channels > 0 {
			cfg.Channels = *channels
		}
		if *sampleLen > 0 {
			cfg.SampleLength = *sampleLen
		}
		if err := cfg.Validate(); err != nil {
			log.Fatal(err)
		}
		model = nn.NewWavenet(cfg)
		log.Println("created new model")
	}
	if *epochs > 0 {
		cfg.NumEpochs = *epochs
	}
	if *lr > 0 {
		cfg.LearningRate = float32(*lr)
	}
	if *batch > 0 {
		cfg.BatchSize = *batch
	}

	roll, err := readRolls(*dataPath, cfg.Channels)
	if err != nil {
		log.Fatal(err)
	}
	total := roll.Dim(2)
	if total < cfg.SampleLength {
		log.Fatalf("data has %d timesteps, need at least %d", total, cfg.SampleLength)
	}

	if *useGPU {
		if err := model.EnableGPU(cfg.SampleLength); err != nil {
			log.Printf("gpu unavailable, staying on cpu: %v", err)
		} else {
			defer model.ReleaseGPU()
			log.Println("gpu path enabled")
		}
	}

	trainer := nn.NewWavenetTrainer(model, cfg)
	trainer.Verbose = true
	trainer.SetStep(step)
	if *metricsPath != "" {
		ml, err := nn.OpenMetricLog(*metricsPath)
		if err != nil {
			log.Fatal(err)
		}
		defer ml.Close()
		trainer.Metrics = ml
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	rf := model.ReceptiveField
	batchesPerEpoch := total / (cfg.SampleLength * cfg.BatchSize)
	if batchesPerEpoch < 1 {
		batchesPerEpoch = 1
	}

	served := 0
	nextBatch := func() (*nn.Tensor, *nn.Tensor) {
		if served >= batchesPerEpoch {
			served = 0
			return nil, nil
		}
		served++
		return buildBatch(roll, cfg, rf, rng)
	}

	// checkpoint after every epoch so an interrupted run can resume
	trainer.EpochEnd = func(epoch int, avgLoss float64) error {
		if err := nn.SaveWavenet(*modelPath, cfg, model, trainer.Step()); err != nil {
			return err
		}
		log.Printf("epoch %d: saved checkpoint %s", epoch, *modelPath)
		return nil
	}

	result, err := trainer.Train(nextBatch)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("trained %d epochs in %s, final loss %.6f (best %.6f)",
		cfg.NumEpochs, result.TotalTime.Round(time.Second), result.FinalLoss, result.BestLoss)
}

// buildBatch slices random windows out of the roll and pairs each with
// its valid-region target (the window beyond the receptive field).
func buildBatch(roll *nn.Tensor, cfg *nn.WavenetConfig, rf int, rng *rand.Rand) (*nn.Tensor, *nn.Tensor) {
	channels := cfg.Channels
	total := roll.Dim(2)
	winLen := cfg.SampleLength
	outLen := winLen - rf

	input := nn.NewTensor(cfg.BatchSize, channels, winLen)
	target := nn.NewTensor(cfg.BatchSize, channels, outLen)
	for b := 0; b < cfg.BatchSize; b++ {
		start := rng.Intn(total - winLen + 1)
		for ch := 0; ch < channels; ch++ {
			src := roll.Data[ch*total+start : ch*total+start+winLen]
			copy(input.Data[(b*channels+ch)*winLen:], src)
			copy(target.Data[(b*channels+ch)*outLen:], src[rf:])
		}
	}
	return input, target
}

func sampleCommand(args []string) {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	modelPath := fs.String("model", "wavenet.json", "checkpoint path")
	seedPath := fs.String("seed", "", "raw float32 seed roll, channel-major")
	steps := fs.Int("steps", 1024, "timesteps to generate")
	outPath := fs.String("out", "generated.f32", "output file")
	seed := fs.Int64("rngseed", 0, "deterministic sampling seed (0 = time-based)")
	fs.Parse(args)

	model, cfg, _, err := nn.LoadWavenet(*modelPath)
	if err != nil {
		log.Fatal(err)
	}

	var roll *nn.Tensor
	if *seedPath != "" {
		roll, err = readRolls(*seedPath, cfg.Channels)
		if err != nil {
			log.Fatal(err)
		}
	} else {
		roll = nn.NewTensor(1, cfg.Channels, model.ReceptiveField+1)
	}
	if roll.Dim(2) <= model.ReceptiveField {
		log.Fatalf("seed has %d timesteps, need more than the receptive field %d",
			roll.Dim(2), model.ReceptiveField)
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	trainer := nn.NewWavenetTrainer(model, cfg)
	out, err := trainer.Generate(roll, *steps, rand.New(rand.NewSource(s)))
	if err != nil {
		log.Fatal(err)
	}
	if err := writeFloats(*outPath, out.Data); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %d timesteps x %d channels to %s", *steps, cfg.Channels, *outPath)
}

func infoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	modelPath := fs.String("model", "wavenet.json", "checkpoint path")
	fs.Parse(args)

	model, cfg, step, err := nn.LoadWavenet(*modelPath)
	if err != nil {
		log.Fatal(err)
	}
	tel := nn.ExtractTelemetry("wavenet", model.Parameters())
	fmt.Printf("wavenet: %d layers x %d stacks, %d channels, receptive field %d, step %d\n",
		cfg.LayerSize, cfg.StackSize, cfg.Channels, model.ReceptiveField, step)
	for _, l := range tel.Layers {
		fmt.Printf("  %-40s %10d\n", l.Name, l.Parameters)
	}
	fmt.Printf("  %-40s %10d\n", "total", tel.TotalParams)
}

// readRolls loads a channel-major raw little-endian float32 file into a
// [1][channels][T] tensor.
func readRolls(path string, channels int) (*nn.Tensor, error) {
	data, err := readFloats(path)
	if err != nil {
		return nil, err
	}
	if len(data)%channels != 0 {
		return nil, fmt.Errorf("%s holds %d values, not divisible by %d channels",
			path, len(data), channels)
	}
	t := nn.NewTensor(1, channels, len(data)/channels)
	copy(t.Data, data)
	return t, nil
}

func readFloats(path string) ([]float32, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("%s length %d is not a multiple of 4", path, len(buf))
	}
	out := make([]float32, len(buf)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return out, nil
}

func writeFloats(path string, data []float32) error {
	buf := make([]byte, len(data)*4)
	for i, v := range data {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return os.WriteFile(path, buf, 0644)
}
