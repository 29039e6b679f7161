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

const checkpointEvery = 1000

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
	fmt.Fprintln(os.Stderr, "Usage: rollgan train -rolls <rolls.f32> -labels <labels.f32> -model <ckpt.json> [args]\n"+
		"       rollgan sample -model <ckpt.json> -out <prefix> [args]\n"+
		"       rollgan info -model <ckpt.json>")
	os.Exit(1)
}

func trainCommand(args []string) {
	fs := flag.NewFlagSet("train", flag.ExitOnError)
	rollsPath := fs.String("rolls", "", "raw float32 rolls, N x channels x H x W at full resolution")
	labelsPath := fs.String("labels", "", "raw float32 labels, N x label_dim")
	modelPath := fs.String("model", "rollgan.json", "checkpoint path")
	configPath := fs.String("config", "", "JSON config (used when creating new models)")
	metricsPath := fs.String("metrics", "", "JSONL metric log path")
	steps := fs.Int("steps", 0, "override training steps")
	lr := fs.Float64("lr", 0, "override learning rate")
	batch := fs.Int("batch", 0, "override batch size")
	spectral := fs.Bool("spectral-norm", false, "normalize discriminator and encoder weights")
	fs.Parse(args)

	if *rollsPath == "" || *labelsPath == "" {
		dieUsage()
	}

	cfg := nn.DefaultGANConfig()
	if *configPath != "" {
		if err := nn.LoadConfig(*configPath, cfg); err != nil {
			log.Fatal(err)
		}
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if *steps > 0 {
		cfg.Steps = *steps
	}
	if *lr > 0 {
		cfg.LearningRate = float32(*lr)
	}
	if *batch > 0 {
		cfg.BatchSize = *batch
	}
	if *spectral {
		cfg.SpectralNorm = true
	}

	trainer := nn.NewGANTrainer(cfg)
	if step, err := nn.LoadGANInto(*modelPath, trainer.Gen, trainer.Discs, trainer.Enc, trainer.Norms); err == nil {
		trainer.SetStep(step)
		log.Printf("loaded checkpoint %s at step %d", *modelPath, step)
	} else {
		log.Println("created new models")
	}
	if *metricsPath != "" {
		ml, err := nn.OpenMetricLog(*metricsPath)
		if err != nil {
			log.Fatal(err)
		}
		defer ml.Close()
		trainer.Metrics = ml
	}

	topH, topW := cfg.StageShape(len(cfg.StageChannels) - 1)
	sampleSize := cfg.ChannelNum * topH * topW
	rolls, err := readSamples(*rollsPath, sampleSize)
	if err != nil {
		log.Fatal(err)
	}
	labels, err := readSamples(*labelsPath, cfg.LabelDim)
	if err != nil {
		log.Fatal(err)
	}
	if len(rolls) != len(labels) {
		log.Fatalf("%d rolls but %d labels", len(rolls), len(labels))
	}
	log.Printf("loaded %d samples at %dx%dx%d", len(rolls), cfg.ChannelNum, topH, topW)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	start := time.Now()
	for trainer.Step() < cfg.Steps {
		realTop := nn.NewTensor(cfg.BatchSize, cfg.ChannelNum, topH, topW)
		labelBatch := nn.NewTensor(cfg.BatchSize, cfg.LabelDim)
		for b := 0; b < cfg.BatchSize; b++ {
			idx := rng.Intn(len(rolls))
			copy(realTop.Data[b*sampleSize:], rolls[idx])
			copy(labelBatch.Data[b*cfg.LabelDim:], labels[idx])
		}

		dLoss, gLoss := trainer.TrainStep(realTop, labelBatch)
		step := trainer.Step()
		if step%100 == 0 {
			log.Printf("step %d/%d  d_loss %.4f  g_loss %.4f", step, cfg.Steps, dLoss, gLoss)
		}
		if step%checkpointEvery == 0 {
			if err := saveCheckpoint(*modelPath, cfg, trainer); err != nil {
				log.Fatal(err)
			}
		}
	}
	if err := saveCheckpoint(*modelPath, cfg, trainer); err != nil {
		log.Fatal(err)
	}
	log.Printf("trained to step %d in %s", trainer.Step(), time.Since(start).Round(time.Second))
}

func saveCheckpoint(path string, cfg *nn.GANConfig, t *nn.GANTrainer) error {
	if err := nn.SaveGAN(path, cfg, t.Gen, t.Discs, t.Enc, t.Norms, t.Step()); err != nil {
		return err
	}
	log.Printf("saved checkpoint %s at step %d", path, t.Step())
	return nil
}

func sampleCommand(args []string) {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	modelPath := fs.String("model", "rollgan.json", "checkpoint path")
	configPath := fs.String("config", "", "JSON config matching the checkpoint")
	outPrefix := fs.String("out", "sample", "output prefix; one file per scale")
	batch := fs.Int("batch", 1, "rolls to generate")
	label := fs.Int("label", -1, "label index to condition on (-1 = random)")
	seed := fs.Int64("rngseed", 0, "deterministic sampling seed (0 = time-based)")
	fs.Parse(args)

	cfg := nn.DefaultGANConfig()
	if *configPath != "" {
		if err := nn.LoadConfig(*configPath, cfg); err != nil {
			log.Fatal(err)
		}
	}
	trainer := nn.NewGANTrainer(cfg)
	if _, err := nn.LoadGANInto(*modelPath, trainer.Gen, trainer.Discs, trainer.Enc, trainer.Norms); err != nil {
		log.Fatal(err)
	}

	s := *seed
	if s == 0 {
		s = time.Now().UnixNano()
	}
	trainer.Seed(s)
	rng := rand.New(rand.NewSource(s))

	labels := nn.NewTensor(*batch, cfg.LabelDim)
	for b := 0; b < *batch; b++ {
		idx := *label
		if idx < 0 || idx >= cfg.LabelDim {
			idx = rng.Intn(cfg.LabelDim)
		}
		labels.Data[b*cfg.LabelDim+idx] = 1
	}

	rolls := trainer.Sample(*batch, labels)
	for i, roll := range rolls {
		h, w := cfg.StageShape(i)
		path := fmt.Sprintf("%s_scale%d_%dx%d.f32", *outPrefix, i+1, h, w)
		if err := writeFloats(path, roll.Data); err != nil {
			log.Fatal(err)
		}
		log.Printf("wrote %s", path)
	}
}

func infoCommand(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	modelPath := fs.String("model", "rollgan.json", "checkpoint path")
	configPath := fs.String("config", "", "JSON config matching the checkpoint")
	fs.Parse(args)

	cfg := nn.DefaultGANConfig()
	if *configPath != "" {
		if err := nn.LoadConfig(*configPath, cfg); err != nil {
			log.Fatal(err)
		}
	}
	trainer := nn.NewGANTrainer(cfg)
	step, err := nn.LoadGANInto(*modelPath, trainer.Gen, trainer.Discs, trainer.Enc, trainer.Norms)
	if err != nil {
		log.Fatal(err)
	}

	fmt.Printf("rollgan: %d scales, %d channels, step %d\n", len(cfg.StageChannels), cfg.ChannelNum, step)
	tels := []nn.ModelTelemetry{
		nn.ExtractTelemetry("generator", trainer.Gen.Parameters()),
		nn.ExtractTelemetry("encoder", trainer.Enc.Parameters()),
	}
	for i, d := range trainer.Discs {
		tels = append(tels, nn.ExtractTelemetry(fmt.Sprintf("discriminator%d", i+1), d.Parameters()))
	}
	for _, tel := range tels {
		fmt.Printf("%s: %d parameters in %d tensors\n", tel.ID, tel.TotalParams, len(tel.Layers))
	}
}

// readSamples splits a raw little-endian float32 file into fixed-size
// records.
func readSamples(path string, size int) ([][]float32, error) {
	data, err := readFloats(path)
	if err != nil {
		return nil, err
	}
	if len(data)%size != 0 {
		return nil, fmt.Errorf("%s holds %d values, not divisible by sample size %d",
			path, len(data), size)
	}
	out := make([][]float32, len(data)/size)
	for i := range out {
		out[i] = data[i*size : (i+1)*size]
	}
	return out, nil
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
