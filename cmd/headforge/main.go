package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"k8s.io/klog/v2"

	"headforge/internal/checkpoint"
	"headforge/internal/config"
	"headforge/internal/dataset"
	"headforge/internal/device"
	"headforge/internal/model"
	"headforge/internal/trainer"
	"headforge/internal/zoo"
)

func main() {
	klog.InitFlags(nil)
	defaults := config.Default()
	cfgPath := flag.String("config", "", "Optional YAML config; flags override it")
	learningRate := flag.Float64("learning_rate", defaults.LearningRate, "Adam learning rate")
	epochs := flag.Int("epochs", defaults.Epochs, "Number of epochs")
	modelDir := flag.String("model_dir", defaults.ModelDir, "Directory for checkpoints")
	arch := flag.String("arch", defaults.Arch, "Pretrained architecture")
	batchSize := flag.Int("batch_size", defaults.BatchSize, "Batch size")
	numWorkers := flag.Int("num_workers", defaults.NumWorkers, "Image decode workers")
	printEvery := flag.Int("print_every", defaults.PrintEvery, "Validate every N steps")
	seed := flag.Int64("seed", defaults.Seed, "PRNG seed")
	dev := flag.String("device", defaults.Device, "Compute device")
	weightsDir := flag.String("weights_dir", defaults.WeightsDir, "Directory of {arch}.safetensors pretrained weights")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [data_dir]\n", os.Args[0])
		flag.PrintDefaults()
	}
	args, err := parseInterleaved(flag.CommandLine, os.Args[1:])
	if err != nil {
		klog.Exitf("parse flags: %v", err)
	}
	defer klog.Flush()

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			klog.Exitf("failed to load config: %v", err)
		}
		cfg = loaded
	}

	// Only flags given on the command line beat the file.
	var o config.Overrides
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "learning_rate":
			o.LearningRate = learningRate
		case "epochs":
			o.Epochs = epochs
		case "model_dir":
			o.ModelDir = modelDir
		case "arch":
			o.Arch = arch
		case "batch_size":
			o.BatchSize = batchSize
		case "num_workers":
			o.NumWorkers = numWorkers
		case "print_every":
			o.PrintEvery = printEvery
		case "seed":
			o.Seed = seed
		case "device":
			o.Device = dev
		case "weights_dir":
			o.WeightsDir = weightsDir
		}
	})
	if len(args) > 1 {
		klog.Exitf("expected at most one data_dir argument, got %d", len(args))
	}
	if len(args) == 1 {
		o.DataDir = &args[0]
	}
	cfg.ApplyOverrides(o)
	if err := cfg.Validate(); err != nil {
		klog.Exitf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		klog.Exitf("training failed: %v", err)
	}
}

// parseInterleaved parses fs from args, allowing flags after positional
// arguments, and returns the positionals in order. Everything after "--" is
// positional.
func parseInterleaved(fs *flag.FlagSet, args []string) ([]string, error) {
	var positional []string
	for {
		if err := fs.Parse(args); err != nil {
			return nil, err
		}
		rest := fs.Args()
		if consumed := len(args) - len(rest); consumed > 0 && args[consumed-1] == "--" {
			return append(positional, rest...), nil
		}
		if len(rest) == 0 {
			return positional, nil
		}
		positional = append(positional, rest[0])
		args = rest[1:]
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	dev, err := device.Select(cfg.Device)
	if err != nil {
		return err
	}
	klog.Infof("device: %s", dev.Describe())

	reg := zoo.Default()
	if _, _, err := reg.Lookup(cfg.Arch); err != nil {
		return err
	}
	if err := checkpoint.EnsureDir(cfg.ModelDir); err != nil {
		return err
	}

	splits, err := dataset.Open(cfg.DataDir, dataset.Options{
		BatchSize:  cfg.BatchSize,
		NumWorkers: cfg.NumWorkers,
		Seed:       cfg.Seed,
	})
	if err != nil {
		return fmt.Errorf("load data from %s: %w", cfg.DataDir, err)
	}
	klog.Infof("data=%s classes=%d train=%d valid=%d", cfg.DataDir, len(splits.Classes), splits.Train.Len(), splits.Valid.Len())

	opts := model.BuildOptions{Seed: cfg.Seed}
	if cfg.WeightsDir != "" {
		src := &zoo.SafetensorsDir{Dir: cfg.WeightsDir, Fallback: zoo.Seeded{}}
		defer src.Close()
		opts.Weights = src
	}
	m, err := model.Build(reg, cfg.Arch, splits.Classes, opts)
	if err != nil {
		return err
	}
	klog.Infof("model %s:\n%s", m.Arch, m.Summary())

	env := trainer.NewEnv(dev, m, cfg.LearningRate)
	res, err := trainer.Run(ctx, trainer.RunConfig{
		Env:        env,
		Model:      m,
		Train:      splits.Train,
		Valid:      splits.Valid,
		Epochs:     cfg.Epochs,
		PrintEvery: cfg.PrintEvery,
		Persister:  checkpoint.Persister{Dir: cfg.ModelDir},
	})
	if err != nil {
		return err
	}
	klog.Infof("done: epochs=%d steps=%d checkpoints=%d best_accuracy=%.2f%%",
		res.Epochs, res.Steps, res.Checkpoints, res.BestAccuracy)

	if splits.Test != nil {
		acc, err := trainer.CheckAccuracy(ctx, env, m, splits.Test)
		if err != nil {
			return fmt.Errorf("test accuracy: %w", err)
		}
		klog.Infof("accuracy on %d test images: %.2f%%", splits.Test.Len(), acc)
	}
	return nil
}
