// Package config holds the knobs of a fine-tuning run. Values come from
// built-in defaults, then an optional YAML file, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DataDir      string  `yaml:"data_dir"`
	LearningRate float64 `yaml:"learning_rate"`
	Epochs       int     `yaml:"epochs"`
	ModelDir     string  `yaml:"model_dir"`
	Arch         string  `yaml:"arch"`
	BatchSize    int     `yaml:"batch_size"`
	NumWorkers   int     `yaml:"num_workers"`
	PrintEvery   int     `yaml:"print_every"`
	Seed         int64   `yaml:"seed"`
	Device       string  `yaml:"device"`
	// WeightsDir holds {arch}.safetensors files; empty means seeded weights.
	WeightsDir string `yaml:"weights_dir"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	return &Config{
		DataDir:      "data",
		LearningRate: 0.001,
		Epochs:       100,
		ModelDir:     "models",
		Arch:         "densenet161",
		BatchSize:    1,
		NumWorkers:   4,
		PrintEvery:   20,
		Seed:         42,
		Device:       "cpu:0",
	}
}

// Overrides captures CLI supplied values. Nil fields were not set.
type Overrides struct {
	DataDir      *string
	LearningRate *float64
	Epochs       *int
	ModelDir     *string
	Arch         *string
	BatchSize    *int
	NumWorkers   *int
	PrintEvery   *int
	Seed         *int64
	Device       *string
	WeightsDir   *string
}

// Load reads a YAML file over the defaults and validates the result. Keys
// the Config does not know are rejected.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg with every field that was set.
func (c *Config) ApplyOverrides(o Overrides) {
	set(&c.DataDir, o.DataDir)
	set(&c.LearningRate, o.LearningRate)
	set(&c.Epochs, o.Epochs)
	set(&c.ModelDir, o.ModelDir)
	set(&c.Arch, o.Arch)
	set(&c.BatchSize, o.BatchSize)
	set(&c.NumWorkers, o.NumWorkers)
	set(&c.PrintEvery, o.PrintEvery)
	set(&c.Seed, o.Seed)
	set(&c.Device, o.Device)
	set(&c.WeightsDir, o.WeightsDir)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// Validate verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DataDir == "" {
		return errors.New("data_dir must be set")
	}
	if c.ModelDir == "" {
		return errors.New("model_dir must be set")
	}
	if c.Arch == "" {
		return errors.New("arch must be set")
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be > 0 (got %d)", c.NumWorkers)
	}
	if c.PrintEvery <= 0 {
		return fmt.Errorf("print_every must be > 0 (got %d)", c.PrintEvery)
	}
	return nil
}
