package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Init modes accepted in the config.
const (
	InitRandom = "random"
	InitZero   = "zero"
)

// Dataset formats accepted in the config. "auto" lets the trainer locate the
// dataset under DatasetPath.
const (
	FormatAuto = "auto"
	FormatBlob = "blob"
	FormatIDX  = "idx"
)

// Config captures the runtime knobs for a training run.
type Config struct {
	DatasetPath    string  `yaml:"dataset_path"`
	Format         string  `yaml:"format"`
	Epochs         int     `yaml:"epochs"`
	LearningRate   float64 `yaml:"learning_rate"`
	Seed           int64   `yaml:"seed"`
	Init           string  `yaml:"init"`
	CheckpointPath string  `yaml:"checkpoint_path"`
	Resume         bool    `yaml:"resume"`
	HistoryDB      string  `yaml:"history_db"`
	LogEvery       int     `yaml:"log_every"`
	TrainLimit     int     `yaml:"train_limit"`
	TestLimit      int     `yaml:"test_limit"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	DatasetPath    string
	Format         string
	Epochs         int
	LearningRate   float64
	Seed           int64
	Init           string
	CheckpointPath string
	Resume         bool
	HistoryDB      string
	LogEvery       int
	TrainLimit     int
	TestLimit      int
}

// Default returns the config used when no file is given.
func Default() *Config {
	return &Config{
		Format:       FormatAuto,
		Epochs:       10,
		LearningRate: 0.001,
		Seed:         42,
		Init:         InitRandom,
		LogEvery:     1,
	}
}

// Load reads a Config from YAML on top of Default. Validation is left to the
// caller so CLI overrides can be applied first.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.DatasetPath != "" {
		c.DatasetPath = o.DatasetPath
	}
	if o.Format != "" {
		c.Format = o.Format
	}
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.LearningRate > 0 {
		c.LearningRate = o.LearningRate
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.Init != "" {
		c.Init = o.Init
	}
	if o.CheckpointPath != "" {
		c.CheckpointPath = o.CheckpointPath
	}
	if o.Resume {
		c.Resume = true
	}
	if o.HistoryDB != "" {
		c.HistoryDB = o.HistoryDB
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.TrainLimit > 0 {
		c.TrainLimit = o.TrainLimit
	}
	if o.TestLimit > 0 {
		c.TestLimit = o.TestLimit
	}
}

// Validate verifies the config is runnable and fills remaining defaults.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.DatasetPath == "" {
		return errors.New("dataset_path must be set")
	}
	switch c.Format {
	case "":
		c.Format = FormatAuto
	case FormatAuto, FormatBlob, FormatIDX:
	default:
		return fmt.Errorf("format must be one of auto, blob, idx (got %q)", c.Format)
	}
	if c.Epochs <= 0 {
		return fmt.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return fmt.Errorf("learning_rate must be > 0 (got %g)", c.LearningRate)
	}
	switch c.Init {
	case "":
		c.Init = InitRandom
	case InitRandom, InitZero:
	default:
		return fmt.Errorf("init must be random or zero (got %q)", c.Init)
	}
	if c.Resume && c.CheckpointPath == "" {
		return errors.New("resume requires checkpoint_path")
	}
	if c.TrainLimit < 0 || c.TestLimit < 0 {
		return fmt.Errorf("limits must be >= 0 (got %d, %d)", c.TrainLimit, c.TestLimit)
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	return nil
}
