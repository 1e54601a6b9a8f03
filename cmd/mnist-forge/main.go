package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/klauspost/cpuid/v2"

	"mnist-forge/internal/config"
	"mnist-forge/internal/dataset"
	"mnist-forge/internal/model"
	"mnist-forge/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "", "Path to YAML config")
	datasetPath := flag.String("dataset", "", "Dataset file or directory")
	format := flag.String("format", "", "Dataset format: auto, blob or idx")
	epochs := flag.Int("epochs", 0, "Number of training epochs")
	learningRate := flag.Float64("lr", 0, "Learning rate")
	seed := flag.Int64("seed", 0, "PRNG seed for weight initialisation")
	initMode := flag.String("init", "", "Weight initialisation: random or zero")
	checkpoint := flag.String("checkpoint", "", "Checkpoint file to write (and read with -resume)")
	resume := flag.Bool("resume", false, "Resume training from -checkpoint")
	historyDB := flag.String("history-db", "", "SQLite file recording a checkpoint per epoch")
	logEvery := flag.Int("log-every", 0, "Log every N epochs")
	trainLimit := flag.Int("train-limit", 0, "Use at most N training examples")
	testLimit := flag.Int("test-limit", 0, "Use at most N test examples")
	evalOnly := flag.Bool("eval", false, "Only evaluate -checkpoint on the test split")

	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		DatasetPath:    *datasetPath,
		Format:         *format,
		Epochs:         *epochs,
		LearningRate:   *learningRate,
		Seed:           *seed,
		Init:           *initMode,
		CheckpointPath: *checkpoint,
		Resume:         *resume,
		HistoryDB:      *historyDB,
		LogEvery:       *logEvery,
		TrainLimit:     *trainLimit,
		TestLimit:      *testLimit,
	})

	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("cpu=%q cores=%d threads=%d avx2=%t",
		cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.Supports(cpuid.AVX2))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var dsFormat dataset.Format
	if cfg.Format != config.FormatAuto {
		dsFormat = dataset.Format(cfg.Format)
	}

	if *evalOnly {
		if cfg.CheckpointPath == "" {
			log.Fatalf("-eval requires -checkpoint")
		}
		if _, err := trainer.Evaluate(ctx, trainer.EvalConfig{
			DatasetPath:    cfg.DatasetPath,
			Format:         dsFormat,
			CheckpointPath: cfg.CheckpointPath,
			TestLimit:      cfg.TestLimit,
		}); err != nil {
			log.Fatalf("evaluation failed: %v", err)
		}
		return
	}

	weightInit := model.InitRandom
	if cfg.Init == config.InitZero {
		weightInit = model.InitZero
	}

	runCfg := trainer.RunConfig{
		DatasetPath:    cfg.DatasetPath,
		Format:         dsFormat,
		Epochs:         cfg.Epochs,
		LearningRate:   float32(cfg.LearningRate),
		Seed:           cfg.Seed,
		Init:           weightInit,
		CheckpointPath: cfg.CheckpointPath,
		Resume:         cfg.Resume,
		HistoryDB:      cfg.HistoryDB,
		LogEvery:       cfg.LogEvery,
		TrainLimit:     cfg.TrainLimit,
		TestLimit:      cfg.TestLimit,
	}

	if _, err := trainer.Run(ctx, runCfg); err != nil {
		log.Fatalf("training failed: %v", err)
	}
}
