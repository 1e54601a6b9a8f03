package trainer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"

	"mnist-forge/internal/dataset"
	"mnist-forge/internal/metrics"
	"mnist-forge/internal/model"
	"mnist-forge/internal/store"
	"mnist-forge/internal/vector"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	DatasetPath    string
	Format         dataset.Format // empty means locate under DatasetPath
	Layout         dataset.Layout // zero value means dataset.DefaultLayout
	Epochs         int
	LearningRate   float32
	Seed           int64
	Init           model.Init
	CheckpointPath string
	Resume         bool
	HistoryDB      string
	LogEvery       int
	TrainLimit     int
	TestLimit      int
}

// EvalConfig captures the knobs required to score a saved checkpoint.
type EvalConfig struct {
	DatasetPath    string
	Format         dataset.Format
	Layout         dataset.Layout
	CheckpointPath string
	TestLimit      int
}

// Report summarises a finished run.
type Report struct {
	Epoch   int
	History []metrics.Point
	Best    metrics.Point
	Test    model.Result
}

func loadSet(path string, format dataset.Format, layout dataset.Layout, trainLimit, testLimit int) (*dataset.Set, error) {
	if layout == (dataset.Layout{}) {
		layout = dataset.DefaultLayout
	}
	if format == "" {
		var err error
		path, format, err = dataset.Locate(path)
		if err != nil {
			return nil, err
		}
	}
	set, err := dataset.Load(path, format, layout)
	if err != nil {
		return nil, err
	}
	set.Limit(trainLimit, testLimit)
	log.Printf("dataset=%s format=%s train=%d test=%d", path, format, len(set.TrainX), len(set.TestX))
	return set, nil
}

func features(set *dataset.Set, layout dataset.Layout) int {
	if len(set.TrainX) > 0 {
		return set.TrainX[0].Len()
	}
	if len(set.TestX) > 0 {
		return set.TestX[0].Len()
	}
	if layout.Features > 0 {
		return layout.Features
	}
	return model.InputSize
}

func classes(set *dataset.Set, layout dataset.Layout) int {
	if len(set.TrainY) > 0 {
		return set.TrainY[0].Len()
	}
	if layout.Classes > 0 {
		return layout.Classes
	}
	return model.OutputSize
}

func buildModel(cfg RunConfig, set *dataset.Set) (*model.Softmax, error) {
	if cfg.Resume {
		mdl, err := model.LoadFile(cfg.CheckpointPath)
		if err != nil {
			return nil, err
		}
		log.Printf("resumed checkpoint=%s epoch=%d", cfg.CheckpointPath, mdl.Epoch())
		return mdl, nil
	}
	return model.New(classes(set, cfg.Layout), features(set, cfg.Layout), cfg.Init, rand.New(rand.NewSource(cfg.Seed)))
}

func meanNorm(rows []vector.Vector) float32 {
	if len(rows) == 0 {
		return 0
	}
	var sum float32
	for _, r := range rows {
		sum += r.Norm()
	}
	return sum / float32(len(rows))
}

func drift(before, after []vector.Vector) (float32, error) {
	var total float32
	for i := range before {
		d, err := before[i].Distance(after[i])
		if err != nil {
			return 0, err
		}
		total += d
	}
	return total, nil
}

// Run executes the training workload. Cancellation is honoured between
// epochs; progress made so far is still checkpointed.
func Run(ctx context.Context, cfg RunConfig) (*Report, error) {
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.LearningRate <= 0 {
		return nil, errors.New("trainer: learning rate must be > 0")
	}
	if cfg.Resume && cfg.CheckpointPath == "" {
		return nil, errors.New("trainer: resume requires a checkpoint path")
	}
	if cfg.LogEvery <= 0 {
		cfg.LogEvery = 1
	}

	set, err := loadSet(cfg.DatasetPath, cfg.Format, cfg.Layout, cfg.TrainLimit, cfg.TestLimit)
	if err != nil {
		return nil, err
	}
	mdl, err := buildModel(cfg, set)
	if err != nil {
		return nil, err
	}
	if want := features(set, cfg.Layout); mdl.Features() != want {
		return nil, fmt.Errorf("trainer: model expects %d features, dataset has %d: %w", mdl.Features(), want, model.ErrShapeMismatch)
	}

	var history *store.CheckpointStore
	if cfg.HistoryDB != "" {
		db, err := store.Open(cfg.HistoryDB)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if history, err = store.NewCheckpointStore(db); err != nil {
			return nil, err
		}
	}

	var (
		window  metrics.Window
		hist    metrics.History
		last    model.EpochStats
		runErr  error
		observe = model.ObserverFunc(func(s model.EpochStats) {
			last = s
			window.Record(s.Examples, s.Duration, float64(s.Loss), float64(s.Accuracy))
			hist.Add(metrics.Point{Epoch: s.Epoch, Loss: float64(s.Loss), Accuracy: float64(s.Accuracy)})
		})
	)

	for i := 1; i <= cfg.Epochs; i++ {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		before := mdl.Weights()
		if err := mdl.Train(set.TrainX, set.TrainY, 1, cfg.LearningRate, observe); err != nil {
			return nil, fmt.Errorf("trainer: %w", err)
		}
		if history != nil {
			if err := history.Save(ctx, model.FromModel(mdl), float64(last.Loss), float64(last.Accuracy)); err != nil {
				return nil, err
			}
		}
		if i%cfg.LogEvery == 0 || i == cfg.Epochs {
			after := mdl.Weights()
			moved, err := drift(before, after)
			if err != nil {
				return nil, err
			}
			snap := window.Snapshot()
			log.Printf("epoch=%d loss=%.4f accuracy=%.4f examples_per_sec=%.1f epoch_ms=%.2f weight_norm=%.4f drift=%.4f",
				last.Epoch,
				snap.LastLoss,
				snap.LastAccuracy,
				snap.ExamplesPerSec,
				snap.AvgEpochMS,
				meanNorm(after),
				moved,
			)
		}
	}

	if cfg.CheckpointPath != "" {
		if err := model.SaveFile(cfg.CheckpointPath, mdl); err != nil {
			return nil, err
		}
		log.Printf("checkpoint=%s epoch=%d", cfg.CheckpointPath, mdl.Epoch())
	}
	if runErr != nil {
		return nil, fmt.Errorf("trainer: stopped at epoch %d: %w", mdl.Epoch(), runErr)
	}

	test, err := mdl.Evaluate(set.TestX, set.TestY)
	if err != nil {
		return nil, fmt.Errorf("trainer: %w", err)
	}
	log.Printf("test loss=%.4f accuracy=%.4f examples=%d", test.Loss, test.Accuracy, test.Total)

	report := &Report{Epoch: mdl.Epoch(), History: hist.Points(), Test: test}
	if best, ok := hist.Best(); ok {
		report.Best = best
		log.Printf("best epoch=%d loss=%.4f mean_loss=%.4f", best.Epoch, best.Loss, hist.MeanLoss())
	}
	return report, nil
}

// Evaluate scores a saved checkpoint against the test split.
func Evaluate(ctx context.Context, cfg EvalConfig) (model.Result, error) {
	if cfg.CheckpointPath == "" {
		return model.Result{}, errors.New("trainer: checkpoint path must be set")
	}
	if err := ctx.Err(); err != nil {
		return model.Result{}, err
	}
	set, err := loadSet(cfg.DatasetPath, cfg.Format, cfg.Layout, 0, cfg.TestLimit)
	if err != nil {
		return model.Result{}, err
	}
	mdl, err := model.LoadFile(cfg.CheckpointPath)
	if err != nil {
		return model.Result{}, err
	}
	res, err := mdl.Evaluate(set.TestX, set.TestY)
	if err != nil {
		return model.Result{}, fmt.Errorf("trainer: %w", err)
	}
	log.Printf("checkpoint=%s epoch=%d test loss=%.4f accuracy=%.4f", cfg.CheckpointPath, mdl.Epoch(), res.Loss, res.Accuracy)
	return res, nil
}
