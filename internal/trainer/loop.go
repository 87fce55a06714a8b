package trainer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"headforge/internal/checkpoint"
	"headforge/internal/dataset"
	"headforge/internal/metrics"
	"headforge/internal/model"
)

// RunConfig captures what the training loop needs.
type RunConfig struct {
	Env   *Env
	Model *model.Model
	Train *dataset.Loader
	Valid *dataset.Loader
	// Epochs is the number of passes over Train.
	Epochs int
	// PrintEvery triggers a validation pass every N global steps.
	PrintEvery int
	Persister  checkpoint.Persister
	// RunID tags every checkpoint; a fresh one is drawn when zero.
	RunID uuid.UUID
}

// Result summarizes a finished run.
type Result struct {
	Steps  int
	Epochs int
	// Evaluations counts validation passes, scheduled and forced.
	Evaluations int
	Checkpoints int
	// BestAccuracy is in percent.
	BestAccuracy float64
}

// Run fine-tunes the model head for cfg.Epochs epochs, validating every
// PrintEvery steps and at least once per epoch, and checkpoints after each
// epoch. Cancelling ctx stops the run between steps without writing a
// checkpoint for the interrupted epoch.
func Run(ctx context.Context, cfg RunConfig) (Result, error) {
	if cfg.Epochs <= 0 {
		return Result{}, errors.New("trainer: epochs must be > 0")
	}
	if cfg.Env == nil || cfg.Model == nil || cfg.Train == nil || cfg.Valid == nil {
		return Result{}, errors.New("trainer: env, model and loaders are required")
	}
	if cfg.PrintEvery <= 0 {
		cfg.PrintEvery = 20
	}
	if cfg.RunID == uuid.Nil {
		cfg.RunID = checkpoint.NewRunID()
	}

	r := &run{cfg: cfg}
	r.cfg.Model.Train()
	klog.Infof("run=%s arch=%s device=%s epochs=%d train_batches=%d valid_batches=%d",
		cfg.RunID, cfg.Model.Arch, cfg.Env.Device, cfg.Epochs, cfg.Train.NumBatches(), cfg.Valid.NumBatches())

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		if err := r.epoch(ctx, epoch); err != nil {
			return r.res, err
		}
		r.res.Epochs = epoch
	}
	return r.res, nil
}

type run struct {
	cfg    RunConfig
	res    Result
	best   bestTracker
	window metrics.Window
	// acc is the normalized accuracy of the latest evaluation, in percent.
	acc       float64
	evaluated bool
}

func (r *run) epoch(ctx context.Context, epoch int) error {
	r.evaluated = false
	mark := time.Now()
	err := forEachBatch(ctx, r.cfg.Train, func(b dataset.Batch) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		dataTime := time.Since(mark)
		start := time.Now()
		loss := r.cfg.Env.step(r.cfg.Model, b)
		r.window.Record(b.Size(), dataTime, time.Since(start), loss)
		r.res.Steps++
		klog.V(2).Infof("epoch=%d step=%d loss=%.4f", epoch, r.res.Steps, loss)

		if r.res.Steps%r.cfg.PrintEvery == 0 {
			if err := r.validate(ctx, epoch); err != nil {
				return err
			}
		}
		mark = time.Now()
		return nil
	})
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if !r.evaluated {
		if err := r.validate(ctx, epoch); err != nil {
			return err
		}
	}
	return r.checkpoint(epoch)
}

func (r *run) validate(ctx context.Context, epoch int) error {
	train := r.window.Snapshot()
	res, err := Evaluate(ctx, r.cfg.Env, r.cfg.Model, r.cfg.Valid)
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	norm := res.Normalized()
	r.acc = 100 * norm.Accuracy
	r.evaluated = true
	r.res.Evaluations++
	klog.Infof("epoch=%d/%d steps=%d train_loss=%.4f valid_loss=%.4f valid_acc=%.2f%% images_per_sec=%.1f",
		epoch, r.cfg.Epochs, r.res.Steps, train.MeanLoss, norm.Loss, r.acc, train.ImagesPerSec)
	return nil
}

func (r *run) checkpoint(epoch int) error {
	isBest := r.best.observe(r.acc)
	r.res.BestAccuracy = r.best.value
	c := Snapshot(r.cfg.Env, r.cfg.Model, epoch, r.best.value, r.cfg.RunID)
	paths, err := r.cfg.Persister.Save(c, isBest)
	if err != nil {
		return err
	}
	r.res.Checkpoints++
	klog.Infof("epoch=%d accuracy=%.2f%% best=%.2f%% saved=%v", epoch, r.acc, r.best.value, paths)
	return nil
}

// bestTracker keeps the best accuracy seen, starting from zero.
type bestTracker struct {
	value float64
}

// observe reports whether acc strictly beats the best so far and records it.
func (t *bestTracker) observe(acc float64) bool {
	if acc > t.value {
		t.value = acc
		return true
	}
	return false
}
