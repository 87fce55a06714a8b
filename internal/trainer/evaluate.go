package trainer

import (
	"context"

	"headforge/internal/dataset"
	"headforge/internal/model"
	"headforge/internal/nn"
)

// EvalResult holds per-batch sums over one pass. Accuracy sums the fraction
// of correct predictions of each batch, so 0 <= Accuracy <= Batches.
type EvalResult struct {
	Loss     float64
	Accuracy float64
	Batches  int
}

// Normalized divides the sums by the number of batches.
func (r EvalResult) Normalized() EvalResult {
	if r.Batches == 0 {
		return r
	}
	n := float64(r.Batches)
	return EvalResult{Loss: r.Loss / n, Accuracy: r.Accuracy / n, Batches: 1}
}

// Evaluate runs m over one pass of loader with dropout disabled. The model's
// previous mode is restored before returning.
func Evaluate(ctx context.Context, env *Env, m *model.Model, loader *dataset.Loader) (EvalResult, error) {
	defer inference(m)()

	var res EvalResult
	err := forEachBatch(ctx, loader, func(b dataset.Batch) error {
		out := m.Forward(b.Images)
		res.Loss += env.Criterion.Forward(out, b.Labels)
		res.Accuracy += nn.Accuracy(out, b.Labels)
		res.Batches++
		return nil
	})
	return res, err
}

// CheckAccuracy returns the percentage of correctly classified samples in
// loader.
func CheckAccuracy(ctx context.Context, env *Env, m *model.Model, loader *dataset.Loader) (float64, error) {
	defer inference(m)()

	var correct, total int
	err := forEachBatch(ctx, loader, func(b dataset.Batch) error {
		correct += nn.Correct(m.Forward(b.Images), b.Labels)
		total += b.Size()
		return nil
	})
	if err != nil || total == 0 {
		return 0, err
	}
	return 100 * float64(correct) / float64(total), nil
}

// inference switches m to eval mode and returns the function restoring the
// previous mode.
func inference(m *model.Model) func() {
	if !m.Training() {
		return func() {}
	}
	m.Eval()
	return m.Train
}

// forEachBatch runs fn over one pass of loader. A failing fn stops the pass.
func forEachBatch(ctx context.Context, loader *dataset.Loader, fn func(dataset.Batch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, errs := loader.Epoch(ctx)
	for b := range batches {
		if err := fn(b); err != nil {
			cancel()
			for range batches {
			}
			<-errs
			return err
		}
	}
	return <-errs
}
