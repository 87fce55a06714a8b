package dataset

import (
	"errors"
	"fmt"
	"path/filepath"
)

// Split directory names under the data root.
const (
	TrainDir = "train"
	ValidDir = "valid"
	TestDir  = "test"
)

// Splits bundles the loaders of a data root.
type Splits struct {
	Train   *Loader
	Valid   *Loader
	Test    *Loader // nil when the root has no test split
	Classes ClassIndex
}

// Options configures Open.
type Options struct {
	BatchSize  int
	NumWorkers int
	Seed       int64
}

// Open discovers {root}/train and {root}/valid, plus {root}/test when it
// exists. The training split is augmented; the others use the center-crop
// pipeline. Every split must carry the training class mapping.
func Open(root string, opts Options) (*Splits, error) {
	train, err := Discover(filepath.Join(root, TrainDir))
	if err != nil {
		return nil, err
	}
	valid, err := Discover(filepath.Join(root, ValidDir))
	if err != nil {
		return nil, err
	}
	if !valid.Classes.Equal(train.Classes) {
		return nil, fmt.Errorf("%w: %s vs %s", ErrClassMismatch, train.Root, valid.Root)
	}

	lo := LoaderOptions{BatchSize: opts.BatchSize, NumWorkers: opts.NumWorkers, Seed: opts.Seed, Shuffle: true}
	s := &Splits{
		Train:   NewLoader(train, TrainTransform(), lo),
		Valid:   NewLoader(valid, EvalTransform(), lo),
		Classes: train.Classes,
	}

	test, err := Discover(filepath.Join(root, TestDir))
	switch {
	case errors.Is(err, ErrMissingSplit):
	case err != nil:
		return nil, err
	case !test.Classes.Equal(train.Classes):
		return nil, fmt.Errorf("%w: %s vs %s", ErrClassMismatch, train.Root, test.Root)
	default:
		lo.Shuffle = false
		s.Test = NewLoader(test, EvalTransform(), lo)
	}
	return s, nil
}
