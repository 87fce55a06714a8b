package dataset

import (
	"context"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Batch is one minibatch: row i of Images is the normalized CHW tensor of
// the image labelled Labels[i].
type Batch struct {
	Images *mat.Dense
	Labels []int
}

// Size returns the number of samples in the batch.
func (b Batch) Size() int { return len(b.Labels) }

// LoaderOptions configures a Loader.
type LoaderOptions struct {
	BatchSize  int
	NumWorkers int
	Seed       int64
	Shuffle    bool
}

// Loader produces batches from an ImageFolder. Every call to Epoch starts a
// fresh pass with its own shuffle order and augmentation draws.
type Loader struct {
	folder    *ImageFolder
	transform Transform
	opts      LoaderOptions
	pass      int
}

// NewLoader wraps folder. Non-positive sizes default to 1.
func NewLoader(folder *ImageFolder, transform Transform, opts LoaderOptions) *Loader {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 1
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	return &Loader{folder: folder, transform: transform, opts: opts}
}

// Len returns the number of samples.
func (l *Loader) Len() int { return l.folder.Len() }

// NumBatches returns the number of batches per pass; the last one may be
// short.
func (l *Loader) NumBatches() int {
	return (l.folder.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

// Classes returns the folder's class mapping.
func (l *Loader) Classes() ClassIndex { return l.folder.Classes }

// Epoch starts one pass over the data. Batches arrive in order on the first
// channel, which is closed when the pass ends. A failure is reported once on
// the second channel, which is closed after the batch channel.
func (l *Loader) Epoch(ctx context.Context) (<-chan Batch, <-chan error) {
	pass := l.pass
	l.pass++
	order := epochOrder(l.folder.Len(), l.opts.Shuffle, l.opts.Seed, pass)

	out := make(chan Batch, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		defer close(out)
		if err := l.stream(ctx, pass, order, out); err != nil {
			errCh <- err
		}
	}()
	return out, errCh
}

func (l *Loader) load(index int, seed int64) ([]float64, error) {
	img, err := decodeFile(l.folder.Paths[index])
	if err != nil {
		return nil, err
	}
	return l.transform.Apply(img, rand.New(rand.NewSource(seed))), nil
}

type batchBuilder struct {
	size   int
	width  int
	data   []float64
	labels []int
}

func newBatchBuilder(size, width int) *batchBuilder {
	return &batchBuilder{size: size, width: width}
}

func (b *batchBuilder) add(row []float64, label int) {
	b.data = append(b.data, row...)
	b.labels = append(b.labels, label)
}

func (b *batchBuilder) full() bool { return len(b.labels) >= b.size }

func (b *batchBuilder) build() Batch {
	batch := Batch{
		Images: mat.NewDense(len(b.labels), b.width, b.data),
		Labels: b.labels,
	}
	b.data = nil
	b.labels = nil
	return batch
}
