package dataset

import (
	"context"
	"image"
	"image/color"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ctx context.Context, l *Loader) []Batch {
	t.Helper()
	batches, errs := l.Epoch(ctx)
	var out []Batch
	for b := range batches {
		out = append(out, b)
	}
	require.NoError(t, <-errs)
	return out
}

func TestLoaderBatchesInOrder(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, map[string]int{"a": 3, "b": 2})
	folder, err := Discover(root)
	require.NoError(t, err)

	l := NewLoader(folder, EvalTransform(), LoaderOptions{BatchSize: 2, NumWorkers: 3})
	batches := collect(t, context.Background(), l)

	require.Len(t, batches, 3)
	assert.Equal(t, 3, l.NumBatches())
	var labels []int
	for _, b := range batches {
		r, c := b.Images.Dims()
		assert.Equal(t, b.Size(), r)
		assert.Equal(t, Channels*CropSize*CropSize, c)
		labels = append(labels, b.Labels...)
	}
	assert.Equal(t, []int{0, 0, 0, 1, 1}, labels)
	assert.Equal(t, 1, batches[2].Size())
}

func TestLoaderShuffleIsSeeded(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, map[string]int{"a": 3, "b": 3})
	folder, err := Discover(root)
	require.NoError(t, err)
	opts := LoaderOptions{BatchSize: 6, NumWorkers: 2, Seed: 9, Shuffle: true}

	first := collect(t, context.Background(), NewLoader(folder, TrainTransform(), opts))
	second := collect(t, context.Background(), NewLoader(folder, TrainTransform(), opts))

	require.Len(t, first, 1)
	assert.Equal(t, first[0].Labels, second[0].Labels)
	assert.Equal(t, first[0].Images.RawMatrix().Data, second[0].Images.RawMatrix().Data)

	// A second pass on the same loader draws a new order.
	l := NewLoader(folder, TrainTransform(), opts)
	p0 := collect(t, context.Background(), l)
	p1 := collect(t, context.Background(), l)
	assert.NotEqual(t, p0[0].Images.RawMatrix().Data, p1[0].Images.RawMatrix().Data)
}

func TestLoaderReportsDecodeErrors(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, map[string]int{"a": 2})
	require.NoError(t, os.WriteFile(filepath.Join(root, "a", "broken.png"), []byte("not a png"), 0o644))
	folder, err := Discover(root)
	require.NoError(t, err)

	batches, errs := NewLoader(folder, EvalTransform(), LoaderOptions{BatchSize: 1, NumWorkers: 2}).Epoch(context.Background())
	for range batches {
	}
	assert.ErrorContains(t, <-errs, "broken.png")
}

func TestLoaderStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	writeSplit(t, root, map[string]int{"a": 4})
	folder, err := Discover(root)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	batches, errs := NewLoader(folder, EvalTransform(), LoaderOptions{BatchSize: 1}).Epoch(ctx)
	<-batches
	cancel()
	for range batches {
	}
	assert.ErrorIs(t, <-errs, context.Canceled)
}

func TestTransformsNormalize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 50, 30))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	rng := rand.New(rand.NewSource(1))

	eval := EvalTransform().Apply(img, rng)
	require.Len(t, eval, EvalTransform().Width())
	for c := 0; c < Channels; c++ {
		want := (1 - Mean[c]) / Std[c]
		assert.InDelta(t, want, eval[c*CropSize*CropSize+CropSize*CropSize/2], 0.02)
	}

	train := TrainTransform().Apply(img, rng)
	require.Len(t, train, TrainTransform().Width())
	lo := -Mean[0] / Std[0]
	hi := (1 - Mean[2]) / Std[2]
	for _, v := range train {
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, lo-1e-9)
		assert.LessOrEqual(t, v, hi+1e-9)
	}
}

func TestCropRectStaysInside(t *testing.T) {
	a := TrainTransform()
	rng := rand.New(rand.NewSource(3))
	bounds := image.Rect(0, 0, 40, 10)
	for i := 0; i < 200; i++ {
		r := a.cropRect(bounds, rng)
		assert.True(t, r.In(bounds), "%v not in %v", r, bounds)
		assert.False(t, r.Empty())
	}
}

func TestToRGBADropsAlpha(t *testing.T) {
	img := image.NewNRGBA(image.Rect(2, 3, 4, 4))
	img.SetNRGBA(2, 3, color.NRGBA{R: 200, G: 100, B: 50, A: 64})
	img.SetNRGBA(3, 3, color.NRGBA{R: 10, G: 20, B: 30, A: 0})

	out := toRGBA(img)
	assert.Equal(t, image.Rect(0, 0, 2, 1), out.Bounds())
	assert.Equal(t, color.RGBA{R: 200, G: 100, B: 50, A: 255}, out.RGBAAt(0, 0))
	assert.Equal(t, color.RGBA{R: 10, G: 20, B: 30, A: 255}, out.RGBAAt(1, 0))
}
