package trainer

import (
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"headforge/internal/dataset"
	"headforge/internal/device"
	"headforge/internal/model"
	"headforge/internal/nn"
	"headforge/internal/zoo"
)

func testRegistry() *zoo.Registry {
	reg := zoo.NewRegistry()
	reg.Register("tiny", zoo.Spec{
		Arch: "tiny", Width: 4, Grid: 1, HeadName: "fc",
		Classifier: func(rng *rand.Rand) nn.Layer { return nn.NewLinear(4, 10, rng) },
	}.Constructor())
	return reg
}

// writeDataRoot lays out root/{train,valid}/{red,blue}/ with perClass
// solid-color PNGs in each.
func writeDataRoot(t *testing.T, root string, perClass int) {
	t.Helper()
	colors := map[string]color.RGBA{
		"red":  {R: 220, G: 30, B: 30, A: 255},
		"blue": {R: 30, G: 30, B: 220, A: 255},
	}
	for _, split := range []string{dataset.TrainDir, dataset.ValidDir} {
		for class, c := range colors {
			dir := filepath.Join(root, split, class)
			require.NoError(t, os.MkdirAll(dir, 0o755))
			for i := 0; i < perClass; i++ {
				img := image.NewRGBA(image.Rect(0, 0, 20, 16))
				for y := 0; y < 16; y++ {
					for x := 0; x < 20; x++ {
						img.Set(x, y, c)
					}
				}
				f, err := os.Create(filepath.Join(dir, string(rune('a'+i))+".png"))
				require.NoError(t, err)
				require.NoError(t, png.Encode(f, img))
				require.NoError(t, f.Close())
			}
		}
	}
}

type fixture struct {
	splits *dataset.Splits
	model  *model.Model
	env    *Env
}

func newFixture(t *testing.T, perClass, batchSize int) fixture {
	t.Helper()
	root := t.TempDir()
	writeDataRoot(t, root, perClass)
	splits, err := dataset.Open(root, dataset.Options{BatchSize: batchSize, NumWorkers: 2, Seed: 7})
	require.NoError(t, err)
	m, err := model.Build(testRegistry(), "tiny", splits.Classes, model.BuildOptions{Seed: 3})
	require.NoError(t, err)
	dev, err := device.Select("cpu:0")
	require.NoError(t, err)
	return fixture{splits: splits, model: m, env: NewEnv(dev, m, 0.001)}
}
