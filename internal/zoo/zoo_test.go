package zoo

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"headforge/internal/nn"
)

func tinySpec() Spec {
	return Spec{
		Arch:     "tiny",
		Width:    4,
		Grid:     1,
		HeadName: "fc",
		Classifier: func(rng *rand.Rand) nn.Layer {
			return nn.NewLinear(4, 3, rng)
		},
	}
}

func TestLookupUnknown(t *testing.T) {
	_, _, err := Default().Lookup("resnet9000")

	var unknown *UnknownArchError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "resnet9000", unknown.Name)
	assert.Contains(t, unknown.Known, "densenet161")
	assert.Contains(t, err.Error(), "resnet9000")
}

func TestDefaultRegistryNames(t *testing.T) {
	assert.Equal(t, []string{
		"alexnet", "densenet121", "densenet161", "mobilenet_v2",
		"resnet18", "resnet50", "squeezenet1_0", "vgg16",
	}, Default().Names())
}

func TestResNet18Shape(t *testing.T) {
	_, ctor, err := Default().Lookup("resnet18")
	require.NoError(t, err)
	net, err := ctor(Seeded{})
	require.NoError(t, err)

	name, last := net.Last()
	assert.Equal(t, "fc", name)
	fc, ok := last.(nn.FeatureInput)
	require.True(t, ok)
	assert.Equal(t, 512, fc.InFeatures())
	assert.Equal(t, 512, net.Backbone().OutWidth(net.InputWidth()))
}

func TestSeededIsDeterministic(t *testing.T) {
	ctor := tinySpec().Constructor()
	a, err := ctor(Seeded{})
	require.NoError(t, err)
	b, err := ctor(Seeded{})
	require.NoError(t, err)

	pa := a.Children.NamedParameters("")
	pb := b.Children.NamedParameters("")
	require.Len(t, pa, 4)
	for name, p := range pa {
		assert.True(t, mat.Equal(p.Value, pb[name].Value), name)
	}
}

func TestSafetensorsDirOverridesSeeded(t *testing.T) {
	dir := t.TempDir()
	writeSafetensors(t, filepath.Join(dir, "tiny.safetensors"), map[string][]float32{
		"fc.bias": {1, 2, 3},
	}, map[string][]int{"fc.bias": {3}})

	src := &SafetensorsDir{Dir: dir, Fallback: Seeded{}}
	net, err := tinySpec().Constructor()(src)
	require.NoError(t, err)
	require.NoError(t, src.Close())

	params := net.Children.NamedParameters("")
	assert.Equal(t, []float64{1, 2, 3}, params["fc.bias"].Value.RawRowView(0))

	seeded, err := tinySpec().Constructor()(Seeded{})
	require.NoError(t, err)
	assert.True(t, mat.Equal(seeded.Children.NamedParameters("")["fc.weight"].Value, params["fc.weight"].Value))
}

func TestSafetensorsShapeMismatch(t *testing.T) {
	dir := t.TempDir()
	writeSafetensors(t, filepath.Join(dir, "tiny.safetensors"), map[string][]float32{
		"fc.bias": {1, 2},
	}, map[string][]int{"fc.bias": {2}})

	_, err := tinySpec().Constructor()(&SafetensorsDir{Dir: dir})
	assert.Error(t, err)
}

func TestSafetensorsMissingFileFallsBack(t *testing.T) {
	src := &SafetensorsDir{Dir: t.TempDir(), Fallback: Seeded{}}
	_, err := tinySpec().Constructor()(src)
	assert.NoError(t, err)
}

func writeSafetensors(t *testing.T, path string, tensors map[string][]float32, shapes map[string][]int) {
	t.Helper()
	header := map[string]any{"__metadata__": map[string]string{"format": "pt"}}
	var data []byte
	for name, values := range tensors {
		start := int64(len(data))
		for _, v := range values {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(v))
		}
		header[name] = TensorInfo{DType: "F32", Shape: shapes[name], DataOffsets: [2]int64{start, int64(len(data))}}
	}
	raw, err := json.Marshal(header)
	require.NoError(t, err)

	var out []byte
	out = binary.LittleEndian.AppendUint64(out, uint64(len(raw)))
	out = append(out, raw...)
	out = append(out, data...)
	require.NoError(t, os.WriteFile(path, out, 0o644))
}
