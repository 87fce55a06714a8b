package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestLinearForward(t *testing.T) {
	l := NewLinear(3, 2, rand.New(rand.NewSource(1)))
	l.Weight().Value = mat.NewDense(2, 3, []float64{1, 0, -1, 0.5, 0.5, 0.5})
	l.Bias().Value = mat.NewDense(1, 2, []float64{0.1, -0.1})

	y := l.Forward(mat.NewDense(1, 3, []float64{1, 2, 3}))

	assert.InDelta(t, -1.9, y.At(0, 0), 1e-12)
	assert.InDelta(t, 2.9, y.At(0, 1), 1e-12)
	assert.Equal(t, 3, l.InFeatures())
}

func TestLinearFrozenSkipsGradients(t *testing.T) {
	l := NewLinear(2, 2, rand.New(rand.NewSource(2)))
	Freeze(l.Parameters())
	x := mat.NewDense(1, 2, []float64{1, 1})
	l.Forward(x)
	dx := l.Backward(mat.NewDense(1, 2, []float64{1, 1}))

	require.NotNil(t, dx)
	assert.Zero(t, mat.Sum(l.Weight().Grad))
	assert.Zero(t, mat.Sum(l.Bias().Grad))
	assert.Empty(t, Trainable(l.Parameters()))
}

func TestLogSoftmaxRowsNormalize(t *testing.T) {
	ls := NewLogSoftmax()
	y := ls.Forward(mat.NewDense(2, 3, []float64{1, 2, 3, -5, 0, 5}))
	for i := 0; i < 2; i++ {
		sum := 0.0
		for _, v := range y.RawRowView(i) {
			sum += math.Exp(v)
		}
		assert.InDelta(t, 1.0, sum, 1e-12)
	}
}

func TestDropoutInferenceIsIdentity(t *testing.T) {
	d := NewDropout(0.5, rand.New(rand.NewSource(3)))
	x := mat.NewDense(2, 4, []float64{1, 2, 3, 4, 5, 6, 7, 8})

	d.SetTraining(false)
	assert.True(t, mat.Equal(x, d.Forward(x)))

	d.SetTraining(true)
	y := d.Forward(x)
	for i, v := range y.RawMatrix().Data {
		orig := x.RawMatrix().Data[i]
		assert.True(t, v == 0 || math.Abs(v-2*orig) < 1e-12, "value %v not dropped or rescaled", v)
	}
}

// Finite-difference check of the head used for fine-tuning.
func TestHeadGradientsMatchNumeric(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	head := NewSequential().
		Add("fc1", NewLinear(4, 5, rng)).
		Add("relu", NewReLU()).
		Add("fc2", NewLinear(5, 3, rng)).
		Add("output", NewLogSoftmax())
	x := mat.NewDense(2, 4, []float64{0.3, -0.2, 0.8, 0.1, -0.5, 0.4, 0.2, 0.9})
	labels := []int{2, 0}
	var crit NLLLoss

	out := head.Forward(x)
	head.Backward(crit.Backward(out, labels))

	const eps = 1e-6
	for name, p := range head.NamedParameters("") {
		raw := p.Value.RawMatrix().Data
		grad := p.Grad.RawMatrix().Data
		for i := range raw {
			orig := raw[i]
			raw[i] = orig + eps
			plus := crit.Forward(head.Forward(x), labels)
			raw[i] = orig - eps
			minus := crit.Forward(head.Forward(x), labels)
			raw[i] = orig
			numeric := (plus - minus) / (2 * eps)
			assert.InDelta(t, numeric, grad[i], 1e-5, "%s[%d]", name, i)
		}
	}
}

func TestNLLAndAccuracy(t *testing.T) {
	logProbs := mat.NewDense(2, 2, []float64{math.Log(0.9), math.Log(0.1), math.Log(0.4), math.Log(0.6)})
	var crit NLLLoss

	loss := crit.Forward(logProbs, []int{0, 0})
	assert.InDelta(t, -(math.Log(0.9)+math.Log(0.4))/2, loss, 1e-12)
	assert.Equal(t, 0.5, Accuracy(logProbs, []int{0, 0}))
	assert.Equal(t, []int{0, 1}, Predict(logProbs))
}

func TestGridPoolStatistics(t *testing.T) {
	const size = 4
	row := make([]float64, 2*size*size)
	for i := 0; i < size*size; i++ {
		row[i] = 1
		row[size*size+i] = float64(i % 2)
	}
	g := NewGridPool(2, size, 2)
	y := g.Forward(mat.NewDense(1, len(row), row))

	require.Equal(t, 16, g.OutWidth(len(row)))
	out := y.RawRowView(0)
	assert.Equal(t, []float64{1, 0, 1, 0, 1, 0, 1, 0}, out[:8])
	assert.InDelta(t, 0.5, out[8], 1e-12)
	assert.InDelta(t, 0.5, out[9], 1e-12)
}

func TestPointwiseConvShapes(t *testing.T) {
	conv := NewPointwiseConv(2, 3, rand.New(rand.NewSource(5)))
	x := mat.NewDense(1, 8, []float64{1, 2, 3, 4, 5, 6, 7, 8})
	y := conv.Forward(x)
	_, c := y.Dims()
	assert.Equal(t, 12, c)

	pool := NewAdaptiveAvgPool(3)
	p := pool.Forward(y)
	_, pc := p.Dims()
	assert.Equal(t, 3, pc)

	dx := conv.Backward(pool.Backward(mat.NewDense(1, 3, []float64{1, 1, 1})))
	_, dc := dx.Dims()
	assert.Equal(t, 8, dc)

	_, isFeature := any(conv).(FeatureInput)
	assert.False(t, isFeature)
}

func TestSummaryCountsTrainable(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	backbone := NewSequential().Add("proj", NewLinear(4, 3, rng)).Add("relu", NewReLU())
	Freeze(backbone.Parameters())
	model := NewSequential().
		Add("features", backbone).
		Add("fc", NewSequential().Add("fc1", NewLinear(3, 2, rng)))

	rows, width := Summarize(model, "", 4)

	require.Len(t, rows, 3)
	assert.Equal(t, 2, width)
	assert.Equal(t, "features.proj", rows[0].Name)
	assert.Equal(t, 15, rows[0].Params)
	assert.Zero(t, rows[0].Trainable)
	assert.Equal(t, 8, rows[2].Trainable)
	assert.Contains(t, FormatSummary(rows), "Trainable params: 8")
	assert.Contains(t, model.NamedParameters("model"), "model.fc.fc1.weight")
}
