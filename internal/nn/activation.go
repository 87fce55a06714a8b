package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ReLU clamps negative values to zero.
type ReLU struct {
	mask *mat.Dense
}

func NewReLU() *ReLU { return &ReLU{} }

func (r *ReLU) Forward(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	y := mat.NewDense(n, c, nil)
	mask := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		src, dst, m := x.RawRowView(i), y.RawRowView(i), mask.RawRowView(i)
		for j, v := range src {
			if v > 0 {
				dst[j] = v
				m[j] = 1
			}
		}
	}
	r.mask = mask
	return y
}

func (r *ReLU) Backward(grad *mat.Dense) *mat.Dense {
	var dx mat.Dense
	dx.MulElem(grad, r.mask)
	return &dx
}

func (r *ReLU) Parameters() []*Parameter { return nil }
func (r *ReLU) OutWidth(in int) int       { return in }
func (r *ReLU) Kind() string              { return "ReLU" }
func (r *ReLU) PassThrough()              {}

// Dropout zeroes each activation with probability P during training and
// rescales the survivors by 1/(1-P). In inference mode it is the identity.
type Dropout struct {
	P        float64
	training bool
	rng      *rand.Rand
	mask     *mat.Dense
}

// NewDropout starts in training mode.
func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, training: true, rng: rng}
}

func (d *Dropout) SetTraining(training bool) { d.training = training }

func (d *Dropout) Forward(x *mat.Dense) *mat.Dense {
	if !d.training || d.P <= 0 {
		d.mask = nil
		return x
	}
	n, c := x.Dims()
	keep := 1 - d.P
	mask := mat.NewDense(n, c, nil)
	m := mask.RawMatrix().Data
	for i := range m {
		if d.rng.Float64() < keep {
			m[i] = 1 / keep
		}
	}
	d.mask = mask
	var y mat.Dense
	y.MulElem(x, mask)
	return &y
}

func (d *Dropout) Backward(grad *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return grad
	}
	var dx mat.Dense
	dx.MulElem(grad, d.mask)
	return &dx
}

func (d *Dropout) Parameters() []*Parameter { return nil }
func (d *Dropout) OutWidth(in int) int       { return in }
func (d *Dropout) Kind() string              { return fmt.Sprintf("Dropout(p=%.2g)", d.P) }
func (d *Dropout) PassThrough()              {}

// LogSoftmax normalizes each row into log-probabilities.
type LogSoftmax struct {
	output *mat.Dense
}

func NewLogSoftmax() *LogSoftmax { return &LogSoftmax{} }

func (l *LogSoftmax) Forward(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	y := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		src := x.RawRowView(i)
		lse := floats.LogSumExp(src)
		dst := y.RawRowView(i)
		for j, v := range src {
			dst[j] = v - lse
		}
	}
	l.output = y
	return y
}

// Backward uses dx = g - softmax(x) * sum(g) per row.
func (l *LogSoftmax) Backward(grad *mat.Dense) *mat.Dense {
	n, c := grad.Dims()
	dx := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		g := grad.RawRowView(i)
		out := l.output.RawRowView(i)
		sum := floats.Sum(g)
		row := dx.RawRowView(i)
		for j := range row {
			row[j] = g[j] - expClamp(out[j])*sum
		}
	}
	return dx
}

func (l *LogSoftmax) Parameters() []*Parameter { return nil }
func (l *LogSoftmax) OutWidth(in int) int       { return in }
func (l *LogSoftmax) Kind() string              { return "LogSoftmax" }
