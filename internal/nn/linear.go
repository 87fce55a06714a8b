package nn

import (
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Linear computes y = x·Wᵀ + b.
//
// Weight has shape [out, in]; bias is stored as a single row [1, out].
type Linear struct {
	in, out int
	weight  *Parameter
	bias    *Parameter
	input   *mat.Dense
}

// NewLinear creates a layer with Xavier-uniform weights and zero bias.
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	w := mat.NewDense(out, in, nil)
	XavierUniform(w, in, out, rng)
	return &Linear{
		in:     in,
		out:    out,
		weight: NewParameter("weight", w),
		bias:   NewParameter("bias", mat.NewDense(1, out, nil)),
	}
}

func (l *Linear) InFeatures() int  { return l.in }
func (l *Linear) OutFeatures() int { return l.out }

// Weight exposes the weight parameter.
func (l *Linear) Weight() *Parameter { return l.weight }

// Bias exposes the bias parameter.
func (l *Linear) Bias() *Parameter { return l.bias }

func (l *Linear) Forward(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	if c != l.in {
		panic(fmt.Sprintf("nn: linear expects %d input features, got %d", l.in, c))
	}
	l.input = x
	y := mat.NewDense(n, l.out, nil)
	y.Mul(x, l.weight.Value.T())
	b := l.bias.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		floats.Add(y.RawRowView(i), b)
	}
	return y
}

func (l *Linear) Backward(grad *mat.Dense) *mat.Dense {
	if l.input == nil {
		panic("nn: linear backward called before forward")
	}
	n, _ := grad.Dims()
	if l.weight.RequiresGrad {
		var dw mat.Dense
		dw.Mul(grad.T(), l.input)
		l.weight.Grad.Add(l.weight.Grad, &dw)
	}
	if l.bias.RequiresGrad {
		db := l.bias.Grad.RawRowView(0)
		for i := 0; i < n; i++ {
			floats.Add(db, grad.RawRowView(i))
		}
	}
	dx := mat.NewDense(n, l.in, nil)
	dx.Mul(grad, l.weight.Value)
	return dx
}

func (l *Linear) Parameters() []*Parameter { return []*Parameter{l.weight, l.bias} }

func (l *Linear) OutWidth(int) int { return l.out }

func (l *Linear) Kind() string { return fmt.Sprintf("Linear(%d, %d)", l.in, l.out) }

// XavierUniform fills w with U(-a, a), a = sqrt(6 / (fanIn + fanOut)).
func XavierUniform(w *mat.Dense, fanIn, fanOut int, rng *rand.Rand) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	raw := w.RawMatrix().Data
	for i := range raw {
		raw[i] = (rng.Float64()*2 - 1) * limit
	}
}
