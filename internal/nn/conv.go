package nn

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// PointwiseConv is a 1×1 convolution: it mixes channels independently at
// every spatial position of a CHW row. It deliberately does not implement
// FeatureInput since its width depends on the spatial extent of the input.
type PointwiseConv struct {
	in, out int
	weight  *Parameter
	bias    *Parameter
	input   *mat.Dense
}

func NewPointwiseConv(in, out int, rng *rand.Rand) *PointwiseConv {
	w := mat.NewDense(out, in, nil)
	XavierUniform(w, in, out, rng)
	return &PointwiseConv{
		in:     in,
		out:    out,
		weight: NewParameter("weight", w),
		bias:   NewParameter("bias", mat.NewDense(1, out, nil)),
	}
}

func (p *PointwiseConv) InChannels() int  { return p.in }
func (p *PointwiseConv) OutChannels() int { return p.out }

func (p *PointwiseConv) Forward(x *mat.Dense) *mat.Dense {
	n, c := x.Dims()
	if c%p.in != 0 {
		panic(fmt.Sprintf("nn: pointwise conv width %d not divisible by %d channels", c, p.in))
	}
	p.input = x
	hw := c / p.in
	y := mat.NewDense(n, p.out*hw, nil)
	b := p.bias.Value.RawRowView(0)
	for i := 0; i < n; i++ {
		xi := mat.NewDense(p.in, hw, x.RawRowView(i))
		yi := mat.NewDense(p.out, hw, y.RawRowView(i))
		yi.Mul(p.weight.Value, xi)
		for o := 0; o < p.out; o++ {
			row := yi.RawRowView(o)
			for k := range row {
				row[k] += b[o]
			}
		}
	}
	return y
}

func (p *PointwiseConv) Backward(grad *mat.Dense) *mat.Dense {
	n, c := p.input.Dims()
	hw := c / p.in
	dx := mat.NewDense(n, c, nil)
	for i := 0; i < n; i++ {
		xi := mat.NewDense(p.in, hw, p.input.RawRowView(i))
		gi := mat.NewDense(p.out, hw, grad.RawRowView(i))
		if p.weight.RequiresGrad {
			var dw mat.Dense
			dw.Mul(gi, xi.T())
			p.weight.Grad.Add(p.weight.Grad, &dw)
		}
		if p.bias.RequiresGrad {
			db := p.bias.Grad.RawRowView(0)
			for o := 0; o < p.out; o++ {
				for _, v := range gi.RawRowView(o) {
					db[o] += v
				}
			}
		}
		dxi := mat.NewDense(p.in, hw, dx.RawRowView(i))
		dxi.Mul(p.weight.Value.T(), gi)
	}
	return dx
}

func (p *PointwiseConv) Parameters() []*Parameter { return []*Parameter{p.weight, p.bias} }
func (p *PointwiseConv) OutWidth(in int) int      { return in / p.in * p.out }
func (p *PointwiseConv) Kind() string {
	return fmt.Sprintf("PointwiseConv(%d, %d)", p.in, p.out)
}
