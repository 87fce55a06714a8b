// Package nn implements the small set of layers needed to fine-tune a
// classifier head on top of a frozen feature extractor.
//
// Layers operate on row-major batches: a *mat.Dense with one sample per row.
// Gradients are computed by hand in each layer's Backward method and
// accumulated into the layer's Parameters.
package nn

import "gonum.org/v1/gonum/mat"

// Parameter is a named weight matrix with its accumulated gradient.
type Parameter struct {
	Name         string
	Value        *mat.Dense
	Grad         *mat.Dense
	RequiresGrad bool
}

// NewParameter wraps value as a trainable parameter with a zeroed gradient.
func NewParameter(name string, value *mat.Dense) *Parameter {
	r, c := value.Dims()
	return &Parameter{
		Name:         name,
		Value:        value,
		Grad:         mat.NewDense(r, c, nil),
		RequiresGrad: true,
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Size returns the number of scalar values held by the parameter.
func (p *Parameter) Size() int {
	r, c := p.Value.Dims()
	return r * c
}

// Shape returns the parameter dimensions as a slice.
func (p *Parameter) Shape() []int {
	r, c := p.Value.Dims()
	return []int{r, c}
}

// Freeze marks every parameter as excluded from gradient updates.
func Freeze(params []*Parameter) {
	for _, p := range params {
		p.RequiresGrad = false
	}
}

// Trainable filters params down to the ones that still require gradients.
func Trainable(params []*Parameter) []*Parameter {
	out := make([]*Parameter, 0, len(params))
	for _, p := range params {
		if p.RequiresGrad {
			out = append(out, p)
		}
	}
	return out
}

// CountParams sums the sizes of params.
func CountParams(params []*Parameter) int {
	total := 0
	for _, p := range params {
		total += p.Size()
	}
	return total
}
