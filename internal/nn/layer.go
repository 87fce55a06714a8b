package nn

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Layer is the contract shared by every building block.
//
// Forward caches whatever it needs for the next Backward call. Backward takes
// the gradient of the loss with respect to the layer output, accumulates
// parameter gradients and returns the gradient with respect to the input.
type Layer interface {
	Forward(x *mat.Dense) *mat.Dense
	Backward(grad *mat.Dense) *mat.Dense
	Parameters() []*Parameter
	// OutWidth reports the output row width for an input row width.
	OutWidth(in int) int
	Kind() string
}

// FeatureInput is implemented by layers that declare a fixed input width.
type FeatureInput interface {
	InFeatures() int
}

// PassThrough is implemented by layers that never change the row width.
type PassThrough interface {
	PassThrough()
}

// ModeSetter is implemented by layers whose behavior differs between
// training and inference.
type ModeSetter interface {
	SetTraining(training bool)
}

// Sequential chains named layers.
type Sequential struct {
	names  []string
	layers []Layer
}

// NewSequential builds an empty container.
func NewSequential() *Sequential {
	return &Sequential{}
}

// Add appends a named layer and returns the container for chaining.
func (s *Sequential) Add(name string, layer Layer) *Sequential {
	s.names = append(s.names, name)
	s.layers = append(s.layers, layer)
	return s
}

// Len returns the number of children.
func (s *Sequential) Len() int { return len(s.layers) }

// Layer returns the i-th child.
func (s *Sequential) Layer(i int) Layer { return s.layers[i] }

// Name returns the i-th child's name.
func (s *Sequential) Name(i int) string { return s.names[i] }

func (s *Sequential) Forward(x *mat.Dense) *mat.Dense {
	for _, l := range s.layers {
		x = l.Forward(x)
	}
	return x
}

func (s *Sequential) Backward(grad *mat.Dense) *mat.Dense {
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad = s.layers[i].Backward(grad)
		if grad == nil {
			return nil
		}
	}
	return grad
}

func (s *Sequential) Parameters() []*Parameter {
	var out []*Parameter
	for _, l := range s.layers {
		out = append(out, l.Parameters()...)
	}
	return out
}

func (s *Sequential) OutWidth(in int) int {
	for _, l := range s.layers {
		in = l.OutWidth(in)
	}
	return in
}

func (s *Sequential) Kind() string { return "Sequential" }

// SetTraining propagates the mode to every child that cares.
func (s *Sequential) SetTraining(training bool) {
	for _, l := range s.layers {
		if m, ok := l.(ModeSetter); ok {
			m.SetTraining(training)
		}
	}
}

// NamedParameters returns parameters keyed "child.param", prefixed by prefix
// when it is not empty. Nested containers extend the path.
func (s *Sequential) NamedParameters(prefix string) map[string]*Parameter {
	out := make(map[string]*Parameter)
	for i, l := range s.layers {
		path := joinPath(prefix, s.names[i])
		if nested, ok := l.(*Sequential); ok {
			for k, v := range nested.NamedParameters(path) {
				out[k] = v
			}
			continue
		}
		for _, p := range l.Parameters() {
			out[joinPath(path, p.Name)] = p
		}
	}
	return out
}

func (s *Sequential) String() string {
	var sb strings.Builder
	sb.WriteString("Sequential(")
	for i, l := range s.layers {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%s: %s", s.names[i], l.Kind())
	}
	sb.WriteString(")")
	return sb.String()
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
