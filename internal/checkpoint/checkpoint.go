// Package checkpoint persists fine-tuning snapshots. Each architecture owns
// two files in the model directory: {arch}.ckpt.pth, rewritten every epoch,
// and {arch}.pth, a copy of the best epoch so far.
package checkpoint

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"
)

// Tensor is a row-major array with its shape.
type Tensor struct {
	Shape []int
	Data  []float64
}

// FromDense copies m into a Tensor.
func FromDense(m *mat.Dense) Tensor {
	r, c := m.Dims()
	data := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return Tensor{Shape: []int{r, c}, Data: data}
}

// Dense converts a two-dimensional tensor back into a matrix.
func (t Tensor) Dense() (*mat.Dense, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("checkpoint: tensor has %d dims, want 2", len(t.Shape))
	}
	if err := t.check(); err != nil {
		return nil, fmt.Errorf("checkpoint: %w", err)
	}
	return mat.NewDense(t.Shape[0], t.Shape[1], append([]float64(nil), t.Data...)), nil
}

// check verifies every dimension is positive and the shape holds exactly
// len(Data) values.
func (t Tensor) check() error {
	if len(t.Shape) == 0 {
		return fmt.Errorf("tensor has no shape")
	}
	n := 1
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("shape %v has a non-positive dimension", t.Shape)
		}
		if n > len(t.Data)/d {
			return fmt.Errorf("shape %v does not hold %d values", t.Shape, len(t.Data))
		}
		n *= d
	}
	if n != len(t.Data) {
		return fmt.Errorf("shape %v does not hold %d values", t.Shape, len(t.Data))
	}
	return nil
}

// LayerSpec names one layer of the head definition.
type LayerSpec struct {
	Name string
	Kind string
}

// OptimizerState is the serialized Adam state.
type OptimizerState struct {
	Kind  string
	Step  int
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	M     map[string]Tensor
	V     map[string]Tensor
}

// Checkpoint is everything needed to reload a fine-tuned model for
// inference or further training.
type Checkpoint struct {
	Epoch     int
	Arch      string
	RunID     uuid.UUID
	CreatedAt time.Time
	// HeadPath is the child name the head was attached under.
	HeadPath  string
	Head      []LayerSpec
	StateDict map[string]Tensor
	Optimizer OptimizerState
	// ClassToIdx maps class folder names to output indices.
	ClassToIdx map[string]int
	// BestAccuracy is the best validation accuracy so far, in percent.
	BestAccuracy float64
}

// Matrices converts a tensor map to matrices, e.g. for Model.LoadStateDict.
func Matrices(tensors map[string]Tensor) (map[string]*mat.Dense, error) {
	out := make(map[string]*mat.Dense, len(tensors))
	for name, t := range tensors {
		m, err := t.Dense()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out[name] = m
	}
	return out, nil
}

// Tensors is the inverse of Matrices.
func Tensors(ms map[string]*mat.Dense) map[string]Tensor {
	out := make(map[string]Tensor, len(ms))
	for name, m := range ms {
		out[name] = FromDense(m)
	}
	return out
}

// NewRunID returns a fresh identifier shared by every checkpoint of a run.
func NewRunID() uuid.UUID { return uuid.New() }
