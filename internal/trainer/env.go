// Package trainer fine-tunes a model's head and evaluates it.
package trainer

import (
	"headforge/internal/dataset"
	"headforge/internal/device"
	"headforge/internal/model"
	"headforge/internal/nn"
	"headforge/internal/optim"
)

// Env is the execution context shared by training and evaluation.
type Env struct {
	Device    device.Device
	Criterion nn.NLLLoss
	Optimizer *optim.Adam
}

// NewEnv creates an Adam optimizer over the head parameters of m.
func NewEnv(dev device.Device, m *model.Model, lr float64) *Env {
	return &Env{
		Device:    dev,
		Optimizer: optim.NewAdam(m.HeadParameters(), optim.AdamConfig{LR: lr}),
	}
}

// step runs one optimization step on b and returns its loss.
func (e *Env) step(m *model.Model, b dataset.Batch) float64 {
	e.Optimizer.ZeroGrad()
	out := m.Forward(b.Images)
	loss := e.Criterion.Forward(out, b.Labels)
	m.Backward(e.Criterion.Backward(out, b.Labels))
	e.Optimizer.Step()
	return loss
}
