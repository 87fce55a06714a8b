// Package optim holds the optimizers used to fit the classifier head.
package optim

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"headforge/internal/nn"
)

// AdamConfig holds the Adam hyperparameters. Zero values take the usual
// defaults (lr 0.001, betas 0.9/0.999, eps 1e-8).
type AdamConfig struct {
	LR    float64
	Betas [2]float64
	Eps   float64
}

// Adam implements Adam with bias correction:
//
//	m = b1*m + (1-b1)*g
//	v = b2*v + (1-b2)*g²
//	p -= lr * m̂ / (sqrt(v̂) + eps)
type Adam struct {
	params []*nn.Parameter
	names  []string
	cfg    AdamConfig
	t      int
	m      map[*nn.Parameter]*mat.Dense
	v      map[*nn.Parameter]*mat.Dense
}

// NewAdam optimizes params, which are keyed by name in exported state.
func NewAdam(params map[string]*nn.Parameter, cfg AdamConfig) *Adam {
	if cfg.LR == 0 {
		cfg.LR = 0.001
	}
	if cfg.Betas[0] == 0 {
		cfg.Betas[0] = 0.9
	}
	if cfg.Betas[1] == 0 {
		cfg.Betas[1] = 0.999
	}
	if cfg.Eps == 0 {
		cfg.Eps = 1e-8
	}
	a := &Adam{
		cfg: cfg,
		m:   make(map[*nn.Parameter]*mat.Dense),
		v:   make(map[*nn.Parameter]*mat.Dense),
	}
	for _, name := range sortedKeys(params) {
		a.names = append(a.names, name)
		a.params = append(a.params, params[name])
	}
	return a
}

// Config returns the effective hyperparameters.
func (a *Adam) Config() AdamConfig { return a.cfg }

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int { return a.t }

// ZeroGrad clears gradients of every managed parameter.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// Step applies one update. Parameters that no longer require gradients are
// skipped.
func (a *Adam) Step() {
	a.t++
	b1, b2 := a.cfg.Betas[0], a.cfg.Betas[1]
	bc1 := 1 - math.Pow(b1, float64(a.t))
	bc2 := 1 - math.Pow(b2, float64(a.t))
	for _, p := range a.params {
		if !p.RequiresGrad {
			continue
		}
		m, v := a.moments(p)
		pd := p.Value.RawMatrix().Data
		gd := p.Grad.RawMatrix().Data
		md := m.RawMatrix().Data
		vd := v.RawMatrix().Data
		for i, g := range gd {
			md[i] = b1*md[i] + (1-b1)*g
			vd[i] = b2*vd[i] + (1-b2)*g*g
			mHat := md[i] / bc1
			vHat := vd[i] / bc2
			pd[i] -= a.cfg.LR * mHat / (math.Sqrt(vHat) + a.cfg.Eps)
		}
	}
}

func (a *Adam) moments(p *nn.Parameter) (*mat.Dense, *mat.Dense) {
	m, ok := a.m[p]
	if !ok {
		r, c := p.Value.Dims()
		m = mat.NewDense(r, c, nil)
		a.m[p] = m
		a.v[p] = mat.NewDense(r, c, nil)
	}
	return m, a.v[p]
}

// AdamState is the serializable optimizer state.
type AdamState struct {
	Step  int
	LR    float64
	Beta1 float64
	Beta2 float64
	Eps   float64
	M     map[string]*mat.Dense
	V     map[string]*mat.Dense
}

// State snapshots the optimizer. Moments are copied.
func (a *Adam) State() AdamState {
	s := AdamState{
		Step:  a.t,
		LR:    a.cfg.LR,
		Beta1: a.cfg.Betas[0],
		Beta2: a.cfg.Betas[1],
		Eps:   a.cfg.Eps,
		M:     make(map[string]*mat.Dense, len(a.m)),
		V:     make(map[string]*mat.Dense, len(a.v)),
	}
	for i, p := range a.params {
		if m, ok := a.m[p]; ok {
			s.M[a.names[i]] = mat.DenseCopyOf(m)
			s.V[a.names[i]] = mat.DenseCopyOf(a.v[p])
		}
	}
	return s
}

// LoadState restores a snapshot taken from an optimizer over the same
// parameter names.
func (a *Adam) LoadState(s AdamState) error {
	byName := make(map[string]*nn.Parameter, len(a.params))
	for i, p := range a.params {
		byName[a.names[i]] = p
	}
	for name, m := range s.M {
		p, ok := byName[name]
		if !ok {
			return fmt.Errorf("optim: state for unknown parameter %q", name)
		}
		v, ok := s.V[name]
		if !ok {
			return fmt.Errorf("optim: missing second moment for %q", name)
		}
		pr, pc := p.Value.Dims()
		for _, mom := range []*mat.Dense{m, v} {
			if r, c := mom.Dims(); r != pr || c != pc {
				return fmt.Errorf("optim: moment shape %dx%d does not match %q %dx%d", r, c, name, pr, pc)
			}
		}
		a.m[p] = mat.DenseCopyOf(m)
		a.v[p] = mat.DenseCopyOf(v)
	}
	a.t = s.Step
	a.cfg = AdamConfig{LR: s.LR, Betas: [2]float64{s.Beta1, s.Beta2}, Eps: s.Eps}
	return nil
}
