package trainer

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"headforge/internal/checkpoint"
	"headforge/internal/dataset"
	"headforge/internal/model"
	"headforge/internal/optim"
	"headforge/internal/zoo"
)

// Snapshot captures the model and optimizer state after epoch.
func Snapshot(env *Env, m *model.Model, epoch int, best float64, runID uuid.UUID) *checkpoint.Checkpoint {
	c := &checkpoint.Checkpoint{
		Epoch:        epoch,
		Arch:         string(m.Arch),
		RunID:        runID,
		CreatedAt:    time.Now().UTC(),
		HeadPath:     m.HeadPath,
		StateDict:    make(map[string]checkpoint.Tensor),
		ClassToIdx:   make(map[string]int, len(m.Classes)),
		BestAccuracy: best,
	}
	for i := 0; i < m.Head.Len(); i++ {
		c.Head = append(c.Head, checkpoint.LayerSpec{Name: m.Head.Name(i), Kind: m.Head.Layer(i).Kind()})
	}
	for name, p := range m.StateDict() {
		c.StateDict[name] = checkpoint.FromDense(p.Value)
	}
	for name, idx := range m.Classes {
		c.ClassToIdx[name] = idx
	}
	s := env.Optimizer.State()
	c.Optimizer = checkpoint.OptimizerState{
		Kind: "adam", Step: s.Step, LR: s.LR, Beta1: s.Beta1, Beta2: s.Beta2, Eps: s.Eps,
		M: checkpoint.Tensors(s.M),
		V: checkpoint.Tensors(s.V),
	}
	return c
}

// Restore rebuilds the model saved in c. Pretrained weights come from
// weights, then every saved parameter is loaded over them.
func Restore(reg *zoo.Registry, c *checkpoint.Checkpoint, weights zoo.WeightSource) (*model.Model, error) {
	m, err := model.Build(reg, c.Arch, dataset.ClassIndex(c.ClassToIdx), model.BuildOptions{Weights: weights})
	if err != nil {
		return nil, err
	}
	if m.HeadPath != c.HeadPath {
		return nil, fmt.Errorf("trainer: checkpoint head at %q, model head at %q", c.HeadPath, m.HeadPath)
	}
	state, err := checkpoint.Matrices(c.StateDict)
	if err != nil {
		return nil, err
	}
	if err := m.LoadStateDict(state); err != nil {
		return nil, err
	}
	return m, nil
}

// RestoreOptimizer loads saved Adam state into opt.
func RestoreOptimizer(opt *optim.Adam, s checkpoint.OptimizerState) error {
	if s.Kind != "adam" {
		return fmt.Errorf("trainer: optimizer %q in checkpoint, want adam", s.Kind)
	}
	m, err := checkpoint.Matrices(s.M)
	if err != nil {
		return err
	}
	v, err := checkpoint.Matrices(s.V)
	if err != nil {
		return err
	}
	return opt.LoadState(optim.AdamState{
		Step: s.Step, LR: s.LR, Beta1: s.Beta1, Beta2: s.Beta2, Eps: s.Eps, M: m, V: v,
	})
}
