// Package model assembles a fine-tunable classifier: a frozen pretrained
// backbone from the zoo with a freshly initialized head sized to the
// dataset's classes.
package model

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"headforge/internal/dataset"
	"headforge/internal/nn"
	"headforge/internal/zoo"
)

// Model is a frozen backbone followed by a trainable head.
type Model struct {
	Arch     zoo.Arch
	Backbone *nn.Sequential
	Head     *nn.Sequential
	// HeadPath is the child name the head replaced, e.g. "fc" or
	// "classifier"; head parameters are keyed under it.
	HeadPath string
	Classes  dataset.ClassIndex

	inputWidth int
	training   bool
}

// Forward maps a batch of image rows to class log-probabilities.
func (m *Model) Forward(x *mat.Dense) *mat.Dense {
	return m.Head.Forward(m.Backbone.Forward(x))
}

// Backward propagates the loss gradient through the head only; the
// backbone is frozen.
func (m *Model) Backward(grad *mat.Dense) {
	m.Head.Backward(grad)
}

// Train switches dropout on.
func (m *Model) Train() { m.setTraining(true) }

// Eval switches dropout off.
func (m *Model) Eval() { m.setTraining(false) }

// Training reports the current mode.
func (m *Model) Training() bool { return m.training }

func (m *Model) setTraining(on bool) {
	m.training = on
	m.Backbone.SetTraining(on)
	m.Head.SetTraining(on)
}

// InputWidth is the row width Forward expects.
func (m *Model) InputWidth() int { return m.inputWidth }

// HeadParameters returns the trainable head parameters keyed by full name.
func (m *Model) HeadParameters() map[string]*nn.Parameter {
	return m.Head.NamedParameters(m.HeadPath)
}

// StateDict returns every parameter, backbone and head, keyed by full name.
func (m *Model) StateDict() map[string]*nn.Parameter {
	out := m.Backbone.NamedParameters("")
	for k, v := range m.HeadParameters() {
		out[k] = v
	}
	return out
}

// LoadStateDict copies values into the model. Every model parameter must be
// present with a matching shape; extra entries are rejected.
func (m *Model) LoadStateDict(state map[string]*mat.Dense) error {
	params := m.StateDict()
	for name := range state {
		if _, ok := params[name]; !ok {
			return fmt.Errorf("model: unexpected parameter %q", name)
		}
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, ok := state[name]
		if !ok {
			return fmt.Errorf("model: missing parameter %q", name)
		}
		p := params[name]
		pr, pc := p.Value.Dims()
		if r, c := v.Dims(); r != pr || c != pc {
			return fmt.Errorf("model: %q has shape %dx%d, want %dx%d", name, r, c, pr, pc)
		}
		p.Value.Copy(v)
	}
	return nil
}

// Classify returns the predicted class name of every row.
func (m *Model) Classify(x *mat.Dense) []string {
	names := m.Classes.Names()
	preds := nn.Predict(m.Forward(x))
	out := make([]string, len(preds))
	for i, p := range preds {
		out[i] = names[p]
	}
	return out
}

// Summary renders a per-layer table of the assembled model.
func (m *Model) Summary() string {
	whole := nn.NewSequential()
	for i := 0; i < m.Backbone.Len(); i++ {
		whole.Add(m.Backbone.Name(i), m.Backbone.Layer(i))
	}
	whole.Add(m.HeadPath, m.Head)
	rows, _ := nn.Summarize(whole, "", m.inputWidth)
	return nn.FormatSummary(rows)
}
