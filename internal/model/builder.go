package model

import (
	"errors"
	"fmt"
	"math/rand"

	"k8s.io/klog/v2"

	"headforge/internal/dataset"
	"headforge/internal/nn"
	"headforge/internal/zoo"
)

// Head geometry.
const (
	HiddenWidth = 4096
	HeadDropout = 0.5
)

// ErrNoClasses is returned when the class mapping is empty.
var ErrNoClasses = errors.New("model: class mapping is empty")

// UnsupportedHeadError reports a final child whose input width cannot be
// determined, so no head can be attached.
type UnsupportedHeadError struct {
	Arch  zoo.Arch
	Child string
	Kind  string
}

func (e *UnsupportedHeadError) Error() string {
	return fmt.Sprintf("model: %s: cannot attach head, final layer %q (%s) exposes no input feature width",
		e.Arch, e.Child, e.Kind)
}

// BuildOptions tunes Build. The zero value uses seeded pretrained weights.
type BuildOptions struct {
	Weights zoo.WeightSource
	// Seed initializes the new head.
	Seed int64
}

// Build resolves name in reg, instantiates it, freezes every pretrained
// parameter and swaps the final child for a head with one output per class.
func Build(reg *zoo.Registry, name string, classes dataset.ClassIndex, opts BuildOptions) (*Model, error) {
	if len(classes) == 0 {
		return nil, ErrNoClasses
	}
	_, ctor, err := reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	src := opts.Weights
	if src == nil {
		src = zoo.Seeded{}
	}
	net, err := ctor(src)
	if err != nil {
		return nil, err
	}
	return ReplaceHead(net, classes, opts.Seed)
}

// ReplaceHead freezes net and attaches a new head in place of its final
// child.
func ReplaceHead(net *zoo.Network, classes dataset.ClassIndex, seed int64) (*Model, error) {
	nn.Freeze(net.Children.Parameters())

	child, last := net.Last()
	width, err := headInput(last)
	if err != nil {
		return nil, &UnsupportedHeadError{Arch: net.Arch, Child: child, Kind: last.Kind()}
	}
	klog.V(1).Infof("model: %s: replacing %s (%s), head input width %d", net.Arch, child, last.Kind(), width)

	rng := rand.New(rand.NewSource(seed))
	head := nn.NewSequential().
		Add("fc1", nn.NewLinear(width, HiddenWidth, rng)).
		Add("relu", nn.NewReLU()).
		Add("dropout", nn.NewDropout(HeadDropout, rng)).
		Add("fc2", nn.NewLinear(HiddenWidth, len(classes), rng)).
		Add("output", nn.NewLogSoftmax())

	m := &Model{
		Arch:       net.Arch,
		Backbone:   net.Backbone(),
		Head:       head,
		HeadPath:   child,
		Classes:    classes,
		inputWidth: net.InputWidth(),
	}
	m.Train()
	return m, nil
}

var errNoWidth = errors.New("no input width")

// headInput finds the input width of a final child by capability: the child
// itself declares it, or it is a container whose first width-declaring
// layer is reached through pass-through layers only.
func headInput(last nn.Layer) (int, error) {
	if fi, ok := last.(nn.FeatureInput); ok {
		return fi.InFeatures(), nil
	}
	seq, ok := last.(*nn.Sequential)
	if !ok {
		return 0, errNoWidth
	}
	for i := 0; i < seq.Len(); i++ {
		l := seq.Layer(i)
		if fi, ok := l.(nn.FeatureInput); ok {
			return fi.InFeatures(), nil
		}
		if _, ok := l.(nn.PassThrough); !ok {
			return 0, errNoWidth
		}
	}
	return 0, errNoWidth
}
