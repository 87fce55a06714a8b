package zoo

import (
	"fmt"
	"hash/fnv"
	"math/rand"

	"headforge/internal/nn"
)

// Input geometry shared by every architecture: normalized 3×224×224 CHW rows.
const (
	Channels  = 3
	InputSize = 224
	// ImageNetClasses is the width of the classifiers shipped with the zoo.
	ImageNetClasses = 1000
)

// Network is an instantiated architecture: a backbone followed by one
// final classifier child.
type Network struct {
	Arch     Arch
	Children *nn.Sequential
}

// InputWidth is the row width the network consumes.
func (n *Network) InputWidth() int { return Channels * InputSize * InputSize }

// Last returns the final child, the one a fine-tuning head replaces.
func (n *Network) Last() (string, nn.Layer) {
	i := n.Children.Len() - 1
	return n.Children.Name(i), n.Children.Layer(i)
}

// Backbone returns every child except the last.
func (n *Network) Backbone() *nn.Sequential {
	b := nn.NewSequential()
	for i := 0; i < n.Children.Len()-1; i++ {
		b.Add(n.Children.Name(i), n.Children.Layer(i))
	}
	return b
}

// Spec describes an architecture in terms of its feature width and its
// original classifier.
type Spec struct {
	Arch Arch
	// Width is the backbone output width, which is also the input width of
	// the original classifier.
	Width int
	// Grid is the GridPool lattice size; zero means 7.
	Grid int
	// HeadName is the child name of the classifier, "fc" or "classifier".
	HeadName   string
	Classifier func(rng *rand.Rand) nn.Layer
}

// Constructor builds a Constructor for the spec.
func (s Spec) Constructor() Constructor {
	return func(src WeightSource) (*Network, error) {
		grid := s.Grid
		if grid == 0 {
			grid = 7
		}
		rng := rand.New(rand.NewSource(archSeed(s.Arch, "")))
		pool := nn.NewGridPool(Channels, InputSize, grid)
		features := nn.NewSequential().
			Add("pool", pool).
			Add("proj", nn.NewLinear(pool.OutWidth(0), s.Width, rng)).
			Add("relu", nn.NewReLU())
		children := nn.NewSequential().
			Add("features", features).
			Add(s.HeadName, s.Classifier(rng))
		net := &Network{Arch: s.Arch, Children: children}
		if src == nil {
			return net, nil
		}
		for name, p := range children.NamedParameters("") {
			if err := src.Fill(s.Arch, name, p); err != nil {
				return nil, fmt.Errorf("zoo: load %s %s: %w", s.Arch, name, err)
			}
		}
		return net, nil
	}
}

func linearClassifier(width int) func(*rand.Rand) nn.Layer {
	return func(rng *rand.Rand) nn.Layer {
		return nn.NewLinear(width, ImageNetClasses, rng)
	}
}

func vggClassifier(rng *rand.Rand) nn.Layer {
	return nn.NewSequential().
		Add("0", nn.NewLinear(25088, 4096, rng)).
		Add("1", nn.NewReLU()).
		Add("2", nn.NewDropout(0.5, rng)).
		Add("3", nn.NewLinear(4096, 4096, rng)).
		Add("4", nn.NewReLU()).
		Add("5", nn.NewDropout(0.5, rng)).
		Add("6", nn.NewLinear(4096, ImageNetClasses, rng))
}

func alexnetClassifier(rng *rand.Rand) nn.Layer {
	return nn.NewSequential().
		Add("0", nn.NewDropout(0.5, rng)).
		Add("1", nn.NewLinear(9216, 4096, rng)).
		Add("2", nn.NewReLU()).
		Add("3", nn.NewDropout(0.5, rng)).
		Add("4", nn.NewLinear(4096, 4096, rng)).
		Add("5", nn.NewReLU()).
		Add("6", nn.NewLinear(4096, ImageNetClasses, rng))
}

func mobilenetClassifier(rng *rand.Rand) nn.Layer {
	return nn.NewSequential().
		Add("0", nn.NewDropout(0.2, rng)).
		Add("1", nn.NewLinear(1280, ImageNetClasses, rng))
}

// The squeezenet classifier ends in a convolution rather than a linear
// layer, so no input feature width can be read off it.
func squeezenetClassifier(rng *rand.Rand) nn.Layer {
	return nn.NewSequential().
		Add("0", nn.NewDropout(0.5, rng)).
		Add("1", nn.NewPointwiseConv(512, ImageNetClasses, rng)).
		Add("2", nn.NewReLU()).
		Add("3", nn.NewAdaptiveAvgPool(ImageNetClasses))
}

func archSeed(arch Arch, name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(arch))
	h.Write([]byte{0})
	h.Write([]byte(name))
	return int64(h.Sum64() >> 1)
}
