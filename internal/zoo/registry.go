// Package zoo is the catalogue of pretrained architectures the trainer can
// fine-tune. Architectures are resolved through an explicit dispatch table;
// names that are not registered fail with *UnknownArchError.
package zoo

import (
	"fmt"
	"sort"
	"strings"
)

// Arch identifies a registered architecture.
type Arch string

// Architectures registered by Default.
const (
	ResNet18     Arch = "resnet18"
	ResNet50     Arch = "resnet50"
	DenseNet121  Arch = "densenet121"
	DenseNet161  Arch = "densenet161"
	VGG16        Arch = "vgg16"
	AlexNet      Arch = "alexnet"
	MobileNetV2  Arch = "mobilenet_v2"
	SqueezeNet10 Arch = "squeezenet1_0"
)

// Constructor instantiates an architecture, filling its parameters from src.
type Constructor func(src WeightSource) (*Network, error)

// UnknownArchError is returned by Lookup for unregistered names.
type UnknownArchError struct {
	Name  string
	Known []string
}

func (e *UnknownArchError) Error() string {
	return fmt.Sprintf("zoo: unknown architecture %q (known: %s)", e.Name, strings.Join(e.Known, ", "))
}

// Registry maps architecture identifiers to constructors.
type Registry struct {
	ctors map[Arch]Constructor
}

func NewRegistry() *Registry {
	return &Registry{ctors: make(map[Arch]Constructor)}
}

// Register adds or replaces an architecture.
func (r *Registry) Register(arch Arch, ctor Constructor) {
	r.ctors[arch] = ctor
}

// Lookup resolves name to its constructor.
func (r *Registry) Lookup(name string) (Arch, Constructor, error) {
	arch := Arch(name)
	ctor, ok := r.ctors[arch]
	if !ok {
		return "", nil, &UnknownArchError{Name: name, Known: r.Names()}
	}
	return arch, ctor, nil
}

// Names lists registered architectures in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ctors))
	for a := range r.ctors {
		names = append(names, string(a))
	}
	sort.Strings(names)
	return names
}

// Default returns a registry with the built-in architectures. The widths
// match the classifier inputs of the torchvision models of the same name.
func Default() *Registry {
	r := NewRegistry()
	for _, s := range []Spec{
		{Arch: ResNet18, Width: 512, HeadName: "fc", Classifier: linearClassifier(512)},
		{Arch: ResNet50, Width: 2048, HeadName: "fc", Classifier: linearClassifier(2048)},
		{Arch: DenseNet121, Width: 1024, HeadName: "classifier", Classifier: linearClassifier(1024)},
		{Arch: DenseNet161, Width: 2208, HeadName: "classifier", Classifier: linearClassifier(2208)},
		{Arch: VGG16, Width: 25088, HeadName: "classifier", Classifier: vggClassifier},
		{Arch: AlexNet, Width: 9216, HeadName: "classifier", Classifier: alexnetClassifier},
		{Arch: MobileNetV2, Width: 1280, HeadName: "classifier", Classifier: mobilenetClassifier},
		{Arch: SqueezeNet10, Width: 512, HeadName: "classifier", Classifier: squeezenetClassifier},
	} {
		r.Register(s.Arch, s.Constructor())
	}
	return r
}
