package zoo

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"

	"headforge/internal/nn"
)

// WeightSource supplies pretrained values for a network's parameters.
type WeightSource interface {
	Fill(arch Arch, name string, p *nn.Parameter) error
}

// Seeded fills parameters deterministically from the architecture and
// parameter name. It stands in for a pretrained checkpoint when none is
// configured, so two runs of the same architecture share a backbone.
type Seeded struct{}

func (Seeded) Fill(arch Arch, name string, p *nn.Parameter) error {
	rng := rand.New(rand.NewSource(archSeed(arch, name)))
	r, c := p.Value.Dims()
	if r == 1 {
		// biases
		raw := p.Value.RawMatrix().Data
		for i := range raw {
			raw[i] = (rng.Float64()*2 - 1) * 0.01
		}
		return nil
	}
	nn.XavierUniform(p.Value, c, r, rng)
	return nil
}

// SafetensorsDir loads {Dir}/{arch}.safetensors. Tensors absent from the
// file, or a missing file, are delegated to Fallback.
type SafetensorsDir struct {
	Dir      string
	Fallback WeightSource

	arch   Arch
	reader *SafetensorsReader
}

// Fill implements WeightSource. The file for an architecture is opened on
// first use and kept open; call Close when construction is done.
func (s *SafetensorsDir) Fill(arch Arch, name string, p *nn.Parameter) error {
	if err := s.open(arch); err != nil {
		return err
	}
	if s.reader != nil {
		if _, ok := s.reader.Info(name); ok {
			return s.reader.ReadInto(name, p.Value.RawMatrix().Data)
		}
		klog.V(1).Infof("weights: %s has no tensor %q, using fallback", s.path(arch), name)
	}
	if s.Fallback == nil {
		return fmt.Errorf("no pretrained tensor %q for %s", name, arch)
	}
	return s.Fallback.Fill(arch, name, p)
}

// Close releases the open weights file, if any.
func (s *SafetensorsDir) Close() error {
	if s.reader == nil {
		return nil
	}
	err := s.reader.Close()
	s.reader = nil
	s.arch = ""
	return err
}

func (s *SafetensorsDir) path(arch Arch) string {
	return filepath.Join(s.Dir, string(arch)+".safetensors")
}

func (s *SafetensorsDir) open(arch Arch) error {
	if s.arch == arch {
		return nil
	}
	if err := s.Close(); err != nil {
		return err
	}
	s.arch = arch
	r, err := OpenSafetensors(s.path(arch))
	if errors.Is(err, os.ErrNotExist) {
		klog.Warningf("weights: %s not found, using fallback weights", s.path(arch))
		return nil
	}
	if err != nil {
		return err
	}
	s.reader = r
	return nil
}
