package checkpoint

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"k8s.io/klog/v2"
)

// File suffixes under the model directory.
const (
	LatestSuffix = ".ckpt.pth"
	BestSuffix   = ".pth"
)

// EnsureDir creates dir and its parents if needed.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model dir: %w", err)
	}
	return nil
}

// Persister writes checkpoints for one model directory.
type Persister struct {
	Dir string
}

// LatestPath is rewritten after every epoch.
func (p Persister) LatestPath(arch string) string {
	return filepath.Join(p.Dir, arch+LatestSuffix)
}

// BestPath holds a copy of the best epoch so far.
func (p Persister) BestPath(arch string) string {
	return filepath.Join(p.Dir, arch+BestSuffix)
}

// Save overwrites the latest checkpoint of c.Arch and, when isBest, copies it
// over the best one. It returns the paths written.
func (p Persister) Save(c *Checkpoint, isBest bool) ([]string, error) {
	latest := p.LatestPath(c.Arch)
	if err := os.WriteFile(latest, Encode(c), 0o644); err != nil {
		return nil, fmt.Errorf("write checkpoint: %w", err)
	}
	written := []string{latest}
	klog.V(1).Infof("checkpoint: epoch %d written to %s", c.Epoch, latest)
	if !isBest {
		return written, nil
	}
	best := p.BestPath(c.Arch)
	if err := copyFile(latest, best); err != nil {
		return written, fmt.Errorf("copy best checkpoint: %w", err)
	}
	klog.V(1).Infof("checkpoint: epoch %d is best (%.2f%%), copied to %s", c.Epoch, c.BestAccuracy, best)
	return append(written, best), nil
}

// Load reads and decodes a checkpoint file.
func Load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	c, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
