package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discovery errors. They are wrapped with the offending path.
var (
	ErrMissingSplit  = errors.New("dataset: split directory not found")
	ErrNoClasses     = errors.New("dataset: no class directories")
	ErrNoImages      = errors.New("dataset: no images found")
	ErrClassMismatch = errors.New("dataset: splits disagree on classes")
)

// Extensions accepted by Discover, lower case.
var Extensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".webp"}

// ClassIndex maps a class folder name to its label index.
type ClassIndex map[string]int

// Names returns class names ordered by index.
func (c ClassIndex) Names() []string {
	names := make([]string, len(c))
	for name, idx := range c {
		if idx >= 0 && idx < len(names) {
			names[idx] = name
		}
	}
	return names
}

// Equal reports whether both mappings hold the same pairs.
func (c ClassIndex) Equal(other ClassIndex) bool {
	if len(c) != len(other) {
		return false
	}
	for name, idx := range c {
		if j, ok := other[name]; !ok || j != idx {
			return false
		}
	}
	return true
}

// ImageFolder is one split laid out as root/{class}/**/{image}.
type ImageFolder struct {
	Root    string
	Paths   []string
	Labels  []int
	Classes ClassIndex
}

// Len returns the number of images.
func (f *ImageFolder) Len() int { return len(f.Paths) }

// Discover scans root. Classes are its immediate subdirectories in sorted
// order; images are found recursively beneath each class.
func Discover(root string) (*ImageFolder, error) {
	info, err := os.Stat(root)
	if errors.Is(err, os.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, fmt.Errorf("%w: %s", ErrMissingSplit, root)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", root, err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", root, err)
	}
	folder := &ImageFolder{Root: root, Classes: make(ClassIndex)}
	var classes []string
	for _, e := range entries {
		if e.IsDir() {
			classes = append(classes, e.Name())
		}
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoClasses, root)
	}
	sort.Strings(classes)

	for idx, class := range classes {
		folder.Classes[class] = idx
		var paths []string
		err := filepath.WalkDir(filepath.Join(root, class), func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && isImage(d.Name()) {
				paths = append(paths, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan class %s: %w", class, err)
		}
		sort.Strings(paths)
		for _, p := range paths {
			folder.Paths = append(folder.Paths, p)
			folder.Labels = append(folder.Labels, idx)
		}
	}
	if len(folder.Paths) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoImages, root)
	}
	return folder, nil
}

func isImage(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}
