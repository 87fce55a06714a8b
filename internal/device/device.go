// Package device resolves the compute device a run executes on. Matrix math
// runs on the host CPU; the report lists the vector extensions gonum's
// assembly kernels can use.
package device

import (
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// ErrNoDevice is returned when a device spec names nothing available.
var ErrNoDevice = errors.New("device: no such device")

// Kind is a device family.
type Kind string

// CPU is the only device family this build supports.
const CPU Kind = "cpu"

// Device describes one compute device.
type Device struct {
	Kind     Kind
	Index    int
	Name     string
	Vendor   string
	Cores    int
	Threads  int
	Features []string
}

// String returns the spec form, e.g. "cpu:0".
func (d Device) String() string {
	return fmt.Sprintf("%s:%d", d.Kind, d.Index)
}

// Describe is a one-line human-readable report.
func (d Device) Describe() string {
	name := d.Name
	if name == "" {
		name = "unknown " + runtime.GOARCH
	}
	feats := "none"
	if len(d.Features) > 0 {
		feats = strings.Join(d.Features, ",")
	}
	return fmt.Sprintf("%s %s (%d cores, %d threads, simd=%s)", d, name, d.Cores, d.Threads, feats)
}

// simd lists the extensions worth reporting, in display order.
var simd = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "sse4.1"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.ASIMD, "neon"},
}

// Available lists the devices of this host.
func Available() []Device {
	d := Device{
		Kind:    CPU,
		Name:    strings.TrimSpace(cpuid.CPU.BrandName),
		Vendor:  cpuid.CPU.VendorString,
		Cores:   cpuid.CPU.PhysicalCores,
		Threads: cpuid.CPU.LogicalCores,
	}
	if d.Threads <= 0 {
		d.Threads = runtime.NumCPU()
	}
	if d.Cores <= 0 {
		d.Cores = d.Threads
	}
	for _, f := range simd {
		if cpuid.CPU.Supports(f.id) {
			d.Features = append(d.Features, f.name)
		}
	}
	return []Device{d}
}

// Select resolves spec ("cpu" or "kind:index") against Available.
func Select(spec string) (Device, error) {
	return selectFrom(Available(), spec)
}

func selectFrom(devices []Device, spec string) (Device, error) {
	kind, idx, err := parse(spec)
	if err != nil {
		return Device{}, err
	}
	n := 0
	for _, d := range devices {
		if d.Kind != kind {
			continue
		}
		if n == idx {
			d.Index = idx
			return d, nil
		}
		n++
	}
	return Device{}, fmt.Errorf("%w: %q", ErrNoDevice, spec)
}

func parse(spec string) (Kind, int, error) {
	spec = strings.ToLower(strings.TrimSpace(spec))
	if spec == "" {
		return CPU, 0, nil
	}
	name, index, found := strings.Cut(spec, ":")
	idx := 0
	if found {
		v, err := strconv.Atoi(index)
		if err != nil || v < 0 {
			return "", 0, fmt.Errorf("%w: bad index in %q", ErrNoDevice, spec)
		}
		idx = v
	}
	return Kind(name), idx, nil
}
