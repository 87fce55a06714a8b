package device

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailableHasCPU(t *testing.T) {
	devs := Available()
	require.Len(t, devs, 1)
	assert.Equal(t, CPU, devs[0].Kind)
	assert.Positive(t, devs[0].Threads)
	assert.Positive(t, devs[0].Cores)
}

func TestSelect(t *testing.T) {
	for _, spec := range []string{"", "cpu", "cpu:0", " CPU:0 "} {
		d, err := Select(spec)
		require.NoError(t, err, spec)
		assert.Equal(t, "cpu:0", d.String())
		assert.Contains(t, d.Describe(), "cpu:0")
	}
}

func TestSelectUnavailable(t *testing.T) {
	for _, spec := range []string{"cuda:0", "cpu:1", "cpu:x", "cpu:-1"} {
		_, err := Select(spec)
		assert.True(t, errors.Is(err, ErrNoDevice), spec)
	}
}

func TestSelectFromSecondIndex(t *testing.T) {
	devs := []Device{{Kind: CPU, Name: "a"}, {Kind: "gpu", Name: "g"}, {Kind: CPU, Name: "b"}}
	d, err := selectFrom(devs, "cpu:1")
	require.NoError(t, err)
	assert.Equal(t, "b", d.Name)
	assert.Equal(t, 1, d.Index)
}
