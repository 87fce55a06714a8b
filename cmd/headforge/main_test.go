package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"headforge/internal/config"
	"headforge/internal/dataset"
	"headforge/internal/device"
	"headforge/internal/zoo"
)

func TestRunUnknownArchCreatesNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Arch = "resnet9000"
	cfg.ModelDir = filepath.Join(t.TempDir(), "models")

	err := run(context.Background(), cfg)
	var unknown *zoo.UnknownArchError
	assert.True(t, errors.As(err, &unknown))
	_, statErr := os.Stat(cfg.ModelDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunUnknownDeviceCreatesNothing(t *testing.T) {
	cfg := config.Default()
	cfg.Device = "cuda:0"
	cfg.ModelDir = filepath.Join(t.TempDir(), "models")

	err := run(context.Background(), cfg)
	assert.True(t, errors.Is(err, device.ErrNoDevice))
	_, statErr := os.Stat(cfg.ModelDir)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunMissingData(t *testing.T) {
	cfg := config.Default()
	cfg.Arch = "resnet18"
	cfg.DataDir = filepath.Join(t.TempDir(), "nodata")
	cfg.ModelDir = filepath.Join(t.TempDir(), "models")

	err := run(context.Background(), cfg)
	assert.True(t, errors.Is(err, dataset.ErrMissingSplit))
	_, statErr := os.Stat(cfg.ModelDir)
	assert.NoError(t, statErr)
}

func TestParseInterleaved(t *testing.T) {
	newSet := func() (*flag.FlagSet, *int, *string) {
		fs := flag.NewFlagSet("headforge", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		epochs := fs.Int("epochs", 100, "")
		arch := fs.String("arch", "densenet161", "")
		return fs, epochs, arch
	}

	fs, epochs, arch := newSet()
	args, err := parseInterleaved(fs, []string{"flowers", "--epochs", "5", "-arch=resnet18"})
	require.NoError(t, err)
	assert.Equal(t, []string{"flowers"}, args)
	assert.Equal(t, 5, *epochs)
	assert.Equal(t, "resnet18", *arch)

	fs, epochs, _ = newSet()
	args, err = parseInterleaved(fs, []string{"--epochs", "2", "a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, args)
	assert.Equal(t, 2, *epochs)

	var visited []string
	fs.Visit(func(f *flag.Flag) { visited = append(visited, f.Name) })
	assert.Equal(t, []string{"epochs"}, visited)

	fs, epochs, _ = newSet()
	args, err = parseInterleaved(fs, []string{"data", "--", "--epochs", "3"})
	require.NoError(t, err)
	assert.Equal(t, []string{"data", "--epochs", "3"}, args)
	assert.Equal(t, 100, *epochs)

	fs, _, _ = newSet()
	_, err = parseInterleaved(fs, []string{"data", "--nope"})
	assert.Error(t, err)
}
