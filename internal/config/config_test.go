package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "densenet161", cfg.Arch)
	assert.Equal(t, 0.001, cfg.LearningRate)
	assert.Equal(t, 100, cfg.Epochs)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, "models", cfg.ModelDir)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := Load(writeConfig(t, "arch: resnet18\nepochs: 5\nlearning_rate: 0.01\n"))
	require.NoError(t, err)
	assert.Equal(t, "resnet18", cfg.Arch)
	assert.Equal(t, 5, cfg.Epochs)
	assert.Equal(t, 0.01, cfg.LearningRate)
	assert.Equal(t, 1, cfg.BatchSize)
	assert.Equal(t, "cpu:0", cfg.Device)
}

func TestLoadEmptyFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "arch: resnet18\nmomentum: 0.9\n"))
	assert.ErrorContains(t, err, "momentum")
}

func TestLoadRejectsInvalid(t *testing.T) {
	_, err := Load(writeConfig(t, "batch_size: 0\n"))
	assert.ErrorContains(t, err, "batch_size")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestApplyOverridesOnlySetFields(t *testing.T) {
	cfg := Default()
	arch := "vgg16"
	epochs := 3
	seed := int64(0)
	cfg.ApplyOverrides(Overrides{Arch: &arch, Epochs: &epochs, Seed: &seed})

	assert.Equal(t, "vgg16", cfg.Arch)
	assert.Equal(t, 3, cfg.Epochs)
	assert.Equal(t, int64(0), cfg.Seed)
	assert.Equal(t, 0.001, cfg.LearningRate)
	assert.Equal(t, "models", cfg.ModelDir)
}
