package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fllarpy/stackprobe/domain/profile"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "unknown-service", cfg.ServiceName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, profile.DefaultSamplingParams(), cfg.SamplingParams())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	yaml := `service_name: profiled-service
bursts: 2
samples_per_burst: 50
sampling_interval: 5ms
burst_interval: 1m
preserve_sample_ordering: true
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "profiled-service", cfg.ServiceName)
	params := cfg.SamplingParams()
	assert.Equal(t, 2, params.Bursts)
	assert.Equal(t, 50, params.SamplesPerBurst)
	assert.Equal(t, 5*time.Millisecond, params.SamplingInterval)
	assert.Equal(t, time.Minute, params.BurstInterval)
	assert.True(t, params.PreserveSampleOrdering)
}
