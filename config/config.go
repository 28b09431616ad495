package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fllarpy/stackprobe/domain/profile"
)

// Config holds the sampling configuration an embedding application loads
// at startup. The core itself never reads config; this loader exists for
// embedders who want the parameters in a file or environment instead of
// code.
type Config struct {
	ServiceName string `mapstructure:"service_name"`
	LogLevel    string `mapstructure:"log_level"`

	InitialDelay           time.Duration `mapstructure:"initial_delay"`
	Bursts                 int           `mapstructure:"bursts"`
	BurstInterval          time.Duration `mapstructure:"burst_interval"`
	SamplesPerBurst        int           `mapstructure:"samples_per_burst"`
	SamplingInterval       time.Duration `mapstructure:"sampling_interval"`
	PreserveSampleOrdering bool          `mapstructure:"preserve_sample_ordering"`
}

// Load reads config.yaml from path, with environment variable overrides.
// Missing files are not an error; defaults match DefaultSamplingParams.
// Each call uses its own viper instance so repeated loads stay isolated.
func Load(path string) (config Config, err error) {
	v := viper.New()
	v.SetDefault("service_name", "unknown-service")
	v.SetDefault("log_level", "info")
	v.SetDefault("initial_delay", "0s")
	v.SetDefault("bursts", 1)
	v.SetDefault("burst_interval", "10s")
	v.SetDefault("samples_per_burst", 300)
	v.SetDefault("sampling_interval", "100ms")
	v.SetDefault("preserve_sample_ordering", false)

	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&config)
	return
}

// SamplingParams converts the loaded configuration into the value object
// the profiler consumes.
func (c Config) SamplingParams() profile.SamplingParams {
	return profile.SamplingParams{
		InitialDelay:           c.InitialDelay,
		Bursts:                 c.Bursts,
		BurstInterval:          c.BurstInterval,
		SamplesPerBurst:        c.SamplesPerBurst,
		SamplingInterval:       c.SamplingInterval,
		PreserveSampleOrdering: c.PreserveSampleOrdering,
	}.WithDefaults()
}
