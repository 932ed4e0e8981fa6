package chash

import (
	"github.com/inhies/go-bytesize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"maglev-hash/hasher"
	iviper "maglev-hash/x/viper"
)

type Option func(*Config) error

// LoadConfig reads the table configuration from v.
func LoadConfig(v *viper.Viper) Option {
	return func(c *Config) error {
		return iviper.Unmarshal(v, c)
	}
}

// LoadConfigKey reads the table configuration from the sub-tree of v under key.
func LoadConfigKey(v *viper.Viper, key string) Option {
	return func(c *Config) error {
		return iviper.UnmarshalKey(v, key, c)
	}
}

// WithConfig replaces the configuration. Injected hashers, registerer and logger are kept.
func WithConfig(cfg *Config) Option {
	return func(c *Config) error {
		runtime := *c
		*c = *cfg
		c.offsetHasher = runtime.offsetHasher
		c.skipHasher = runtime.skipHasher
		c.flowHasher = runtime.flowHasher
		c.registerer = runtime.registerer
		c.logger = runtime.logger
		return nil
	}
}

func WithName(name string) Option {
	return func(c *Config) error {
		c.Name = name
		return nil
	}
}

func WithSize(size uint32) Option {
	return func(c *Config) error {
		c.Size = size
		return nil
	}
}

func WithBackends(backends ...string) Option {
	return func(c *Config) error {
		c.Backends = backends
		return nil
	}
}

// WithOffsetHasher overrides OffsetHash with the given implementation.
func WithOffsetHasher(h hasher.Hasher) Option {
	return func(c *Config) error {
		c.offsetHasher = h
		return nil
	}
}

// WithSkipHasher overrides SkipHash with the given implementation.
func WithSkipHasher(h hasher.Hasher) Option {
	return func(c *Config) error {
		c.skipHasher = h
		return nil
	}
}

// WithFlowHasher overrides FlowHash with the given implementation.
func WithFlowHasher(h hasher.Hasher) Option {
	return func(c *Config) error {
		c.flowHasher = h
		return nil
	}
}

func WithMaxPermutationMemory(size bytesize.ByteSize) Option {
	return func(c *Config) error {
		c.MaxPermutationMemory = size
		return nil
	}
}

// WithRegisterer registers the table metrics with reg.
// Without it the metrics are still collected but not registered anywhere.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.registerer = reg
		return nil
	}
}

func WithLogLevel(level zerolog.Level) Option {
	return func(c *Config) error {
		c.logger = c.logger.Level(level)
		return nil
	}
}
