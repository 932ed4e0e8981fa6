package health_monitor

import (
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	iviper "maglev-hash/x/viper"
	"time"
)

type Option func(*Config) error

func LoadConfig(v *viper.Viper) Option {
	return func(c *Config) error {
		return iviper.Unmarshal(v, c)
	}
}

// LoadConfigKey reads the health monitor configuration from the sub-tree of v under key.
func LoadConfigKey(v *viper.Viper, key string) Option {
	return func(c *Config) error {
		return iviper.UnmarshalKey(v, key, c)
	}
}

// WithConfig replaces the configuration. The clock and logger are kept.
func WithConfig(cfg *Config) Option {
	return func(c *Config) error {
		clock, logger := c.clock, c.logger
		*c = *cfg
		c.clock, c.logger = clock, logger
		return nil
	}
}

func WithBackends(backends ...*BackendConfig) Option {
	return func(c *Config) error {
		c.Backends = backends
		return nil
	}
}

func WithUnhealthyThreshold(threshold int) Option {
	return func(c *Config) error {
		c.UnhealthyThreshold = threshold
		return nil
	}
}

func WithHealthyThreshold(threshold int) Option {
	return func(c *Config) error {
		c.HealthyThreshold = threshold
		return nil
	}
}

func WithCheckInterval(interval time.Duration) Option {
	return func(c *Config) error {
		c.Interval = interval
		return nil
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) error {
		c.Timeout = timeout
		return nil
	}
}

func WithHttpPath(path string) Option {
	return func(c *Config) error {
		c.HttpPath = path
		return nil
	}
}

func WithProtocol(protocol Protocol) Option {
	return func(c *Config) error {
		c.Protocol = protocol
		return nil
	}
}

func WithAcceptStatusCodes(codePatterns ...string) Option {
	return func(c *Config) error {
		c.AcceptStatusCodes = codePatterns
		return nil
	}
}

// WithHealthyInitially sets the state of newly added backends.
func WithHealthyInitially(healthy bool) Option {
	return func(c *Config) error {
		c.HealthyInitially = healthy
		return nil
	}
}

// WithClock sets the clock driving the check ticker and notification timestamps.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) error {
		c.clock = clock
		return nil
	}
}

func WithLogLevel(level zerolog.Level) Option {
	return func(c *Config) error {
		c.logger = c.logger.Level(level)
		return nil
	}
}

func EnableHealthyChannel() Option {
	return func(c *Config) error {
		c.EnableHealthyChannel = true
		return nil
	}
}

func EnableUnhealthyChannel() Option {
	return func(c *Config) error {
		c.EnableUnhealthyChannel = true
		return nil
	}
}
