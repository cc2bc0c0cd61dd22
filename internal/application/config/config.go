// ABOUTME: YAML and TOML configuration parsing and validation
// ABOUTME: Defines structure for multi-device bridge configuration
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/harper/pencil-bridge/internal/application/logging"
	"github.com/harper/pencil-bridge/internal/domain/reconciler"
)

const (
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 8080
	DefaultCapacity         = 1000
	DefaultSubscriberBuffer = 256
	DefaultConnectTimeoutMs = 5000
	DefaultRetryMs          = 1000
)

type Config struct {
	Listen  ListenConfig   `yaml:"listen" toml:"listen"`
	Logging LoggingConfig  `yaml:"logging" toml:"logging"`
	Journal JournalConfig  `yaml:"journal" toml:"journal"`
	Devices []DeviceConfig `yaml:"devices" toml:"devices"`
}

type ListenConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	JSON  bool   `yaml:"json" toml:"json"`
}

// JournalConfig enables the event journal when Path is set.
type JournalConfig struct {
	Path  string `yaml:"path" toml:"path"`
	Queue int    `yaml:"queue" toml:"queue"`
}

type DeviceConfig struct {
	ID       string `yaml:"id" toml:"id"`
	Capacity int    `yaml:"capacity" toml:"capacity"`
	// SharedPath maps the ring from a file instead of allocating it.
	SharedPath string `yaml:"shared_path" toml:"shared_path"`

	EnableEstimationUpdates *bool `yaml:"enable_estimation_updates" toml:"enable_estimation_updates"`
	EnablePredictions       *bool `yaml:"enable_predictions" toml:"enable_predictions"`

	SubscriberBuffer int `yaml:"subscriber_buffer" toml:"subscriber_buffer"`

	Source SourceConfig `yaml:"source" toml:"source"`
}

// SourceConfig streams a recorded capture into the device's producer while
// the bridge runs. An empty URI leaves the producer to other writers.
type SourceConfig struct {
	URI              string `yaml:"uri" toml:"uri"`
	IntervalMs       int    `yaml:"interval_ms" toml:"interval_ms"`
	ConnectTimeoutMs int    `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	// Loop replays the capture again after RetryMs once it ends or fails.
	Loop    bool `yaml:"loop" toml:"loop"`
	RetryMs int  `yaml:"retry_ms" toml:"retry_ms"`
}

func (s SourceConfig) Interval() time.Duration {
	return time.Duration(s.IntervalMs) * time.Millisecond
}

func (s SourceConfig) ConnectTimeout() time.Duration {
	return time.Duration(s.ConnectTimeoutMs) * time.Millisecond
}

func (s SourceConfig) Retry() time.Duration {
	return time.Duration(s.RetryMs) * time.Millisecond
}

// Options resolves the enable flags, treating unset flags as enabled.
func (d DeviceConfig) Options() reconciler.Options {
	opts := reconciler.DefaultOptions()
	if d.EnableEstimationUpdates != nil {
		opts.EnableEstimationUpdates = *d.EnableEstimationUpdates
	}
	if d.EnablePredictions != nil {
		opts.EnablePredictions = *d.EnablePredictions
	}
	return opts
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Listen.Host, c.Listen.Port)
}

// Load reads a config file. Files ending in .toml are parsed as TOML,
// everything else as YAML. Defaults are applied before validation.
func Load(path string) (*Config, error) {
	var cfg Config

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("parse toml: %w", err)
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse yaml: %w", err)
		}
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Listen.Host == "" {
		c.Listen.Host = DefaultHost
	}
	if c.Listen.Port == 0 {
		c.Listen.Port = DefaultPort
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.Devices {
		d := &c.Devices[i]
		if d.Capacity == 0 {
			d.Capacity = DefaultCapacity
		}
		if d.SubscriberBuffer == 0 {
			d.SubscriberBuffer = DefaultSubscriberBuffer
		}
		if d.Source.URI != "" {
			if d.Source.ConnectTimeoutMs == 0 {
				d.Source.ConnectTimeoutMs = DefaultConnectTimeoutMs
			}
			if d.Source.RetryMs == 0 {
				d.Source.RetryMs = DefaultRetryMs
			}
		}
	}
}

// Validate reports every problem found, joined into one error.
func (c *Config) Validate() error {
	var errs []error

	if c.Listen.Port < 1 || c.Listen.Port > 65535 {
		errs = append(errs, fmt.Errorf("listen.port %d out of range", c.Listen.Port))
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	if c.Journal.Queue < 0 {
		errs = append(errs, fmt.Errorf("journal.queue must not be negative"))
	}
	if len(c.Devices) == 0 {
		errs = append(errs, errors.New("at least one device is required"))
	}

	seen := make(map[string]bool)
	for i, d := range c.Devices {
		if strings.TrimSpace(d.ID) == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: id is required", i))
		} else if seen[d.ID] {
			errs = append(errs, fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID))
		}
		seen[d.ID] = true

		if d.Capacity <= 0 {
			errs = append(errs, fmt.Errorf("devices[%d]: capacity must be positive, got %d", i, d.Capacity))
		}
		if d.SubscriberBuffer < 0 {
			errs = append(errs, fmt.Errorf("devices[%d]: subscriber_buffer must not be negative", i))
		}
		if d.Source.IntervalMs < 0 || d.Source.ConnectTimeoutMs < 0 || d.Source.RetryMs < 0 {
			errs = append(errs, fmt.Errorf("devices[%d]: source timings must not be negative", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
