package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SensorConfig describes one simulated sensor variable.
type SensorConfig struct {
	// Name becomes the node identifier in namespace 2.
	Name string `yaml:"name"`

	// Mean is the center of the simulated random walk.
	Mean float64 `yaml:"mean"`

	// StdDev is the per-step Gaussian noise amplitude.
	StdDev float64 `yaml:"stddev"`

	// UpdateInterval is how often the simulator writes a new value.
	UpdateInterval time.Duration `yaml:"updateInterval"`

	// EULow/EUHigh give the engineering-unit range; both zero means no
	// range (percent deadband filters are then rejected for this node).
	EULow  float64 `yaml:"euLow"`
	EUHigh float64 `yaml:"euHigh"`
}

// ClientConfig describes one simulated client profile. Each profile
// gets its own session with one subscription over all sensors.
type ClientConfig struct {
	Name               string        `yaml:"name"`
	PublishingInterval time.Duration `yaml:"publishingInterval"`
	MaxKeepAliveCount  uint32        `yaml:"maxKeepAliveCount"`
	LifetimeCount      uint32        `yaml:"lifetimeCount"`
	SamplingInterval   time.Duration `yaml:"samplingInterval"`
	QueueSize          uint32        `yaml:"queueSize"`

	// Deadband is an absolute data-change deadband; zero disables the
	// filter.
	Deadband float64 `yaml:"deadband"`
}

// Config is the itp-server configuration file.
type Config struct {
	Sensors []SensorConfig `yaml:"sensors"`
	Clients []ClientConfig `yaml:"clients"`
}

// DefaultConfig returns a two-sensor, one-client demo setup.
func DefaultConfig() Config {
	return Config{
		Sensors: []SensorConfig{
			{Name: "pump/flow", Mean: 40, StdDev: 1.5, UpdateInterval: 500 * time.Millisecond, EULow: 0, EUHigh: 100},
			{Name: "pump/pressure", Mean: 6.5, StdDev: 0.2, UpdateInterval: time.Second, EULow: 0, EUHigh: 10},
		},
		Clients: []ClientConfig{
			{Name: "scada", PublishingInterval: time.Second, MaxKeepAliveCount: 5, SamplingInterval: 500 * time.Millisecond, QueueSize: 10},
		},
	}
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for holes the simulator cannot
// paper over.
func (c Config) Validate() error {
	if len(c.Sensors) == 0 {
		return fmt.Errorf("config: at least one sensor required")
	}
	for i, s := range c.Sensors {
		if s.Name == "" {
			return fmt.Errorf("config: sensor %d has no name", i)
		}
		if s.UpdateInterval <= 0 {
			return fmt.Errorf("config: sensor %q has no update interval", s.Name)
		}
		if s.EUHigh < s.EULow {
			return fmt.Errorf("config: sensor %q range is inverted", s.Name)
		}
	}
	if len(c.Clients) == 0 {
		return fmt.Errorf("config: at least one client required")
	}
	for i, cl := range c.Clients {
		if cl.Name == "" {
			return fmt.Errorf("config: client %d has no name", i)
		}
	}
	return nil
}
