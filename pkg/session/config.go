package session

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML representation of session options, as stored
// in a device's configuration file. Timing fields are Go duration
// strings ("90s", "5m").
type FileConfig struct {
	Identity   DeviceIdentity   `yaml:"identity"`
	Descriptor DeviceDescriptor `yaml:"descriptor"`

	Watchdog struct {
		Enabled bool   `yaml:"enabled"`
		Timeout string `yaml:"timeout,omitempty"`
		Grace   string `yaml:"grace,omitempty"`
	} `yaml:"watchdog"`

	KeepAliveInterval string `yaml:"keepAliveInterval,omitempty"`
	ServerDelay       string `yaml:"serverDelay,omitempty"`
}

// LoadOptions reads session options from a YAML file. The transport
// factory, logger and tracer are runtime concerns and are left unset.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, err
	}
	return ParseOptions(data)
}

// ParseOptions parses session options from YAML.
func ParseOptions(data []byte) (Options, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Options{}, fmt.Errorf("parsing session config: %w", err)
	}

	opts := Options{
		Identity:       fc.Identity,
		Descriptor:     fc.Descriptor,
		EnableWatchdog: fc.Watchdog.Enabled,
	}

	var parseErr error
	parse := func(field, value string) time.Duration {
		if value == "" || parseErr != nil {
			return 0
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			parseErr = fmt.Errorf("parsing %s: %w", field, err)
			return 0
		}
		return d
	}

	opts.WatchdogTimeout = parse("watchdog.timeout", fc.Watchdog.Timeout)
	opts.WatchdogGrace = parse("watchdog.grace", fc.Watchdog.Grace)
	opts.KeepAliveInterval = parse("keepAliveInterval", fc.KeepAliveInterval)
	opts.ServerDelay = parse("serverDelay", fc.ServerDelay)
	if parseErr != nil {
		return Options{}, parseErr
	}

	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}
