// Package config provides configuration parsing and validation for snmpbridge.
package config

import (
	"fmt"
	"net"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wiremaps/snmpbridge/internal/engine"
	"github.com/wiremaps/snmpbridge/internal/logging"
	"github.com/wiremaps/snmpbridge/internal/oid"
	"github.com/wiremaps/snmpbridge/internal/poller"
	"github.com/wiremaps/snmpbridge/internal/protocol"
	"github.com/wiremaps/snmpbridge/internal/session"
)

// Target defaults applied to every entry of targets.
const (
	DefaultCommunity      = "public"
	DefaultVersion        = 2
	DefaultOperation      = "get"
	DefaultMaxRepetitions = 10
)

// minDatagram is the smallest message size every SNMP agent must accept.
const minDatagram = 484

// Config represents the complete collector configuration.
type Config struct {
	Log     LogConfig      `yaml:"log"`
	Engine  EngineConfig   `yaml:"engine"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Poller  PollerConfig   `yaml:"poller"`
	Targets []TargetConfig `yaml:"targets"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// EngineConfig contains process-wide SNMP engine settings.
type EngineConfig struct {
	Name        string        `yaml:"name"`
	Timeout     time.Duration `yaml:"timeout"` // per attempt
	Retries     int           `yaml:"retries"`
	MaxDatagram int           `yaml:"max_datagram"`
}

// MetricsConfig defines the metrics and health HTTP server.
type MetricsConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// PollerConfig defines the polling schedule.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval"`
	Rate     float64       `yaml:"rate"` // requests per second, 0 = unlimited
	Burst    int           `yaml:"burst"`
}

// TargetConfig defines one polled equipment.
type TargetConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"` // host, host:port or [v6]:port
	Community      string   `yaml:"community"`
	Version        int      `yaml:"version"` // 1 or 2
	Operation      string   `yaml:"operation"`
	OIDs           []string `yaml:"oids"`
	MaxRepetitions int      `yaml:"max_repetitions"`
	NonRepeaters   int      `yaml:"non_repeaters"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Engine: EngineConfig{
			Name:        engine.DefaultName,
			Timeout:     engine.DefaultTimeout,
			Retries:     engine.DefaultRetries,
			MaxDatagram: engine.DefaultMaxDatagram,
		},
		Metrics: MetricsConfig{
			Enabled:      false,
			Address:      ":9161",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Poller: PollerConfig{
			Interval: poller.DefaultInterval,
			Rate:     0,
			Burst:    1,
		},
		Targets: []TargetConfig{},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyTargetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// applyTargetDefaults fills omitted per-target fields. List entries do
// not inherit anything from Default.
func (c *Config) applyTargetDefaults() {
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Community == "" {
			t.Community = DefaultCommunity
		}
		if t.Version == 0 {
			t.Version = DefaultVersion
		}
		if t.Operation == "" {
			t.Operation = DefaultOperation
		}
		if t.MaxRepetitions == 0 {
			t.MaxRepetitions = DefaultMaxRepetitions
		}
		if t.Name == "" {
			t.Name = t.Host
		}
	}
}

// envVarRegex matches ${VAR} or $VAR patterns
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		// ${VAR:-default}
		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if !logging.ValidLevel(c.Log.Level) {
		errs = append(errs, fmt.Sprintf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}
	if !logging.ValidFormat(c.Log.Format) {
		errs = append(errs, fmt.Sprintf("invalid log.format: %s (must be text or json)", c.Log.Format))
	}

	if c.Engine.Timeout <= 0 {
		errs = append(errs, "engine.timeout must be positive")
	}
	if c.Engine.Retries < 0 {
		errs = append(errs, "engine.retries must not be negative")
	}
	if c.Engine.MaxDatagram < minDatagram || c.Engine.MaxDatagram > engine.DefaultMaxDatagram {
		errs = append(errs, fmt.Sprintf("engine.max_datagram must be between %d and %d", minDatagram, engine.DefaultMaxDatagram))
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.Address); err != nil {
			errs = append(errs, fmt.Sprintf("metrics.address: invalid address: %s", c.Metrics.Address))
		}
	}

	if c.Poller.Interval <= 0 {
		errs = append(errs, "poller.interval must be positive")
	}
	if c.Poller.Rate < 0 {
		errs = append(errs, "poller.rate must not be negative")
	}
	if c.Poller.Burst < 0 {
		errs = append(errs, "poller.burst must not be negative")
	}

	seen := make(map[string]bool, len(c.Targets))
	for i, t := range c.Targets {
		if err := validateTarget(t); err != nil {
			errs = append(errs, fmt.Sprintf("targets[%d]: %v", i, err))
		}
		if t.Name != "" && seen[t.Name] {
			errs = append(errs, fmt.Sprintf("targets[%d]: duplicate name: %s", i, t.Name))
		}
		seen[t.Name] = true
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

func validateTarget(t TargetConfig) error {
	if t.Host == "" {
		return fmt.Errorf("host is required")
	}
	version, err := protocol.ParseVersion(t.Version)
	if err != nil {
		return err
	}
	op, err := protocol.ParseOp(t.Operation)
	if err != nil {
		return err
	}
	if op == protocol.OpGetBulk && version == protocol.V1 {
		return fmt.Errorf("getbulk requires version 2")
	}
	if len(t.OIDs) == 0 {
		return fmt.Errorf("at least one oid is required")
	}
	for _, s := range t.OIDs {
		if _, err := oid.Parse(s); err != nil {
			return err
		}
	}
	if t.MaxRepetitions < 0 {
		return fmt.Errorf("max_repetitions must not be negative")
	}
	if t.NonRepeaters < 0 || t.NonRepeaters > 255 {
		return fmt.Errorf("non_repeaters must be between 0 and 255")
	}
	return nil
}

// EngineSettings returns the engine configuration.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		Name:        c.Engine.Name,
		Timeout:     c.Engine.Timeout,
		Retries:     c.Engine.Retries,
		MaxDatagram: c.Engine.MaxDatagram,
	}
}

// PollerSettings returns the poller schedule.
func (c *Config) PollerSettings() poller.Config {
	return poller.Config{
		Interval: c.Poller.Interval,
		Rate:     c.Poller.Rate,
		Burst:    c.Poller.Burst,
	}
}

// PollTargets converts the target list. It assumes Validate passed.
func (c *Config) PollTargets() []poller.Target {
	targets := make([]poller.Target, 0, len(c.Targets))
	for _, t := range c.Targets {
		version, _ := protocol.ParseVersion(t.Version)
		op, _ := protocol.ParseOp(t.Operation)
		targets = append(targets, poller.Target{
			Name: t.Name,
			Peer: protocol.Peer{Host: t.Host, Community: t.Community, Version: version},
			Op:   op,
			OIDs: append([]string(nil), t.OIDs...),
			Bulk: session.BulkParams{MaxRepetitions: t.MaxRepetitions, NonRepeaters: t.NonRepeaters},
		})
	}
	return targets
}

// String returns a string representation of the config (for debugging).
// WARNING: This method redacts sensitive values. Use StringUnsafe() for full output.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c.Redacted())
	return string(data)
}

// StringUnsafe returns a string representation including community strings.
// Do not log the output.
func (c *Config) StringUnsafe() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// redactedValue is the placeholder for sensitive values.
const redactedValue = "[REDACTED]"

// Redacted returns a copy of the config with community strings redacted.
func (c *Config) Redacted() *Config {
	data, err := yaml.Marshal(c)
	if err != nil {
		return c
	}

	redacted := &Config{}
	if err := yaml.Unmarshal(data, redacted); err != nil {
		return c
	}

	for i := range redacted.Targets {
		if redacted.Targets[i].Community != "" {
			redacted.Targets[i].Community = redactedValue
		}
	}

	return redacted
}

// HasSensitiveData returns true if any target carries a community other
// than the well-known default.
func (c *Config) HasSensitiveData() bool {
	for _, t := range c.Targets {
		if t.Community != "" && t.Community != DefaultCommunity {
			return true
		}
	}
	return false
}
