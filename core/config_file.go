package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig is the on-disk form of the kernel tunables.
//
//	max_priorities: 32
//	min_stack_size: 200
//	switch_history: 100
//	tick_period: 10ms
//	logging:
//	  level: info
type FileConfig struct {
	MaxPriorities uint32        `yaml:"max_priorities"`
	MinStackSize  int           `yaml:"min_stack_size"`
	SwitchHistory int           `yaml:"switch_history"`
	TickPeriod    string        `yaml:"tick_period"`
	Logging       LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// DefaultTickPeriod is used when tick_period is empty.
const DefaultTickPeriod = 10 * time.Millisecond

// LoadFileConfig reads and parses a YAML config file.
func LoadFileConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return ParseFileConfig(data)
}

// ParseFileConfig parses YAML config data and validates it.
func ParseFileConfig(data []byte) (*FileConfig, error) {
	var fc FileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if fc.MinStackSize < 0 {
		return nil, fmt.Errorf("parse config: min_stack_size %d: %w", fc.MinStackSize, ErrInvalidArgument)
	}
	if fc.SwitchHistory < 0 {
		return nil, fmt.Errorf("parse config: switch_history %d: %w", fc.SwitchHistory, ErrInvalidArgument)
	}
	if _, err := fc.TickDuration(); err != nil {
		return nil, err
	}
	return &fc, nil
}

// TickDuration returns the configured tick period.
func (fc *FileConfig) TickDuration() (time.Duration, error) {
	if fc.TickPeriod == "" {
		return DefaultTickPeriod, nil
	}
	d, err := time.ParseDuration(fc.TickPeriod)
	if err != nil {
		return 0, fmt.Errorf("parse tick_period %q: %w", fc.TickPeriod, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("tick_period %q: %w", fc.TickPeriod, ErrInvalidArgument)
	}
	return d, nil
}

// Apply copies the tunables into cfg, leaving handlers untouched.
func (fc *FileConfig) Apply(cfg *Config) {
	if fc.MaxPriorities > 0 {
		cfg.MaxPriorities = Priority(fc.MaxPriorities)
	}
	if fc.MinStackSize > 0 {
		cfg.MinStackSize = fc.MinStackSize
	}
	if fc.SwitchHistory > 0 {
		cfg.SwitchHistory = fc.SwitchHistory
	}
}
