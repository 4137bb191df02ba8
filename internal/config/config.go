package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the capture decoder.
type Config struct {
	Input   InputConfig   `yaml:"input"   mapstructure:"input"`
	Display DisplayConfig `yaml:"display" mapstructure:"display"`
	Filter  FilterConfig  `yaml:"filter"  mapstructure:"filter"`
	Export  ExportConfig  `yaml:"export"  mapstructure:"export"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Stats   StatsConfig   `yaml:"stats"   mapstructure:"stats"`
}

type InputConfig struct {
	PadFile string `yaml:"pad_file" mapstructure:"pad_file"`
	Format  string `yaml:"format"   mapstructure:"format"`
}

type DisplayConfig struct {
	DLLP  bool `yaml:"dllp"  mapstructure:"dllp"`
	TLP   bool `yaml:"tlp"   mapstructure:"tlp"`
	Debug bool `yaml:"debug" mapstructure:"debug"`
}

type FilterConfig struct {
	Errors bool `yaml:"errors" mapstructure:"errors"`
}

type ExportConfig struct {
	PcapngFile string `yaml:"pcapng_file" mapstructure:"pcapng_file"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"   mapstructure:"level"`
	File    string `yaml:"file"    mapstructure:"file"`
	Console bool   `yaml:"console" mapstructure:"console"`
}

type StatsConfig struct {
	Enabled    bool   `yaml:"enabled"     mapstructure:"enabled"`
	ExportFile string `yaml:"export_file" mapstructure:"export_file"`
}

// SetDefaults configures default values for the configuration.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("input.format", "v2")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("stats.enabled", false)
}

// Load reads configuration from a YAML file and returns a Config.
func Load(configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// LoadWithViper reads configuration using an existing viper instance (for CLI flag binding).
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Summary returns a human-readable summary of the configuration.
func (c *Config) Summary() string {
	var sb strings.Builder
	sb.WriteString("Configuration:\n")
	sb.WriteString(fmt.Sprintf("  Capture:       %s (%s)\n", c.Input.PadFile, c.Input.Format))
	sb.WriteString(fmt.Sprintf("  Display:       dllp=%v tlp=%v debug=%v\n", c.Display.DLLP, c.Display.TLP, c.Display.Debug))
	sb.WriteString(fmt.Sprintf("  Filter errors: %v\n", c.Filter.Errors))
	if c.Export.PcapngFile != "" {
		sb.WriteString(fmt.Sprintf("  Export:        %s\n", c.Export.PcapngFile))
	}
	sb.WriteString(fmt.Sprintf("  Stats:         enabled=%v\n", c.Stats.Enabled))
	return sb.String()
}
