package config

import (
	"fmt"
	"os"
	"strings"

	"padtrace/internal/record"
)

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	// Capture file must exist
	if c.Input.PadFile == "" {
		errs = append(errs, "input.pad_file must be specified")
	} else if _, err := os.Stat(c.Input.PadFile); os.IsNotExist(err) {
		errs = append(errs, fmt.Sprintf("capture file not found: %s", c.Input.PadFile))
	}

	// Format must be a known revision
	if _, err := record.ParseLayout(c.Input.Format); err != nil {
		errs = append(errs, err.Error())
	}

	// DLLP and TLP display are mutually exclusive; DLLP output already
	// includes the TLP.
	if c.Display.DLLP && c.Display.TLP {
		errs = append(errs, "display.dllp and display.tlp are mutually exclusive")
	}

	// Log level must be valid
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		errs = append(errs, fmt.Sprintf("logging.level must be one of debug/info/warn/error, got %q", c.Logging.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Layout resolves the configured capture format revision. Validate
// must have passed.
func (c *Config) Layout() record.Layout {
	layout, _ := record.ParseLayout(c.Input.Format)
	return layout
}
