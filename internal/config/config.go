package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ProjectFile is the per-directory defaults file.
const ProjectFile = ".script.yaml"

// Config holds recording defaults read from YAML. Command-line flags always
// take precedence over these values.
type Config struct {
	Echo          string `yaml:"echo"`           // "auto" | "always" | "never"
	LoggingFormat string `yaml:"logging_format"` // "classic" | "advanced"
	OutputLimit   string `yaml:"output_limit"`   // e.g. "10MiB"; empty is unlimited

	// Pointers so an explicit false in a project file overrides a global true.
	Flush   *bool `yaml:"flush"`
	Quiet   *bool `yaml:"quiet"`
	History *bool `yaml:"history"`
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		Echo:          "auto",
		LoggingFormat: "classic",
		Flush:         boolPtr(false),
		Quiet:         boolPtr(false),
		History:       boolPtr(true),
	}
}

func boolPtr(b bool) *bool { return &b }

// FlushEnabled, QuietEnabled and HistoryEnabled read the merged switches.
func (c Config) FlushEnabled() bool   { return c.Flush != nil && *c.Flush }
func (c Config) QuietEnabled() bool   { return c.Quiet != nil && *c.Quiet }
func (c Config) HistoryEnabled() bool { return c.History == nil || *c.History }

// GlobalPath returns $XDG_CONFIG_HOME/script/config.yaml, falling back to
// ~/.config/script/config.yaml.
func GlobalPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "script", "config.yaml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "script", "config.yaml"), nil
}

// LoadGlobal reads the global config file.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .script.yaml in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// Load merges the global and project files.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Defaults(), err
	}
	project, err := LoadProject()
	if err != nil {
		return Defaults(), err
	}
	return Merge(global, project), nil
}

// loadFile reads and parses a YAML config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	for _, layer := range []*Config{global, project} {
		if layer != nil {
			result.apply(layer)
		}
	}
	return result
}

func (c *Config) apply(o *Config) {
	if o.Echo != "" {
		c.Echo = o.Echo
	}
	if o.LoggingFormat != "" {
		c.LoggingFormat = o.LoggingFormat
	}
	if o.OutputLimit != "" {
		c.OutputLimit = o.OutputLimit
	}
	if o.Flush != nil {
		c.Flush = o.Flush
	}
	if o.Quiet != nil {
		c.Quiet = o.Quiet
	}
	if o.History != nil {
		c.History = o.History
	}
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
