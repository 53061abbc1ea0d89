/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"fmt"
)

// Level is a level of logging.
type Level string

// Logging levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (l *Level) UnmarshalText(text []byte) error {
	switch v := Level(text); v {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		*l = v
		return nil
	case "":
		*l = LevelInfo
		return nil
	}
	return fmt.Errorf("unknown log level %q, should be one of error, warn, info, debug", text)
}

// Format is a format of log messages.
type Format string

// Logging formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (f *Format) UnmarshalText(text []byte) error {
	switch v := Format(text); v {
	case FormatJSON, FormatText:
		*f = v
		return nil
	case "":
		*f = FormatJSON
		return nil
	}
	return fmt.Errorf("unknown log format %q, should be one of json, text", text)
}

// Output determines where log messages are written.
type Output string

// Logging outputs.
const (
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
	OutputFile   Output = "file"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (o *Output) UnmarshalText(text []byte) error {
	switch v := Output(text); v {
	case OutputStdout, OutputStderr, OutputFile:
		*o = v
		return nil
	case "":
		*o = OutputStdout
		return nil
	}
	return fmt.Errorf("unknown log output %q, should be one of stdout, stderr, file", text)
}

// FileRotationConfig describes rotation of the log file.
type FileRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"maxSizeMb" yaml:"maxSizeMb" json:"maxSizeMb"`
	MaxBackups int  `mapstructure:"maxBackups" yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int  `mapstructure:"maxAgeDays" yaml:"maxAgeDays" json:"maxAgeDays"`
	Compress   bool `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// FileOutputConfig describes logging into a file.
type FileOutputConfig struct {
	Path     string             `mapstructure:"path" yaml:"path" json:"path"`
	Rotation FileRotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
}

// Config represents a set of configuration parameters for logging.
type Config struct {
	Level   Level            `mapstructure:"level" yaml:"level" json:"level"`
	Format  Format           `mapstructure:"format" yaml:"format" json:"format"`
	Output  Output           `mapstructure:"output" yaml:"output" json:"output"`
	NoColor bool             `mapstructure:"nocolor" yaml:"nocolor" json:"nocolor"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file" json:"file"`
}

// NewDefaultConfig creates a new Config with default values.
func NewDefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: OutputStdout,
		File: FileOutputConfig{
			Rotation: FileRotationConfig{MaxSizeMB: 250, MaxBackups: 10},
		},
	}
}

// Validate validates configuration.
func (c *Config) Validate() error {
	if c.Output == OutputFile && c.File.Path == "" {
		return fmt.Errorf("log file path should be specified for %q output", OutputFile)
	}
	return nil
}
