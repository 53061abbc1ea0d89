/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLevelUnmarshalText(t *testing.T) {
	var level Level
	for _, want := range []Level{LevelError, LevelWarn, LevelInfo, LevelDebug} {
		require.NoError(t, level.UnmarshalText([]byte(want)))
		require.Equal(t, want, level)
	}
	require.NoError(t, level.UnmarshalText(nil))
	require.Equal(t, LevelInfo, level)
	require.Error(t, level.UnmarshalText([]byte("verbose")))
}

func TestFormatUnmarshalText(t *testing.T) {
	var format Format
	require.NoError(t, format.UnmarshalText([]byte("text")))
	require.Equal(t, FormatText, format)
	require.NoError(t, format.UnmarshalText(nil))
	require.Equal(t, FormatJSON, format)
	require.Error(t, format.UnmarshalText([]byte("xml")))
}

func TestOutputUnmarshalText(t *testing.T) {
	var output Output
	require.NoError(t, output.UnmarshalText([]byte("stderr")))
	require.Equal(t, OutputStderr, output)
	require.NoError(t, output.UnmarshalText(nil))
	require.Equal(t, OutputStdout, output)
	require.Error(t, output.UnmarshalText([]byte("syslog")))
}

func TestConfigUnmarshalYAML(t *testing.T) {
	var cfg Config
	require.NoError(t, yaml.Unmarshal([]byte(`
level: warn
format: text
output: file
file:
  path: /var/log/svc.log
  rotation:
    maxSizeMb: 100
    maxBackups: 5
`), &cfg))
	require.Equal(t, LevelWarn, cfg.Level)
	require.Equal(t, FormatText, cfg.Format)
	require.Equal(t, OutputFile, cfg.Output)
	require.Equal(t, "/var/log/svc.log", cfg.File.Path)
	require.Equal(t, 100, cfg.File.Rotation.MaxSizeMB)
	require.Equal(t, 5, cfg.File.Rotation.MaxBackups)
	require.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Output = OutputFile
	require.Error(t, cfg.Validate(), "file output requires a path")
	cfg.File.Path = "/var/log/svc.log"
	require.NoError(t, cfg.Validate())
}
