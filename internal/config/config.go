// Package config provides YAML-based configuration loading for the
// transcoder CLI, grounded on a viper-based layered loader: config file,
// then environment overrides (prefix OEMTRANSCODE), then explicit flags
// applied by the caller on top of the returned Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// SchemaPath points at the JSON message-definition database file.
	SchemaPath string `mapstructure:"schema_path"`

	// Device is the serial device path, or a plain file path when Input.IsFile.
	Device string `mapstructure:"device"`

	// BaudRate is the serial line rate used when reading from a real device.
	BaudRate int `mapstructure:"baud_rate"`

	// Input controls how Device is opened and read.
	Input InputConfig `mapstructure:"input"`

	// Output controls the re-encode target and filtering applied to every
	// decoded message.
	Output OutputConfig `mapstructure:"output"`

	// Log holds logging configuration.
	Log LogConfig `mapstructure:"log"`
}

// InputConfig controls how the byte source is opened.
type InputConfig struct {
	// IsFile treats Device as an ordinary file instead of a serial port.
	IsFile bool `mapstructure:"is_file"`
}

// OutputConfig controls the pipeline's re-encode target and filtering.
type OutputConfig struct {
	// Target: ascii, binary, flattened-binary, or json.
	Target string `mapstructure:"target"`

	// IncludeNMEA opts NMEA sentences back into the output stream.
	IncludeNMEA bool `mapstructure:"include_nmea"`

	// IDs, when non-empty, restricts output to only these message IDs.
	IDs []uint16 `mapstructure:"ids"`

	// DecompressRangeCmp rewrites RANGECMP messages to RANGE before encoding.
	DecompressRangeCmp bool `mapstructure:"decompress_rangecmp"`

	// ReturnUnknownBytes surfaces unrecognized byte runs instead of
	// silently discarding them.
	ReturnUnknownBytes bool `mapstructure:"return_unknown_bytes"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `mapstructure:"level"`
	// Format: console or json.
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths.
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files.
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options.
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		SchemaPath: "schema.json",
		Device:     "/dev/ttyUSB0",
		BaudRate:   115200,
		Input:      InputConfig{IsFile: false},
		Output: OutputConfig{
			Target:             "json",
			IncludeNMEA:        false,
			DecompressRangeCmp: false,
			ReturnUnknownBytes: false,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/oemtranscode.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment
// overrides. Environment variables use the prefix OEMTRANSCODE and
// `.`/`-` are replaced with `_`. Example: OEMTRANSCODE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("OEMTRANSCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("schema_path", cfg.SchemaPath)
	v.SetDefault("device", cfg.Device)
	v.SetDefault("baud_rate", cfg.BaudRate)
	v.SetDefault("input.is_file", cfg.Input.IsFile)
	v.SetDefault("output.target", cfg.Output.Target)
	v.SetDefault("output.include_nmea", cfg.Output.IncludeNMEA)
	v.SetDefault("output.decompress_rangecmp", cfg.Output.DecompressRangeCmp)
	v.SetDefault("output.return_unknown_bytes", cfg.Output.ReturnUnknownBytes)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)

	if path == "" {
		if envPath := os.Getenv("OEMTRANSCODE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("oemtranscode")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".oemtranscode"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	switch strings.ToLower(strings.TrimSpace(c.Output.Target)) {
	case "ascii", "binary", "flattened-binary", "json":
	default:
		return fmt.Errorf("invalid output.target: %q", c.Output.Target)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.SchemaPath) == "" {
		return errors.New("schema_path must not be empty")
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
