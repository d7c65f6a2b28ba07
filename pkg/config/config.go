package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/bleuart/internal/device"
	"github.com/srg/bleuart/internal/devicefactory"
	"github.com/srg/bleuart/scanner"
	"github.com/srg/bleuart/uart"
	"gopkg.in/yaml.v3"
)

// Profile presets accepted by Config.Preset.
const (
	PresetHM10   = "hm10"
	PresetNordic = "nordic"
)

var (
	presets       = map[string]device.Profile{PresetHM10: device.HM10Profile, PresetNordic: device.NordicUARTProfile}
	outputFormats = []string{"table", "json"}
)

// ProfileConfig names the UART service and characteristics explicitly.
// Setting Service overrides the preset; an empty Tx means Tx equals Rx.
type ProfileConfig struct {
	Service string `yaml:"service" json:"service,omitempty"`
	Rx      string `yaml:"rx" json:"rx,omitempty"`
	Tx      string `yaml:"tx" json:"tx,omitempty"`
}

// Config holds application configuration
type Config struct {
	LogLevel    string `yaml:"log_level" json:"log_level" default:"info"`
	Backend     string `yaml:"backend" json:"backend" default:"goble"`
	AddressType string `yaml:"address_type" json:"address_type" default:"random"`

	ScanTimeout       time.Duration `yaml:"scan_timeout" json:"scan_timeout" default:"5s"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout" json:"disconnect_timeout" default:"3s"`
	AllowList         []string      `yaml:"allow_list" json:"allow_list,omitempty"`
	BlockList         []string      `yaml:"block_list" json:"block_list,omitempty"`

	Preset  string        `yaml:"preset" json:"preset" default:"nordic"`
	Profile ProfileConfig `yaml:"profile" json:"profile"`

	NotificationBuffer int           `yaml:"notification_buffer" json:"notification_buffer" default:"256"`
	StreamBuffer       int           `yaml:"stream_buffer" json:"stream_buffer" default:"4096"`
	TranscriptSize     uint32        `yaml:"transcript_size" json:"transcript_size" default:"1024"`
	WriteChunkSize     int           `yaml:"write_chunk_size" json:"write_chunk_size" default:"20"`
	WriteDelay         time.Duration `yaml:"write_delay" json:"write_delay" default:"10ms"`

	OutputFormat string `yaml:"output_format" json:"output_format" default:"table"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field that later conversions depend on.
func (c *Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if !slices.Contains(devicefactory.Backends, strings.ToLower(c.Backend)) {
		errs = append(errs, fmt.Errorf("backend %q is not one of %s", c.Backend, strings.Join(devicefactory.Backends, ", ")))
	}
	if _, err := c.addressType(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.DeviceProfile(); err != nil {
		errs = append(errs, err)
	}
	if c.TranscriptSize == 0 || c.TranscriptSize > uart.MaxTranscriptSize {
		errs = append(errs, fmt.Errorf("transcript_size must be in 1..%d", uart.MaxTranscriptSize))
	}
	if c.WriteChunkSize <= 0 {
		errs = append(errs, errors.New("write_chunk_size must be positive"))
	}
	if !slices.Contains(outputFormats, c.OutputFormat) {
		errs = append(errs, fmt.Errorf("output_format %q is not one of %s", c.OutputFormat, strings.Join(outputFormats, ", ")))
	}
	return errors.Join(errs...)
}

func (c *Config) addressType() (device.AddressType, error) {
	switch strings.ToLower(c.AddressType) {
	case "random":
		return device.RandomAddress, nil
	case "public":
		return device.PublicAddress, nil
	default:
		return 0, fmt.Errorf("address_type %q is not one of public, random", c.AddressType)
	}
}

// DeviceProfile resolves the configured UART profile.
func (c *Config) DeviceProfile() (device.Profile, error) {
	if c.Profile.Service == "" {
		p, ok := presets[strings.ToLower(c.Preset)]
		if !ok {
			return device.Profile{}, fmt.Errorf("unknown profile preset %q", c.Preset)
		}
		return p, nil
	}

	var (
		p   device.Profile
		err error
	)
	if p.Service, err = device.ParseUUID(c.Profile.Service); err != nil {
		return device.Profile{}, fmt.Errorf("profile service: %w", err)
	}
	if c.Profile.Rx == "" {
		return device.Profile{}, errors.New("profile rx is required with a custom service")
	}
	if p.Rx, err = device.ParseUUID(c.Profile.Rx); err != nil {
		return device.Profile{}, fmt.Errorf("profile rx: %w", err)
	}
	p.Tx = p.Rx
	if c.Profile.Tx != "" {
		if p.Tx, err = device.ParseUUID(c.Profile.Tx); err != nil {
			return device.Profile{}, fmt.Errorf("profile tx: %w", err)
		}
	}
	return p, nil
}

// ClientOptions converts the configuration for uart.New.
func (c *Config) ClientOptions() (uart.Options, error) {
	profile, err := c.DeviceProfile()
	if err != nil {
		return uart.Options{}, err
	}
	addrType, err := c.addressType()
	if err != nil {
		return uart.Options{}, err
	}
	return uart.Options{
		Profile:     profile,
		AddressType: addrType,
		Scan: scanner.ScanOptions{
			Timeout:   c.ScanTimeout,
			AllowList: c.AllowList,
			BlockList: c.BlockList,
		},
		ConnectTimeout:     c.ConnectTimeout,
		DisconnectTimeout:  c.DisconnectTimeout,
		NotificationBuffer: c.NotificationBuffer,
		StreamBuffer:       c.StreamBuffer,
		TranscriptSize:     c.TranscriptSize,
	}, nil
}

// FactoryOptions selects the platform backend.
func (c *Config) FactoryOptions() devicefactory.Options {
	return devicefactory.Options{
		Backend:        c.Backend,
		WriteChunkSize: c.WriteChunkSize,
		WriteDelay:     c.WriteDelay,
	}
}

// NewLogger creates a configured logger instance. An unparsable level falls back to info.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
