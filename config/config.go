// Package config loads the settings of the snap tool.
//
// The configuration lives in ~/.snap (TOML) and is created from an embedded
// default on first use. A path ending in .yaml or .yml is read as YAML.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sergev/snap/acquisition"
)

//go:embed snap.toml
var defaultConfigData []byte

// Config represents the entire configuration file
type Config struct {
	Device      Device                      `toml:"device" yaml:"device"`
	Acquisition Acquisition                 `toml:"acquisition" yaml:"acquisition"`
	Timing      Timing                      `toml:"timing" yaml:"timing"`
	Stall       acquisition.EmptyReadBudget `toml:"stall" yaml:"stall"`
	Analog      acquisition.AnalogScale     `toml:"analog" yaml:"analog"`
	Redis       Redis                       `toml:"redis" yaml:"redis"`
	Server      Server                      `toml:"server" yaml:"server"`
	Log         Log                         `toml:"log" yaml:"log"`
}

// Device selects the instrument
type Device struct {
	Port    string `toml:"port" yaml:"port"`
	Baud    int    `toml:"baud" yaml:"baud"`
	VID     string `toml:"vid" yaml:"vid"`
	PID     string `toml:"pid" yaml:"pid"`
	Backend string `toml:"backend" yaml:"backend"`
}

// Acquisition holds the default session settings
type Acquisition struct {
	Mode         string   `toml:"mode" yaml:"mode"`
	SampleRate   uint64   `toml:"samplerate" yaml:"samplerate"`
	Limit        uint64   `toml:"limit" yaml:"limit"`
	CaptureRatio uint8    `toml:"capture_ratio" yaml:"capture_ratio"`
	Channels     []string `toml:"channels" yaml:"channels"`
}

// Timing holds the link timeouts
type Timing struct {
	ReadTimeout     time.Duration `toml:"read_timeout" yaml:"read_timeout"`
	ResponseTimeout time.Duration `toml:"response_timeout" yaml:"response_timeout"`
	WakeSettle      time.Duration `toml:"wake_settle" yaml:"wake_settle"`
	DrainTimeout    time.Duration `toml:"drain_timeout" yaml:"drain_timeout"`
	PollDelay       time.Duration `toml:"poll_delay" yaml:"poll_delay"`
	Keepalive       time.Duration `toml:"keepalive" yaml:"keepalive"`
}

// Redis configures the publishing sink; an empty address disables it
type Redis struct {
	Addr     string `toml:"addr" yaml:"addr"`
	Password string `toml:"password" yaml:"password"`
	DB       int    `toml:"db" yaml:"db"`
	Channel  string `toml:"channel" yaml:"channel"`
	ListLen  int    `toml:"list_len" yaml:"list_len"`
}

// Server configures the HTTP API
type Server struct {
	Listen string `toml:"listen" yaml:"listen"`
}

// Log configures logrus
type Log struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// Default returns the embedded configuration
func Default() *Config {
	var conf Config
	if _, err := toml.Decode(string(defaultConfigData), &conf); err != nil {
		panic(fmt.Sprintf("embedded snap.toml is invalid: %v", err))
	}
	return &conf
}

// Path determines the config file path based on the operating system
func Path() (string, error) {
	var configDir string
	var err error

	switch runtime.GOOS {
	case "windows":
		configDir, err = os.UserConfigDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user config directory: %w", err)
		}
		configDir = filepath.Join(configDir, "snap")
	default:
		configDir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine user home directory: %w", err)
		}
	}

	return filepath.Join(configDir, ".snap"), nil
}

// Initialize loads the configuration file, creating it from the embedded
// default when it does not exist. An empty path means the per-user file.
func Initialize(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = Path(); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create config directory %s: %w", dir, err)
		}
		data := defaultConfigData
		if isYAML(path) {
			if data, err = yaml.Marshal(Default()); err != nil {
				return nil, fmt.Errorf("failed to encode default config: %w", err)
			}
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return nil, fmt.Errorf("failed to create default config file at %s: %w", path, err)
		}
	}
	return Load(path)
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// Load reads a configuration file on top of the defaults and validates it
func Load(path string) (*Config, error) {
	conf := Default()

	if isYAML(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(conf); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse YAML config at %s: %w", path, err)
		}
	} else {
		md, err := toml.DecodeFile(path, conf)
		if err != nil {
			return nil, fmt.Errorf("failed to parse TOML config at %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("unknown key %q in %s", undecoded[0].String(), path)
		}
	}

	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return conf, nil
}

// Validate checks value ranges
func (c *Config) Validate() error {
	if c.Device.Baud < 0 {
		return fmt.Errorf("device: invalid baud rate %d", c.Device.Baud)
	}
	if _, _, err := c.Device.IDs(); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	switch c.Device.Backend {
	case "", "serial", "tarm":
	default:
		return fmt.Errorf("device: unknown backend %q", c.Device.Backend)
	}

	if _, _, err := c.Acquisition.ParseMode(); err != nil {
		return fmt.Errorf("acquisition: %w", err)
	}
	if err := c.Acquisition.Config(acquisition.LogicAnalyzer).Validate(); err != nil {
		return fmt.Errorf("acquisition: %w", err)
	}

	t := c.Timing
	if t.ReadTimeout < 0 || t.PollDelay < 0 || t.WakeSettle < 0 || t.DrainTimeout < 0 {
		return errors.New("timing: durations must not be negative")
	}
	if t.ResponseTimeout <= 0 {
		return errors.New("timing: response_timeout must be positive")
	}
	if t.Keepalive <= 0 {
		return errors.New("timing: keepalive must be positive")
	}

	if err := c.Stall.Validate(); err != nil {
		return fmt.Errorf("stall: %w", err)
	}
	if err := c.Analog.Validate(); err != nil {
		return fmt.Errorf("analog: %w", err)
	}
	if c.Redis.Addr != "" && c.Redis.Channel == "" {
		return errors.New("redis: channel is required when addr is set")
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	return nil
}

// IDs parses the hexadecimal USB vendor and product identifiers
func (d Device) IDs() (vid, pid uint16, err error) {
	v, err := strconv.ParseUint(d.VID, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid vid %q", d.VID)
	}
	p, err := strconv.ParseUint(d.PID, 16, 16)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid pid %q", d.PID)
	}
	return uint16(v), uint16(p), nil
}

// Link returns the port as a transport link, honoring the backend for bare
// device paths
func (d Device) Link() string {
	if d.Port == "" || strings.Contains(d.Port, "://") {
		return d.Port
	}
	if d.Backend == "tarm" {
		return "tarm://" + d.Port
	}
	return d.Port
}

// ParseMode returns the configured mode; ok is false when the mode is
// left to channel selection
func (a Acquisition) ParseMode() (mode acquisition.Mode, ok bool, err error) {
	if a.Mode == "" || a.Mode == "auto" {
		return 0, false, nil
	}
	mode, err = acquisition.ParseMode(a.Mode)
	return mode, err == nil, err
}

// Config returns the session settings for a mode
func (a Acquisition) Config(mode acquisition.Mode) acquisition.Config {
	return acquisition.Config{
		Mode:         mode,
		SampleRate:   a.SampleRate,
		SampleLimit:  a.Limit,
		CaptureRatio: a.CaptureRatio,
	}
}

// ControllerOptions converts the timing, stall and analog sections
func (c *Config) ControllerOptions() []acquisition.Option {
	return []acquisition.Option{
		acquisition.WithReadTimeout(c.Timing.ReadTimeout),
		acquisition.WithResponseTimeout(c.Timing.ResponseTimeout),
		acquisition.WithWakeSettle(c.Timing.WakeSettle),
		acquisition.WithDrainTimeout(c.Timing.DrainTimeout),
		acquisition.WithPollDelay(c.Timing.PollDelay),
		acquisition.WithEmptyReadBudget(c.Stall),
		acquisition.WithAnalogScale(c.Analog),
	}
}

// ConfigureLogger applies the log section
func (c *Config) ConfigureLogger(l *logrus.Logger) error {
	level, err := logrus.ParseLevel(c.Log.Level)
	if err != nil {
		return err
	}
	l.SetLevel(level)
	if c.Log.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}
