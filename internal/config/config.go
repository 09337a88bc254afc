// Package config loads the poller daemon configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	modbus "github.com/bronystylecrazy/gomodbus"
)

const (
	DEFAULT_POLL_INTERVAL = 10 * time.Second
	DEFAULT_MQTT_BROKER   = "tcp://localhost:1883"
	DEFAULT_MQTT_TOPIC    = "v1/devices/me/telemetry"
	DEFAULT_LOG_LEVEL     = "info"
)

type ModbusConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UnitID    int    `yaml:"unit_id"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	AccessToken string `yaml:"access_token"`
	Topic       string `yaml:"topic"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Config is the daemon configuration. Exactly one of Profile and
// RegisterMap selects the registers to poll.
type Config struct {
	Modbus       ModbusConfig  `yaml:"modbus"`
	MQTT         MQTTConfig    `yaml:"mqtt"`
	Log          LogConfig     `yaml:"log"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Profile      string        `yaml:"profile"`
	RegisterMap  string        `yaml:"register_map"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	return &Config{
		Modbus: ModbusConfig{
			Port:      modbus.DEFAULT_PORT,
			UnitID:    modbus.DEFAULT_UNIT_ID,
			TimeoutMS: int(modbus.DEFAULT_TIMEOUT / time.Millisecond),
		},
		MQTT: MQTTConfig{
			Broker:   DEFAULT_MQTT_BROKER,
			ClientID: "gomodbus-poller",
			Topic:    DEFAULT_MQTT_TOPIC,
		},
		Log:          LogConfig{Level: DEFAULT_LOG_LEVEL},
		PollInterval: DEFAULT_POLL_INTERVAL,
	}
}

// Parse decodes YAML over the defaults. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// Load reads the YAML file at path (skipped when empty), loads envFile into
// the environment when it exists, applies overrides and validates.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		if cfg, err = Parse(f); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from the environment. Every malformed value is
// reported.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	var err error
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return
		}
		n, perr := strconv.Atoi(v)
		if perr != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %q is not an integer", key, v))
			return
		}
		*dst = n
	}

	str("MODBUS_HOST", &c.Modbus.Host)
	num("MODBUS_PORT", &c.Modbus.Port)
	num("MODBUS_UNIT_ID", &c.Modbus.UnitID)
	num("MODBUS_TIMEOUT_MS", &c.Modbus.TimeoutMS)
	str("MQTT_BROKER", &c.MQTT.Broker)
	str("MQTT_ACCESS_TOKEN", &c.MQTT.AccessToken)
	str("LOG_LEVEL", &c.Log.Level)
	return err
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var err error
	if c.Modbus.Host == "" {
		err = multierr.Append(err, errors.New("modbus.host is required"))
	}
	if c.Modbus.Port < 1 || c.Modbus.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("modbus.port %d out of range", c.Modbus.Port))
	}
	if c.Modbus.UnitID < 0 || c.Modbus.UnitID > 255 {
		err = multierr.Append(err, fmt.Errorf("modbus.unit_id %d out of range", c.Modbus.UnitID))
	}
	if c.Modbus.TimeoutMS <= 0 {
		err = multierr.Append(err, fmt.Errorf("modbus.timeout_ms must be positive, got %d", c.Modbus.TimeoutMS))
	}
	if c.PollInterval <= 0 {
		err = multierr.Append(err, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	switch {
	case c.Profile == "" && c.RegisterMap == "":
		err = multierr.Append(err, errors.New("one of profile or register_map is required"))
	case c.Profile != "" && c.RegisterMap != "":
		err = multierr.Append(err, errors.New("profile and register_map are mutually exclusive"))
	case c.Profile != "":
		if _, perr := modbus.Profile(c.Profile); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	if c.MQTT.Broker == "" {
		err = multierr.Append(err, errors.New("mqtt.broker is required"))
	}
	if c.MQTT.Topic == "" {
		err = multierr.Append(err, errors.New("mqtt.topic is required"))
	}
	if _, lerr := zapcore.ParseLevel(c.Log.Level); lerr != nil {
		err = multierr.Append(err, fmt.Errorf("log.level: %w", lerr))
	}
	return err
}

// Endpoint returns the Modbus endpoint described by the configuration.
func (c *Config) Endpoint() modbus.Endpoint {
	return modbus.NewEndpoint(c.Modbus.Host, c.Modbus.Port, byte(c.Modbus.UnitID))
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.Modbus.TimeoutMS) * time.Millisecond
}

// Registers resolves the configured profile or register map file.
func (c *Config) Registers() (*modbus.RegisterMap, error) {
	if c.RegisterMap != "" {
		return modbus.LoadRegisterMapFile(c.RegisterMap)
	}
	return modbus.Profile(c.Profile)
}

// Logger builds a zap logger at the configured level.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(c.Log.Level))
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Log.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
