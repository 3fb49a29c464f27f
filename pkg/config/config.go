// Package config loads service configuration from the environment and from
// an optional YAML file, validating it before anything starts.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds everything the binaries need to wire themselves up.
type Config struct {
	ServiceID      string `yaml:"service_id"      validate:"required"`
	LogLevel       string `yaml:"log_level"       validate:"omitempty,oneof=debug info warn error"`
	LogFormat      string `yaml:"log_format"      validate:"omitempty,oneof=text json"`
	EventBus       string `yaml:"event_bus"       validate:"required,oneof=kafka gochannel none"`
	PersistenceURL string `yaml:"persistence_url" validate:"omitempty"`
	ConnectionFile string `yaml:"connection_file" validate:"omitempty,file"`
	Port           int    `yaml:"port"            validate:"omitempty,min=1,max=65535"`
}

// Defaults returns a config suitable for local development.
func Defaults() Config {
	return Config{
		ServiceID: "kernelq",
		LogLevel:  "info",
		LogFormat: "text",
		EventBus:  "gochannel",
		Port:      9090,
	}
}

// FromEnv builds a config from environment variables on top of the defaults.
func FromEnv() (Config, error) {
	cfg := Defaults()

	if v := os.Getenv("KERNELQ_SERVICE_ID"); v != "" {
		cfg.ServiceID = v
	}

	if v := os.Getenv("KERNELQ_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	if v := os.Getenv("KERNELQ_LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}

	if v := os.Getenv("KERNELQ_EVENT_BUS"); v != "" {
		cfg.EventBus = v
	}

	if v := os.Getenv("KERNELQ_PERSISTENCE_URL"); v != "" {
		cfg.PersistenceURL = v
	}

	if v := os.Getenv("KERNELQ_CONNECTION_FILE"); v != "" {
		cfg.ConnectionFile = v
	}

	if v := os.Getenv("KERNELQ_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid KERNELQ_PORT %q: %w", v, err)
		}

		cfg.Port = port
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// FromFile loads a YAML config file on top of the defaults.
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}
