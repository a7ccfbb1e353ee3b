// Package config loads the server's YAML configuration file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// ServerConfig is the HTTP listener section.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// CANConfig selects and parameterizes the adapter driver.
type CANConfig struct {
	// Driver is "virtual" or "socketcan".
	Driver string `yaml:"driver"`
	// Interfaces maps channel ordinals onto SocketCAN interface names.
	Interfaces []string `yaml:"interfaces"`
	// VirtualChannels is how many channels the virtual adapter exposes.
	VirtualChannels int `yaml:"virtual_channels"`
	// DefaultBitrate is used when a send request omits the bitrate.
	DefaultBitrate int `yaml:"default_bitrate"`
}

// Config holds all application configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	CAN    CANConfig    `yaml:"can"`
}

// Load reads the YAML configuration file. A missing file is not an error:
// the defaults (virtual driver, port 8000, 250 kbit/s) are returned.
func Load(path string) (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		CAN: CANConfig{
			Driver:          "virtual",
			VirtualChannels: 4,
			DefaultBitrate:  250000,
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Printf("No config file found at %s, using default configuration\n", path)
			return config, nil
		}
		return nil, fmt.Errorf("error opening config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	switch c.CAN.Driver {
	case "virtual":
		if c.CAN.VirtualChannels <= 0 {
			return fmt.Errorf("virtual_channels must be positive, got %d", c.CAN.VirtualChannels)
		}
	case "socketcan":
		if len(c.CAN.Interfaces) == 0 {
			return fmt.Errorf("socketcan driver requires at least one interface")
		}
	default:
		return fmt.Errorf("unknown CAN driver %q (want virtual or socketcan)", c.CAN.Driver)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}
