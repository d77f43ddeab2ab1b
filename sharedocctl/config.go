package main

import (
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

type Config struct {
	Url            string `toml:"url"`
	Jwt            string `toml:"jwt"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	// protobuf frames instead of json text
	BinaryFrames bool `toml:"binary_frames"`
}

func DefaultConfig() *Config {
	return &Config{
		Url:            "ws://localhost:7007",
		TimeoutSeconds: 30,
	}
}

func (self *Config) Timeout() time.Duration {
	if self.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(self.TimeoutSeconds) * time.Second
}

// ~/.sharedoc/config.toml
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".sharedoc", "config.toml"), nil
}

// LoadConfig reads `path` over the defaults. A missing file is the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, err
	}
	return config, nil
}

func SaveConfig(path string, config *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := toml.Marshal(config)
	if err != nil {
		return err
	}
	// holds the jwt
	return os.WriteFile(path, data, 0600)
}
