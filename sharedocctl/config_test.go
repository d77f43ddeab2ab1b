package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
)

func TestLoadConfigMissing(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "none.toml"))
	assert.Equal(t, nil, err)
	assert.Equal(t, DefaultConfig(), config)
	assert.Equal(t, 30*time.Second, config.Timeout())
}

func TestLoadConfigPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	err := os.WriteFile(path, []byte("jwt = \"abc\"\ntimeout_seconds = 5\nbinary_frames = true\n"), 0600)
	assert.Equal(t, nil, err)

	config, err := LoadConfig(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, "ws://localhost:7007", config.Url)
	assert.Equal(t, "abc", config.Jwt)
	assert.Equal(t, 5*time.Second, config.Timeout())
	assert.Equal(t, true, config.BinaryFrames)
}

func TestSaveConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	config := DefaultConfig()
	config.Jwt = "abc"
	assert.Equal(t, nil, SaveConfig(path, config))

	info, err := os.Stat(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadConfig(path)
	assert.Equal(t, nil, err)
	assert.Equal(t, config, loaded)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	assert.Equal(t, nil, os.WriteFile(path, []byte("timeout_seconds = \"x\""), 0600))
	_, err := LoadConfig(path)
	assert.NotEqual(t, nil, err)
}
