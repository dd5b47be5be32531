// Package config loads engine settings from an ini file. Missing files and
// missing keys fall back to defaults, so a zero-configuration start always
// works.
package config

import (
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

const (
	DefaultDataDir         = "data"
	DefaultBufferPoolPages = 256
	DefaultLogLevel        = "info"
)

// Config holds the engine settings.
type Config struct {
	// DataDir is the directory holding the database file and the catalog.
	DataDir string
	// BufferPoolPages is the number of page frames held in memory.
	BufferPoolPages int
	// LogLevel is the logrus level name (debug, info, warn, error).
	LogLevel string
}

// Default returns a Config populated with the built-in defaults.
func Default() *Config {
	return &Config{
		DataDir:         DefaultDataDir,
		BufferPoolPages: DefaultBufferPoolPages,
		LogLevel:        DefaultLogLevel,
	}
}

// Load reads the ini file at path. Keys live under [storage] and [log]:
//
//	[storage]
//	data_dir = /var/lib/heapdb
//	buffer_pool_pages = 1024
//
//	[log]
//	level = debug
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load config %s", path)
	}

	cfg := Default()
	storage := file.Section("storage")
	cfg.DataDir = storage.Key("data_dir").MustString(cfg.DataDir)
	cfg.BufferPoolPages = storage.Key("buffer_pool_pages").MustInt(cfg.BufferPoolPages)
	if cfg.BufferPoolPages < 2 {
		return nil, errors.Errorf("buffer_pool_pages must be at least 2, got %d", cfg.BufferPoolPages)
	}
	cfg.LogLevel = file.Section("log").Key("level").MustString(cfg.LogLevel)
	return cfg, nil
}
