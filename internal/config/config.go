// Package config loads the arenafs configuration file.
//
// Configuration comes from one YAML file named by the --config flag or the
// ARENAFS_CONFIG environment variable. Keys missing from the file keep
// their defaults; command-line flags override the file.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"arenafs/internal/logging"
)

// EnvConfig names the environment variable holding the config file path.
const EnvConfig = "ARENAFS_CONFIG"

var logger = logging.GetLogger().WithPrefix("config")

// Config is the complete arenafs configuration.
type Config struct {
	Image  ImageConfig  `yaml:"image"`
	Mount  MountConfig  `yaml:"mount"`
	Engine EngineConfig `yaml:"engine"`
	Log    LogConfig    `yaml:"log"`
}

// ImageConfig describes the backing image.
type ImageConfig struct {
	// Path of the image file. Empty means an anonymous in-memory image.
	Path string `yaml:"path"`

	// Size of the arena, e.g. "64MiB". Fixed once the image is formatted.
	Size string `yaml:"size"`

	// Backups is how many copies of the image to keep. 0 disables backups.
	Backups int `yaml:"backups"`
}

// MountConfig describes the FUSE mount.
type MountConfig struct {
	Point      string `yaml:"point"`
	AllowOther bool   `yaml:"allow_other"`
	FSName     string `yaml:"fsname"`
}

// EngineConfig holds filesystem behavior switches.
type EngineConfig struct {
	// AllowDirectoryMoves lets rename move non-empty directories.
	AllowDirectoryMoves bool `yaml:"allow_directory_moves"`
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		Image: ImageConfig{
			Size:    "64MiB",
			Backups: 5,
		},
		Mount: MountConfig{
			FSName: "arenafs",
		},
		Log: LogConfig{
			Level: "INFO",
		},
	}
}

// Load reads the file at path, or the file named by ARENAFS_CONFIG when
// path is empty. With neither set it returns the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		logger.Debug("No config file, using defaults")
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile reads the file at path over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.Image.Path = os.ExpandEnv(cfg.Image.Path)
	cfg.Mount.Point = os.ExpandEnv(cfg.Mount.Point)
	logger.Debug("Loaded config from %s", path)
	return cfg, nil
}

// ArenaSize parses Image.Size into bytes.
func (c *Config) ArenaSize() (uint64, error) {
	size, err := humanize.ParseBytes(c.Image.Size)
	if err != nil {
		return 0, fmt.Errorf("image.size %q: %w", c.Image.Size, err)
	}
	return size, nil
}

// Validate checks the configuration. minSize is the smallest arena the
// engine can format.
func (c *Config) Validate(minSize uint64) error {
	var errs []error

	size, err := c.ArenaSize()
	switch {
	case err != nil:
		errs = append(errs, err)
	case size < minSize:
		errs = append(errs, fmt.Errorf("image.size %s is below the minimum of %s",
			humanize.IBytes(size), humanize.IBytes(minSize)))
	case size > uint64(maxInt):
		errs = append(errs, fmt.Errorf("image.size %s is too large to map", humanize.IBytes(size)))
	}

	if c.Image.Backups < 0 {
		errs = append(errs, fmt.Errorf("image.backups must not be negative, got %d", c.Image.Backups))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Mount.FSName == "" {
		errs = append(errs, errors.New("mount.fsname is required"))
	}

	return errors.Join(errs...)
}

const maxInt = int(^uint(0) >> 1)
