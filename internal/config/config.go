// Package config loads the root configuration file that names the
// definitions and backups directories and the global variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ErrNotFound means no configuration file was discovered.
var ErrNotFound = errors.New("no configuration file found")

// candidates are the discovery locations, in order, when no explicit path
// is given. A leading ~ resolves against the home directory.
var candidates = []string{
	"./sergio.yml",
	"./sergio.yaml",
	"./config.yml",
	"./config.yaml",
	"~/sergio.yml",
	"~/sergio.yaml",
}

// Config is the root configuration. Relative directory values resolve
// against the directory the file was read from.
type Config struct {
	Definitions string            `mapstructure:"definitions"`
	Backups     string            `mapstructure:"backups"`
	Variables   map[string]string `mapstructure:"variables"`

	dir string
}

// Discover returns the configuration path: the explicit one when given,
// otherwise the first existing candidate.
func Discover(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	home, _ := os.UserHomeDir()
	for _, candidate := range candidates {
		path := candidate
		if len(path) > 1 && path[0] == '~' {
			if home == "" {
				continue
			}
			path = filepath.Join(home, path[2:])
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// Load reads and decodes the configuration at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.dir = filepath.Dir(absolute)
	return &cfg, nil
}

// Dir returns the directory the configuration was read from.
func (c *Config) Dir() string { return c.dir }

// DefinitionsDir returns the definitions directory as an absolute path.
func (c *Config) DefinitionsDir() string { return c.resolve(c.Definitions) }

// BackupsDir returns the backups directory as an absolute path.
func (c *Config) BackupsDir() string { return c.resolve(c.Backups) }

func (c *Config) resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.dir, path)
}
