package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	// ProjectConfigFile is the project-level config file name.
	ProjectConfigFile = "replica.yaml"
	// UserConfigDir is the user-level config directory, relative to home.
	UserConfigDir = ".config/replica"
	// UserConfigFile is the user-level config file name.
	UserConfigFile = "config.yaml"
)

// Loader builds a Config from layered sources.
type Loader struct {
	logger   *slog.Logger
	home     string
	startDir string
	getenv   func(string) string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithHomeDir sets the directory the user config is found under.
// Default: os.UserHomeDir().
func WithHomeDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.home = dir
	}
}

// WithStartDir sets where the project config search begins.
// Default: the working directory.
func WithStartDir(dir string) LoaderOption {
	return func(l *Loader) {
		l.startDir = dir
	}
}

// WithGetenv sets the environment lookup. Default: os.Getenv.
func WithGetenv(getenv func(string) string) LoaderOption {
	return func(l *Loader) {
		l.getenv = getenv
	}
}

// NewLoader creates a loader. A nil logger uses slog.Default().
func NewLoader(logger *slog.Logger, opts ...LoaderOption) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{logger: logger, getenv: os.Getenv}
	if home, err := os.UserHomeDir(); err == nil {
		l.home = home
	}
	if cwd, err := os.Getwd(); err == nil {
		l.startDir = cwd
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load builds the configuration with layered precedence:
//  1. Defaults
//  2. User config (~/.config/replica/config.yaml)
//  3. Project config (replica.yaml in the start directory or a parent)
//  4. explicit, when non-empty; it must exist
//  5. REPLICA_TOKEN
//
// The result is validated before it is returned.
func (l *Loader) Load(explicit string) (*Config, error) {
	cfg := DefaultConfig()

	if path := l.UserConfigPath(); path != "" {
		if err := l.layer(cfg, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if path := l.findProjectConfig(); path != "" {
		if err := l.layer(cfg, path); err != nil {
			return nil, err
		}
	} else {
		l.logger.Debug("no project config found", "start_dir", l.startDir)
	}

	if explicit != "" {
		if err := l.layer(cfg, explicit); err != nil {
			return nil, err
		}
	}

	if token := l.getenv(TokenEnv); token != "" {
		cfg.Server.Token = token
		l.logger.Debug("token taken from environment", "env", TokenEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) layer(cfg *Config, path string) error {
	layer, err := LoadFromFile(path)
	if err != nil {
		return err
	}
	cfg.Merge(layer)
	l.logger.Debug("loaded config", "path", path)
	return nil
}

// EnsureUserConfig writes the defaults to the user config path unless a
// file is already there.
func (l *Loader) EnsureUserConfig() (string, error) {
	path := l.UserConfigPath()
	if path == "" {
		return "", errors.New("no home directory")
	}
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}
	if err := DefaultConfig().SaveToFile(path); err != nil {
		return "", err
	}
	l.logger.Info("created default user config", "path", path)
	return path, nil
}

// UserConfigPath returns the user config file path, or "" without a home
// directory.
func (l *Loader) UserConfigPath() string {
	if l.home == "" {
		return ""
	}
	return filepath.Join(l.home, UserConfigDir, UserConfigFile)
}

// findProjectConfig walks from the start directory to the filesystem root.
func (l *Loader) findProjectConfig() string {
	if l.startDir == "" {
		return ""
	}
	dir := l.startDir
	for {
		path := filepath.Join(dir, ProjectConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
