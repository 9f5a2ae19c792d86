package xdg

import (
	"os"
	"path/filepath"
)

// Dirs resolves the base directories probpipe keeps its cache and config in.
type Dirs struct {
	configHome string
	cacheHome  string
}

// NewDirs reads XDG_CONFIG_HOME and XDG_CACHE_HOME, falling back to the
// defaults under the user's home directory.
func NewDirs() *Dirs {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = os.Getenv("HOME")
		if homeDir == "" {
			homeDir = os.TempDir()
		}
	}

	d := &Dirs{
		configHome: os.Getenv("XDG_CONFIG_HOME"),
		cacheHome:  os.Getenv("XDG_CACHE_HOME"),
	}
	if d.configHome == "" {
		d.configHome = filepath.Join(homeDir, ".config")
	}
	if d.cacheHome == "" {
		d.cacheHome = filepath.Join(homeDir, ".cache")
	}
	return d
}

func (d *Dirs) ConfigHome() string { return d.configHome }

func (d *Dirs) CacheHome() string { return d.cacheHome }

// AppConfigFile is where the config file for app lives unless overridden.
func (d *Dirs) AppConfigFile(app string, name string) string {
	return filepath.Join(d.configHome, app, name)
}

// AppCacheDir returns the application-specific cache directory.
func (d *Dirs) AppCacheDir(app string) string {
	return filepath.Join(d.cacheHome, app)
}

// EnsureDir creates path if it does not exist yet.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0755)
}
