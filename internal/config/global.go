package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

const (
	// GlobalConfigDir is the directory name under XDG_CONFIG_HOME.
	GlobalConfigDir = "kb"
	// GlobalConfigFile is the config file name.
	GlobalConfigFile = "config.yml"
)

// GlobalConfigPath returns the path to the user config file.
// Respects XDG_CONFIG_HOME, defaults to ~/.config/kb/config.yml.
func GlobalConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, GlobalConfigDir, GlobalConfigFile)
}

// LoadDefault loads .env from the working directory (if present) and then
// the config at path, falling back to GlobalConfigPath when path is empty.
func LoadDefault(path string) (*Config, error) {
	_ = godotenv.Load()
	if path == "" {
		path = GlobalConfigPath()
	}
	return Load(path)
}

// ExpandPath expands ~ to the user's home directory.
// Returns the original path unchanged if it doesn't start with ~.
func ExpandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path // Return original if we can't get home directory
	}

	return filepath.Join(home, path[1:])
}
