package internal

import (
	"os"
	"path/filepath"

	"github.com/plugforge/plugforge/pkg/config"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

// GetVersion returns the build version string.
func GetVersion() string {
	return Version
}

// ConfigPath resolves the configuration file: an explicit flag value wins,
// then $PLUGFORGE_CONFIG, then plugforge.json at the project root.
func ConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if p := os.Getenv("PLUGFORGE_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(config.ProjectRoot(), "plugforge.json")
}

// LoadConfig loads the resolved configuration file.
func LoadConfig(flag string) (*config.Config, error) {
	return config.LoadConfig(ConfigPath(flag))
}
