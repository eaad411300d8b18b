package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath picks the config file location: an explicit path wins,
// then $XDG_CONFIG_HOME/kaiwa, then ~/.config/kaiwa.
func ResolvePath(explicit string) (string, error) {
	if strings.TrimSpace(explicit) != "" {
		return explicit, nil
	}

	configHome := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if configHome == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.New("unable to resolve user home for config fallback")
		}
		configHome = filepath.Join(home, ".config")
	}

	return filepath.Join(configHome, "kaiwa", "config.conf"), nil
}
